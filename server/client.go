package server

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the ObfuscationService with the Connect protocol.
type Client struct {
	obfuscate *connect.Client[ObfuscateRequest, ObfuscateResponse]
	run       *connect.Client[RunRequest, RunResponse]
}

// NewClient returns a Connect client for the service at baseURL, for
// example "http://localhost:7070".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &Client{
		obfuscate: connect.NewClient[ObfuscateRequest, ObfuscateResponse](httpClient, baseURL+ObfuscateProcedure, opts...),
		run:       connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...),
	}
}

// Obfuscate protects one program.
func (c *Client) Obfuscate(ctx context.Context, req *ObfuscateRequest) (*ObfuscateResponse, error) {
	resp, err := c.obfuscate.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Run executes a loader remotely.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GRPCClient calls the ObfuscationService with grpc-go over cleartext
// HTTP/2.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC connects to the service at target ("host:port").
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Obfuscate protects one program.
func (c *GRPCClient) Obfuscate(ctx context.Context, req *ObfuscateRequest) (*ObfuscateResponse, error) {
	resp := new(ObfuscateResponse)
	if err := c.conn.Invoke(ctx, ObfuscateProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Run executes a loader remotely.
func (c *GRPCClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp := new(RunResponse)
	if err := c.conn.Invoke(ctx, RunProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes the connection.
func (c *GRPCClient) Close() error { return c.conn.Close() }
