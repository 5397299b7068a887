package server

import (
	"context"
	"net/http"
	"reflect"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
)

func TestServiceDescriptor(t *testing.T) {
	sd := ServiceDescriptor()
	if sd.GetFullyQualifiedName() != ServiceName {
		t.Fatalf("service = %s, want %s", sd.GetFullyQualifiedName(), ServiceName)
	}
	tests := []struct {
		method, in, out string
	}{
		{"Obfuscate", "obfux.v1.ObfuscateRequest", "obfux.v1.ObfuscateResponse"},
		{"Run", "obfux.v1.RunRequest", "obfux.v1.RunResponse"},
	}
	for _, tt := range tests {
		mtd := sd.FindMethodByName(tt.method)
		if mtd == nil {
			t.Errorf("method %s missing", tt.method)
			continue
		}
		if got := mtd.GetInputType().GetFullyQualifiedName(); got != tt.in {
			t.Errorf("%s input = %s, want %s", tt.method, got, tt.in)
		}
		if got := mtd.GetOutputType().GetFullyQualifiedName(); got != tt.out {
			t.Errorf("%s output = %s, want %s", tt.method, got, tt.out)
		}
	}
}

func TestProtoCodec(t *testing.T) {
	tests := []struct {
		name string
		in   any
		out  any
	}{
		{
			"obfuscate request",
			&ObfuscateRequest{
				Name: "a.ox", Source: "return 1", Transforms: "rename",
				NameSeed: -4, Preserve: []string{"main", "helper"}, Verify: true,
			},
			new(ObfuscateRequest),
		},
		{
			"obfuscate response with renames",
			&ObfuscateResponse{
				RunID: "r", Kind: "loader", Text: "x",
				Renames:    []transform.Pair{{From: "fib", To: "fn_a"}, {From: "n", To: "v_b"}},
				SourceHash: "abc",
			},
			new(ObfuscateResponse),
		},
		{
			"run response",
			&RunResponse{RunID: "r", Result: "[1, [...]]", Error: "boom", ExitCode: 3},
			new(RunResponse),
		},
		{
			"empty run request",
			&RunRequest{},
			new(RunRequest),
		},
	}
	var codec ProtoCodec
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if err := codec.Unmarshal(data, tt.out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(tt.in, tt.out) {
				t.Errorf("decoded %+v, want %+v", tt.out, tt.in)
			}
		})
	}
}

func TestProtoCodecRejectsUnknownTypes(t *testing.T) {
	var codec ProtoCodec
	if _, err := codec.Marshal(struct{ X int }{1}); err == nil {
		t.Error("Marshal of an unknown type succeeded")
	}
	if err := codec.Unmarshal(nil, RunRequest{}); err == nil {
		t.Error("Unmarshal into a non-pointer succeeded")
	}
}

func TestDynamicClient(t *testing.T) {
	_, ts := newTestServer(t)
	dc, err := DialDynamic(grpcTarget(ts))
	if err != nil {
		t.Fatal(err)
	}
	defer dc.Close()

	ctx, cancel := context.WithTimeout(bg(), 10*time.Second)
	defer cancel()

	resp, err := dc.Obfuscate(ctx, &ObfuscateRequest{
		Name:       "fib.ox",
		Source:     fibSource,
		Transforms: "rename",
		Mode:       "loader",
		KeyHex:     testKey,
		IVHex:      testIV,
	})
	if err != nil {
		t.Fatalf("Obfuscate over gRPC/proto: %v", err)
	}
	if resp.Kind != "loader" || resp.KeyHex != testKey || resp.IVHex != testIV {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Renames) == 0 || resp.Renames[0].From == "" || resp.Renames[0].To == "" {
		t.Errorf("renames = %+v", resp.Renames)
	}
	run, err := dc.Run(ctx, &RunRequest{Source: resp.Text})
	if err != nil {
		t.Fatalf("Run over gRPC/proto: %v", err)
	}
	if run.Result != fibResult || run.ExitCode != 0 {
		t.Errorf("run = %+v", run)
	}

	run, err = dc.Run(ctx, &RunRequest{Source: `exit(4)`})
	if err != nil {
		t.Fatal(err)
	}
	if run.ExitCode != 4 {
		t.Errorf("exit code = %d, want 4", run.ExitCode)
	}

	_, err = dc.Obfuscate(ctx, &ObfuscateRequest{Source: "x = 1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("gRPC code = %v (%v), want InvalidArgument", status.Code(err), err)
	}
}

func TestConnectProtoClient(t *testing.T) {
	_, ts := newTestServer(t)
	c := NewClient(http.DefaultClient, ts.URL, connect.WithCodec(ProtoCodec{}))

	run, err := c.Run(bg(), &RunRequest{Source: fibSource})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Result != fibResult || run.Output != "fib\n" {
		t.Errorf("run = %+v", run)
	}
}
