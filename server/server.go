// Package server exposes the protection pipeline over the network and to
// editors: an ObfuscationService speaking Connect and gRPC with CBOR or
// protobuf codecs, and an Ox language server.
package server

import (
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/logger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/obfuscator"
)

// Server serves the ObfuscationService over HTTP/1.1 (Connect) and
// cleartext HTTP/2 (Connect and gRPC) on the same port.
type Server struct {
	pool *WorkerPool
	mux  *http.ServeMux
	log  commonlog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers    int
	recorder   obfuscator.Recorder
	runTimeout time.Duration
}

// WithWorkers sets how many runs may execute at once. The default is
// GOMAXPROCS.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithRecorder records every loader produced by the service.
func WithRecorder(r obfuscator.Recorder) ServerOption {
	return func(c *serverConfig) { c.recorder = r }
}

// WithRunTimeout bounds each Run call.
func WithRunTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.runTimeout = d }
}

// New creates a Server.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		pool: NewWorkerPool(cfg.workers),
		mux:  http.NewServeMux(),
		log:  logger.Get("server"),
	}
	svc := NewObfuscationService(s.pool, cfg.recorder, cfg.runTimeout)
	path, handler := NewObfuscationServiceHandler(svc)
	s.mux.Handle(path, handler)
	return s
}

// NewObfuscationServiceHandler builds the HTTP handler for svc. It returns
// the path prefix to mount it on. Requests may be CBOR or protobuf.
func NewObfuscationServiceHandler(svc *ObfuscationService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{}), connect.WithCodec(ProtoCodec{})}, opts...)
	obfuscate := connect.NewUnaryHandler(ObfuscateProcedure, svc.Obfuscate, opts...)
	run := connect.NewUnaryHandler(RunProcedure, svc.Run, opts...)
	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ObfuscateProcedure:
			obfuscate.ServeHTTP(w, r)
		case RunProcedure:
			run.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Protocols enables HTTP/1.1 and cleartext HTTP/2, which gRPC clients
// need without TLS.
func Protocols() *http.Protocols {
	p := new(http.Protocols)
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	return p
}

// HTTPServer returns an http.Server for addr serving s.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		Protocols:         Protocols(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	s.log.Noticef("obfux server listening on %s", addr)
	s.log.Noticef("  Connect (HTTP/CBOR): http://%s%s", addr, ObfuscateProcedure)
	s.log.Noticef("  gRPC (h2c, cbor or proto): grpc://%s", addr)
	return s.HTTPServer(addr).ListenAndServe()
}

// Stop shuts down the worker pool.
func (s *Server) Stop() {
	s.pool.Stop()
}
