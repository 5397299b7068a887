package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

const fibSource = `
func fib(n) {
    a = 0
    b = 1
    i = 0
    while i < n {
        t = a + b
        a = b
        b = t
        i += 1
    }
    return a
}
print("fib")
return [fib(10), fib(20)]
`

const fibResult = "[55, 6765]"

// newTestServer starts a Server behind httptest with cleartext HTTP/2
// enabled, so both Connect and gRPC clients can reach it.
func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	s := New(append([]ServerOption{WithWorkers(2)}, opts...)...)
	ts := httptest.NewUnstartedServer(s.Handler())
	ts.Config.Protocols = Protocols()
	ts.Start()
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

// newTestClient returns a Connect client for ts.
func newTestClient(ts *httptest.Server) *Client {
	return NewClient(http.DefaultClient, ts.URL)
}

// grpcTarget strips the scheme from an httptest URL.
func grpcTarget(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func bg() context.Context {
	return context.Background()
}
