package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/ledger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/loader"
)

const (
	testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testIV  = "0f0e0d0c0b0a09080706050403020100"
)

func TestObfuscateReadable(t *testing.T) {
	_, ts := newTestServer(t)
	c := newTestClient(ts)

	resp, err := c.Obfuscate(bg(), &ObfuscateRequest{
		Name:        "fib.ox",
		Source:      fibSource,
		Transforms:  "rename+flatten",
		NameSeed:    3,
		FlattenSeed: 9,
		Verify:      true,
	})
	if err != nil {
		t.Fatalf("Obfuscate: %v", err)
	}
	if resp.Kind != "readable" || resp.RunID == "" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Renames) == 0 {
		t.Fatal("no renames returned")
	}
	for _, p := range resp.Renames {
		if p.From == "fib" || p.From == "print" {
			t.Errorf("%s must not be renamed", p.From)
		}
	}
	if !strings.Contains(resp.Text, "state_") {
		t.Errorf("flattened text has no state variable:\n%s", resp.Text)
	}

	run, err := c.Run(bg(), &RunRequest{Source: resp.Text})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Result != fibResult || run.Output != "fib\n" || run.ExitCode != 0 {
		t.Errorf("run = %+v", run)
	}
}

func TestObfuscateLoaderRoundTrip(t *testing.T) {
	store, err := ledger.Open(t.TempDir() + "/ledger.db")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	_, ts := newTestServer(t, WithRecorder(store))
	c := newTestClient(ts)

	resp, err := c.Obfuscate(bg(), &ObfuscateRequest{
		Name:       "fib.ox",
		Source:     fibSource,
		Transforms: "flatten",
		Mode:       "loader",
		KeyHex:     testKey,
		IVHex:      testIV,
	})
	if err != nil {
		t.Fatalf("Obfuscate: %v", err)
	}
	if resp.Kind != "loader" || resp.KeyHex != testKey || resp.IVHex != testIV {
		t.Errorf("response = %+v", resp)
	}
	if resp.LedgerID == "" || resp.Digest == "" {
		t.Fatalf("loader not recorded: %+v", resp)
	}
	e, err := store.Get(bg(), resp.LedgerID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Digest != resp.Digest || e.KeyHex != testKey || e.SourceHash != resp.SourceHash {
		t.Errorf("ledger entry = %+v", e)
	}

	run, err := c.Run(bg(), &RunRequest{Filename: "fib_loader.ox", Source: resp.Text})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Result != fibResult || run.Output != "fib\n" {
		t.Errorf("loader run = %+v", run)
	}

	// A policy without print makes the loader refuse the payload.
	run, err = c.Run(bg(), &RunRequest{Source: resp.Text, Allow: []string{"len"}})
	if err != nil {
		t.Fatal(err)
	}
	if run.ExitCode != loader.ExitDecodeFailure || !strings.Contains(run.Output, "print") {
		t.Errorf("restricted run = %+v", run)
	}
}

func TestObfuscateErrors(t *testing.T) {
	_, ts := newTestServer(t)
	c := newTestClient(ts)

	tests := []struct {
		desc string
		req  ObfuscateRequest
		code connect.Code
		kind string
	}{
		{"no source", ObfuscateRequest{Transforms: "rename"}, connect.CodeInvalidArgument, ""},
		{"bad transform", ObfuscateRequest{Source: "x = 1", Transforms: "inline"}, connect.CodeInvalidArgument, ""},
		{"bad mode", ObfuscateRequest{Source: "x = 1", Transforms: "rename", Mode: "zip"}, connect.CodeInvalidArgument, ""},
		{"bad builder", ObfuscateRequest{Source: "x = 1", Transforms: "rename", Builder: "rust"}, connect.CodeInvalidArgument, ""},
		{"bad key", ObfuscateRequest{Source: "x = 1", Transforms: "rename", KeyHex: "abcd", IVHex: testIV}, connect.CodeInvalidArgument, ""},
		{"no transform", ObfuscateRequest{Source: "x = 1"}, connect.CodeInvalidArgument, "configuration error"},
		{"parse", ObfuscateRequest{Source: "x = (", Transforms: "rename"}, connect.CodeInvalidArgument, "parse error"},
		{"entry collision", ObfuscateRequest{Source: "func f() { return 1 }\nfunc g() { return 2 }", Transforms: "rename", EntryName: "g"}, connect.CodeAborted, "transform error"},
	}
	for _, tc := range tests {
		_, err := c.Obfuscate(bg(), &tc.req)
		var cerr *connect.Error
		if !errors.As(err, &cerr) {
			t.Errorf("%s: error = %v, want connect error", tc.desc, err)
			continue
		}
		if cerr.Code() != tc.code {
			t.Errorf("%s: code = %v, want %v (%v)", tc.desc, cerr.Code(), tc.code, err)
		}
		if got := cerr.Meta().Get(ErrorKindHeader); got != tc.kind {
			t.Errorf("%s: kind = %q, want %q", tc.desc, got, tc.kind)
		}
	}
}

func TestRunReportsExceptions(t *testing.T) {
	_, ts := newTestServer(t)
	c := newTestClient(ts)

	run, err := c.Run(bg(), &RunRequest{Source: `print("a")` + "\n" + `throw "boom"`})
	if err != nil {
		t.Fatal(err)
	}
	if run.Error != "boom" || run.ExitCode != 1 || run.Output != "a\n" {
		t.Errorf("run = %+v", run)
	}

	_, err = c.Run(bg(), &RunRequest{Source: "x = ("})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("compile failure code = %v (%v)", connect.CodeOf(err), err)
	}
}

func TestRunSelfReferentialResult(t *testing.T) {
	_, ts := newTestServer(t)
	c := newTestClient(ts)

	run, err := c.Run(bg(), &RunRequest{Source: "l = [1]\nappend(l, l)\nprint(l)\nreturn l\n"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Result != "[1, [...]]" || run.Output != "[1, [...]]\n" || run.ExitCode != 0 {
		t.Errorf("run = %+v", run)
	}

	// The server keeps serving afterwards.
	if _, err := c.Run(bg(), &RunRequest{Source: "return 1"}); err != nil {
		t.Errorf("follow-up run: %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	_, ts := newTestServer(t, WithRunTimeout(50*time.Millisecond))
	c := newTestClient(ts)
	_, err := c.Run(bg(), &RunRequest{Source: "while true { }"})
	if connect.CodeOf(err) != connect.CodeDeadlineExceeded {
		t.Errorf("code = %v (%v), want deadline_exceeded", connect.CodeOf(err), err)
	}
}

func TestGRPCClient(t *testing.T) {
	_, ts := newTestServer(t)
	gc, err := DialGRPC(grpcTarget(ts))
	if err != nil {
		t.Fatal(err)
	}
	defer gc.Close()

	ctx, cancel := context.WithTimeout(bg(), 10*time.Second)
	defer cancel()

	resp, err := gc.Obfuscate(ctx, &ObfuscateRequest{
		Name:       "fib.ox",
		Source:     fibSource,
		Transforms: "rename",
		Mode:       "loader",
		Builder:    "ox",
	})
	if err != nil {
		t.Fatalf("Obfuscate over gRPC: %v", err)
	}
	if resp.Kind != "loader" || len(resp.KeyHex) != 64 {
		t.Errorf("response = %+v", resp)
	}
	run, err := gc.Run(ctx, &RunRequest{Source: resp.Text})
	if err != nil {
		t.Fatalf("Run over gRPC: %v", err)
	}
	if run.Result != fibResult {
		t.Errorf("result = %s, want %s", run.Result, fibResult)
	}

	_, err = gc.Obfuscate(ctx, &ObfuscateRequest{Source: "x = 1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("gRPC code = %v (%v), want InvalidArgument", status.Code(err), err)
	}
}

func TestConcurrentRuns(t *testing.T) {
	_, ts := newTestServer(t)
	c := newTestClient(ts)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Obfuscate(bg(), &ObfuscateRequest{Source: fibSource, Transforms: "rename+flatten", Mode: "loader"})
			if err != nil {
				errs <- err
				return
			}
			run, err := c.Run(bg(), &RunRequest{Source: resp.Text})
			if err != nil {
				errs <- err
				return
			}
			if run.Result != fibResult {
				errs <- errors.New("wrong result " + run.Result)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
