package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
)

// Outcome is what one run of a program produced.
type Outcome struct {
	Result string // repr of the program result
	Output string // everything printed
	Error  string // exception message, empty on success
}

// Verifier executes two versions of a program in isolated VMs and compares
// what they do.
type Verifier struct {
	// Timeout bounds each run. Zero means 5 seconds.
	Timeout time.Duration
}

// Run compiles prog and executes it in a fresh VM.
func (v Verifier) Run(ctx context.Context, prog *compiler.Program) (Outcome, error) {
	m, err := compiler.Compile(prog, compiler.Options{Name: "verify", StripLines: true})
	if err != nil {
		return Outcome{}, err
	}
	timeout := v.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	machine := vm.New()
	var out bytes.Buffer
	machine.Stdout = &out
	machine.Stderr = &out

	result, err := machine.Run(ctx, m)
	o := Outcome{Result: vm.Repr(result), Output: out.String()}
	if err != nil {
		var ex *vm.Exception
		switch {
		case errors.As(err, &ex):
			o.Error = ex.Message()
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return o, fmt.Errorf("run did not finish: %w", err)
		default:
			o.Error = err.Error()
		}
	}
	return o, nil
}

// Equivalent parses before, runs it and prog, and reports the first
// difference between the two runs.
func (v Verifier) Equivalent(ctx context.Context, before string, prog *compiler.Program) error {
	orig, err := compiler.ParseFile("before", before)
	if err != nil {
		return fmt.Errorf("reparsing original: %w", err)
	}
	want, err := v.Run(ctx, orig)
	if err != nil {
		return fmt.Errorf("running original: %w", err)
	}
	got, err := v.Run(ctx, prog)
	if err != nil {
		return fmt.Errorf("running transformed: %w", err)
	}
	switch {
	case got.Error != want.Error:
		return fmt.Errorf("behavior changed: error %q, want %q", got.Error, want.Error)
	case got.Result != want.Result:
		return fmt.Errorf("behavior changed: result %s, want %s", got.Result, want.Result)
	case got.Output != want.Output:
		return fmt.Errorf("behavior changed: output %q, want %q", got.Output, want.Output)
	}
	return nil
}
