package loader

import (
	"context"
	"io"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm/wire"
)

// Options configure Run.
type Options struct {
	// Filename names the loader in compile errors and traces.
	Filename string
	Stdout   io.Writer
	Stderr   io.Writer
	// Policy restricts the builtins a restored module may use.
	Policy *wire.CapabilityPolicy
	// MaxDepth overrides the VM call depth limit when positive.
	MaxDepth int
}

// Run compiles loader text and executes it in a fresh VM with the bootstrap
// builtins installed. The restored program's result is returned. A decode
// failure surfaces as a *vm.ExitError carrying ExitDecodeFailure.
func Run(ctx context.Context, text string, opts Options) (vm.Value, error) {
	name := opts.Filename
	if name == "" {
		name = "loader.ox"
	}
	m, err := compiler.CompileSource(name, text, compiler.Options{Name: name})
	if err != nil {
		return nil, err
	}
	machine := vm.New()
	if opts.Stdout != nil {
		machine.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		machine.Stderr = opts.Stderr
	}
	if opts.MaxDepth > 0 {
		machine.MaxDepth = opts.MaxDepth
	}
	Install(machine, InstallOptions{Policy: opts.Policy})
	return machine.Run(ctx, m)
}
