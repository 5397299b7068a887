package vm

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
)

// ---------------------------------------------------------------------------
// VM: The Ox Virtual Machine
// ---------------------------------------------------------------------------

// DefaultMaxDepth bounds Ox call nesting.
const DefaultMaxDepth = 512

// VM holds the state shared by every run: module globals, the builtin
// registry and the standard streams. A VM is not safe for concurrent use;
// create one per goroutine.
type VM struct {
	Globals  map[string]Value
	Stdout   io.Writer
	Stderr   io.Writer
	MaxDepth int

	builtins map[string]*Builtin
	interp   *Interpreter // active run, nil when idle
}

// New creates a VM with the core builtins installed.
func New() *VM {
	v := &VM{
		Globals:  make(map[string]Value),
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		MaxDepth: DefaultMaxDepth,
		builtins: make(map[string]*Builtin),
	}
	v.registerCoreBuiltins()
	return v
}

// Register installs or replaces a builtin.
func (v *VM) Register(b *Builtin) {
	v.builtins[b.Name] = b
}

// RegisterFunc is shorthand for Register.
func (v *VM) RegisterFunc(name string, arity int, fn BuiltinFunc) {
	v.Register(&Builtin{Name: name, Arity: arity, Fn: fn})
}

// LookupBuiltin returns the named builtin.
func (v *VM) LookupBuiltin(name string) (*Builtin, bool) {
	b, ok := v.builtins[name]
	return b, ok
}

// BuiltinNames returns the sorted names of every installed builtin.
func (v *VM) BuiltinNames() []string {
	names := make([]string, 0, len(v.builtins))
	for name := range v.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Context returns the context of the active run, or Background when idle.
// Builtins use it for blocking work.
func (v *VM) Context() context.Context {
	if v.interp != nil {
		return v.interp.ctx
	}
	return context.Background()
}

// Run executes a module against the VM's globals and returns the program
// result: the value of a top-level return, or nil.
func (v *VM) Run(ctx context.Context, m *Module) (Value, error) {
	return v.RunWithGlobals(ctx, m, v.Globals)
}

// RunWithGlobals executes a module against the given globals map. Nested
// runs started from a builtin share the active interpreter, so call depth
// and cancellation carry over.
func (v *VM) RunWithGlobals(ctx context.Context, m *Module, globals map[string]Value) (result Value, err error) {
	if m == nil || m.Main == nil {
		return nil, fmt.Errorf("vm: module has no main code")
	}
	frame := &CallFrame{
		Code:    m.Main,
		Module:  m,
		Globals: globals,
		Locals:  make([]Value, len(m.Main.Locals)),
	}
	return v.enter(ctx, func(i *Interpreter) (Value, error) {
		return i.execute(frame)
	})
}

// Call invokes a callable value (function or builtin) with args.
func (v *VM) Call(ctx context.Context, fn Value, args ...Value) (Value, error) {
	return v.enter(ctx, func(i *Interpreter) (Value, error) {
		return i.call(fn, args)
	})
}

// enter runs body on the active interpreter, or on a fresh one for a
// top-level entry. Go panics from malformed bytecode surface as errors.
func (v *VM) enter(ctx context.Context, body func(*Interpreter) (Value, error)) (result Value, err error) {
	if v.interp != nil {
		return body(v.interp)
	}
	v.interp = newInterpreter(v, ctx)
	defer func() {
		v.interp = nil
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("vm: internal error: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errCancelled, err)
	}
	return body(v.interp)
}
