// Package transform rewrites parsed Ox programs before they are rendered or
// compiled. Two stages exist, identifier renaming and control-flow
// flattening, and a Pipeline always runs them in that order.
package transform

import (
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
)

// Parser turns source text into a program tree.
type Parser interface {
	Parse(filename, source string) (*compiler.Program, error)
}

// Renderer turns a program tree back into source text. The output is
// semantically equivalent to the tree, not byte-identical to any input.
type Renderer interface {
	Render(prog *compiler.Program) string
}

// VariableCollector reports the identifiers a rename pass may rewrite, in
// first-occurrence order.
type VariableCollector interface {
	Collect(prog *compiler.Program) []string
}

// VariableRenamer rewrites every occurrence of names in prog and returns the
// mapping it applied.
type VariableRenamer interface {
	Rename(prog *compiler.Program, names []string) (*RenameMap, error)
}

// ControlFlowFlattener rewrites function bodies into state-dispatch loops.
type ControlFlowFlattener interface {
	Flatten(prog *compiler.Program) error
}

// Capabilities bundles the collaborators a Pipeline drives. A nil field
// means the capability is unavailable; requesting a stage that needs it is
// a configuration error.
type Capabilities struct {
	Parser    Parser
	Renderer  Renderer
	Collector VariableCollector
	Renamer   VariableRenamer
	Flattener ControlFlowFlattener
}

// Options tune the built-in capabilities.
type Options struct {
	// Naming produces fresh identifiers. Nil means RandomNames of length 8.
	Naming NameGenerator
	// Preserve lists identifiers the rename pass must leave alone.
	Preserve []string
	// Reserved lists extra builtin names visible at run time, beyond the core
	// builtins, that must never be renamed or shadowed.
	Reserved []string
	// FlattenSeed fixes the dispatch label permutation and state variable
	// name. Zero picks a random seed.
	FlattenSeed int64
}

// DefaultCapabilities returns the built-in implementations configured by
// opts.
func DefaultCapabilities(opts Options) Capabilities {
	reserved := make(map[string]bool)
	for _, name := range vm.CoreBuiltins {
		reserved[name] = true
	}
	for _, name := range opts.Reserved {
		reserved[name] = true
	}
	naming := opts.Naming
	if naming == nil {
		naming = RandomNames{Length: 8}
	}
	return Capabilities{
		Parser:    sourceParser{},
		Renderer:  sourceRenderer{},
		Collector: &Collector{Builtins: reserved, Preserve: toSet(opts.Preserve)},
		Renamer:   &Renamer{Names: naming, Builtins: reserved},
		Flattener: &Flattener{Seed: opts.FlattenSeed},
	}
}

type sourceParser struct{}

func (sourceParser) Parse(filename, source string) (*compiler.Program, error) {
	return compiler.ParseFile(filename, source)
}

type sourceRenderer struct{}

func (sourceRenderer) Render(prog *compiler.Program) string {
	return compiler.Format(prog)
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
