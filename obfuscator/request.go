package obfuscator

import (
	"fmt"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
)

// Mode selects the deliverable.
type Mode int

const (
	// ModeReadable renders the transformed program back to source.
	ModeReadable Mode = iota
	// ModeLoader compiles, encrypts and wraps the program in a loader.
	ModeLoader
)

func (m Mode) String() string {
	switch m {
	case ModeReadable:
		return "readable"
	case ModeLoader:
		return "loader"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "readable" or "loader".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "readable", "":
		return ModeReadable, nil
	case "loader":
		return ModeLoader, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Request fully determines one run. Treat it as immutable once built.
type Request struct {
	Source     string
	Name       string
	Transforms transform.Set
	Mode       Mode
}

// NewRequest builds a request for source, named name in messages and
// artifacts.
func NewRequest(name, source string, set transform.Set, mode Mode) Request {
	return Request{Source: source, Name: name, Transforms: set, Mode: mode}
}

// OutputKind tags an Output.
type OutputKind int

const (
	OutputReadable OutputKind = iota + 1
	OutputLoader
)

func (k OutputKind) String() string {
	switch k {
	case OutputReadable:
		return "readable"
	case OutputLoader:
		return "loader"
	}
	return fmt.Sprintf("OutputKind(%d)", int(k))
}

// Output is the single deliverable of a run. Text is rendered source for
// OutputReadable and loader source for OutputLoader. Material and Digest are
// set only for loaders; Renames only when the rename stage ran.
type Output struct {
	Kind OutputKind
	// Program is the transformed tree both modes were produced from.
	Program  *compiler.Program
	Text     string
	Renames  *transform.RenameMap
	Material *artifact.Material
	Digest   string
	// SourceHash is the content hash of the input program. It ignores
	// variable names, so it also matches the output of a rename-only run.
	SourceHash string
	// LedgerID is the ledger entry recorded for a loader, if any.
	LedgerID string
}
