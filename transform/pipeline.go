package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/logger"
)

// Set selects the stages a Pipeline applies.
type Set uint8

const (
	Rename Set = 1 << iota
	Flatten
)

// Has reports whether every stage in x is selected.
func (s Set) Has(x Set) bool { return s&x == x }

func (s Set) String() string {
	var parts []string
	if s.Has(Rename) {
		parts = append(parts, "rename")
	}
	if s.Has(Flatten) {
		parts = append(parts, "flatten")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseSet parses stage names separated by "+" or ",", as produced by
// Set.String. "none" and "" give the empty set.
func ParseSet(s string) (Set, error) {
	var set Set
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		switch strings.TrimSpace(part) {
		case "rename":
			set |= Rename
		case "flatten":
			set |= Flatten
		case "none", "":
		default:
			return 0, fmt.Errorf("unknown transform %q", part)
		}
	}
	return set, nil
}

// ErrMissingCapability is returned, before any stage runs, when a selected
// stage has no capability to drive it.
var ErrMissingCapability = errors.New("missing transform capability")

// StageError reports a failed or malformed stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Result is the tree after all selected stages, plus the rename map when
// the rename stage ran.
type Result struct {
	Program *compiler.Program
	Renames *RenameMap
}

// Pipeline applies the selected stages in fixed order: rename, then
// flatten. Each stage's output is validated before the next stage sees it.
type Pipeline struct {
	caps Capabilities
	log  commonlog.Logger

	// VerifyFlatten runs the program before and after flattening and fails
	// the stage when the two runs differ.
	VerifyFlatten bool
	// VerifyTimeout bounds each verification run. Zero means 5 seconds.
	VerifyTimeout time.Duration
}

// NewPipeline returns a pipeline driving caps.
func NewPipeline(caps Capabilities) *Pipeline {
	return &Pipeline{caps: caps, log: logger.Get("transform")}
}

// Capabilities returns the collaborators the pipeline drives.
func (p *Pipeline) Capabilities() Capabilities { return p.caps }

// Check reports whether every capability set needs is present.
func (p *Pipeline) Check(set Set) error {
	var missing []string
	if set.Has(Rename) {
		if p.caps.Collector == nil {
			missing = append(missing, "variable collector")
		}
		if p.caps.Renamer == nil {
			missing = append(missing, "variable renamer")
		}
	}
	if set.Has(Flatten) && p.caps.Flattener == nil {
		missing = append(missing, "control-flow flattener")
	}
	if set.Has(Flatten) && p.VerifyFlatten && p.caps.Renderer == nil {
		missing = append(missing, "renderer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCapability, strings.Join(missing, ", "))
	}
	return nil
}

// Apply transforms prog in place. The returned Result owns the tree; the
// caller must not keep using prog separately.
func (p *Pipeline) Apply(ctx context.Context, prog *compiler.Program, set Set) (Result, error) {
	if err := p.Check(set); err != nil {
		return Result{}, err
	}
	if err := compiler.Validate(prog); err != nil {
		return Result{}, &StageError{Stage: "input", Err: err}
	}

	res := Result{Program: prog}
	if set.Has(Rename) {
		start := time.Now()
		names := p.caps.Collector.Collect(prog)
		m, err := p.caps.Renamer.Rename(prog, names)
		if err != nil {
			return Result{}, &StageError{Stage: "rename", Err: err}
		}
		if m.Len() != len(names) {
			return Result{}, &StageError{Stage: "rename", Err: fmt.Errorf("renamed %d of %d collected identifiers", m.Len(), len(names))}
		}
		if err := compiler.Validate(prog); err != nil {
			return Result{}, &StageError{Stage: "rename", Err: err}
		}
		res.Renames = m
		p.log.Debugf("renamed %d identifiers", m.Len())
		logger.TrackTime(p.log, start, "rename")
	}

	if set.Has(Flatten) {
		start := time.Now()
		var before string
		if p.VerifyFlatten {
			before = p.caps.Renderer.Render(prog)
		}
		if err := p.caps.Flattener.Flatten(prog); err != nil {
			return Result{}, &StageError{Stage: "flatten", Err: err}
		}
		if err := compiler.Validate(prog); err != nil {
			return Result{}, &StageError{Stage: "flatten", Err: err}
		}
		if p.VerifyFlatten {
			v := Verifier{Timeout: p.VerifyTimeout}
			if err := v.Equivalent(ctx, before, prog); err != nil {
				return Result{}, &StageError{Stage: "flatten", Err: err}
			}
			p.log.Debug("flattened program matches original behavior")
		}
		logger.TrackTime(p.log, start, "flatten")
	}
	return res, nil
}
