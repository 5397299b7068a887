// Package obfuscator drives one protection run: it parses a program,
// applies the selected transforms and produces either readable source or an
// encrypted self-decoding loader.
package obfuscator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/tliron/commonlog"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler/hash"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/ledger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/loader"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/logger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm/wire"
)

// hashBuiltins are the names a source hash keeps verbatim.
var hashBuiltins = slices.Concat(vm.CoreBuiltins, loader.BootstrapBuiltins)

// SourceHash returns the content hash recorded for prog. Consistently
// renaming variables does not change it.
func SourceHash(prog *compiler.Program) string {
	return hash.Hex(prog, hashBuiltins)
}

// Recorder stores a record of each produced loader.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Obfuscator owns the collaborators for its runs. It holds no per-run
// state, but its material provider and capabilities may; give each
// goroutine its own Obfuscator.
type Obfuscator struct {
	caps          transform.Capabilities
	materials     artifact.MaterialProvider
	builder       loader.Factory
	recorder      Recorder
	log           commonlog.Logger
	verifyFlatten bool
	entryName     string
	recordOnWrite bool
}

// Option configures an Obfuscator.
type Option func(*Obfuscator)

// WithCapabilities replaces the transform collaborators.
func WithCapabilities(caps transform.Capabilities) Option {
	return func(o *Obfuscator) { o.caps = caps }
}

// WithMaterialProvider sets where loader keys come from.
func WithMaterialProvider(p artifact.MaterialProvider) Option {
	return func(o *Obfuscator) { o.materials = p }
}

// WithLoaderBuilder replaces the built-in loader template.
func WithLoaderBuilder(f loader.Factory) Option {
	return func(o *Obfuscator) { o.builder = f }
}

// WithLedger records every produced loader in r.
func WithLedger(r Recorder) Option {
	return func(o *Obfuscator) { o.recorder = r }
}

// WithLogger replaces the default logger.
func WithLogger(l commonlog.Logger) Option {
	return func(o *Obfuscator) { o.log = l }
}

// WithVerifyFlatten executes the program before and after flattening and
// fails the run if they behave differently.
func WithVerifyFlatten(on bool) Option {
	return func(o *Obfuscator) { o.verifyFlatten = on }
}

// WithRecordOnWrite defers ledger recording from Run to WriteArtifacts, so
// a loader is recorded only once its files are about to be committed.
func WithRecordOnWrite() Option {
	return func(o *Obfuscator) { o.recordOnWrite = true }
}

// WithEntryName renames the first top-level function to name before the
// transforms run.
func WithEntryName(name string) Option {
	return func(o *Obfuscator) { o.entryName = name }
}

// New returns an Obfuscator with the built-in capabilities, random key
// material and the built-in Ox loader, adjusted by opts.
func New(opts ...Option) *Obfuscator {
	o := &Obfuscator{
		caps:      transform.DefaultCapabilities(transform.Options{Reserved: loader.BootstrapBuiltins}),
		materials: artifact.RandomMaterial{},
		log:       logger.Get("obfuscator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate rejects requests that cannot run, before any work happens.
func (o *Obfuscator) Validate(req Request) error {
	if req.Transforms&(transform.Rename|transform.Flatten) == 0 {
		return fail(ErrConfiguration, "validate", ErrNoTransform)
	}
	if req.Mode != ModeReadable && req.Mode != ModeLoader {
		return fail(ErrConfiguration, "validate", fmt.Errorf("unknown mode %v", req.Mode))
	}
	if o.caps.Parser == nil {
		return fail(ErrConfiguration, "validate", fmt.Errorf("%w: parser", transform.ErrMissingCapability))
	}
	if req.Mode == ModeReadable && o.caps.Renderer == nil {
		return fail(ErrConfiguration, "validate", fmt.Errorf("%w: renderer", transform.ErrMissingCapability))
	}
	if req.Mode == ModeLoader && o.materials == nil {
		return fail(ErrConfiguration, "validate", errors.New("no encryption material provider"))
	}
	if err := o.pipeline().Check(req.Transforms); err != nil {
		return fail(ErrConfiguration, "validate", err)
	}
	return nil
}

func (o *Obfuscator) pipeline() *transform.Pipeline {
	p := transform.NewPipeline(o.caps)
	p.VerifyFlatten = o.verifyFlatten
	return p
}

// Run executes req and returns its single deliverable. Nothing is written
// anywhere; see WriteOutput.
func (o *Obfuscator) Run(ctx context.Context, req Request) (*Output, error) {
	defer logger.TrackTime(o.log, time.Now(), "run "+req.Name)
	if err := o.Validate(req); err != nil {
		o.log.Errorf("%s: %v", req.Name, err)
		return nil, err
	}

	o.log.Debugf("%s: parsing", req.Name)
	prog, err := o.caps.Parser.Parse(req.Name, req.Source)
	if err != nil {
		return nil, o.failed(req, fail(ErrParse, "parse", err))
	}
	sourceHash := SourceHash(prog)

	if o.entryName != "" {
		old, err := transform.RenameTopFunction(prog, o.entryName)
		if err != nil {
			return nil, o.failed(req, fail(ErrTransform, "entry", err))
		}
		o.log.Debugf("%s: entry function %s renamed to %s", req.Name, old, o.entryName)
	}

	o.log.Debugf("%s: applying %s", req.Name, req.Transforms)
	res, err := o.pipeline().Apply(ctx, prog, req.Transforms)
	if err != nil {
		kind := ErrTransform
		if errors.Is(err, transform.ErrMissingCapability) {
			kind = ErrConfiguration
		}
		return nil, o.failed(req, fail(kind, "transform", err))
	}

	var out *Output
	switch req.Mode {
	case ModeReadable:
		out = &Output{Kind: OutputReadable, Text: o.caps.Renderer.Render(res.Program)}
	case ModeLoader:
		out, err = o.buildLoader(req, res.Program)
		if err != nil {
			return nil, o.failed(req, err)
		}
	}
	out.Program = res.Program
	out.Renames = res.Renames
	out.SourceHash = sourceHash
	if !o.recordOnWrite {
		if err := o.record(ctx, req, out); err != nil {
			return nil, o.failed(req, err)
		}
	}
	return out, nil
}

// record stores a loader in the ledger and sets out.LedgerID. Readable
// output and already recorded loaders are skipped.
func (o *Obfuscator) record(ctx context.Context, req Request, out *Output) error {
	if o.recorder == nil || out.Kind != OutputLoader || out.LedgerID != "" {
		return nil
	}
	e, err := o.recorder.Record(ctx, ledger.Entry{
		Name:       req.Name,
		Mode:       req.Mode.String(),
		Transforms: req.Transforms.String(),
		Digest:     out.Digest,
		SourceHash: out.SourceHash,
		KeyHex:     out.Material.KeyHex(),
		IVHex:      out.Material.IVHex(),
		Renames:    out.Renames.Len(),
	})
	if err != nil {
		return fail(ErrConfiguration, "ledger", err)
	}
	out.LedgerID = e.ID
	return nil
}

func (o *Obfuscator) failed(req Request, err error) error {
	o.log.Errorf("%s: %v", req.Name, err)
	return err
}

func (o *Obfuscator) buildLoader(req Request, prog *compiler.Program) (*Output, error) {
	o.log.Debugf("%s: compiling", req.Name)
	mod, err := compiler.Compile(prog, compiler.Options{Name: req.Name, StripLines: true})
	if err != nil {
		return nil, fail(ErrSerialization, "compile", err)
	}
	compiled, err := wire.MarshalModule(mod)
	if err != nil {
		return nil, fail(ErrSerialization, "marshal", err)
	}

	m, err := o.materials.Material()
	if err != nil {
		return nil, fail(ErrEncoding, "material", err)
	}
	payload, err := artifact.Encode(compiled, m, artifact.DefaultLevel)
	if err != nil {
		return nil, fail(ErrEncoding, "encode", err)
	}

	factory := o.builder
	if factory == nil {
		factory = loader.Template(req.Name)
	}
	text, err := loader.Synthesize(factory(m), payload)
	if err != nil {
		return nil, fail(ErrEncoding, "synthesize", err)
	}

	out := &Output{Kind: OutputLoader, Text: text, Material: &m, Digest: artifact.Digest(payload)}
	o.log.Infof("%s: built loader %s (%d bytes compiled, %d bytes payload)", req.Name, out.Digest[:12], len(compiled), len(payload))
	return out, nil
}

// WriteOutput writes out.Text to path atomically: the text goes to a
// temporary file in the same directory, which is renamed over path only
// once fully written. The directory is created if missing.
func (o *Obfuscator) WriteOutput(path string, out *Output) error {
	if out == nil {
		return errors.New("no output to write")
	}
	if err := writeFileAtomic(path, []byte(out.Text)); err != nil {
		return err
	}
	o.log.Infof("wrote %s output to %s", out.Kind, path)
	return nil
}

// WriteRenameMap writes m as a JSON object to path atomically.
func (o *Obfuscator) WriteRenameMap(path string, m *transform.RenameMap) error {
	if m == nil {
		m = transform.NewRenameMap()
	}
	data, err := renameMapJSON(m)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	o.log.Infof("wrote rename map (%d entries) to %s", m.Len(), path)
	return nil
}

// WriteArtifacts writes out.Text to outputPath and, when mapPath is set and
// renames exist, the rename map to mapPath. Both files are fully written to
// temporary files first, then the loader is recorded if recording was
// deferred, and only then are the files renamed into place. A failure before
// the renames leaves both paths untouched; if the map cannot be renamed into
// place the freshly written output is removed again.
func (o *Obfuscator) WriteArtifacts(ctx context.Context, req Request, out *Output, outputPath, mapPath string) error {
	if out == nil {
		return errors.New("no output to write")
	}
	var staged []stagedFile
	defer func() {
		for _, f := range staged {
			f.discard()
		}
	}()

	primary, err := stageFile(outputPath, []byte(out.Text))
	if err != nil {
		return err
	}
	staged = append(staged, primary)
	if mapPath != "" && out.Renames != nil {
		data, err := renameMapJSON(out.Renames)
		if err != nil {
			return err
		}
		m, err := stageFile(mapPath, data)
		if err != nil {
			return err
		}
		staged = append(staged, m)
	}

	if err := o.record(ctx, req, out); err != nil {
		return err
	}

	for i, f := range staged {
		if err := f.commit(); err != nil {
			// Undo what was already placed.
			for _, done := range staged[:i] {
				os.Remove(done.path)
			}
			return err
		}
		staged[i].tmp = ""
	}
	o.log.Infof("wrote %s output to %s", out.Kind, outputPath)
	if len(staged) > 1 {
		o.log.Infof("wrote rename map (%d entries) to %s", out.Renames.Len(), mapPath)
	}
	return nil
}

func renameMapJSON(m *transform.RenameMap) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding rename map: %w", err)
	}
	return append(data, '\n'), nil
}

// stagedFile is a fully written temporary file waiting to replace path.
type stagedFile struct {
	path string
	tmp  string
}

func (f stagedFile) commit() error {
	if err := os.Rename(f.tmp, f.path); err != nil {
		return fmt.Errorf("renaming into %s: %w", f.path, err)
	}
	return nil
}

func (f stagedFile) discard() {
	if f.tmp != "" {
		os.Remove(f.tmp)
	}
}

func stageFile(path string, data []byte) (f stagedFile, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return f, fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return f, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return f, fmt.Errorf("writing %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return f, fmt.Errorf("syncing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return f, fmt.Errorf("closing %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return f, fmt.Errorf("setting mode of %s: %w", path, err)
	}
	return stagedFile{path: path, tmp: tmp.Name()}, nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := stageFile(path, data)
	if err != nil {
		return err
	}
	if err := f.commit(); err != nil {
		f.discard()
		return err
	}
	return nil
}
