package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/loader"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/logger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/obfuscator"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm/wire"
)

// ErrorKindHeader names the obfuscator error kind on failed calls.
const ErrorKindHeader = "Obfux-Error-Kind"

// ObfuscationService implements the ObfuscationService Connect/gRPC handler.
type ObfuscationService struct {
	pool       *WorkerPool
	recorder   obfuscator.Recorder
	runTimeout time.Duration
	log        commonlog.Logger
}

// NewObfuscationService creates an ObfuscationService. recorder may be nil.
func NewObfuscationService(pool *WorkerPool, recorder obfuscator.Recorder, runTimeout time.Duration) *ObfuscationService {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Second
	}
	return &ObfuscationService{
		pool:       pool,
		recorder:   recorder,
		runTimeout: runTimeout,
		log:        logger.Get("server"),
	}
}

// Obfuscate protects one program.
func (s *ObfuscationService) Obfuscate(
	ctx context.Context,
	req *connect.Request[ObfuscateRequest],
) (*connect.Response[ObfuscateResponse], error) {
	msg := req.Msg
	if msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	set, err := transform.ParseSet(msg.Transforms)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	mode, err := obfuscator.ParseMode(msg.Mode)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	opts, err := s.options(msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	name := msg.Name
	if name == "" {
		name = "program.ox"
	}

	runID := uuid.NewString()
	s.log.Infof("run %s: obfuscate %s (%s, %s)", runID, name, set, mode)
	result, err := s.pool.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return obfuscator.New(opts...).Run(ctx, obfuscator.NewRequest(name, msg.Source, set, mode))
	})
	if err != nil {
		return nil, toConnectError(runID, err)
	}
	out := result.(*obfuscator.Output)

	resp := &ObfuscateResponse{
		RunID:      runID,
		Kind:       out.Kind.String(),
		Text:       out.Text,
		Renames:    out.Renames.Pairs(),
		Digest:     out.Digest,
		SourceHash: out.SourceHash,
		LedgerID:   out.LedgerID,
	}
	if out.Material != nil {
		resp.KeyHex = out.Material.KeyHex()
		resp.IVHex = out.Material.IVHex()
	}
	return connect.NewResponse(resp), nil
}

func (s *ObfuscationService) options(msg *ObfuscateRequest) ([]obfuscator.Option, error) {
	topts := transform.Options{
		Preserve:    msg.Preserve,
		Reserved:    loader.BootstrapBuiltins,
		FlattenSeed: msg.FlattenSeed,
	}
	if msg.NameSeed != 0 {
		topts.Naming = transform.NewSeededNames(msg.NameSeed, 8)
	}
	opts := []obfuscator.Option{
		obfuscator.WithCapabilities(transform.DefaultCapabilities(topts)),
		obfuscator.WithVerifyFlatten(msg.Verify),
		obfuscator.WithEntryName(msg.EntryName),
		obfuscator.WithLogger(s.log),
	}
	if msg.KeyHex != "" || msg.IVHex != "" {
		m, err := artifact.StaticMaterialFromHex(msg.KeyHex, msg.IVHex)
		if err != nil {
			return nil, err
		}
		opts = append(opts, obfuscator.WithMaterialProvider(m))
	}
	switch msg.Builder {
	case "", "ox":
	case "go":
		opts = append(opts, obfuscator.WithLoaderBuilder(loader.GoStub(msg.Name)))
	default:
		return nil, fmt.Errorf("unknown loader builder %q", msg.Builder)
	}
	if s.recorder != nil {
		opts = append(opts, obfuscator.WithLedger(s.recorder))
	}
	return opts, nil
}

// Run executes a loader (or any program) in a fresh, isolated VM.
func (s *ObfuscationService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	if msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	var policy *wire.CapabilityPolicy
	if len(msg.Allow) > 0 {
		policy = wire.NewRestrictedPolicy(msg.Allow)
	}

	runID := uuid.NewString()
	s.log.Infof("run %s: execute %s", runID, msg.Filename)
	result, err := s.pool.Do(ctx, func(ctx context.Context) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
		defer cancel()

		var out bytes.Buffer
		v, err := loader.Run(ctx, msg.Source, loader.Options{
			Filename: msg.Filename,
			Stdout:   &out,
			Stderr:   &out,
			Policy:   policy,
		})
		resp := &RunResponse{RunID: runID, Result: vm.Repr(v), Output: out.String()}
		if err == nil {
			return resp, nil
		}
		if code, ok := vm.IsExit(err); ok {
			resp.ExitCode = code
			return resp, nil
		}
		var ex *vm.Exception
		if errors.As(err, &ex) {
			resp.Error = ex.Message()
			resp.ExitCode = 1
			return resp, nil
		}
		return nil, err
	})
	if err != nil {
		return nil, toConnectError(runID, err)
	}
	return connect.NewResponse(result.(*RunResponse)), nil
}

// toConnectError maps run failures to Connect codes. The obfuscator kind
// travels in ErrorKindHeader so clients can tell failures apart.
func toConnectError(runID string, err error) error {
	code := connect.CodeInternal
	kind := obfuscator.KindOf(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, ErrPoolStopped):
		code = connect.CodeUnavailable
	case kind == obfuscator.ErrConfiguration, kind == obfuscator.ErrParse:
		code = connect.CodeInvalidArgument
	case kind == obfuscator.ErrTransform:
		code = connect.CodeAborted
	default:
		var pe *compiler.ParseError
		if errors.As(err, &pe) {
			code = connect.CodeInvalidArgument
		}
	}
	cerr := connect.NewError(code, fmt.Errorf("run %s: %w", runID, err))
	if kind != nil {
		cerr.Meta().Set(ErrorKindHeader, kind.Error())
	}
	return cerr
}
