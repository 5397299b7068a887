package server

import "github.com/Ilse-L/LLM-Deobfuscation-Research/transform"

const (
	// ServiceName is the fully qualified RPC service name.
	ServiceName = "obfux.v1.ObfuscationService"

	// ObfuscateProcedure protects one program.
	ObfuscateProcedure = "/" + ServiceName + "/Obfuscate"
	// RunProcedure executes a loader or plain program in a sandboxed VM.
	RunProcedure = "/" + ServiceName + "/Run"
)

// ObfuscateRequest is one protection run.
type ObfuscateRequest struct {
	Name   string `cbor:"name"`
	Source string `cbor:"source"`
	// Transforms lists stages as "rename", "flatten" or "rename+flatten".
	Transforms string `cbor:"transforms"`
	// Mode is "readable" (default) or "loader".
	Mode      string `cbor:"mode,omitempty"`
	EntryName string `cbor:"entry_name,omitempty"`
	// Builder is "ox" (default) or "go".
	Builder string `cbor:"builder,omitempty"`
	// KeyHex and IVHex pin the encryption material. Both or neither.
	KeyHex      string   `cbor:"key,omitempty"`
	IVHex       string   `cbor:"iv,omitempty"`
	NameSeed    int64    `cbor:"name_seed,omitempty"`
	FlattenSeed int64    `cbor:"flatten_seed,omitempty"`
	Preserve    []string `cbor:"preserve,omitempty"`
	Verify      bool     `cbor:"verify,omitempty"`
}

// ObfuscateResponse carries the deliverable of a run.
type ObfuscateResponse struct {
	RunID      string           `cbor:"run_id"`
	Kind       string           `cbor:"kind"`
	Text       string           `cbor:"text"`
	Renames    []transform.Pair `cbor:"renames,omitempty"`
	KeyHex     string           `cbor:"key,omitempty"`
	IVHex      string           `cbor:"iv,omitempty"`
	Digest     string           `cbor:"digest,omitempty"`
	SourceHash string           `cbor:"source_hash"`
	LedgerID   string           `cbor:"ledger_id,omitempty"`
}

// RunRequest executes Source, normally a loader, in a fresh VM.
type RunRequest struct {
	Filename string `cbor:"filename,omitempty"`
	Source   string `cbor:"source"`
	// Allow restricts the builtins a restored module may call. Empty
	// allows all.
	Allow []string `cbor:"allow,omitempty"`
}

// RunResponse is what the execution produced. ExitCode is non-zero when
// the program called exit, including loader decode failures.
type RunResponse struct {
	RunID    string `cbor:"run_id"`
	Result   string `cbor:"result"`
	Output   string `cbor:"output"`
	Error    string `cbor:"error,omitempty"`
	ExitCode int    `cbor:"exit_code"`
}
