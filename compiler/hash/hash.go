// Package hash computes content hashes of Ox programs that do not change
// when variables are consistently renamed.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
)

// Serialize produces the canonical byte stream of prog. builtins lists the
// names written by name rather than by position; every other identifier
// that is not a top-level function is treated as a variable.
func Serialize(prog *compiler.Program, builtins []string) []byte {
	n := newNormalizer(prog, builtins)
	n.s.writeByte(HashVersion)
	n.program(prog)
	return n.s.buf
}

// Program computes the SHA-256 content hash of prog.
//
// Two programs that differ only by a bijective renaming of their
// variables produce the same hash. Function names, builtins, literals and
// structure all contribute.
func Program(prog *compiler.Program, builtins []string) [32]byte {
	return sha256.Sum256(Serialize(prog, builtins))
}

// Hex returns Program as a hex string.
func Hex(prog *compiler.Program, builtins []string) string {
	h := Program(prog, builtins)
	return hex.EncodeToString(h[:])
}
