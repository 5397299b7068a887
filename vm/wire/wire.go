// Package wire serializes compiled Ox modules to CBOR.
//
// Encoding uses canonical CBOR so that the same module always produces the
// same bytes. Decoding is strict: unknown fields, duplicate map keys and
// oversized containers are rejected, and the decoded module is verified
// before it is returned.
package wire

import (
	"fmt"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
	"github.com/fxamacker/cbor/v2"
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxNestedLevels:   16,
		MaxArrayElements:  1 << 20,
		MaxMapPairs:       1 << 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// MarshalModule serializes a module to canonical CBOR bytes.
func MarshalModule(m *vm.Module) ([]byte, error) {
	if m == nil || m.Main == nil {
		return nil, fmt.Errorf("wire: cannot marshal empty module")
	}
	data, err := cborEncMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal module: %w", err)
	}
	return data, nil
}

// UnmarshalModule deserializes and verifies a module.
func UnmarshalModule(data []byte) (*vm.Module, error) {
	var m vm.Module
	if err := cborDecMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: unmarshal module: %w", err)
	}
	if err := m.Verify(); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	return &m, nil
}

// Marshal encodes any value with the canonical encoder. It backs the CBOR
// codec of the RPC service.
func Marshal(v interface{}) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes a value with the strict decoder.
func Unmarshal(data []byte, v interface{}) error {
	return cborDecMode.Unmarshal(data, v)
}
