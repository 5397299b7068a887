package artifact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Material is the symmetric key and IV for one artifact. It is embedded in
// cleartext in the generated loader, so it protects the payload against
// casual inspection only.
type Material struct {
	Key []byte
	IV  []byte
}

// Validate checks the key is an AES-128, AES-192 or AES-256 key and the IV
// is one block long.
func (m Material) Validate() error {
	switch len(m.Key) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: got %d bytes, want 16, 24 or 32", ErrKeySize, len(m.Key))
	}
	if len(m.IV) != BlockSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrIVSize, len(m.IV), BlockSize)
	}
	return nil
}

// KeyHex returns the key as lowercase hex.
func (m Material) KeyHex() string { return hex.EncodeToString(m.Key) }

// IVHex returns the IV as lowercase hex.
func (m Material) IVHex() string { return hex.EncodeToString(m.IV) }

// MaterialProvider supplies the material for one run. Implementations must
// return fresh material on every call unless the caller configured a fixed
// key on purpose.
type MaterialProvider interface {
	Material() (Material, error)
}

// RandomMaterial generates a new key and IV from crypto/rand for every
// call.
type RandomMaterial struct {
	// KeySize is 16, 24 or 32. Zero means 32.
	KeySize int
}

func (r RandomMaterial) Material() (Material, error) {
	size := r.KeySize
	if size == 0 {
		size = 32
	}
	m := Material{Key: make([]byte, size), IV: make([]byte, BlockSize)}
	if _, err := rand.Read(m.Key); err != nil {
		return Material{}, fmt.Errorf("generating key: %w", err)
	}
	if _, err := rand.Read(m.IV); err != nil {
		return Material{}, fmt.Errorf("generating iv: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Material{}, err
	}
	return m, nil
}

// StaticMaterial always returns the same key and IV. Use it for
// reproducible builds and tests; reusing material across different programs
// leaks structure under CBC.
type StaticMaterial struct {
	M Material
}

// StaticMaterialFromHex decodes hex key and IV strings.
func StaticMaterialFromHex(keyHex, ivHex string) (StaticMaterial, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return StaticMaterial{}, fmt.Errorf("decoding key: %w", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return StaticMaterial{}, fmt.Errorf("decoding iv: %w", err)
	}
	m := Material{Key: key, IV: iv}
	if err := m.Validate(); err != nil {
		return StaticMaterial{}, err
	}
	return StaticMaterial{M: m}, nil
}

func (s StaticMaterial) Material() (Material, error) {
	if err := s.M.Validate(); err != nil {
		return Material{}, err
	}
	key := append([]byte(nil), s.M.Key...)
	iv := append([]byte(nil), s.M.IV...)
	return Material{Key: key, IV: iv}, nil
}
