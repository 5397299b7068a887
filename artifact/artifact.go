// Package artifact turns a compiled module into a printable encrypted
// payload and back. Encoding compresses with zlib, pads with PKCS#7,
// encrypts with AES-CBC and renders the ciphertext as base85.
package artifact

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// BlockSize is the AES block size and the PKCS#7 padding unit.
const BlockSize = aes.BlockSize

// DefaultLevel is the compression level of every loader payload. Payloads
// are always compressed at maximum ratio so they depend only on the module
// and the material.
const DefaultLevel = zlib.BestCompression

var (
	ErrKeySize = errors.New("invalid key size")
	ErrIVSize  = errors.New("invalid iv size")
	ErrPadding = errors.New("invalid padding")
	ErrLevel   = errors.New("invalid compression level")
)

// Encode compresses, pads, encrypts and text-encodes compiled. The result
// depends only on its inputs: the same bytes, material and level always give
// the same payload.
func Encode(compiled []byte, m Material, level int) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	z, err := Compress(compiled, level)
	if err != nil {
		return "", err
	}
	ct, err := EncryptCBC(Pad(z), m.Key, m.IV)
	if err != nil {
		return "", err
	}
	return Base85Encode(ct), nil
}

// Decode reverses Encode. Any failure means the payload, key or IV is wrong;
// no partially decoded bytes are returned.
func Decode(payload string, m Material) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	ct, err := Base85Decode(payload)
	if err != nil {
		return nil, err
	}
	padded, err := DecryptCBC(ct, m.Key, m.IV)
	if err != nil {
		return nil, err
	}
	z, err := Unpad(padded)
	if err != nil {
		return nil, err
	}
	return Decompress(z)
}

// Compress zlib-compresses data at level.
func Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrLevel, level)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a zlib stream.
func Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// Pad appends PKCS#7 padding up to a multiple of BlockSize. A full block of
// padding is added when data is already aligned.
func Pad(data []byte) []byte {
	n := BlockSize - len(data)%BlockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// Unpad strips PKCS#7 padding, rejecting anything malformed.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrPadding, len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > BlockSize {
		return nil, fmt.Errorf("%w: pad byte %d", ErrPadding, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent pad bytes", ErrPadding)
		}
	}
	return data[:len(data)-n], nil
}

// EncryptCBC encrypts block-aligned plaintext with AES-CBC.
func EncryptCBC(plaintext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: plaintext length %d is not block aligned", ErrPadding, len(plaintext))
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptCBC decrypts AES-CBC ciphertext. Padding is left in place.
func DecryptCBC(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of %d", len(ciphertext), BlockSize)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if err := (Material{Key: key, IV: iv}).Validate(); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySize, err)
	}
	return block, nil
}

// Digest returns the SHA-256 of payload as hex. It identifies an artifact
// in the ledger without storing the payload.
func Digest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
