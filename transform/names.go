package transform

import (
	"fmt"
	"math/rand"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/dchest/uniuri"
)

// NameGenerator produces candidate identifiers. Callers reject candidates
// that collide with names already in use and ask again.
type NameGenerator interface {
	Next() string
}

var (
	leadChars = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	bodyChars = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
)

// RandomNames draws identifiers from a cryptographic source. Every name
// starts with a letter.
type RandomNames struct {
	Length int
}

func (g RandomNames) Next() string {
	n := g.Length
	if n < 2 {
		n = 2
	}
	return uniuri.NewLenChars(1, leadChars) + uniuri.NewLenChars(n-1, bodyChars)
}

// SeededNames draws identifiers from a seeded pseudo-random source so that
// repeated builds of the same input produce the same names. It is not safe
// for concurrent use.
type SeededNames struct {
	Length int
	rng    *rand.Rand
}

// NewSeededNames returns a generator of length-character names seeded with
// seed.
func NewSeededNames(seed int64, length int) *SeededNames {
	if length < 2 {
		length = 2
	}
	return &SeededNames{Length: length, rng: rand.New(rand.NewSource(seed))}
}

func (g *SeededNames) Next() string {
	buf := make([]byte, g.Length)
	buf[0] = leadChars[g.rng.Intn(len(leadChars))]
	for i := 1; i < len(buf); i++ {
		buf[i] = bodyChars[g.rng.Intn(len(bodyChars))]
	}
	return string(buf)
}

// maxNameAttempts bounds the retries for one fresh name. Hitting it means
// the name space is nearly exhausted, which only happens with tiny lengths.
const maxNameAttempts = 10000

// fresh asks g for names until one is not taken, then marks it taken.
func fresh(g NameGenerator, taken map[string]bool) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := g.Next()
		if name == "" || taken[name] || compiler.IsReserved(name) {
			continue
		}
		taken[name] = true
		return name, nil
	}
	return "", fmt.Errorf("no free identifier after %d attempts", maxNameAttempts)
}
