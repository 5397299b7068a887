package artifact

import (
	"fmt"
	"strings"
)

// The RFC 1924 alphabet. It has no quote or backslash characters, so
// encoded payloads embed verbatim in string literals.
const b85Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz!#$%&()*+-;<=>?@^_`{|}~"

var b85Decode [256]int16

func init() {
	for i := range b85Decode {
		b85Decode[i] = -1
	}
	for i := 0; i < len(b85Alphabet); i++ {
		b85Decode[b85Alphabet[i]] = int16(i)
	}
}

// Base85Encode encodes data four bytes at a time into five characters. A
// short final group is zero-padded and the padding characters are dropped,
// so the output has len(data)*5/4 characters rounded up.
func Base85Encode(data []byte) string {
	var sb strings.Builder
	sb.Grow((len(data) + 3) / 4 * 5)
	var chunk [5]byte
	for i := 0; i < len(data); i += 4 {
		var word uint32
		n := 0
		for j := 0; j < 4; j++ {
			word <<= 8
			if i+j < len(data) {
				word |= uint32(data[i+j])
				n++
			}
		}
		for k := 4; k >= 0; k-- {
			chunk[k] = b85Alphabet[word%85]
			word /= 85
		}
		sb.Write(chunk[:n+1])
	}
	return sb.String()
}

// Base85Decode reverses Base85Encode.
func Base85Decode(text string) ([]byte, error) {
	if len(text)%5 == 1 {
		return nil, fmt.Errorf("base85: truncated input of length %d", len(text))
	}
	out := make([]byte, 0, len(text)/5*4+4)
	for i := 0; i < len(text); i += 5 {
		var word uint64
		n := 0
		for j := 0; j < 5; j++ {
			d := int16(84)
			if i+j < len(text) {
				d = b85Decode[text[i+j]]
				if d < 0 {
					return nil, fmt.Errorf("base85: invalid character %q at offset %d", text[i+j], i+j)
				}
				n++
			}
			word = word*85 + uint64(d)
		}
		if word > 0xffffffff {
			return nil, fmt.Errorf("base85: group at offset %d overflows", i)
		}
		group := [4]byte{byte(word >> 24), byte(word >> 16), byte(word >> 8), byte(word)}
		out = append(out, group[:n-1]...)
	}
	return out, nil
}
