// Package loader synthesizes self-decoding loader programs. A loader embeds
// an encrypted payload with its key and IV, and when run it decodes,
// decrypts, decompresses and executes the payload in its own VM.
package loader

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
)

// ExitDecodeFailure is the exit status of a loader whose payload cannot be
// restored.
const ExitDecodeFailure = 70

// Builder turns an encoded payload into loader source text.
type Builder interface {
	Build(payload string) (string, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(payload string) (string, error)

func (f BuilderFunc) Build(payload string) (string, error) { return f(payload) }

// Factory creates the Builder for one artifact's material.
type Factory func(m artifact.Material) Builder

// Synthesize builds loader text for payload. A custom builder replaces the
// built-in template entirely.
func Synthesize(b Builder, payload string) (string, error) {
	if b == nil {
		return "", fmt.Errorf("no loader builder")
	}
	text, err := b.Build(payload)
	if err != nil {
		return "", fmt.Errorf("building loader: %w", err)
	}
	return text, nil
}

var oxTemplate = template.Must(template.New("loader.ox").Parse(`# Generated by obfux from {{.Name}}. Do not edit.
# The key below decrypts the payload. It hides the program from casual
# readers only.
_KEY = unhex({{.Key}})
_IV = unhex({{.IV}})
_PAYLOAD = {{.Payload}}

func _restore() {
    data = b85decode(_PAYLOAD)
    data = aes_cbc_decrypt(data, _KEY, _IV)
    data = pkcs7_unpad(data)
    data = zlib_decompress(data)
    return unmarshal(data)
}

_code = nil
try {
    _code = _restore()
} catch _err {
    report(_err)
    exit({{.ExitStatus}})
}
return exec(_code)
`))

// TemplateBuilder renders the built-in Ox loader.
type TemplateBuilder struct {
	Material artifact.Material
	// Name is the source the payload was built from, recorded in the
	// header comment.
	Name string
}

// Template returns a Factory for TemplateBuilder.
func Template(name string) Factory {
	return func(m artifact.Material) Builder {
		return &TemplateBuilder{Material: m, Name: name}
	}
}

func (b *TemplateBuilder) Build(payload string) (string, error) {
	if err := b.Material.Validate(); err != nil {
		return "", err
	}
	name := b.Name
	if name == "" {
		name = "<stdin>"
	}
	var buf bytes.Buffer
	err := oxTemplate.Execute(&buf, map[string]interface{}{
		"Name":       name,
		"Key":        compiler.Quote(b.Material.KeyHex()),
		"IV":         compiler.Quote(b.Material.IVHex()),
		"Payload":    compiler.Quote(payload),
		"ExitStatus": ExitDecodeFailure,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
