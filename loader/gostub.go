package loader

import (
	"bytes"
	"fmt"

	"github.com/dave/jennifer/jen"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
)

// ImportPath is the import path generated Go stubs use for this package.
const ImportPath = "github.com/Ilse-L/LLM-Deobfuscation-Research/loader"

const vmImportPath = "github.com/Ilse-L/LLM-Deobfuscation-Research/vm"

// GoStubBuilder emits a Go main package that embeds the built-in Ox loader
// and runs it through Run. The restored program sees exactly what it would
// under the Ox loader.
type GoStubBuilder struct {
	Material artifact.Material
	Name     string
}

// GoStub returns a Factory for GoStubBuilder.
func GoStub(name string) Factory {
	return func(m artifact.Material) Builder {
		return &GoStubBuilder{Material: m, Name: name}
	}
}

func (b *GoStubBuilder) Build(payload string) (string, error) {
	inner := &TemplateBuilder{Material: b.Material, Name: b.Name}
	text, err := inner.Build(payload)
	if err != nil {
		return "", err
	}

	f := jen.NewFile("main")
	f.HeaderComment("Code generated by obfux. DO NOT EDIT.")
	f.Const().Id("loaderSource").Op("=").Lit(text)
	f.Line()
	f.Func().Id("main").Params().Block(
		jen.List(jen.Id("_"), jen.Err()).Op(":=").Qual(ImportPath, "Run").Call(
			jen.Qual("context", "Background").Call(),
			jen.Id("loaderSource"),
			jen.Qual(ImportPath, "Options").Values(jen.Dict{
				jen.Id("Filename"): jen.Lit("loader.ox"),
				jen.Id("Stdout"):   jen.Qual("os", "Stdout"),
				jen.Id("Stderr"):   jen.Qual("os", "Stderr"),
			}),
		),
		jen.If(jen.List(jen.Id("code"), jen.Id("ok")).Op(":=").Qual(vmImportPath, "IsExit").Call(jen.Err()), jen.Id("ok")).Block(
			jen.Qual("os", "Exit").Call(jen.Id("code")),
		),
		jen.If(jen.Err().Op("!=").Nil()).Block(
			jen.Qual("fmt", "Fprintln").Call(jen.Qual("os", "Stderr"), jen.Err()),
			jen.Qual("os", "Exit").Call(jen.Lit(1)),
		),
	)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", fmt.Errorf("rendering go stub: %w", err)
	}
	return buf.String(), nil
}
