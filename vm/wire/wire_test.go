package wire

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
)

const sample = `
func square(x) {
    return x * x
}
values = []
for n in range(4) {
    append(values, square(n))
}
print("done")
return {"values": values, "pi": 3.5, "name": "ox"}
`

func compileSample(t *testing.T) *vm.Module {
	t.Helper()
	m, err := compiler.CompileSource("sample.ox", sample, compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return m
}

func TestModule_CBORRoundTrip(t *testing.T) {
	m := compileSample(t)

	data, err := MarshalModule(m)
	if err != nil {
		t.Fatalf("MarshalModule: %v", err)
	}
	got, err := UnmarshalModule(data)
	if err != nil {
		t.Fatalf("UnmarshalModule: %v", err)
	}

	if got.Name != m.Name || len(got.Functions) != len(m.Functions) {
		t.Errorf("module shape changed: %s/%d vs %s/%d", got.Name, len(got.Functions), m.Name, len(m.Functions))
	}
	if vm.DisassembleModule(got) != vm.DisassembleModule(m) {
		t.Error("disassembly differs after round trip")
	}

	run := func(mod *vm.Module) (vm.Value, string) {
		machine := vm.New()
		var out bytes.Buffer
		machine.Stdout = &out
		result, err := machine.Run(context.Background(), mod)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return result, out.String()
	}
	r1, o1 := run(m)
	r2, o2 := run(got)
	if !vm.Equal(r1, r2) || o1 != o2 {
		t.Errorf("restored module behaves differently: %s %q vs %s %q", vm.Repr(r1), o1, vm.Repr(r2), o2)
	}
}

func TestModule_Deterministic(t *testing.T) {
	a, err := MarshalModule(compileSample(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalModule(compileSample(t))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("marshaling equal modules produced different bytes")
	}
}

func TestUnmarshalModule_RejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, {0xff}, []byte("not cbor at all")} {
		if _, err := UnmarshalModule(data); err == nil {
			t.Errorf("UnmarshalModule(%q): expected error", data)
		}
	}
}

func TestUnmarshalModule_RejectsWrongVersion(t *testing.T) {
	m := compileSample(t)
	m.Version = vm.ModuleVersion + 1
	data, err := MarshalModule(m)
	if err != nil {
		t.Fatal(err)
	}
	_, err = UnmarshalModule(data)
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("error = %v, want version mismatch", err)
	}
}

func TestUnmarshalModule_RejectsBadOperands(t *testing.T) {
	m := compileSample(t)
	// LOAD_GLOBAL with an index past the name table
	m.Main.Bytecode = []byte{byte(vm.OpLoadGlobal), 0xff, 0x00, byte(vm.OpReturn)}
	data, err := MarshalModule(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalModule(data); err == nil {
		t.Error("expected verification failure for out-of-range operand")
	}
}

func TestMarshalModule_Empty(t *testing.T) {
	if _, err := MarshalModule(&vm.Module{}); err == nil {
		t.Error("expected error for module without main code")
	}
}
