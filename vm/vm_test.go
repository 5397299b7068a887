package vm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

// moduleOf wraps hand-assembled main bytecode in a module.
func moduleOf(b *BytecodeBuilder, names []string, consts []Constant, funcs ...*Code) *Module {
	return &Module{
		Version:   ModuleVersion,
		Name:      "test",
		Main:      &Code{Name: "<module>", Names: names, Constants: consts, Bytecode: b.Bytes()},
		Functions: funcs,
	}
}

func TestRunArithmetic(t *testing.T) {
	tests := []struct {
		a, b Value
		op   Opcode
		want Value
	}{
		{int64(7), int64(2), OpAdd, int64(9)},
		{int64(7), int64(2), OpDiv, int64(3)},
		{int64(-7), int64(2), OpDiv, int64(-3)},
		{int64(7), 2.0, OpDiv, 3.5},
		{int64(7), int64(3), OpMod, int64(1)},
		{"a", "b", OpAdd, "ab"},
		{int64(3), int64(4), OpLT, true},
		{int64(3), 3.0, OpEQ, true},
	}

	for _, tc := range tests {
		b := NewBytecodeBuilder()
		b.EmitUint16(OpPushConst, 0)
		b.EmitUint16(OpPushConst, 1)
		b.Emit(tc.op)
		b.Emit(OpReturn)
		ka, _ := ConstantOf(tc.a)
		kb, _ := ConstantOf(tc.b)
		m := moduleOf(b, nil, []Constant{ka, kb})

		got, err := New().Run(context.Background(), m)
		if err != nil {
			t.Errorf("%s %s %s: %v", Repr(tc.a), tc.op, Repr(tc.b), err)
			continue
		}
		if !Equal(got, tc.want) {
			t.Errorf("%s %s %s = %s, want %s", Repr(tc.a), tc.op, Repr(tc.b), Repr(got), Repr(tc.want))
		}
	}
}

func TestRunDivisionByZeroIsCatchable(t *testing.T) {
	// try { return 1 / 0 } catch e { return e }
	b := NewBytecodeBuilder()
	handler := b.NewLabel()
	b.EmitJump(OpSetupTry, handler)
	b.EmitInt8(OpPushInt8, 1)
	b.EmitInt8(OpPushInt8, 0)
	b.Emit(OpDiv)
	b.Emit(OpReturn)
	b.Mark(handler)
	b.Emit(OpReturn)

	got, err := New().Run(context.Background(), moduleOf(b, nil, nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "division by zero" {
		t.Errorf("caught %s, want division by zero", Repr(got))
	}
}

func TestRunUncaughtThrow(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt8(OpPushInt8, 9)
	b.Emit(OpThrow)

	_, err := New().Run(context.Background(), moduleOf(b, nil, nil))
	var ex *Exception
	if !errors.As(err, &ex) {
		t.Fatalf("error = %v, want *Exception", err)
	}
	if ex.Value != int64(9) {
		t.Errorf("thrown value = %s, want 9", Repr(ex.Value))
	}
}

func TestRunFunctionCall(t *testing.T) {
	// func double(x) { return x + x }; return double(21)
	fb := NewBytecodeBuilder()
	fb.EmitByte(OpLoadLocal, 0)
	fb.EmitByte(OpLoadLocal, 0)
	fb.Emit(OpAdd)
	fb.Emit(OpReturn)
	double := &Code{Name: "double", NumParams: 1, Locals: []string{"x"}, Bytecode: fb.Bytes()}

	b := NewBytecodeBuilder()
	b.EmitUint16(OpMakeFunction, 0)
	b.EmitUint16(OpStoreGlobal, 0)
	b.EmitUint16(OpLoadGlobal, 0)
	b.EmitInt8(OpPushInt8, 21)
	b.EmitByte(OpCall, 1)
	b.Emit(OpReturn)
	m := moduleOf(b, []string{"double"}, nil, double)
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	v := New()
	got, err := v.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != int64(42) {
		t.Errorf("double(21) = %s", Repr(got))
	}

	fn := v.Globals["double"]
	got, err = v.Call(context.Background(), fn, int64(5))
	if err != nil || got != int64(10) {
		t.Errorf("Call(double, 5) = %s, %v", Repr(got), err)
	}
	if _, err := v.Call(context.Background(), fn); err == nil {
		t.Error("expected arity error")
	}
}

func TestRunRecursionLimit(t *testing.T) {
	// func loop() { return loop() }
	fb := NewBytecodeBuilder()
	fb.EmitUint16(OpLoadGlobal, 0)
	fb.EmitByte(OpCall, 0)
	fb.Emit(OpReturn)
	loop := &Code{Name: "loop", Names: []string{"loop"}, Bytecode: fb.Bytes()}

	b := NewBytecodeBuilder()
	b.EmitUint16(OpMakeFunction, 0)
	b.EmitUint16(OpStoreGlobal, 0)
	b.EmitUint16(OpLoadGlobal, 0)
	b.EmitByte(OpCall, 0)
	b.Emit(OpReturn)

	v := New()
	v.MaxDepth = 50
	_, err := v.Run(context.Background(), moduleOf(b, []string{"loop"}, nil, loop))
	if err == nil || !strings.Contains(err.Error(), "maximum call depth") {
		t.Errorf("error = %v, want call depth error", err)
	}
}

func TestRunCancellation(t *testing.T) {
	// while true {}
	b := NewBytecodeBuilder()
	top := b.NewLabel()
	b.Mark(top)
	b.EmitJump(OpJump, top)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Run(ctx, moduleOf(b, nil, nil))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRunExitNotCatchable(t *testing.T) {
	v := New()
	v.RegisterFunc("quit", 1, func(_ *VM, args []Value) (Value, error) {
		return nil, &ExitError{Code: int(args[0].(int64))}
	})
	// try { quit(3) } catch { return "caught" }
	b := NewBytecodeBuilder()
	handler := b.NewLabel()
	b.EmitJump(OpSetupTry, handler)
	b.EmitUint16(OpLoadGlobal, 0)
	b.EmitInt8(OpPushInt8, 3)
	b.EmitByte(OpCall, 1)
	b.Emit(OpReturn)
	b.Mark(handler)
	b.EmitUint16(OpPushConst, 0)
	b.Emit(OpReturn)

	_, err := v.Run(context.Background(), moduleOf(b, []string{"quit"}, []Constant{{Kind: ConstString, Str: "caught"}}))
	code, ok := IsExit(err)
	if !ok || code != 3 {
		t.Errorf("error = %v, want exit status 3", err)
	}
}

func TestRunMalformedBytecode(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpPOP) // stack underflow
	_, err := New().Run(context.Background(), moduleOf(b, nil, nil))
	if err == nil || !strings.Contains(err.Error(), "internal error") {
		t.Errorf("error = %v, want internal error", err)
	}
}

func TestBuiltins(t *testing.T) {
	v := New()
	var out bytes.Buffer
	v.Stdout = &out
	ctx := context.Background()

	call := func(name string, args ...Value) Value {
		t.Helper()
		b, ok := v.LookupBuiltin(name)
		if !ok {
			t.Fatalf("builtin %s missing", name)
		}
		got, err := v.Call(ctx, b, args...)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return got
	}

	if got := call("len", "abc"); got != int64(3) {
		t.Errorf("len = %s", Repr(got))
	}
	if got := call("int", "42"); got != int64(42) {
		t.Errorf("int = %s", Repr(got))
	}
	if got := call("int", 3.9); got != int64(3) {
		t.Errorf("int(3.9) = %s", Repr(got))
	}
	if got := call("float", int64(2)); got != 2.0 {
		t.Errorf("float = %s", Repr(got))
	}
	if got := call("str", NewList(int64(1), "a")); got != `[1, "a"]` {
		t.Errorf("str = %s", Repr(got))
	}
	if got := call("range", int64(5), int64(0), int64(-2)); Repr(got) != "[5, 3, 1]" {
		t.Errorf("range = %s", Repr(got))
	}
	if got := call("min", int64(4), int64(2), 3.0); got != int64(2) {
		t.Errorf("min = %s", Repr(got))
	}
	if got := call("max", NewList("a", "c", "b")); got != "c" {
		t.Errorf("max = %s", Repr(got))
	}
	if got := call("abs", int64(-4)); got != int64(4) {
		t.Errorf("abs = %s", Repr(got))
	}
	if got := call("type", NewDict()); got != "dict" {
		t.Errorf("type = %s", Repr(got))
	}
	call("print", "x", int64(1), nil)
	if out.String() != "x 1 nil\n" {
		t.Errorf("print wrote %q", out.String())
	}

	if _, err := v.Call(ctx, mustBuiltin(t, v, "int"), "nope"); err == nil {
		t.Error("int(\"nope\") should fail")
	}
	if _, err := v.Call(ctx, mustBuiltin(t, v, "range"), int64(1), int64(2), int64(0)); err == nil {
		t.Error("range with zero step should fail")
	}

	for _, f := range []float64{1e300, -1e300, 9223372036854775808.0, math.NaN(), math.Inf(1)} {
		if got, err := v.Call(ctx, mustBuiltin(t, v, "int"), f); err == nil {
			t.Errorf("int(%v) = %s, want error", f, Repr(got))
		}
	}
	if got := call("int", -9223372036854775808.0); got != int64(math.MinInt64) {
		t.Errorf("int(-2^63) = %s", Repr(got))
	}
	if got := call("int", -2.5); got != int64(-2) {
		t.Errorf("int(-2.5) = %s", Repr(got))
	}

	names := v.BuiltinNames()
	if strings.Join(names, ",") != strings.Join(CoreBuiltins, ",") {
		t.Errorf("BuiltinNames = %v, want %v", names, CoreBuiltins)
	}
}

func mustBuiltin(t *testing.T, v *VM, name string) *Builtin {
	t.Helper()
	b, ok := v.LookupBuiltin(name)
	if !ok {
		t.Fatalf("builtin %s missing", name)
	}
	return b
}

func TestModuleVerify(t *testing.T) {
	good := func() *Module {
		b := NewBytecodeBuilder()
		b.EmitUint16(OpPushConst, 0)
		b.Emit(OpReturn)
		return moduleOf(b, nil, []Constant{{Kind: ConstInt, Int: 1}})
	}
	if err := good().Verify(); err != nil {
		t.Fatalf("Verify(good) = %v", err)
	}

	tests := []struct {
		desc   string
		mutate func(*Module)
	}{
		{"wrong version", func(m *Module) { m.Version = 99 }},
		{"no main", func(m *Module) { m.Main = nil }},
		{"unsorted builtins", func(m *Module) { m.Builtins = []string{"print", "len"} }},
		{"bad constant kind", func(m *Module) { m.Main.Constants[0].Kind = 9 }},
		{"constant out of range", func(m *Module) { m.Main.Constants = nil }},
		{"unknown opcode", func(m *Module) { m.Main.Bytecode = []byte{0xEE} }},
		{"truncated operand", func(m *Module) { m.Main.Bytecode = []byte{byte(OpPushConst), 0} }},
		{"jump out of range", func(m *Module) { m.Main.Bytecode = []byte{byte(OpJump), 0x10, 0} }},
		{"nil function", func(m *Module) { m.Functions = []*Code{nil} }},
	}
	for _, tc := range tests {
		m := good()
		tc.mutate(m)
		if err := m.Verify(); err == nil {
			t.Errorf("%s: expected Verify error", tc.desc)
		}
	}
}
