package vm

import (
	"fmt"
	"math"
	"sort"
)

// ModuleVersion is the current compiled module format version.
// Increment when making incompatible changes to the bytecode or layout.
const ModuleVersion uint16 = 1

// Module is the compiled, executable form of an Ox program: the module body
// plus every top-level function. It is the unit that gets serialized.
type Module struct {
	Version   uint16   `cbor:"1,keyasint"`
	Name      string   `cbor:"2,keyasint,omitempty"`
	Main      *Code    `cbor:"3,keyasint"`
	Functions []*Code  `cbor:"4,keyasint,omitempty"`
	Builtins  []string `cbor:"5,keyasint,omitempty"` // referenced builtin names, sorted
}

// Code is a compiled function or module body.
type Code struct {
	Name      string      `cbor:"1,keyasint"`
	NumParams int         `cbor:"2,keyasint"`
	Locals    []string    `cbor:"3,keyasint,omitempty"` // slot names, parameters first
	Names     []string    `cbor:"4,keyasint,omitempty"` // global names referenced by index
	Constants []Constant  `cbor:"5,keyasint,omitempty"`
	Bytecode  []byte      `cbor:"6,keyasint"`
	Lines     []LineEntry `cbor:"7,keyasint,omitempty"` // debug info, may be stripped
}

// LineEntry maps a bytecode offset to the source line that produced it.
type LineEntry struct {
	Offset uint32 `cbor:"1,keyasint"`
	Line   uint32 `cbor:"2,keyasint"`
}

// ConstKind identifies the type held by a Constant.
type ConstKind uint8

const (
	ConstInt    ConstKind = 1
	ConstFloat  ConstKind = 2
	ConstString ConstKind = 3
)

// Constant is a literal in a code object's constant pool.
type Constant struct {
	Kind  ConstKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint"`
	Str   string    `cbor:"4,keyasint,omitempty"`
}

// Value converts the constant to its runtime value.
func (c Constant) Value() Value {
	switch c.Kind {
	case ConstInt:
		return c.Int
	case ConstFloat:
		return c.Float
	case ConstString:
		return c.Str
	}
	return nil
}

// ConstantOf wraps a literal value for the constant pool.
func ConstantOf(v Value) (Constant, error) {
	switch x := v.(type) {
	case int64:
		return Constant{Kind: ConstInt, Int: x}, nil
	case float64:
		return Constant{Kind: ConstFloat, Float: x}, nil
	case string:
		return Constant{Kind: ConstString, Str: x}, nil
	}
	return Constant{}, fmt.Errorf("vm: %s cannot be a constant", TypeName(v))
}

// LineFor returns the source line for a bytecode offset, or 0 when no debug
// info is present.
func (c *Code) LineFor(offset int) int {
	line := 0
	for _, e := range c.Lines {
		if int(e.Offset) > offset {
			break
		}
		line = int(e.Line)
	}
	return line
}

// StripDebug removes line tables from every code object in the module.
func (m *Module) StripDebug() {
	m.Main.Lines = nil
	for _, fn := range m.Functions {
		fn.Lines = nil
	}
}

// Verify performs structural checks on a module, typically after
// deserialization: version, non-nil code objects, well-formed constants and
// in-range operands for every instruction.
func (m *Module) Verify() error {
	if m.Version != ModuleVersion {
		return fmt.Errorf("vm: unsupported module version %d (want %d)", m.Version, ModuleVersion)
	}
	if m.Main == nil {
		return fmt.Errorf("vm: module has no main code")
	}
	if !sort.StringsAreSorted(m.Builtins) {
		return fmt.Errorf("vm: builtin manifest is not sorted")
	}
	codes := append([]*Code{m.Main}, m.Functions...)
	for i, c := range codes {
		if c == nil {
			return fmt.Errorf("vm: code object %d is nil", i)
		}
		if err := c.verify(len(m.Functions)); err != nil {
			return fmt.Errorf("vm: %s: %w", c.Name, err)
		}
	}
	return nil
}

func (c *Code) verify(numFuncs int) error {
	if c.NumParams < 0 || c.NumParams > len(c.Locals) {
		return fmt.Errorf("parameter count %d exceeds %d locals", c.NumParams, len(c.Locals))
	}
	if len(c.Locals) > math.MaxUint8+1 {
		return fmt.Errorf("too many locals (%d)", len(c.Locals))
	}
	for i, k := range c.Constants {
		if k.Kind < ConstInt || k.Kind > ConstString {
			return fmt.Errorf("constant %d has unknown kind %d", i, k.Kind)
		}
	}

	r := NewBytecodeReader(c.Bytecode)
	for r.HasMore() {
		pos := r.Position()
		op := Opcode(c.Bytecode[pos])
		info, ok := opcodeTable[op]
		if !ok {
			return fmt.Errorf("unknown opcode 0x%02x at %d", byte(op), pos)
		}
		if pos+1+info.OperandBytes > len(c.Bytecode) {
			return fmt.Errorf("truncated %s at %d", info.Name, pos)
		}
		r.ReadOpcode()
		switch op {
		case OpLoadLocal, OpStoreLocal:
			if idx := int(r.ReadByte()); idx >= len(c.Locals) {
				return fmt.Errorf("%s local %d out of range at %d", info.Name, idx, pos)
			}
		case OpLoadGlobal, OpStoreGlobal:
			if idx := int(r.ReadUint16()); idx >= len(c.Names) {
				return fmt.Errorf("%s name %d out of range at %d", info.Name, idx, pos)
			}
		case OpPushConst:
			if idx := int(r.ReadUint16()); idx >= len(c.Constants) {
				return fmt.Errorf("constant %d out of range at %d", idx, pos)
			}
		case OpMakeFunction:
			if idx := int(r.ReadUint16()); idx >= numFuncs {
				return fmt.Errorf("function %d out of range at %d", idx, pos)
			}
		case OpJump, OpJumpFalse, OpJumpTrue, OpJumpFalseOrPop, OpJumpTrueOrPop, OpForIter, OpSetupTry:
			off := int(r.ReadInt16())
			target := r.Position() + off
			if target < 0 || target > len(c.Bytecode) {
				return fmt.Errorf("%s target %d out of range at %d", info.Name, target, pos)
			}
		default:
			r.Skip(info.OperandBytes)
		}
	}
	return nil
}

// Function is a compiled Ox function bound to the globals of the module
// that defined it.
type Function struct {
	Code    *Code
	Module  *Module
	Globals map[string]Value
}

// BuiltinFunc implements a builtin. Returning an error throws it as an Ox
// exception, except for *ExitError which terminates execution.
type BuiltinFunc func(v *VM, args []Value) (Value, error)

// Builtin is a function implemented in Go.
type Builtin struct {
	Name  string
	Arity int // -1 for variadic
	Fn    BuiltinFunc
}
