package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNOP  Opcode = 0x00 // no operation
	OpPOP  Opcode = 0x01 // discard top of stack
	OpDUP  Opcode = 0x02 // duplicate top of stack
	OpDUP2 Opcode = 0x03 // duplicate top two stack entries
)

// Push Constants
const (
	OpPushNil   Opcode = 0x10 // push nil
	OpPushTrue  Opcode = 0x11 // push true
	OpPushFalse Opcode = 0x12 // push false
	OpPushInt8  Opcode = 0x13 // push 8-bit signed integer
	OpPushConst Opcode = 0x14 // push constant (16-bit index)
)

// Variable Operations
const (
	OpLoadLocal   Opcode = 0x20 // push local slot (8-bit index)
	OpStoreLocal  Opcode = 0x21 // pop into local slot (8-bit index)
	OpLoadGlobal  Opcode = 0x22 // push global or builtin (16-bit name index)
	OpStoreGlobal Opcode = 0x23 // pop into global (16-bit name index)
)

// Arithmetic and comparison (pop 2, push 1 unless noted)
const (
	OpAdd Opcode = 0x30
	OpSub Opcode = 0x31
	OpMul Opcode = 0x32
	OpDiv Opcode = 0x33
	OpMod Opcode = 0x34
	OpEQ  Opcode = 0x35
	OpNE  Opcode = 0x36
	OpLT  Opcode = 0x37
	OpLE  Opcode = 0x38
	OpGT  Opcode = 0x39
	OpGE  Opcode = 0x3A
	OpNeg Opcode = 0x3B // pop 1, push 1
	OpNot Opcode = 0x3C // pop 1, push 1
)

// Control Flow (16-bit signed offsets relative to the end of the operand)
const (
	OpJump           Opcode = 0x40 // unconditional jump
	OpJumpFalse      Opcode = 0x41 // pop, jump if falsy
	OpJumpTrue       Opcode = 0x42 // pop, jump if truthy
	OpJumpFalseOrPop Opcode = 0x43 // jump keeping top if falsy, else pop
	OpJumpTrueOrPop  Opcode = 0x44 // jump keeping top if truthy, else pop
	OpGetIter        Opcode = 0x45 // replace top with an iterator over it
	OpForIter        Opcode = 0x46 // push next item, or pop iterator and jump
)

// Calls and Returns
const (
	OpCall         Opcode = 0x50 // call callee below argc args (8-bit argc)
	OpReturn       Opcode = 0x51 // return top of stack
	OpReturnNil    Opcode = 0x52 // return nil
	OpMakeFunction Opcode = 0x53 // push function (16-bit function index)
)

// Collections
const (
	OpBuildList  Opcode = 0x60 // pop N items, push list (16-bit count)
	OpBuildDict  Opcode = 0x61 // pop N key/value pairs, push dict (16-bit count)
	OpIndex      Opcode = 0x62 // pop target and index, push element
	OpStoreIndex Opcode = 0x63 // pop target, index, value; store
)

// Exceptions
const (
	OpSetupTry Opcode = 0x70 // push handler at offset
	OpPopTry   Opcode = 0x71 // pop innermost handler
	OpThrow    Opcode = 0x72 // pop value and throw it
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-99 = variable)
}

const variableEffect = -99

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:  {"NOP", 0, 0},
	OpPOP:  {"POP", 0, -1},
	OpDUP:  {"DUP", 0, 1},
	OpDUP2: {"DUP2", 0, 2},

	OpPushNil:   {"PUSH_NIL", 0, 1},
	OpPushTrue:  {"PUSH_TRUE", 0, 1},
	OpPushFalse: {"PUSH_FALSE", 0, 1},
	OpPushInt8:  {"PUSH_INT8", 1, 1},
	OpPushConst: {"PUSH_CONST", 2, 1},

	OpLoadLocal:   {"LOAD_LOCAL", 1, 1},
	OpStoreLocal:  {"STORE_LOCAL", 1, -1},
	OpLoadGlobal:  {"LOAD_GLOBAL", 2, 1},
	OpStoreGlobal: {"STORE_GLOBAL", 2, -1},

	OpAdd: {"ADD", 0, -1},
	OpSub: {"SUB", 0, -1},
	OpMul: {"MUL", 0, -1},
	OpDiv: {"DIV", 0, -1},
	OpMod: {"MOD", 0, -1},
	OpEQ:  {"EQ", 0, -1},
	OpNE:  {"NE", 0, -1},
	OpLT:  {"LT", 0, -1},
	OpLE:  {"LE", 0, -1},
	OpGT:  {"GT", 0, -1},
	OpGE:  {"GE", 0, -1},
	OpNeg: {"NEG", 0, 0},
	OpNot: {"NOT", 0, 0},

	OpJump:           {"JUMP", 2, 0},
	OpJumpFalse:      {"JUMP_FALSE", 2, -1},
	OpJumpTrue:       {"JUMP_TRUE", 2, -1},
	OpJumpFalseOrPop: {"JUMP_FALSE_OR_POP", 2, variableEffect},
	OpJumpTrueOrPop:  {"JUMP_TRUE_OR_POP", 2, variableEffect},
	OpGetIter:        {"GET_ITER", 0, 0},
	OpForIter:        {"FOR_ITER", 2, variableEffect},

	OpCall:         {"CALL", 1, variableEffect},
	OpReturn:       {"RETURN", 0, -1},
	OpReturnNil:    {"RETURN_NIL", 0, 0},
	OpMakeFunction: {"MAKE_FUNCTION", 2, 1},

	OpBuildList:  {"BUILD_LIST", 2, variableEffect},
	OpBuildDict:  {"BUILD_DICT", 2, variableEffect},
	OpIndex:      {"INDEX", 0, -1},
	OpStoreIndex: {"STORE_INDEX", 0, -3},

	OpSetupTry: {"SETUP_TRY", 2, 0},
	OpPopTry:   {"POP_TRY", 0, 0},
	OpThrow:    {"THROW", 0, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0, StackEffect: 0}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target, possibly not yet known.
type Label struct {
	resolved bool
	position int   // target position once resolved
	refs     []int // operand positions that reference this label
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	// Patch all forward references
	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
}

func (b *BytecodeBuilder) patch(ref, target int) {
	offset := target - (ref + 2) // offset from after the operand
	b.bytes[ref] = byte(offset)
	b.bytes[ref+1] = byte(offset >> 8)
}

// EmitJump emits a jump-family instruction targeting label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	ref := len(b.bytes)
	b.bytes = append(b.bytes, 0, 0) // placeholder
	if label.resolved {
		b.patch(ref, label.position)
	} else {
		label.refs = append(label.refs, ref)
	}
}

// CheckJumps reports an error if any jump offset overflowed 16 bits.
func (b *BytecodeBuilder) CheckJumps() error {
	if len(b.bytes) > math.MaxInt16 {
		return fmt.Errorf("code too large: %d bytes exceeds jump range", len(b.bytes))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Bytecode reader for interpretation and disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Skip advances past n operand bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadInt8 reads a signed 8-bit operand.
func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadByte())
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed 16-bit operand (little-endian).
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}
