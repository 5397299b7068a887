package vm

import (
	"fmt"
	"strings"
)

// Disassemble renders a code object's bytecode one instruction per line.
func Disassemble(c *Code) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "code %s (params=%d locals=%d)\n", c.Name, c.NumParams, len(c.Locals))
	r := NewBytecodeReader(c.Bytecode)
	lastLine := 0
	for r.HasMore() {
		pos := r.Position()
		op := r.ReadOpcode()
		line := ""
		if l := c.LineFor(pos); l != lastLine && l > 0 {
			line = fmt.Sprintf("%4d", l)
			lastLine = l
		}
		fmt.Fprintf(&sb, "%4s %04d  %-18s", line, pos, op.Name())

		switch op {
		case OpPushInt8:
			fmt.Fprintf(&sb, " %d", r.ReadInt8())
		case OpPushConst:
			idx := r.ReadUint16()
			fmt.Fprintf(&sb, " %d", idx)
			if int(idx) < len(c.Constants) {
				fmt.Fprintf(&sb, " (%s)", Repr(c.Constants[idx].Value()))
			}
		case OpLoadLocal, OpStoreLocal:
			idx := r.ReadByte()
			fmt.Fprintf(&sb, " %d", idx)
			if int(idx) < len(c.Locals) {
				fmt.Fprintf(&sb, " (%s)", c.Locals[idx])
			}
		case OpLoadGlobal, OpStoreGlobal:
			idx := r.ReadUint16()
			fmt.Fprintf(&sb, " %d", idx)
			if int(idx) < len(c.Names) {
				fmt.Fprintf(&sb, " (%s)", c.Names[idx])
			}
		case OpJump, OpJumpFalse, OpJumpTrue, OpJumpFalseOrPop, OpJumpTrueOrPop, OpForIter, OpSetupTry:
			off := int(r.ReadInt16())
			fmt.Fprintf(&sb, " -> %04d", r.Position()+off)
		case OpCall:
			fmt.Fprintf(&sb, " %d", r.ReadByte())
		case OpMakeFunction, OpBuildList, OpBuildDict:
			fmt.Fprintf(&sb, " %d", r.ReadUint16())
		default:
			r.Skip(op.OperandBytes())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DisassembleModule renders the module body followed by every function.
func DisassembleModule(m *Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s version %d\n", m.Name, m.Version)
	if len(m.Builtins) > 0 {
		fmt.Fprintf(&sb, "builtins: %s\n", strings.Join(m.Builtins, ", "))
	}
	sb.WriteByte('\n')
	sb.WriteString(Disassemble(m.Main))
	for i, fn := range m.Functions {
		fmt.Fprintf(&sb, "\n[%d] ", i)
		sb.WriteString(Disassemble(fn))
	}
	return sb.String()
}
