package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// CallFrame: Execution state for a function invocation
// ---------------------------------------------------------------------------

// CallFrame represents the execution state of a single code object.
type CallFrame struct {
	Code     *Code
	Module   *Module
	Globals  map[string]Value
	Locals   []Value
	IP       int // instruction pointer (offset into bytecode)
	stack    []Value
	handlers []tryHandler
}

// tryHandler is an installed catch target. On a throw the operand stack is
// truncated to sp and the thrown value pushed before jumping to target.
type tryHandler struct {
	target int
	sp     int
}

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

// ctxCheckInterval is how many instructions run between cancellation checks.
const ctxCheckInterval = 1024

// Interpreter executes Ox bytecode for one top-level run. Ox calls recurse
// on the Go stack; depth is bounded by the VM's MaxDepth.
type Interpreter struct {
	vm    *VM
	ctx   context.Context
	depth int
	steps int
}

func newInterpreter(v *VM, ctx context.Context) *Interpreter {
	return &Interpreter{vm: v, ctx: ctx}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (f *CallFrame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *CallFrame) pop() Value {
	n := len(f.stack) - 1
	v := f.stack[n]
	f.stack[n] = nil
	f.stack = f.stack[:n]
	return v
}

func (f *CallFrame) top() Value {
	return f.stack[len(f.stack)-1]
}

func (f *CallFrame) popN(n int) []Value {
	start := len(f.stack) - n
	out := make([]Value, n)
	copy(out, f.stack[start:])
	for i := start; i < len(f.stack); i++ {
		f.stack[i] = nil
	}
	f.stack = f.stack[:start]
	return out
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call invokes any callable value.
func (i *Interpreter) call(callee Value, args []Value) (Value, error) {
	switch fn := callee.(type) {
	case *Function:
		if len(args) != fn.Code.NumParams {
			return nil, Throwf("%s() takes %d arguments (%d given)", fn.Code.Name, fn.Code.NumParams, len(args))
		}
		locals := make([]Value, len(fn.Code.Locals))
		copy(locals, args)
		return i.execute(&CallFrame{
			Code:    fn.Code,
			Module:  fn.Module,
			Globals: fn.Globals,
			Locals:  locals,
		})
	case *Builtin:
		if fn.Arity >= 0 && len(args) != fn.Arity {
			return nil, Throwf("%s() takes %d arguments (%d given)", fn.Name, fn.Arity, len(args))
		}
		result, err := fn.Fn(i.vm, args)
		if err != nil {
			return nil, asException(err)
		}
		return result, nil
	}
	return nil, Throwf("%s is not callable", TypeName(callee))
}

// execute runs a frame to completion and returns its result. Exceptions
// raised inside the frame are routed to its innermost handler; unhandled
// ones are returned with this frame appended to their trace.
func (i *Interpreter) execute(f *CallFrame) (result Value, err error) {
	if i.depth >= i.vm.MaxDepth {
		return nil, Throwf("maximum call depth %d exceeded", i.vm.MaxDepth)
	}
	i.depth++
	defer func() { i.depth-- }()

	for {
		result, err = i.runFrame(f)
		if err == nil {
			return result, nil
		}
		var ex *Exception
		if !errors.As(err, &ex) {
			return nil, err
		}
		if len(f.handlers) == 0 {
			ex.Trace = append(ex.Trace, frameLocation(f))
			return nil, ex
		}
		h := f.handlers[len(f.handlers)-1]
		f.handlers = f.handlers[:len(f.handlers)-1]
		for j := h.sp; j < len(f.stack); j++ {
			f.stack[j] = nil
		}
		f.stack = f.stack[:h.sp]
		f.push(ex.Value)
		f.IP = h.target
	}
}

func frameLocation(f *CallFrame) string {
	if line := f.Code.LineFor(f.IP - 1); line > 0 {
		return fmt.Sprintf("%s:%d", f.Code.Name, line)
	}
	return f.Code.Name
}

// ---------------------------------------------------------------------------
// Main execution loop
// ---------------------------------------------------------------------------

// runFrame executes bytecode from f.IP until the frame returns or an error
// escapes an instruction.
func (i *Interpreter) runFrame(f *CallFrame) (Value, error) {
	r := &BytecodeReader{bytes: f.Code.Bytecode, pos: f.IP}
	defer func() { f.IP = r.pos }()

	for {
		if !r.HasMore() {
			return nil, nil
		}
		i.steps++
		if i.steps%ctxCheckInterval == 0 {
			if err := i.ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", errCancelled, err)
			}
		}

		op := r.ReadOpcode()
		switch op {
		case OpNOP:

		case OpPOP:
			f.pop()

		case OpDUP:
			f.push(f.top())

		case OpDUP2:
			n := len(f.stack)
			f.push(f.stack[n-2])
			f.push(f.stack[n-1])

		case OpPushNil:
			f.push(nil)
		case OpPushTrue:
			f.push(true)
		case OpPushFalse:
			f.push(false)
		case OpPushInt8:
			f.push(int64(r.ReadInt8()))
		case OpPushConst:
			f.push(f.Code.Constants[r.ReadUint16()].Value())

		case OpLoadLocal:
			f.push(f.Locals[r.ReadByte()])

		case OpStoreLocal:
			f.Locals[r.ReadByte()] = f.pop()

		case OpLoadGlobal:
			name := f.Code.Names[r.ReadUint16()]
			if v, ok := f.Globals[name]; ok {
				f.push(v)
			} else if b, ok := i.vm.builtins[name]; ok {
				f.push(b)
			} else {
				return nil, Throwf("undefined name %q", name)
			}

		case OpStoreGlobal:
			f.Globals[f.Code.Names[r.ReadUint16()]] = f.pop()

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			b := f.pop()
			a := f.pop()
			v, err := arith(op, a, b)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case OpEQ:
			b := f.pop()
			f.push(Equal(f.pop(), b))
		case OpNE:
			b := f.pop()
			f.push(!Equal(f.pop(), b))

		case OpLT, OpLE, OpGT, OpGE:
			b := f.pop()
			a := f.pop()
			c, err := compare(a, b)
			if err != nil {
				return nil, Throwf("%s", err)
			}
			switch op {
			case OpLT:
				f.push(c < 0)
			case OpLE:
				f.push(c <= 0)
			case OpGT:
				f.push(c > 0)
			default:
				f.push(c >= 0)
			}

		case OpNeg:
			switch x := f.pop().(type) {
			case int64:
				f.push(-x)
			case float64:
				f.push(-x)
			default:
				return nil, Throwf("bad operand type for unary -: %s", TypeName(x))
			}

		case OpNot:
			f.push(!Truthy(f.pop()))

		case OpJump:
			off := int(r.ReadInt16())
			r.pos += off

		case OpJumpFalse:
			off := int(r.ReadInt16())
			if !Truthy(f.pop()) {
				r.pos += off
			}

		case OpJumpTrue:
			off := int(r.ReadInt16())
			if Truthy(f.pop()) {
				r.pos += off
			}

		case OpJumpFalseOrPop:
			off := int(r.ReadInt16())
			if !Truthy(f.top()) {
				r.pos += off
			} else {
				f.pop()
			}

		case OpJumpTrueOrPop:
			off := int(r.ReadInt16())
			if Truthy(f.top()) {
				r.pos += off
			} else {
				f.pop()
			}

		case OpGetIter:
			it, err := newIterator(f.pop())
			if err != nil {
				return nil, err
			}
			f.push(it)

		case OpForIter:
			off := int(r.ReadInt16())
			it := f.top().(*iterator)
			if v, ok := it.next(); ok {
				f.push(v)
			} else {
				f.pop()
				r.pos += off
			}

		case OpCall:
			argc := int(r.ReadByte())
			args := f.popN(argc)
			callee := f.pop()
			f.IP = r.pos
			v, err := i.call(callee, args)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case OpReturn:
			return f.pop(), nil

		case OpReturnNil:
			return nil, nil

		case OpMakeFunction:
			idx := r.ReadUint16()
			f.push(&Function{Code: f.Module.Functions[idx], Module: f.Module, Globals: f.Globals})

		case OpBuildList:
			n := int(r.ReadUint16())
			f.push(NewList(f.popN(n)...))

		case OpBuildDict:
			n := int(r.ReadUint16())
			kv := f.popN(2 * n)
			d := NewDict()
			for j := 0; j < len(kv); j += 2 {
				if err := d.Set(kv[j], kv[j+1]); err != nil {
					return nil, Throwf("%s", err)
				}
			}
			f.push(d)

		case OpIndex:
			idx := f.pop()
			target := f.pop()
			v, err := index(target, idx)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case OpStoreIndex:
			val := f.pop()
			idx := f.pop()
			target := f.pop()
			if err := storeIndex(target, idx, val); err != nil {
				return nil, err
			}

		case OpSetupTry:
			off := int(r.ReadInt16())
			f.handlers = append(f.handlers, tryHandler{target: r.pos + off, sp: len(f.stack)})

		case OpPopTry:
			f.handlers = f.handlers[:len(f.handlers)-1]

		case OpThrow:
			f.IP = r.pos
			return nil, &Exception{Value: f.pop()}

		default:
			return nil, fmt.Errorf("vm: unknown opcode 0x%02x at %d in %s", byte(op), r.pos-1, f.Code.Name)
		}
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func arith(op Opcode, a, b Value) (Value, error) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return intArith(op, x, y)
		case float64:
			return floatArith(op, float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return floatArith(op, x, float64(y))
		case float64:
			return floatArith(op, x, y)
		}
	case string:
		switch op {
		case OpAdd:
			if y, ok := b.(string); ok {
				return x + y, nil
			}
		case OpMul:
			if n, ok := b.(int64); ok {
				if n < 0 {
					n = 0
				}
				return strings.Repeat(x, int(n)), nil
			}
		}
	case Bytes:
		if y, ok := b.(Bytes); ok && op == OpAdd {
			out := make(Bytes, 0, len(x)+len(y))
			return append(append(out, x...), y...), nil
		}
	case *List:
		switch op {
		case OpAdd:
			if y, ok := b.(*List); ok {
				items := make([]Value, 0, len(x.Items)+len(y.Items))
				items = append(items, x.Items...)
				return NewList(append(items, y.Items...)...), nil
			}
		case OpMul:
			if n, ok := b.(int64); ok {
				items := []Value{}
				for k := int64(0); k < n; k++ {
					items = append(items, x.Items...)
				}
				return NewList(items...), nil
			}
		}
	}
	return nil, Throwf("unsupported operand types for %s: %s and %s", opSymbol(op), TypeName(a), TypeName(b))
}

func intArith(op Opcode, x, y int64) (Value, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return nil, Throwf("division by zero")
		}
		return x / y, nil
	default:
		if y == 0 {
			return nil, Throwf("modulo by zero")
		}
		return x % y, nil
	}
}

func floatArith(op Opcode, x, y float64) (Value, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return nil, Throwf("division by zero")
		}
		return x / y, nil
	default:
		if y == 0 {
			return nil, Throwf("modulo by zero")
		}
		return math.Mod(x, y), nil
	}
}

func opSymbol(op Opcode) string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	}
	return op.Name()
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

func normalizeIndex(idx Value, length int) (int, error) {
	n, ok := idx.(int64)
	if !ok {
		return 0, Throwf("index must be int, not %s", TypeName(idx))
	}
	if n < 0 {
		n += int64(length)
	}
	if n < 0 || n >= int64(length) {
		return 0, Throwf("index %d out of range (length %d)", idx, length)
	}
	return int(n), nil
}

func index(target, idx Value) (Value, error) {
	switch t := target.(type) {
	case *List:
		i, err := normalizeIndex(idx, len(t.Items))
		if err != nil {
			return nil, err
		}
		return t.Items[i], nil
	case string:
		i, err := normalizeIndex(idx, len(t))
		if err != nil {
			return nil, err
		}
		return t[i : i+1], nil
	case Bytes:
		i, err := normalizeIndex(idx, len(t))
		if err != nil {
			return nil, err
		}
		return int64(t[i]), nil
	case *Dict:
		v, ok, err := t.Get(idx)
		if err != nil {
			return nil, Throwf("%s", err)
		}
		if !ok {
			return nil, Throwf("key %s not found", Repr(idx))
		}
		return v, nil
	}
	return nil, Throwf("%s is not indexable", TypeName(target))
}

func storeIndex(target, idx, val Value) error {
	switch t := target.(type) {
	case *List:
		i, err := normalizeIndex(idx, len(t.Items))
		if err != nil {
			return err
		}
		t.Items[i] = val
		return nil
	case *Dict:
		if err := t.Set(idx, val); err != nil {
			return Throwf("%s", err)
		}
		return nil
	}
	return Throwf("%s does not support item assignment", TypeName(target))
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// iterator walks a snapshot of a container.
type iterator struct {
	items []Value
	pos   int
}

func newIterator(v Value) (*iterator, error) {
	switch x := v.(type) {
	case *List:
		items := make([]Value, len(x.Items))
		copy(items, x.Items)
		return &iterator{items: items}, nil
	case *Dict:
		return &iterator{items: x.Keys()}, nil
	case string:
		items := make([]Value, 0, len(x))
		for _, r := range x {
			items = append(items, string(r))
		}
		return &iterator{items: items}, nil
	case Bytes:
		items := make([]Value, len(x))
		for i, b := range x {
			items[i] = int64(b)
		}
		return &iterator{items: items}, nil
	}
	return nil, Throwf("%s is not iterable", TypeName(v))
}

func (it *iterator) next() (Value, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}
