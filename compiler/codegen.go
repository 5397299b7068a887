package compiler

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Options controls code generation.
type Options struct {
	Name       string // module name recorded in the output
	StripLines bool   // omit line tables
}

// Compile lowers a validated program to an executable module. The tree is
// not modified.
func Compile(prog *Program, opts Options) (*vm.Module, error) {
	if err := Validate(prog); err != nil {
		return nil, err
	}
	c := &Compiler{opts: opts, loaded: make(map[string]bool), stored: make(map[string]bool)}
	return c.compileProgram(prog)
}

// CompileSource parses and compiles source text.
func CompileSource(filename, source string, opts Options) (*vm.Module, error) {
	prog, err := ParseFile(filename, source)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = filename
	}
	return Compile(prog, opts)
}

// Compiler compiles a program to a module.
type Compiler struct {
	opts   Options
	unit   *codeUnit
	funcs  []*FuncDecl
	errors []string

	// Global names read and written anywhere in the module. Names read but
	// never written form the module's builtin manifest.
	loaded map[string]bool
	stored map[string]bool
}

// codeUnit is the compilation context for one code object.
type codeUnit struct {
	name     string
	builder  *vm.BytecodeBuilder
	inFunc   bool
	locals   map[string]int
	localSeq []string
	names    map[string]int
	nameSeq  []string
	consts   []vm.Constant
	constMap map[constKey]int
	lines    []vm.LineEntry
	loops    []*loopContext
	tryDepth int
}

type loopContext struct {
	breakLabel    *vm.Label
	continueLabel *vm.Label
	tryDepth      int  // active try blocks when the loop was entered
	hasIterator   bool // a for loop keeps its iterator on the stack
}

// constKey distinguishes 0.0 from -0.0 when deduplicating constants.
type constKey struct {
	kind vm.ConstKind
	i    int64
	f    uint64
	s    string
}

// errorf records a compilation error.
func (c *Compiler) errorf(format string, args ...interface{}) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *Compiler) compileProgram(prog *Program) (*vm.Module, error) {
	c.funcs = prog.Funcs()
	funcIndex := make(map[*FuncDecl]int, len(c.funcs))
	for i, fn := range c.funcs {
		funcIndex[fn] = i
	}

	name := c.opts.Name
	if name == "" {
		name = "main"
	}
	c.unit = newCodeUnit("<module>", false)
	for _, s := range prog.Stmts {
		if fn, ok := s.(*FuncDecl); ok {
			c.markLine(fn)
			c.unit.builder.EmitUint16(vm.OpMakeFunction, uint16(funcIndex[fn]))
			c.emitStore(fn.Name)
			continue
		}
		c.compileStmt(s)
	}
	c.unit.builder.Emit(vm.OpReturnNil)
	main := c.finish()

	functions := make([]*vm.Code, len(c.funcs))
	for i, fn := range c.funcs {
		functions[i] = c.compileFunc(fn)
	}

	if len(c.errors) > 0 {
		return nil, fmt.Errorf("compile errors: %s", strings.Join(c.errors, "; "))
	}

	var builtins []string
	for n := range c.loaded {
		if !c.stored[n] {
			builtins = append(builtins, n)
		}
	}
	sort.Strings(builtins)

	return &vm.Module{
		Version:   vm.ModuleVersion,
		Name:      name,
		Main:      main,
		Functions: functions,
		Builtins:  builtins,
	}, nil
}

func newCodeUnit(name string, inFunc bool) *codeUnit {
	return &codeUnit{
		name:     name,
		builder:  vm.NewBytecodeBuilder(),
		inFunc:   inFunc,
		locals:   make(map[string]int),
		names:    make(map[string]int),
		constMap: make(map[constKey]int),
	}
}

// finish packages the current unit as a code object.
func (c *Compiler) finish() *vm.Code {
	u := c.unit
	if err := u.builder.CheckJumps(); err != nil {
		c.errorf("%s: %v", u.name, err)
	}
	code := &vm.Code{
		Name:      u.name,
		Locals:    u.localSeq,
		Names:     u.nameSeq,
		Constants: u.consts,
		Bytecode:  u.builder.Bytes(),
	}
	if !c.opts.StripLines {
		code.Lines = u.lines
	}
	return code
}

// compileFunc compiles a function declaration. Every name the body assigns
// is a local unless it appears in a global statement.
func (c *Compiler) compileFunc(fn *FuncDecl) *vm.Code {
	c.unit = newCodeUnit(fn.Name, true)
	for _, p := range fn.Params {
		c.addLocal(p)
	}
	declared := make(map[string]bool)
	for _, name := range declaredGlobals(fn.Body) {
		declared[name] = true
	}
	for _, name := range assignedNames(fn.Body) {
		if !declared[name] {
			c.addLocal(name)
		}
	}
	if len(c.unit.localSeq) > math.MaxUint8+1 {
		c.errorf("%s: too many locals (%d)", fn.Name, len(c.unit.localSeq))
	}

	c.compileStmts(fn.Body)
	c.unit.builder.Emit(vm.OpReturnNil)
	code := c.finish()
	code.NumParams = len(fn.Params)
	return code
}

func (c *Compiler) addLocal(name string) {
	if _, ok := c.unit.locals[name]; ok {
		return
	}
	c.unit.locals[name] = len(c.unit.localSeq)
	c.unit.localSeq = append(c.unit.localSeq, name)
}

// declaredGlobals returns names listed in global statements of a body.
// LocalNames reports the names that resolve to locals inside fn: its
// parameters and every name its body binds, minus those listed in a global
// statement. It is the rule compileFunc uses to allocate slots.
func LocalNames(fn *FuncDecl) map[string]bool {
	declared := make(map[string]bool)
	for _, name := range declaredGlobals(fn.Body) {
		declared[name] = true
	}
	locals := make(map[string]bool)
	for _, p := range fn.Params {
		locals[p] = true
	}
	for _, name := range assignedNames(fn.Body) {
		if !declared[name] {
			locals[name] = true
		}
	}
	return locals
}

func declaredGlobals(body []Stmt) []string {
	var out []string
	inspectStmts(body, func(n Node) bool {
		if g, ok := n.(*GlobalStmt); ok {
			out = append(out, g.Names...)
		}
		return true
	})
	return out
}

// assignedNames returns, in first-occurrence order, every name a body binds:
// assignment targets, loop variables and catch variables.
func assignedNames(body []Stmt) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	inspectStmts(body, func(n Node) bool {
		switch s := n.(type) {
		case *AssignStmt:
			if name, ok := s.Target.(*Name); ok {
				add(name.Name)
			}
		case *ForStmt:
			add(s.Var)
		case *TryStmt:
			add(s.CatchVar)
		}
		return true
	})
	return out
}

// ---------------------------------------------------------------------------
// Constants and names
// ---------------------------------------------------------------------------

func (c *Compiler) addConstant(v vm.Value) int {
	k, err := vm.ConstantOf(v)
	if err != nil {
		c.errorf("%v", err)
		return 0
	}
	key := constKey{kind: k.Kind, i: k.Int, f: math.Float64bits(k.Float), s: k.Str}
	if idx, ok := c.unit.constMap[key]; ok {
		return idx
	}
	idx := len(c.unit.consts)
	if idx > math.MaxUint16 {
		c.errorf("%s: too many constants", c.unit.name)
		return 0
	}
	c.unit.consts = append(c.unit.consts, k)
	c.unit.constMap[key] = idx
	return idx
}

func (c *Compiler) nameIndex(name string) uint16 {
	if idx, ok := c.unit.names[name]; ok {
		return uint16(idx)
	}
	idx := len(c.unit.nameSeq)
	if idx > math.MaxUint16 {
		c.errorf("%s: too many global names", c.unit.name)
		return 0
	}
	c.unit.names[name] = idx
	c.unit.nameSeq = append(c.unit.nameSeq, name)
	return uint16(idx)
}

func (c *Compiler) emitLoad(name string) {
	if idx, ok := c.unit.locals[name]; ok {
		c.unit.builder.EmitByte(vm.OpLoadLocal, byte(idx))
		return
	}
	c.loaded[name] = true
	c.unit.builder.EmitUint16(vm.OpLoadGlobal, c.nameIndex(name))
}

func (c *Compiler) emitStore(name string) {
	if idx, ok := c.unit.locals[name]; ok {
		c.unit.builder.EmitByte(vm.OpStoreLocal, byte(idx))
		return
	}
	c.stored[name] = true
	c.unit.builder.EmitUint16(vm.OpStoreGlobal, c.nameIndex(name))
}

// markLine records the source line of the next instruction.
func (c *Compiler) markLine(n Node) {
	line := n.Span().Start.Line
	if line <= 0 {
		return
	}
	u := c.unit
	if k := len(u.lines); k > 0 && int(u.lines[k-1].Line) == line {
		return
	}
	u.lines = append(u.lines, vm.LineEntry{Offset: uint32(u.builder.Len()), Line: uint32(line)})
}

// ---------------------------------------------------------------------------
// Statement compilation
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmts(stmts []Stmt) {
	for _, s := range stmts {
		c.compileStmt(s)
	}
}

func (c *Compiler) compileStmt(stmt Stmt) {
	c.markLine(stmt)
	b := c.unit.builder
	switch s := stmt.(type) {
	case *ExprStmt:
		c.compileExpr(s.Expr)
		b.Emit(vm.OpPOP)

	case *AssignStmt:
		c.compileAssign(s)

	case *IfStmt:
		elseLabel := b.NewLabel()
		c.compileExpr(s.Cond)
		b.EmitJump(vm.OpJumpFalse, elseLabel)
		c.compileStmts(s.Then)
		if len(s.Else) == 0 {
			b.Mark(elseLabel)
			return
		}
		endLabel := b.NewLabel()
		b.EmitJump(vm.OpJump, endLabel)
		b.Mark(elseLabel)
		c.compileStmts(s.Else)
		b.Mark(endLabel)

	case *WhileStmt:
		loop := &loopContext{
			breakLabel:    b.NewLabel(),
			continueLabel: b.NewLabel(),
			tryDepth:      c.unit.tryDepth,
		}
		b.Mark(loop.continueLabel)
		c.compileExpr(s.Cond)
		b.EmitJump(vm.OpJumpFalse, loop.breakLabel)
		c.compileLoopBody(loop, s.Body)
		b.EmitJump(vm.OpJump, loop.continueLabel)
		b.Mark(loop.breakLabel)

	case *ForStmt:
		loop := &loopContext{
			breakLabel:    b.NewLabel(),
			continueLabel: b.NewLabel(),
			tryDepth:      c.unit.tryDepth,
			hasIterator:   true,
		}
		c.compileExpr(s.Iter)
		b.Emit(vm.OpGetIter)
		b.Mark(loop.continueLabel)
		b.EmitJump(vm.OpForIter, loop.breakLabel)
		c.emitStore(s.Var)
		c.compileLoopBody(loop, s.Body)
		b.EmitJump(vm.OpJump, loop.continueLabel)
		b.Mark(loop.breakLabel)

	case *BreakStmt:
		loop := c.currentLoop()
		if loop == nil {
			c.errorf("line %d: break outside loop", s.SpanVal.Start.Line)
			return
		}
		c.unwindTries(loop)
		if loop.hasIterator {
			b.Emit(vm.OpPOP)
		}
		b.EmitJump(vm.OpJump, loop.breakLabel)

	case *ContinueStmt:
		loop := c.currentLoop()
		if loop == nil {
			c.errorf("line %d: continue outside loop", s.SpanVal.Start.Line)
			return
		}
		c.unwindTries(loop)
		b.EmitJump(vm.OpJump, loop.continueLabel)

	case *ReturnStmt:
		if s.Value == nil {
			b.Emit(vm.OpReturnNil)
			return
		}
		c.compileExpr(s.Value)
		b.Emit(vm.OpReturn)

	case *TryStmt:
		handler := b.NewLabel()
		end := b.NewLabel()
		b.EmitJump(vm.OpSetupTry, handler)
		c.unit.tryDepth++
		c.compileStmts(s.Body)
		c.unit.tryDepth--
		b.Emit(vm.OpPopTry)
		b.EmitJump(vm.OpJump, end)
		b.Mark(handler)
		if s.CatchVar != "" {
			c.emitStore(s.CatchVar)
		} else {
			b.Emit(vm.OpPOP)
		}
		c.compileStmts(s.Handler)
		b.Mark(end)

	case *ThrowStmt:
		c.compileExpr(s.Value)
		b.Emit(vm.OpThrow)

	case *GlobalStmt:
		// Scoping only; resolved when locals are assigned.

	case *FuncDecl:
		c.errorf("line %d: func %q is not at top level", s.SpanVal.Start.Line, s.Name)

	default:
		c.errorf("unknown statement type: %T", stmt)
	}
}

func (c *Compiler) compileLoopBody(loop *loopContext, body []Stmt) {
	c.unit.loops = append(c.unit.loops, loop)
	c.compileStmts(body)
	c.unit.loops = c.unit.loops[:len(c.unit.loops)-1]
}

func (c *Compiler) currentLoop() *loopContext {
	if n := len(c.unit.loops); n > 0 {
		return c.unit.loops[n-1]
	}
	return nil
}

// unwindTries pops the handlers of try blocks entered inside loop.
func (c *Compiler) unwindTries(loop *loopContext) {
	for i := loop.tryDepth; i < c.unit.tryDepth; i++ {
		c.unit.builder.Emit(vm.OpPopTry)
	}
}

func (c *Compiler) compileAssign(s *AssignStmt) {
	b := c.unit.builder
	switch t := s.Target.(type) {
	case *Name:
		if s.Op != TokenAssign {
			c.emitLoad(t.Name)
			c.compileExpr(s.Value)
			b.Emit(compoundOp(s.Op))
		} else {
			c.compileExpr(s.Value)
		}
		c.emitStore(t.Name)

	case *IndexExpr:
		c.compileExpr(t.Target)
		c.compileExpr(t.Index)
		if s.Op != TokenAssign {
			b.Emit(vm.OpDUP2)
			b.Emit(vm.OpIndex)
			c.compileExpr(s.Value)
			b.Emit(compoundOp(s.Op))
		} else {
			c.compileExpr(s.Value)
		}
		b.Emit(vm.OpStoreIndex)

	default:
		c.errorf("cannot assign to %s", describeExpr(s.Target))
	}
}

func compoundOp(op TokenType) vm.Opcode {
	switch op {
	case TokenPlusAssign:
		return vm.OpAdd
	case TokenMinusAssign:
		return vm.OpSub
	default:
		return vm.OpMul
	}
}

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

var binaryOps = map[TokenType]vm.Opcode{
	TokenPlus:    vm.OpAdd,
	TokenMinus:   vm.OpSub,
	TokenStar:    vm.OpMul,
	TokenSlash:   vm.OpDiv,
	TokenPercent: vm.OpMod,
	TokenEq:      vm.OpEQ,
	TokenNotEq:   vm.OpNE,
	TokenLT:      vm.OpLT,
	TokenLE:      vm.OpLE,
	TokenGT:      vm.OpGT,
	TokenGE:      vm.OpGE,
}

func (c *Compiler) compileExpr(expr Expr) {
	b := c.unit.builder
	switch e := expr.(type) {
	case *IntLiteral:
		c.compileInt(e.Value)
	case *FloatLiteral:
		b.EmitUint16(vm.OpPushConst, uint16(c.addConstant(e.Value)))
	case *StringLiteral:
		b.EmitUint16(vm.OpPushConst, uint16(c.addConstant(e.Value)))
	case *BoolLiteral:
		if e.Value {
			b.Emit(vm.OpPushTrue)
		} else {
			b.Emit(vm.OpPushFalse)
		}
	case *NilLiteral:
		b.Emit(vm.OpPushNil)
	case *Name:
		c.emitLoad(e.Name)

	case *ListLiteral:
		if len(e.Elements) > math.MaxUint16 {
			c.errorf("list literal too large")
			return
		}
		for _, el := range e.Elements {
			c.compileExpr(el)
		}
		b.EmitUint16(vm.OpBuildList, uint16(len(e.Elements)))

	case *DictLiteral:
		if len(e.Keys) > math.MaxUint16 {
			c.errorf("dict literal too large")
			return
		}
		for i := range e.Keys {
			c.compileExpr(e.Keys[i])
			c.compileExpr(e.Values[i])
		}
		b.EmitUint16(vm.OpBuildDict, uint16(len(e.Keys)))

	case *IndexExpr:
		c.compileExpr(e.Target)
		c.compileExpr(e.Index)
		b.Emit(vm.OpIndex)

	case *CallExpr:
		if len(e.Args) > math.MaxUint8 {
			c.errorf("too many arguments in call to %s", describeExpr(e.Func))
			return
		}
		c.compileExpr(e.Func)
		for _, a := range e.Args {
			c.compileExpr(a)
		}
		b.EmitByte(vm.OpCall, byte(len(e.Args)))

	case *UnaryExpr:
		c.compileExpr(e.Operand)
		if e.Op == TokenNot {
			b.Emit(vm.OpNot)
		} else {
			b.Emit(vm.OpNeg)
		}

	case *BinaryExpr:
		switch e.Op {
		case TokenAnd, TokenOr:
			end := b.NewLabel()
			c.compileExpr(e.Left)
			if e.Op == TokenAnd {
				b.EmitJump(vm.OpJumpFalseOrPop, end)
			} else {
				b.EmitJump(vm.OpJumpTrueOrPop, end)
			}
			c.compileExpr(e.Right)
			b.Mark(end)
			return
		}
		op, ok := binaryOps[e.Op]
		if !ok {
			c.errorf("unknown binary operator %s", e.Op)
			return
		}
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		b.Emit(op)

	default:
		c.errorf("unknown expression type: %T", expr)
	}
}

func (c *Compiler) compileInt(value int64) {
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		c.unit.builder.EmitInt8(vm.OpPushInt8, int8(value))
		return
	}
	c.unit.builder.EmitUint16(vm.OpPushConst, uint16(c.addConstant(value)))
}
