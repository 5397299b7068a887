package hash

import (
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
)

// ---------------------------------------------------------------------------
// Normalization: compiler AST → canonical byte stream
//
// Variables are written as the index of their first occurrence in a fixed
// walk order, so any consistent renaming of variables leaves the stream
// unchanged. Function names and builtins are written by name. Source
// positions are ignored.
// ---------------------------------------------------------------------------

// normalizer holds state for the normalization walk.
type normalizer struct {
	s        serializer
	funcs    map[string]bool
	builtins map[string]bool
	vars     map[string]uint32 // variable name → first-occurrence index
}

func newNormalizer(prog *compiler.Program, builtins []string) *normalizer {
	n := &normalizer{
		s:        serializer{buf: make([]byte, 0, 256)},
		funcs:    make(map[string]bool),
		builtins: make(map[string]bool, len(builtins)),
		vars:     make(map[string]uint32),
	}
	for _, fn := range prog.Funcs() {
		n.funcs[fn.Name] = true
	}
	for _, b := range builtins {
		n.builtins[b] = true
	}
	return n
}

// name writes a reference to an identifier.
func (n *normalizer) name(id string) {
	switch {
	case n.funcs[id]:
		n.s.writeByte(TagFuncRef)
		n.s.writeString(id)
	case n.builtins[id]:
		n.s.writeByte(TagBuiltinRef)
		n.s.writeString(id)
	default:
		idx, ok := n.vars[id]
		if !ok {
			idx = uint32(len(n.vars))
			n.vars[id] = idx
		}
		n.s.writeByte(TagVarRef)
		n.s.writeUint32(idx)
	}
}

func (n *normalizer) program(prog *compiler.Program) {
	n.s.writeByte(TagProgram)
	n.stmts(prog.Stmts)
}

func (n *normalizer) stmts(list []compiler.Stmt) {
	n.s.writeLen(len(list))
	for _, st := range list {
		n.stmt(st)
	}
}

func (n *normalizer) stmt(st compiler.Stmt) {
	switch x := st.(type) {
	case *compiler.FuncDecl:
		n.s.writeByte(TagFuncDecl)
		n.s.writeString(x.Name)
		n.s.writeLen(len(x.Params))
		for _, p := range x.Params {
			n.name(p)
		}
		n.stmts(x.Body)

	case *compiler.AssignStmt:
		n.s.writeByte(TagAssign)
		n.s.writeInt64(int64(x.Op))
		n.expr(x.Target)
		n.expr(x.Value)

	case *compiler.IfStmt:
		n.s.writeByte(TagIf)
		n.expr(x.Cond)
		n.stmts(x.Then)
		n.stmts(x.Else)

	case *compiler.WhileStmt:
		n.s.writeByte(TagWhile)
		n.expr(x.Cond)
		n.stmts(x.Body)

	case *compiler.ForStmt:
		n.s.writeByte(TagFor)
		n.name(x.Var)
		n.expr(x.Iter)
		n.stmts(x.Body)

	case *compiler.BreakStmt:
		n.s.writeByte(TagBreak)

	case *compiler.ContinueStmt:
		n.s.writeByte(TagContinue)

	case *compiler.ReturnStmt:
		n.s.writeByte(TagReturn)
		n.s.writeBool(x.Value != nil)
		if x.Value != nil {
			n.expr(x.Value)
		}

	case *compiler.TryStmt:
		n.s.writeByte(TagTry)
		n.stmts(x.Body)
		n.s.writeBool(x.CatchVar != "")
		if x.CatchVar != "" {
			n.name(x.CatchVar)
		}
		n.stmts(x.Handler)

	case *compiler.ThrowStmt:
		n.s.writeByte(TagThrow)
		n.expr(x.Value)

	case *compiler.GlobalStmt:
		n.s.writeByte(TagGlobal)
		n.s.writeLen(len(x.Names))
		for _, name := range x.Names {
			n.name(name)
		}

	case *compiler.ExprStmt:
		n.s.writeByte(TagExprStmt)
		n.expr(x.Expr)

	default:
		n.s.writeByte(TagReservedZero)
	}
}

func (n *normalizer) exprs(list []compiler.Expr) {
	n.s.writeLen(len(list))
	for _, e := range list {
		n.expr(e)
	}
}

func (n *normalizer) expr(e compiler.Expr) {
	switch x := e.(type) {
	case *compiler.IntLiteral:
		n.s.writeByte(TagIntLiteral)
		n.s.writeInt64(x.Value)

	case *compiler.FloatLiteral:
		n.s.writeByte(TagFloatLiteral)
		n.s.writeFloat64(x.Value)

	case *compiler.StringLiteral:
		n.s.writeByte(TagStringLiteral)
		n.s.writeString(x.Value)

	case *compiler.BoolLiteral:
		n.s.writeByte(TagBoolLiteral)
		n.s.writeBool(x.Value)

	case *compiler.NilLiteral:
		n.s.writeByte(TagNilLiteral)

	case *compiler.Name:
		n.name(x.Name)

	case *compiler.ListLiteral:
		n.s.writeByte(TagListLiteral)
		n.exprs(x.Elements)

	case *compiler.DictLiteral:
		n.s.writeByte(TagDictLiteral)
		n.exprs(x.Keys)
		n.exprs(x.Values)

	case *compiler.IndexExpr:
		n.s.writeByte(TagIndex)
		n.expr(x.Target)
		n.expr(x.Index)

	case *compiler.CallExpr:
		n.s.writeByte(TagCall)
		n.expr(x.Func)
		n.exprs(x.Args)

	case *compiler.UnaryExpr:
		n.s.writeByte(TagUnary)
		n.s.writeInt64(int64(x.Op))
		n.expr(x.Operand)

	case *compiler.BinaryExpr:
		n.s.writeByte(TagBinary)
		n.s.writeInt64(int64(x.Op))
		n.expr(x.Left)
		n.expr(x.Right)

	default:
		n.s.writeByte(TagReservedZero)
	}
}
