package compiler

import (
	"fmt"
	"reflect"
	"strings"
)

// ---------------------------------------------------------------------------
// Structural validation of transformed trees
// ---------------------------------------------------------------------------

// ValidationError lists every structural problem found in a tree.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "malformed tree: " + e.Problems[0]
	}
	return fmt.Sprintf("malformed tree: %s (and %d more)", e.Problems[0], len(e.Problems)-1)
}

// Validate checks that prog is a well-formed tree: no nil (dangling) nodes,
// no node reachable from two positions, break/continue only inside loops,
// func only at top level, global only inside functions, assignable targets,
// valid identifiers and unique function names.
func Validate(prog *Program) error {
	if prog == nil {
		return &ValidationError{Problems: []string{"nil program"}}
	}
	v := &validator{seen: make(map[Node]bool)}
	funcs := make(map[string]bool)
	for i, s := range prog.Stmts {
		if fn, ok := s.(*FuncDecl); ok && fn != nil {
			if funcs[fn.Name] {
				v.problemf("function %q declared twice", fn.Name)
			}
			funcs[fn.Name] = true
		}
		v.stmt(s, fmt.Sprintf("stmt[%d]", i), ctx{topLevel: true})
	}
	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

type ctx struct {
	topLevel bool
	inFunc   bool
	loops    int
}

type validator struct {
	seen     map[Node]bool
	problems []string
}

func (v *validator) problemf(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// visit records n and reports whether its children should be checked.
func (v *validator) visit(n Node, path string) bool {
	if isNilNode(n) {
		v.problemf("%s: dangling nil node", path)
		return false
	}
	if v.seen[n] {
		v.problemf("%s: node %T appears at more than one position", path, n)
		return false
	}
	v.seen[n] = true
	return true
}

func (v *validator) ident(name, what, path string) {
	if name == "" {
		v.problemf("%s: empty %s", path, what)
		return
	}
	if IsReserved(name) {
		v.problemf("%s: %s %q is a reserved word", path, what, name)
		return
	}
	for i, r := range name {
		if !(isLetter(r) || r == '_' || (i > 0 && isDigit(r))) {
			v.problemf("%s: %s %q is not a valid identifier", path, what, name)
			return
		}
	}
}

func (v *validator) stmts(list []Stmt, path string, c ctx) {
	c.topLevel = false
	for i, s := range list {
		v.stmt(s, fmt.Sprintf("%s[%d]", path, i), c)
	}
}

func (v *validator) stmt(s Stmt, path string, c ctx) {
	if !v.visit(s, path) {
		return
	}
	switch n := s.(type) {
	case *FuncDecl:
		if !c.topLevel {
			v.problemf("%s: func %q is not at top level", path, n.Name)
		}
		v.ident(n.Name, "function name", path)
		params := make(map[string]bool)
		for _, p := range n.Params {
			v.ident(p, "parameter", path)
			if params[p] {
				v.problemf("%s: duplicate parameter %q", path, p)
			}
			params[p] = true
		}
		v.stmts(n.Body, path+".body", ctx{inFunc: true})

	case *AssignStmt:
		switch n.Op {
		case TokenAssign, TokenPlusAssign, TokenMinusAssign, TokenStarAssign:
		default:
			v.problemf("%s: invalid assignment operator %s", path, n.Op)
		}
		switch n.Target.(type) {
		case *Name, *IndexExpr:
			v.expr(n.Target, path+".target")
		default:
			if isNilNode(n.Target) {
				v.problemf("%s.target: dangling nil node", path)
			} else {
				v.problemf("%s: cannot assign to %T", path, n.Target)
			}
		}
		v.expr(n.Value, path+".value")

	case *IfStmt:
		v.expr(n.Cond, path+".cond")
		v.stmts(n.Then, path+".then", c)
		v.stmts(n.Else, path+".else", c)

	case *WhileStmt:
		v.expr(n.Cond, path+".cond")
		c.loops++
		v.stmts(n.Body, path+".body", c)

	case *ForStmt:
		v.ident(n.Var, "loop variable", path)
		v.expr(n.Iter, path+".iter")
		c.loops++
		v.stmts(n.Body, path+".body", c)

	case *BreakStmt:
		if c.loops == 0 {
			v.problemf("%s: break outside loop", path)
		}

	case *ContinueStmt:
		if c.loops == 0 {
			v.problemf("%s: continue outside loop", path)
		}

	case *ReturnStmt:
		if n.Value != nil {
			v.expr(n.Value, path+".value")
		}

	case *TryStmt:
		if n.CatchVar != "" {
			v.ident(n.CatchVar, "catch variable", path)
		}
		v.stmts(n.Body, path+".body", c)
		v.stmts(n.Handler, path+".handler", c)

	case *ThrowStmt:
		v.expr(n.Value, path+".value")

	case *GlobalStmt:
		if !c.inFunc {
			v.problemf("%s: global statement outside function", path)
		}
		for _, name := range n.Names {
			v.ident(name, "global name", path)
		}

	case *ExprStmt:
		v.expr(n.Expr, path+".expr")

	default:
		v.problemf("%s: unknown statement type %T", path, s)
	}
}

func (v *validator) exprs(list []Expr, path string) {
	for i, e := range list {
		v.expr(e, fmt.Sprintf("%s[%d]", path, i))
	}
}

func (v *validator) expr(e Expr, path string) {
	if !v.visit(e, path) {
		return
	}
	switch n := e.(type) {
	case *IntLiteral, *FloatLiteral, *StringLiteral, *BoolLiteral, *NilLiteral:
	case *Name:
		v.ident(n.Name, "name", path)
	case *ListLiteral:
		v.exprs(n.Elements, path+".elements")
	case *DictLiteral:
		if len(n.Keys) != len(n.Values) {
			v.problemf("%s: dict has %d keys and %d values", path, len(n.Keys), len(n.Values))
		}
		v.exprs(n.Keys, path+".keys")
		v.exprs(n.Values, path+".values")
	case *IndexExpr:
		v.expr(n.Target, path+".target")
		v.expr(n.Index, path+".index")
	case *CallExpr:
		v.expr(n.Func, path+".func")
		v.exprs(n.Args, path+".args")
	case *UnaryExpr:
		if n.Op != TokenMinus && n.Op != TokenNot {
			v.problemf("%s: invalid unary operator %s", path, n.Op)
		}
		v.expr(n.Operand, path+".operand")
	case *BinaryExpr:
		if binaryPrec(n.Op) == precLowest {
			v.problemf("%s: invalid binary operator %s", path, n.Op)
		}
		v.expr(n.Left, path+".left")
		v.expr(n.Right, path+".right")
	default:
		v.problemf("%s: unknown expression type %T", path, e)
	}
}

// isNilNode reports whether n is nil or a typed nil pointer.
func isNilNode(n Node) bool {
	if n == nil {
		return true
	}
	rv := reflect.ValueOf(n)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// ProblemSummary joins validation problems for log output.
func ProblemSummary(err error) string {
	if ve, ok := err.(*ValidationError); ok {
		return strings.Join(ve.Problems, "; ")
	}
	return err.Error()
}
