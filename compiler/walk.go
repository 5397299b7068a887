package compiler

// Inspect traverses the tree rooted at node in depth-first order, calling f
// for each non-nil node. If f returns false, the children of that node are
// skipped.
func Inspect(node Node, f func(Node) bool) {
	if node == nil || !f(node) {
		return
	}

	switch n := node.(type) {
	case *ListLiteral:
		inspectExprs(n.Elements, f)
	case *DictLiteral:
		inspectExprs(n.Keys, f)
		inspectExprs(n.Values, f)
	case *IndexExpr:
		inspectExpr(n.Target, f)
		inspectExpr(n.Index, f)
	case *CallExpr:
		inspectExpr(n.Func, f)
		inspectExprs(n.Args, f)
	case *UnaryExpr:
		inspectExpr(n.Operand, f)
	case *BinaryExpr:
		inspectExpr(n.Left, f)
		inspectExpr(n.Right, f)

	case *FuncDecl:
		inspectStmts(n.Body, f)
	case *AssignStmt:
		inspectExpr(n.Target, f)
		inspectExpr(n.Value, f)
	case *IfStmt:
		inspectExpr(n.Cond, f)
		inspectStmts(n.Then, f)
		inspectStmts(n.Else, f)
	case *WhileStmt:
		inspectExpr(n.Cond, f)
		inspectStmts(n.Body, f)
	case *ForStmt:
		inspectExpr(n.Iter, f)
		inspectStmts(n.Body, f)
	case *ReturnStmt:
		inspectExpr(n.Value, f)
	case *TryStmt:
		inspectStmts(n.Body, f)
		inspectStmts(n.Handler, f)
	case *ThrowStmt:
		inspectExpr(n.Value, f)
	case *ExprStmt:
		inspectExpr(n.Expr, f)
	}
}

// InspectProgram calls Inspect on every top-level statement.
func InspectProgram(prog *Program, f func(Node) bool) {
	inspectStmts(prog.Stmts, f)
}

// inspectExpr guards against typed-nil interface values.
func inspectExpr(e Expr, f func(Node) bool) {
	if e != nil {
		Inspect(e, f)
	}
}

func inspectExprs(list []Expr, f func(Node) bool) {
	for _, e := range list {
		inspectExpr(e, f)
	}
}

func inspectStmts(list []Stmt, f func(Node) bool) {
	for _, s := range list {
		if s != nil {
			Inspect(s, f)
		}
	}
}

// Identifiers returns the set of every identifier spelled anywhere in the
// program: names, parameters, loop and catch variables, globals and
// function names.
func Identifiers(prog *Program) map[string]bool {
	ids := make(map[string]bool)
	InspectProgram(prog, func(n Node) bool {
		switch v := n.(type) {
		case *Name:
			ids[v.Name] = true
		case *FuncDecl:
			ids[v.Name] = true
			for _, p := range v.Params {
				ids[p] = true
			}
		case *ForStmt:
			ids[v.Var] = true
		case *TryStmt:
			if v.CatchVar != "" {
				ids[v.CatchVar] = true
			}
		case *GlobalStmt:
			for _, g := range v.Names {
				ids[g] = true
			}
		}
		return true
	})
	return ids
}
