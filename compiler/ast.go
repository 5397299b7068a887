package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Ox
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Program is the root of a parsed Ox source file. Transform passes mutate it
// in place.
type Program struct {
	Stmts []Stmt
}

// Funcs returns the top-level function declarations in source order.
func (p *Program) Funcs() []*FuncDecl {
	var out []*FuncDecl
	for _, s := range p.Stmts {
		if fn, ok := s.(*FuncDecl); ok {
			out = append(out, fn)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// NilLiteral represents nil.
type NilLiteral struct {
	SpanVal Span
}

func (n *NilLiteral) Span() Span { return n.SpanVal }
func (n *NilLiteral) node()      {}
func (n *NilLiteral) expr()      {}

// Name represents a variable reference.
type Name struct {
	SpanVal Span
	Name    string
}

func (n *Name) Span() Span { return n.SpanVal }
func (n *Name) node()      {}
func (n *Name) expr()      {}

// ListLiteral represents [a, b, c].
type ListLiteral struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListLiteral) Span() Span { return n.SpanVal }
func (n *ListLiteral) node()      {}
func (n *ListLiteral) expr()      {}

// DictLiteral represents {k: v, ...}. Keys and Values have equal length.
type DictLiteral struct {
	SpanVal Span
	Keys    []Expr
	Values  []Expr
}

func (n *DictLiteral) Span() Span { return n.SpanVal }
func (n *DictLiteral) node()      {}
func (n *DictLiteral) expr()      {}

// IndexExpr represents target[index].
type IndexExpr struct {
	SpanVal Span
	Target  Expr
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// CallExpr represents fn(args...).
type CallExpr struct {
	SpanVal Span
	Func    Expr
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// UnaryExpr represents -x or not x.
type UnaryExpr struct {
	SpanVal Span
	Op      TokenType // TokenMinus or TokenNot
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryExpr represents left op right, including the short-circuit
// operators and/or.
type BinaryExpr struct {
	SpanVal Span
	Op      TokenType
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// FuncDecl represents func name(params) { body }. Only valid at top level.
type FuncDecl struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    []Stmt
}

func (n *FuncDecl) Span() Span { return n.SpanVal }
func (n *FuncDecl) node()      {}
func (n *FuncDecl) stmt()      {}

// AssignStmt represents target op value, where op is =, +=, -= or *=.
// Target is a *Name or an *IndexExpr.
type AssignStmt struct {
	SpanVal Span
	Target  Expr
	Op      TokenType
	Value   Expr
}

func (n *AssignStmt) Span() Span { return n.SpanVal }
func (n *AssignStmt) node()      {}
func (n *AssignStmt) stmt()      {}

// IfStmt represents if/else. An else-if chain is an Else holding a single
// *IfStmt.
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    []Stmt
	Else    []Stmt
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt represents while cond { body }.
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    []Stmt
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// ForStmt represents for var in iter { body }.
type ForStmt struct {
	SpanVal Span
	Var     string
	Iter    Expr
	Body    []Stmt
}

func (n *ForStmt) Span() Span { return n.SpanVal }
func (n *ForStmt) node()      {}
func (n *ForStmt) stmt()      {}

// BreakStmt represents break.
type BreakStmt struct {
	SpanVal Span
}

func (n *BreakStmt) Span() Span { return n.SpanVal }
func (n *BreakStmt) node()      {}
func (n *BreakStmt) stmt()      {}

// ContinueStmt represents continue.
type ContinueStmt struct {
	SpanVal Span
}

func (n *ContinueStmt) Span() Span { return n.SpanVal }
func (n *ContinueStmt) node()      {}
func (n *ContinueStmt) stmt()      {}

// ReturnStmt represents return [value]. Value is nil for a bare return.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// TryStmt represents try { body } catch var { handler }. CatchVar may be
// empty when the thrown value is discarded.
type TryStmt struct {
	SpanVal  Span
	Body     []Stmt
	CatchVar string
	Handler  []Stmt
}

func (n *TryStmt) Span() Span { return n.SpanVal }
func (n *TryStmt) node()      {}
func (n *TryStmt) stmt()      {}

// ThrowStmt represents throw value.
type ThrowStmt struct {
	SpanVal Span
	Value   Expr
}

func (n *ThrowStmt) Span() Span { return n.SpanVal }
func (n *ThrowStmt) node()      {}
func (n *ThrowStmt) stmt()      {}

// GlobalStmt declares names inside a function as module globals.
type GlobalStmt struct {
	SpanVal Span
	Names   []string
}

func (n *GlobalStmt) Span() Span { return n.SpanVal }
func (n *GlobalStmt) node()      {}
func (n *GlobalStmt) stmt()      {}

// ExprStmt wraps an expression used as a statement.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}
