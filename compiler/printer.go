package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Printer: AST back to Ox source
// ---------------------------------------------------------------------------

// Format renders a program as canonical Ox source. The output parses back to
// an equivalent tree; comments and original layout are not preserved.
func Format(prog *Program) string {
	pr := &printer{}
	pr.stmts(prog.Stmts)
	return pr.b.String()
}

// FormatExpr renders a single expression.
func FormatExpr(e Expr) string {
	pr := &printer{}
	pr.expr(e, 0)
	return pr.b.String()
}

type printer struct {
	b      strings.Builder
	indent int
}

func (pr *printer) line(format string, args ...interface{}) {
	pr.b.WriteString(strings.Repeat("    ", pr.indent))
	fmt.Fprintf(&pr.b, format, args...)
}

func (pr *printer) stmts(stmts []Stmt) {
	for i, s := range stmts {
		// blank line around top-level functions
		if _, ok := s.(*FuncDecl); ok && pr.indent == 0 && i > 0 {
			pr.b.WriteByte('\n')
		}
		pr.stmt(s)
	}
}

func (pr *printer) block(stmts []Stmt) {
	pr.b.WriteString("{\n")
	pr.indent++
	pr.stmts(stmts)
	pr.indent--
	pr.b.WriteString(strings.Repeat("    ", pr.indent))
	pr.b.WriteString("}")
}

func (pr *printer) stmt(s Stmt) {
	switch n := s.(type) {
	case *FuncDecl:
		pr.line("func %s(%s) ", n.Name, strings.Join(n.Params, ", "))
		pr.block(n.Body)
		pr.b.WriteByte('\n')

	case *AssignStmt:
		pr.line("")
		pr.expr(n.Target, 0)
		fmt.Fprintf(&pr.b, " %s ", n.Op)
		pr.expr(n.Value, 0)
		pr.b.WriteByte('\n')

	case *IfStmt:
		pr.line("")
		pr.ifChain(n)
		pr.b.WriteByte('\n')

	case *WhileStmt:
		pr.line("while ")
		pr.expr(n.Cond, 0)
		pr.b.WriteByte(' ')
		pr.block(n.Body)
		pr.b.WriteByte('\n')

	case *ForStmt:
		pr.line("for %s in ", n.Var)
		pr.expr(n.Iter, 0)
		pr.b.WriteByte(' ')
		pr.block(n.Body)
		pr.b.WriteByte('\n')

	case *BreakStmt:
		pr.line("break\n")

	case *ContinueStmt:
		pr.line("continue\n")

	case *ReturnStmt:
		if n.Value == nil {
			pr.line("return\n")
			return
		}
		pr.line("return ")
		pr.expr(n.Value, 0)
		pr.b.WriteByte('\n')

	case *TryStmt:
		pr.line("try ")
		pr.block(n.Body)
		pr.b.WriteString(" catch ")
		if n.CatchVar != "" {
			pr.b.WriteString(n.CatchVar)
			pr.b.WriteByte(' ')
		}
		pr.block(n.Handler)
		pr.b.WriteByte('\n')

	case *ThrowStmt:
		pr.line("throw ")
		pr.expr(n.Value, 0)
		pr.b.WriteByte('\n')

	case *GlobalStmt:
		pr.line("global %s\n", strings.Join(n.Names, ", "))

	case *ExprStmt:
		pr.line("")
		pr.expr(n.Expr, 0)
		pr.b.WriteByte('\n')

	default:
		pr.line("# <unknown statement %T>\n", s)
	}
}

// ifChain prints if/else if/else without the leading indent.
func (pr *printer) ifChain(n *IfStmt) {
	pr.b.WriteString("if ")
	pr.expr(n.Cond, 0)
	pr.b.WriteByte(' ')
	pr.block(n.Then)
	if len(n.Else) == 0 {
		return
	}
	pr.b.WriteString(" else ")
	if len(n.Else) == 1 {
		if elif, ok := n.Else[0].(*IfStmt); ok {
			pr.ifChain(elif)
			return
		}
	}
	pr.block(n.Else)
}

// Operator precedence levels; higher binds tighter.
const (
	precLowest = iota
	precOr
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precUnary
	precPostfix
)

func binaryPrec(op TokenType) int {
	switch op {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEq, TokenNotEq, TokenLT, TokenLE, TokenGT, TokenGE:
		return precCompare
	case TokenPlus, TokenMinus:
		return precAdd
	case TokenStar, TokenSlash, TokenPercent:
		return precMul
	}
	return precLowest
}

func exprPrec(e Expr) int {
	switch n := e.(type) {
	case *BinaryExpr:
		return binaryPrec(n.Op)
	case *UnaryExpr:
		if n.Op == TokenNot {
			return precNot
		}
		return precUnary
	case *IntLiteral:
		if n.Value < 0 {
			return precUnary
		}
	case *FloatLiteral:
		if n.Value < 0 || (n.Value == 0 && strings.HasPrefix(formatFloat(n.Value), "-")) {
			return precUnary
		}
	}
	return precPostfix
}

// expr prints e, parenthesizing when its precedence is below min.
func (pr *printer) expr(e Expr, min int) {
	if exprPrec(e) < min {
		pr.b.WriteByte('(')
		pr.expr(e, precLowest)
		pr.b.WriteByte(')')
		return
	}

	switch n := e.(type) {
	case *IntLiteral:
		pr.b.WriteString(strconv.FormatInt(n.Value, 10))
	case *FloatLiteral:
		pr.b.WriteString(formatFloat(n.Value))
	case *StringLiteral:
		pr.b.WriteString(Quote(n.Value))
	case *BoolLiteral:
		pr.b.WriteString(strconv.FormatBool(n.Value))
	case *NilLiteral:
		pr.b.WriteString("nil")
	case *Name:
		pr.b.WriteString(n.Name)

	case *ListLiteral:
		pr.b.WriteByte('[')
		for i, el := range n.Elements {
			if i > 0 {
				pr.b.WriteString(", ")
			}
			pr.expr(el, precLowest)
		}
		pr.b.WriteByte(']')

	case *DictLiteral:
		pr.b.WriteByte('{')
		for i := range n.Keys {
			if i > 0 {
				pr.b.WriteString(", ")
			}
			pr.expr(n.Keys[i], precLowest)
			pr.b.WriteString(": ")
			pr.expr(n.Values[i], precLowest)
		}
		pr.b.WriteByte('}')

	case *IndexExpr:
		pr.expr(n.Target, precPostfix)
		pr.b.WriteByte('[')
		pr.expr(n.Index, precLowest)
		pr.b.WriteByte(']')

	case *CallExpr:
		pr.expr(n.Func, precPostfix)
		pr.b.WriteByte('(')
		for i, arg := range n.Args {
			if i > 0 {
				pr.b.WriteString(", ")
			}
			pr.expr(arg, precLowest)
		}
		pr.b.WriteByte(')')

	case *UnaryExpr:
		if n.Op == TokenNot {
			pr.b.WriteString("not ")
			pr.expr(n.Operand, precNot)
			return
		}
		pr.b.WriteByte('-')
		// "- -x" must not collapse into a literal or a "--" token sequence
		pr.expr(n.Operand, precPostfix)

	case *BinaryExpr:
		prec := binaryPrec(n.Op)
		pr.expr(n.Left, prec)
		fmt.Fprintf(&pr.b, " %s ", n.Op)
		pr.expr(n.Right, prec+1)

	default:
		fmt.Fprintf(&pr.b, "<unknown expression %T>", e)
	}
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}

// Quote returns s as an Ox string literal. Control characters and bytes that
// are not valid UTF-8 are written as \xHH escapes.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&b, "\\x%02x", s[i])
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\x%02x", r)
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
	return b.String()
}
