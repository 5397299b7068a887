package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Ox
// ---------------------------------------------------------------------------

// SyntaxError is a single parse diagnostic.
type SyntaxError struct {
	Pos Position
	Msg string
}

func (e SyntaxError) String() string {
	return fmt.Sprintf("line %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ParseError reports that the input is not a well-formed Ox program.
type ParseError struct {
	Filename string
	Errors   []SyntaxError
}

func (e *ParseError) Error() string {
	if len(e.Errors) == 0 {
		return "parse error"
	}
	var b strings.Builder
	if e.Filename != "" {
		b.WriteString(e.Filename)
		b.WriteString(": ")
	}
	b.WriteString(e.Errors[0].String())
	if n := len(e.Errors) - 1; n > 0 {
		fmt.Fprintf(&b, " (and %d more)", n)
	}
	return b.String()
}

// Parser parses Ox source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []SyntaxError
	prevEnd   Position
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete Ox program.
func Parse(input string) (*Program, error) {
	return ParseFile("", input)
}

// ParseFile parses a complete Ox program, attributing errors to filename.
func ParseFile(filename, input string) (*Program, error) {
	p := NewParser(input)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, &ParseError{Filename: filename, Errors: errs}
	}
	return prog, nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.prevEnd = p.curToken.Pos
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.peekToken.Type == TokenError {
		p.errors = append(p.errors, SyntaxError{Pos: p.peekToken.Pos, Msg: p.peekToken.Literal})
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken.Type)
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	if p.curToken.Type == TokenError {
		// already reported by the lexer
		return
	}
	p.errors = append(p.errors, SyntaxError{Pos: p.curToken.Pos, Msg: fmt.Sprintf(format, args...)})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []SyntaxError {
	return p.errors
}

func (p *Parser) span(start Position) Span {
	return Span{Start: start, End: p.prevEnd}
}

// skipSeparators consumes newlines and semicolons.
func (p *Parser) skipSeparators() {
	for p.curTokenIs(TokenNewline) || p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
}

// synchronize skips to the start of the next statement after an error.
func (p *Parser) synchronize() {
	for !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenNewline) &&
		!p.curTokenIs(TokenSemicolon) && !p.curTokenIs(TokenRBrace) {
		p.nextToken()
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses statements until EOF.
func (p *Parser) ParseProgram() *Program {
	prog := &Program{}
	p.skipSeparators()
	for !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenRBrace) {
			p.errorf("unexpected }")
			p.nextToken()
			p.skipSeparators()
			continue
		}
		stmt := p.parseStatement(true)
		if stmt != nil {
			prog.Stmts = append(prog.Stmts, stmt)
		}
		p.endStatement()
	}
	return prog
}

// endStatement requires a separator, closing brace or EOF after a statement.
func (p *Parser) endStatement() {
	switch p.curToken.Type {
	case TokenNewline, TokenSemicolon:
		p.skipSeparators()
	case TokenRBrace, TokenEOF:
	default:
		p.errorf("unexpected %s after statement", p.curToken.Type)
		p.synchronize()
		p.skipSeparators()
	}
}

// parseBlock parses { stmts }.
func (p *Parser) parseBlock() []Stmt {
	if !p.expect(TokenLBrace) {
		p.synchronize()
		return nil
	}
	stmts := []Stmt{}
	p.skipSeparators()
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		stmt := p.parseStatement(false)
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		p.endStatement()
	}
	p.expect(TokenRBrace)
	return stmts
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement(topLevel bool) Stmt {
	switch p.curToken.Type {
	case TokenFunc:
		if !topLevel {
			p.errorf("func declarations are only allowed at top level")
		}
		return p.parseFunc()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenFor:
		return p.parseFor()
	case TokenBreak:
		start := p.curToken.Pos
		p.nextToken()
		return &BreakStmt{SpanVal: p.span(start)}
	case TokenContinue:
		start := p.curToken.Pos
		p.nextToken()
		return &ContinueStmt{SpanVal: p.span(start)}
	case TokenReturn:
		return p.parseReturn()
	case TokenTry:
		return p.parseTry()
	case TokenThrow:
		start := p.curToken.Pos
		p.nextToken()
		value := p.parseExpression()
		if value == nil {
			return nil
		}
		return &ThrowStmt{SpanVal: p.span(start), Value: value}
	case TokenGlobal:
		return p.parseGlobal()
	}
	return p.parseSimpleStatement()
}

func (p *Parser) parseFunc() Stmt {
	start := p.curToken.Pos
	p.nextToken() // func

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected function name, got %s", p.curToken.Type)
		p.synchronize()
		return nil
	}
	fn := &FuncDecl{Name: p.curToken.Literal}
	p.nextToken()

	if !p.expect(TokenLParen) {
		p.synchronize()
		return nil
	}
	fn.Params = []string{}
	for !p.curTokenIs(TokenRParen) {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name, got %s", p.curToken.Type)
			p.synchronize()
			return nil
		}
		fn.Params = append(fn.Params, p.curToken.Literal)
		p.nextToken()
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRParen) {
			p.errorf("expected , or ) in parameter list, got %s", p.curToken.Type)
			p.synchronize()
			return nil
		}
	}
	p.nextToken() // )

	fn.Body = p.parseBlock()
	fn.SpanVal = p.span(start)
	return fn
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // if

	cond := p.parseExpression()
	if cond == nil {
		p.synchronize()
		return nil
	}
	stmt := &IfStmt{Cond: cond, Then: p.parseBlock()}

	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if p.curTokenIs(TokenIf) {
			elif := p.parseIf()
			if elif != nil {
				stmt.Else = []Stmt{elif}
			}
		} else {
			stmt.Else = p.parseBlock()
		}
	}
	stmt.SpanVal = p.span(start)
	return stmt
}

func (p *Parser) parseWhile() Stmt {
	start := p.curToken.Pos
	p.nextToken() // while

	cond := p.parseExpression()
	if cond == nil {
		p.synchronize()
		return nil
	}
	body := p.parseBlock()
	return &WhileStmt{SpanVal: p.span(start), Cond: cond, Body: body}
}

func (p *Parser) parseFor() Stmt {
	start := p.curToken.Pos
	p.nextToken() // for

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected loop variable, got %s", p.curToken.Type)
		p.synchronize()
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	if !p.expect(TokenIn) {
		p.synchronize()
		return nil
	}
	iter := p.parseExpression()
	if iter == nil {
		p.synchronize()
		return nil
	}
	body := p.parseBlock()
	return &ForStmt{SpanVal: p.span(start), Var: name, Iter: iter, Body: body}
}

func (p *Parser) parseReturn() Stmt {
	start := p.curToken.Pos
	p.nextToken() // return

	switch p.curToken.Type {
	case TokenNewline, TokenSemicolon, TokenRBrace, TokenEOF:
		return &ReturnStmt{SpanVal: p.span(start)}
	}
	value := p.parseExpression()
	if value == nil {
		return nil
	}
	return &ReturnStmt{SpanVal: p.span(start), Value: value}
}

func (p *Parser) parseTry() Stmt {
	start := p.curToken.Pos
	p.nextToken() // try

	stmt := &TryStmt{Body: p.parseBlock()}
	if !p.expect(TokenCatch) {
		p.synchronize()
		return nil
	}
	if p.curTokenIs(TokenIdentifier) {
		stmt.CatchVar = p.curToken.Literal
		p.nextToken()
	}
	stmt.Handler = p.parseBlock()
	stmt.SpanVal = p.span(start)
	return stmt
}

func (p *Parser) parseGlobal() Stmt {
	start := p.curToken.Pos
	p.nextToken() // global

	stmt := &GlobalStmt{}
	for {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected name in global statement, got %s", p.curToken.Type)
			p.synchronize()
			return nil
		}
		stmt.Names = append(stmt.Names, p.curToken.Literal)
		p.nextToken()
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	stmt.SpanVal = p.span(start)
	return stmt
}

// parseSimpleStatement parses an expression statement or an assignment.
func (p *Parser) parseSimpleStatement() Stmt {
	start := p.curToken.Pos
	expr := p.parseExpression()
	if expr == nil {
		p.synchronize()
		return nil
	}

	switch p.curToken.Type {
	case TokenAssign, TokenPlusAssign, TokenMinusAssign, TokenStarAssign:
		op := p.curToken.Type
		switch expr.(type) {
		case *Name, *IndexExpr:
		default:
			p.errorf("cannot assign to %s", describeExpr(expr))
			p.synchronize()
			return nil
		}
		p.nextToken()
		value := p.parseExpression()
		if value == nil {
			p.synchronize()
			return nil
		}
		return &AssignStmt{SpanVal: p.span(start), Target: expr, Op: op, Value: value}
	}

	return &ExprStmt{SpanVal: p.span(start), Expr: expr}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseExpression()
}

func (p *Parser) parseExpression() Expr {
	return p.parseOr()
}

func (p *Parser) parseOr() Expr {
	left := p.parseAnd()
	for left != nil && p.curTokenIs(TokenOr) {
		start := left.Span().Start
		p.nextToken()
		right := p.parseAnd()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: p.span(start), Op: TokenOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() Expr {
	left := p.parseNot()
	for left != nil && p.curTokenIs(TokenAnd) {
		start := left.Span().Start
		p.nextToken()
		right := p.parseNot()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: p.span(start), Op: TokenAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseNot() Expr {
	if p.curTokenIs(TokenNot) {
		start := p.curToken.Pos
		p.nextToken()
		operand := p.parseNot()
		if operand == nil {
			return nil
		}
		return &UnaryExpr{SpanVal: p.span(start), Op: TokenNot, Operand: operand}
	}
	return p.parseComparison()
}

func isComparison(t TokenType) bool {
	switch t {
	case TokenEq, TokenNotEq, TokenLT, TokenLE, TokenGT, TokenGE:
		return true
	}
	return false
}

func (p *Parser) parseComparison() Expr {
	left := p.parseAdditive()
	for left != nil && isComparison(p.curToken.Type) {
		op := p.curToken.Type
		start := left.Span().Start
		p.nextToken()
		right := p.parseAdditive()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: p.span(start), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for left != nil && (p.curTokenIs(TokenPlus) || p.curTokenIs(TokenMinus)) {
		op := p.curToken.Type
		start := left.Span().Start
		p.nextToken()
		right := p.parseMultiplicative()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: p.span(start), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() Expr {
	left := p.parseUnary()
	for left != nil && (p.curTokenIs(TokenStar) || p.curTokenIs(TokenSlash) || p.curTokenIs(TokenPercent)) {
		op := p.curToken.Type
		start := left.Span().Start
		p.nextToken()
		right := p.parseUnary()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: p.span(start), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	if p.curTokenIs(TokenMinus) {
		start := p.curToken.Pos
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		// Fold negative numeric literals so they round-trip through the printer.
		switch lit := operand.(type) {
		case *IntLiteral:
			lit.Value = -lit.Value
			lit.SpanVal = p.span(start)
			return lit
		case *FloatLiteral:
			lit.Value = -lit.Value
			lit.SpanVal = p.span(start)
			return lit
		}
		return &UnaryExpr{SpanVal: p.span(start), Op: TokenMinus, Operand: operand}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	expr := p.parsePrimary()
	for expr != nil {
		start := expr.Span().Start
		switch p.curToken.Type {
		case TokenLParen:
			p.nextToken()
			args := p.parseExprList(TokenRParen)
			if args == nil {
				return nil
			}
			expr = &CallExpr{SpanVal: p.span(start), Func: expr, Args: args}
		case TokenLBracket:
			p.nextToken()
			index := p.parseExpression()
			if index == nil || !p.expect(TokenRBracket) {
				return nil
			}
			expr = &IndexExpr{SpanVal: p.span(start), Target: expr, Index: index}
		default:
			return expr
		}
	}
	return expr
}

// parseExprList parses comma-separated expressions up to and including the
// closing token. Returns nil on error and an empty slice for no elements.
func (p *Parser) parseExprList(closing TokenType) []Expr {
	list := []Expr{}
	for !p.curTokenIs(closing) {
		e := p.parseExpression()
		if e == nil {
			return nil
		}
		list = append(list, e)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(closing) {
			p.errorf("expected , or %s, got %s", closing, p.curToken.Type)
			return nil
		}
	}
	p.nextToken() // closing
	return list
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	start := tok.Pos

	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			p.errors = append(p.errors, SyntaxError{Pos: start, Msg: fmt.Sprintf("invalid integer %q", tok.Literal)})
			return nil
		}
		return &IntLiteral{SpanVal: p.span(start), Value: v}

	case TokenFloat:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errors = append(p.errors, SyntaxError{Pos: start, Msg: fmt.Sprintf("invalid float %q", tok.Literal)})
			return nil
		}
		return &FloatLiteral{SpanVal: p.span(start), Value: v}

	case TokenString:
		p.nextToken()
		return &StringLiteral{SpanVal: p.span(start), Value: tok.Literal}

	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{SpanVal: p.span(start), Value: tok.Type == TokenTrue}

	case TokenNil:
		p.nextToken()
		return &NilLiteral{SpanVal: p.span(start)}

	case TokenIdentifier:
		p.nextToken()
		return &Name{SpanVal: p.span(start), Name: tok.Literal}

	case TokenLParen:
		p.nextToken()
		inner := p.parseExpression()
		if inner == nil || !p.expect(TokenRParen) {
			return nil
		}
		return inner

	case TokenLBracket:
		p.nextToken()
		elems := p.parseExprList(TokenRBracket)
		if elems == nil {
			return nil
		}
		return &ListLiteral{SpanVal: p.span(start), Elements: elems}

	case TokenLBrace:
		return p.parseDict()
	}

	p.errorf("unexpected %s", tok.Type)
	return nil
}

func (p *Parser) parseDict() Expr {
	start := p.curToken.Pos
	p.nextToken() // {

	dict := &DictLiteral{Keys: []Expr{}, Values: []Expr{}}
	p.skipSeparators()
	for !p.curTokenIs(TokenRBrace) {
		key := p.parseExpression()
		if key == nil || !p.expect(TokenColon) {
			return nil
		}
		value := p.parseExpression()
		if value == nil {
			return nil
		}
		dict.Keys = append(dict.Keys, key)
		dict.Values = append(dict.Values, value)
		p.skipSeparators()
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			p.skipSeparators()
		} else if !p.curTokenIs(TokenRBrace) {
			p.errorf("expected , or } in dict literal, got %s", p.curToken.Type)
			return nil
		}
	}
	p.nextToken() // }
	dict.SpanVal = p.span(start)
	return dict
}

func describeExpr(e Expr) string {
	switch e.(type) {
	case *CallExpr:
		return "function call"
	case *BinaryExpr, *UnaryExpr:
		return "operator expression"
	case *ListLiteral, *DictLiteral:
		return "literal"
	}
	return "expression"
}
