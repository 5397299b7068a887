package compiler

import (
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `( ) [ ] { } , : ; = += -= *= + - * / % == != < <= > >=`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBracket, "["},
		{TokenRBracket, "]"},
		{TokenLBrace, "{"},
		{TokenRBrace, "}"},
		{TokenComma, ","},
		{TokenColon, ":"},
		{TokenSemicolon, ";"},
		{TokenAssign, "="},
		{TokenPlusAssign, "+="},
		{TokenMinusAssign, "-="},
		{TokenStarAssign, "*="},
		{TokenPlus, "+"},
		{TokenMinus, "-"},
		{TokenStar, "*"},
		{TokenSlash, "/"},
		{TokenPercent, "%"},
		{TokenEq, "=="},
		{TokenNotEq, "!="},
		{TokenLT, "<"},
		{TokenLE, "<="},
		{TokenGT, ">"},
		{TokenGE, ">="},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		want  string
	}{
		{"42", TokenInteger, "42"},
		{"0", TokenInteger, "0"},
		{"0xff", TokenInteger, "0xff"},
		{"3.14", TokenFloat, "3.14"},
		{"1e10", TokenFloat, "1e10"},
		{"2.5e-3", TokenFloat, "2.5e-3"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != tc.typ {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.typ)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`""`, ""},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"say \"hi\""`, `say "hi"`},
		{`"back\\slash"`, `back\slash`},
		{`"\x00\xff"`, "\x00\xff"},
		{`"héllo"`, "héllo"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenString {
			t.Errorf("Lexer(%s): type = %v, want STRING (%s)", tc.input, tok.Type, tok.Literal)
			continue
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%s): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerStringErrors(t *testing.T) {
	for _, input := range []string{`"open`, "\"line\nbreak\"", `"\q"`, `"\x4"`} {
		tok := NewLexer(input).NextToken()
		if tok.Type != TokenError {
			t.Errorf("Lexer(%q): type = %v, want ERROR", input, tok.Type)
		}
	}
}

func TestLexerKeywords(t *testing.T) {
	input := "func return if else while for in break continue try catch throw global and or not nil true false name"
	want := []TokenType{
		TokenFunc, TokenReturn, TokenIf, TokenElse, TokenWhile, TokenFor, TokenIn,
		TokenBreak, TokenContinue, TokenTry, TokenCatch, TokenThrow, TokenGlobal,
		TokenAnd, TokenOr, TokenNot, TokenNil, TokenTrue, TokenFalse, TokenIdentifier,
	}
	l := NewLexer(input)
	for i, typ := range want {
		if tok := l.NextToken(); tok.Type != typ {
			t.Errorf("token[%d] = %v, want %v", i, tok.Type, typ)
		}
	}
}

func TestLexerNewlines(t *testing.T) {
	input := "a = 1\n\n\n# comment\nf(1,\n  2)\n[\n]\n"
	var got []TokenType
	for _, tok := range Tokenize(input) {
		got = append(got, tok.Type)
	}
	want := []TokenType{
		TokenIdentifier, TokenAssign, TokenInteger, TokenNewline,
		TokenIdentifier, TokenLParen, TokenInteger, TokenComma, TokenInteger, TokenRParen, TokenNewline,
		TokenLBracket, TokenRBracket, TokenNewline,
		TokenEOF,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexerPositions(t *testing.T) {
	l := NewLexer("x\n  yy")
	x := l.NextToken()
	l.NextToken() // newline
	yy := l.NextToken()
	if x.Pos.Line != 1 || x.Pos.Column != 1 {
		t.Errorf("x at %d:%d, want 1:1", x.Pos.Line, x.Pos.Column)
	}
	if yy.Pos.Line != 2 || yy.Pos.Column != 3 {
		t.Errorf("yy at %d:%d, want 2:3", yy.Pos.Line, yy.Pos.Column)
	}
}

func TestLexerUnexpectedCharacter(t *testing.T) {
	tok := NewLexer("@").NextToken()
	if tok.Type != TokenError {
		t.Errorf("type = %v, want ERROR", tok.Type)
	}
}
