package compiler

import (
	"errors"
	"strings"
	"testing"
)

func parseExpr(t *testing.T, input string) Expr {
	t.Helper()
	p := NewParser(input)
	expr := p.ParseExpression()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse %q: errors: %v", input, p.Errors())
	}
	if expr == nil {
		t.Fatalf("parse %q: nil expression", input)
	}
	return expr
}

func mustParse(t *testing.T, input string) *Program {
	t.Helper()
	prog, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, input)
	}
	return prog
}

func TestParserLiterals(t *testing.T) {
	tests := []struct {
		input string
		check func(Expr) bool
		desc  string
	}{
		{"42", func(e Expr) bool { return e.(*IntLiteral).Value == 42 }, "integer"},
		{"-5", func(e Expr) bool { return e.(*IntLiteral).Value == -5 }, "negative integer"},
		{"0x10", func(e Expr) bool { return e.(*IntLiteral).Value == 16 }, "hex integer"},
		{"3.14", func(e Expr) bool { return e.(*FloatLiteral).Value == 3.14 }, "float"},
		{`"hello"`, func(e Expr) bool { return e.(*StringLiteral).Value == "hello" }, "string"},
		{"true", func(e Expr) bool { return e.(*BoolLiteral).Value }, "true"},
		{"false", func(e Expr) bool { return !e.(*BoolLiteral).Value }, "false"},
		{"nil", func(e Expr) bool { _, ok := e.(*NilLiteral); return ok }, "nil"},
		{"[1, 2, 3]", func(e Expr) bool { return len(e.(*ListLiteral).Elements) == 3 }, "list"},
		{"[]", func(e Expr) bool { return len(e.(*ListLiteral).Elements) == 0 }, "empty list"},
		{`{"a": 1, "b": 2}`, func(e Expr) bool { return len(e.(*DictLiteral).Keys) == 2 }, "dict"},
		{"{}", func(e Expr) bool { return len(e.(*DictLiteral).Keys) == 0 }, "empty dict"},
	}

	for _, tc := range tests {
		if !tc.check(parseExpr(t, tc.input)) {
			t.Errorf("%s: check failed for %q", tc.desc, tc.input)
		}
	}
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string // fully parenthesized by FormatExpr's minimal form
	}{
		{"1 + 2 * 3", "1 + 2 * 3"},
		{"(1 + 2) * 3", "(1 + 2) * 3"},
		{"a or b and c", "a or b and c"},
		{"(a or b) and c", "(a or b) and c"},
		{"not a == b", "not a == b"},
		{"a - (b - c)", "a - (b - c)"},
		{"a - b - c", "a - b - c"},
		{"-x * y", "-x * y"},
		{"-(x * y)", "-(x * y)"},
		{"f(x)[0](y)", "f(x)[0](y)"},
	}

	for _, tc := range tests {
		got := FormatExpr(parseExpr(t, tc.input))
		if got != tc.want {
			t.Errorf("FormatExpr(parse(%q)) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParserBinaryShape(t *testing.T) {
	e := parseExpr(t, "1 + 2 * 3")
	bin, ok := e.(*BinaryExpr)
	if !ok || bin.Op != TokenPlus {
		t.Fatalf("expected + at root, got %T", e)
	}
	right, ok := bin.Right.(*BinaryExpr)
	if !ok || right.Op != TokenStar {
		t.Fatalf("expected * on the right, got %T", bin.Right)
	}
}

func TestParserStatements(t *testing.T) {
	src := `
x = 1
x += 2; y = [1, 2]
y[0] = 5
func add(a, b) {
    global total
    total = a + b
    return total
}
if x > 1 {
    print("big")
} else if x == 1 {
    print("one")
} else {
    print("small")
}
while x < 10 { x = x + 1 }
for item in y {
    if item == 5 { continue }
    break
}
try {
    throw "boom"
} catch err {
    print(err)
}
return x
`
	prog := mustParse(t, src)
	kinds := []string{}
	for _, s := range prog.Stmts {
		switch s.(type) {
		case *AssignStmt:
			kinds = append(kinds, "assign")
		case *FuncDecl:
			kinds = append(kinds, "func")
		case *IfStmt:
			kinds = append(kinds, "if")
		case *WhileStmt:
			kinds = append(kinds, "while")
		case *ForStmt:
			kinds = append(kinds, "for")
		case *TryStmt:
			kinds = append(kinds, "try")
		case *ReturnStmt:
			kinds = append(kinds, "return")
		default:
			kinds = append(kinds, "other")
		}
	}
	want := "assign assign assign assign func if while for try return"
	if got := strings.Join(kinds, " "); got != want {
		t.Errorf("statement kinds = %q, want %q", got, want)
	}

	fn := prog.Funcs()[0]
	if fn.Name != "add" || len(fn.Params) != 2 {
		t.Errorf("func = %s(%v), want add(a, b)", fn.Name, fn.Params)
	}
	ifs := prog.Stmts[5].(*IfStmt)
	if len(ifs.Else) != 1 {
		t.Fatalf("else-if chain not nested: %d else statements", len(ifs.Else))
	}
	if _, ok := ifs.Else[0].(*IfStmt); !ok {
		t.Errorf("else branch = %T, want *IfStmt", ifs.Else[0])
	}
	try := prog.Stmts[8].(*TryStmt)
	if try.CatchVar != "err" {
		t.Errorf("catch var = %q, want err", try.CatchVar)
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		input string
		msg   string
	}{
		{"x = ", "unexpected"},
		{"f(1 = 2", "expected"},
		{"1 + 2 = 3", "cannot assign"},
		{"if x { func g() {} }", "top level"},
		{"func (a) {}", "function name"},
		{"x = 1 y = 2", "after statement"},
		{"}", "unexpected }"},
		{`s = "open`, "unterminated"},
	}

	for _, tc := range tests {
		_, err := Parse(tc.input)
		if err == nil {
			t.Errorf("Parse(%q): expected error", tc.input)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Parse(%q): error type %T, want *ParseError", tc.input, err)
			continue
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("Parse(%q): error %q does not mention %q", tc.input, err, tc.msg)
		}
	}
}

func TestParseErrorFilename(t *testing.T) {
	_, err := ParseFile("prog.ox", "x = = 1")
	if err == nil || !strings.HasPrefix(err.Error(), "prog.ox: line 1:") {
		t.Errorf("error = %v, want prefix %q", err, "prog.ox: line 1:")
	}
}

func TestFormatRoundTrip(t *testing.T) {
	inputs := []string{
		"x = 1\n",
		"x = -1.5e-7\ny = \"tab\\there\\x01\"\n",
		"func f(a, b) {\n    return a * (b + 1)\n}\n",
		"if a {\n    b = 1\n} else if c {\n    b = 2\n} else {\n    b = 3\n}\n",
		"for k in keys(d) {\n    d[k] -= 1\n}\n",
		"try {\n    throw [1, {\"k\": nil}]\n} catch {\n    x = not true or false\n}\n",
		"while i < 10 {\n    i *= 2\n    if i == 4 {\n        continue\n    }\n}\n",
		"x = a - -1\ny = - -a\nz = 2.0\n",
	}

	for _, in := range inputs {
		prog := mustParse(t, in)
		out := Format(prog)
		again := Format(mustParse(t, out))
		if out != again {
			t.Errorf("format not stable:\nfirst:\n%s\nsecond:\n%s", out, again)
		}
	}
}

func TestFormatCanonical(t *testing.T) {
	prog := mustParse(t, "func f(x){return x}\nif a{b=1}else{b=2}")
	want := "func f(x) {\n    return x\n}\nif a {\n    b = 1\n} else {\n    b = 2\n}\n"
	if got := Format(prog); got != want {
		t.Errorf("Format =\n%s\nwant\n%s", got, want)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", `"plain"`},
		{"a\"b", `"a\"b"`},
		{"line\n", `"line\n"`},
		{"\x01", `"\x01"`},
		{"\xff", `"\xff"`},
		{"ünï", `"ünï"`},
	}
	for _, tc := range tests {
		if got := Quote(tc.in); got != tc.want {
			t.Errorf("Quote(%q) = %s, want %s", tc.in, got, tc.want)
		}
		tok := NewLexer(Quote(tc.in)).NextToken()
		if tok.Literal != tc.in {
			t.Errorf("lexing Quote(%q) = %q", tc.in, tok.Literal)
		}
	}
}

func TestIdentifiers(t *testing.T) {
	prog := mustParse(t, `
func f(a) {
    global g
    for i in a { x = i }
    try { y = 1 } catch e { }
}
z = f([1])
`)
	ids := Identifiers(prog)
	for _, name := range []string{"f", "a", "g", "i", "x", "y", "e", "z"} {
		if !ids[name] {
			t.Errorf("Identifiers missing %q", name)
		}
	}
}
