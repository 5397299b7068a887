package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Ox lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline // statement separator

	// Literals
	TokenInteger    // 42, 0xff
	TokenFloat      // 3.14, 1.5e10
	TokenString     // "hello"
	TokenIdentifier // foo, Bar

	// Operators
	TokenAssign      // =
	TokenPlusAssign  // +=
	TokenMinusAssign // -=
	TokenStarAssign  // *=
	TokenPlus        // +
	TokenMinus       // -
	TokenStar        // *
	TokenSlash       // /
	TokenPercent     // %
	TokenEq          // ==
	TokenNotEq       // !=
	TokenLT          // <
	TokenLE          // <=
	TokenGT          // >
	TokenGE          // >=

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenColon     // :
	TokenSemicolon // ;

	// Keywords
	TokenFunc
	TokenReturn
	TokenIf
	TokenElse
	TokenWhile
	TokenFor
	TokenIn
	TokenBreak
	TokenContinue
	TokenTry
	TokenCatch
	TokenThrow
	TokenGlobal
	TokenAnd
	TokenOr
	TokenNot
	TokenNil
	TokenTrue
	TokenFalse
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenError:       "ERROR",
	TokenNewline:     "NEWLINE",
	TokenInteger:     "INTEGER",
	TokenFloat:       "FLOAT",
	TokenString:      "STRING",
	TokenIdentifier:  "IDENTIFIER",
	TokenAssign:      "=",
	TokenPlusAssign:  "+=",
	TokenMinusAssign: "-=",
	TokenStarAssign:  "*=",
	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenStar:        "*",
	TokenSlash:       "/",
	TokenPercent:     "%",
	TokenEq:          "==",
	TokenNotEq:       "!=",
	TokenLT:          "<",
	TokenLE:          "<=",
	TokenGT:          ">",
	TokenGE:          ">=",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenLBracket:    "[",
	TokenRBracket:    "]",
	TokenLBrace:      "{",
	TokenRBrace:      "}",
	TokenComma:       ",",
	TokenColon:       ":",
	TokenSemicolon:   ";",
	TokenFunc:        "func",
	TokenReturn:      "return",
	TokenIf:          "if",
	TokenElse:        "else",
	TokenWhile:       "while",
	TokenFor:         "for",
	TokenIn:          "in",
	TokenBreak:       "break",
	TokenContinue:    "continue",
	TokenTry:         "try",
	TokenCatch:       "catch",
	TokenThrow:       "throw",
	TokenGlobal:      "global",
	TokenAnd:         "and",
	TokenOr:          "or",
	TokenNot:         "not",
	TokenNil:         "nil",
	TokenTrue:        "true",
	TokenFalse:       "false",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text (decoded value for strings)
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"func":     TokenFunc,
	"return":   TokenReturn,
	"if":       TokenIf,
	"else":     TokenElse,
	"while":    TokenWhile,
	"for":      TokenFor,
	"in":       TokenIn,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"try":      TokenTry,
	"catch":    TokenCatch,
	"throw":    TokenThrow,
	"global":   TokenGlobal,
	"and":      TokenAnd,
	"or":       TokenOr,
	"not":      TokenNot,
	"nil":      TokenNil,
	"true":     TokenTrue,
	"false":    TokenFalse,
}

// IsReserved reports whether name is an Ox keyword and therefore cannot be
// used as an identifier.
func IsReserved(name string) bool {
	_, ok := reservedWords[name]
	return ok
}
