package lexer

import (
	"testing"

	"github.com/funvibe/cxbridge/internal/token"
)

func TestNextToken(t *testing.T) {
	input := `#include <typeinfo>
extern "C" int printf(const char*,...);
struct B : public A {
  template<typename T> void callme(T, U*) { printf(" x %d\n", 42); } // trailing
  /* block */ operator<<=(B&&);
};
 # define X \
   continued
R"(raw "text")" 0x1F 1.5f 'a' ~ ::`

	tests := []struct {
		typ    token.TokenType
		lexeme string
	}{
		{token.EXTERN, "extern"},
		{token.STRING, `"C"`},
		{token.IDENT, "int"},
		{token.IDENT, "printf"},
		{token.LPAREN, "("},
		{token.CONST, "const"},
		{token.IDENT, "char"},
		{token.ASTERISK, "*"},
		{token.COMMA, ","},
		{token.ELLIPSIS, "..."},
		{token.RPAREN, ")"},
		{token.SEMICOLON, ";"},
		{token.STRUCT, "struct"},
		{token.IDENT, "B"},
		{token.COLON, ":"},
		{token.PUBLIC, "public"},
		{token.IDENT, "A"},
		{token.LBRACE, "{"},
		{token.TEMPLATE, "template"},
		{token.LT, "<"},
		{token.TYPENAME, "typename"},
		{token.IDENT, "T"},
		{token.GT, ">"},
		{token.IDENT, "void"},
		{token.IDENT, "callme"},
		{token.LPAREN, "("},
		{token.IDENT, "T"},
		{token.COMMA, ","},
		{token.IDENT, "U"},
		{token.ASTERISK, "*"},
		{token.RPAREN, ")"},
		{token.LBRACE, "{"},
		{token.IDENT, "printf"},
		{token.LPAREN, "("},
		{token.STRING, `" x %d\n"`},
		{token.COMMA, ","},
		{token.INT, "42"},
		{token.RPAREN, ")"},
		{token.SEMICOLON, ";"},
		{token.RBRACE, "}"},
		{token.OPERATOR, "operator"},
		{token.OPERATOR_SYMBOL, "<<="},
		{token.LPAREN, "("},
		{token.IDENT, "B"},
		{token.AND, "&&"},
		{token.RPAREN, ")"},
		{token.SEMICOLON, ";"},
		{token.RBRACE, "}"},
		{token.SEMICOLON, ";"},
		{token.STRING, `R"(raw "text")"`},
		{token.INT, "0x1F"},
		{token.FLOAT, "1.5f"},
		{token.CHAR, "'a'"},
		{token.TILDE, "~"},
		{token.SCOPE, "::"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.typ || tok.Lexeme != tt.lexeme {
			t.Fatalf("tests[%d] - got %s %q, want %s %q", i, tok.Type, tok.Lexeme, tt.typ, tt.lexeme)
		}
	}
}

func TestLiterals(t *testing.T) {
	toks := New(`"a\tb" R"x(q)")x" 'z' '\n' 017 1e3 2'000`).Tokenize()
	want := []interface{}{"a\tb", `q)"`, int64('z'), int64('\n'), int64(15), 1000.0, int64(2000)}
	for i, w := range want {
		if toks[i].Literal != w {
			t.Errorf("token %d literal = %#v, want %#v", i, toks[i].Literal, w)
		}
	}
}

func TestPositions(t *testing.T) {
	toks := New("class A;\n  int x;").Tokenize()
	x := toks[4]
	if x.Lexeme != "x" || x.Line != 2 || x.Column != 7 || x.Offset != 15 {
		t.Errorf("x at %d:%d offset %d", x.Line, x.Column, x.Offset)
	}
}

func TestIllegal(t *testing.T) {
	for _, in := range []string{"@", `"open`, "/* open", "'x"} {
		tok := New(in).NextToken()
		if tok.Type != token.ILLEGAL {
			t.Errorf("%q: got %s", in, tok.Type)
		}
	}
}

func TestHashInsideLineIsNotDirective(t *testing.T) {
	tok := New("a # b").Tokenize()[1]
	if tok.Type != token.ILLEGAL || tok.Lexeme != "#" {
		t.Errorf("got %s %q", tok.Type, tok.Lexeme)
	}
}

func TestTokenStream(t *testing.T) {
	s := NewTokenStream(New("A"))
	if s.Next().Lexeme != "A" || s.Next().Type != token.EOF || s.Next().Type != token.EOF {
		t.Error("stream must end with repeating EOF")
	}
	if s.Source() != "A" {
		t.Errorf("Source() = %q", s.Source())
	}
}
