package token

import "fmt"

type TokenType string

type Token struct {
	Type    TokenType
	Lexeme  string
	Literal interface{}
	Line    int
	Column  int
	Offset  int // byte offset of the first character in the input
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %d:%d", t.Type, t.Lexeme, t.Line, t.Column)
}

const (
	ILLEGAL TokenType = "ILLEGAL"
	EOF     TokenType = "EOF"

	IDENT  TokenType = "IDENT"
	INT    TokenType = "INT"
	FLOAT  TokenType = "FLOAT"
	STRING TokenType = "STRING"
	CHAR   TokenType = "CHAR"

	LBRACE    TokenType = "{"
	RBRACE    TokenType = "}"
	LPAREN    TokenType = "("
	RPAREN    TokenType = ")"
	LBRACKET  TokenType = "["
	RBRACKET  TokenType = "]"
	SEMICOLON TokenType = ";"
	COLON     TokenType = ":"
	SCOPE     TokenType = "::"
	COMMA     TokenType = ","
	DOT       TokenType = "."
	ELLIPSIS  TokenType = "..."
	LT        TokenType = "<"
	GT        TokenType = ">"
	ASSIGN    TokenType = "="
	ASTERISK  TokenType = "*"
	AMPERSAND TokenType = "&"
	AND       TokenType = "&&"
	TILDE     TokenType = "~"
	ARROW     TokenType = "->"
	// OPERATOR_SYMBOL is any other punctuator (+, <<=, ==, ...). Only the
	// name of an operator function uses them in declarations.
	OPERATOR_SYMBOL TokenType = "OP"

	// Keywords
	CLASS     TokenType = "class"
	STRUCT    TokenType = "struct"
	UNION     TokenType = "union"
	ENUM      TokenType = "enum"
	NAMESPACE TokenType = "namespace"
	TEMPLATE  TokenType = "template"
	TYPENAME  TokenType = "typename"
	PUBLIC    TokenType = "public"
	PRIVATE   TokenType = "private"
	PROTECTED TokenType = "protected"
	VIRTUAL   TokenType = "virtual"
	STATIC    TokenType = "static"
	CONST     TokenType = "const"
	VOLATILE  TokenType = "volatile"
	OPERATOR  TokenType = "operator"
	EXTERN    TokenType = "extern"
	INLINE    TokenType = "inline"
	EXPLICIT  TokenType = "explicit"
	NOEXCEPT  TokenType = "noexcept"
	OVERRIDE  TokenType = "override"
	FINAL     TokenType = "final"
	DELETE    TokenType = "delete"
	DEFAULT   TokenType = "default"
	NEW       TokenType = "new"
	USING     TokenType = "using"
	TYPEDEF   TokenType = "typedef"
	FRIEND    TokenType = "friend"
	CONSTEXPR TokenType = "constexpr"
)

var keywords = map[string]TokenType{
	"class":     CLASS,
	"struct":    STRUCT,
	"union":     UNION,
	"enum":      ENUM,
	"namespace": NAMESPACE,
	"template":  TEMPLATE,
	"typename":  TYPENAME,
	"public":    PUBLIC,
	"private":   PRIVATE,
	"protected": PROTECTED,
	"virtual":   VIRTUAL,
	"static":    STATIC,
	"const":     CONST,
	"volatile":  VOLATILE,
	"operator":  OPERATOR,
	"extern":    EXTERN,
	"inline":    INLINE,
	"explicit":  EXPLICIT,
	"noexcept":  NOEXCEPT,
	"override":  OVERRIDE,
	"final":     FINAL,
	"delete":    DELETE,
	"default":   DEFAULT,
	"new":       NEW,
	"using":     USING,
	"typedef":   TYPEDEF,
	"friend":    FRIEND,
	"constexpr": CONSTEXPR,
}

// LookupIdent returns the keyword type of ident, or IDENT.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}
