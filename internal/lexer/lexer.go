package lexer

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/funvibe/cxbridge/internal/token"
)

type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           rune // current char under examination
	line         int  // current line number
	column       int  // current column number
	lineStart    bool // only whitespace seen since the last newline
}

func New(input string) *Lexer {
	l := &Lexer{input: input, line: 1, column: 0, lineStart: true}
	l.readChar()
	return l
}

// Input returns the source text being scanned.
func (l *Lexer) Input() string {
	return l.input
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
		l.lineStart = true
	} else if l.ch != 0 && !unicode.IsSpace(l.ch) {
		l.lineStart = false
	}

	if l.readPosition >= len(l.input) {
		l.ch = 0
		l.position = len(l.input)
		l.readPosition = len(l.input) + 1
		l.column++
		return
	}

	r, w := utf8.DecodeRuneInString(l.input[l.readPosition:])
	l.ch = r
	l.position = l.readPosition
	l.readPosition += w
	l.column++
}

func (l *Lexer) peekChar() rune {
	if l.readPosition >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPosition:])
	return r
}

// punctuators, longest first. '>' is never combined so that nested
// template argument lists close one bracket per token.
var punctuators = []string{
	"<<=", "...", "->*", "<=>",
	"::", "->", "&&", "||", "++", "--", "<<", "<=", "==", "!=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", ".*",
}

var single = map[rune]token.TokenType{
	'{': token.LBRACE,
	'}': token.RBRACE,
	'(': token.LPAREN,
	')': token.RPAREN,
	'[': token.LBRACKET,
	']': token.RBRACKET,
	';': token.SEMICOLON,
	':': token.COLON,
	',': token.COMMA,
	'.': token.DOT,
	'<': token.LT,
	'>': token.GT,
	'=': token.ASSIGN,
	'*': token.ASTERISK,
	'&': token.AMPERSAND,
	'~': token.TILDE,
}

func (l *Lexer) NextToken() token.Token {
	if illegal, ok := l.skipWhitespace(); !ok {
		return illegal
	}

	line, col, off := l.line, l.column, l.position

	switch {
	case l.ch == 0:
		return token.Token{Type: token.EOF, Line: line, Column: col, Offset: len(l.input)}
	case isLetter(l.ch):
		ident := l.readIdentifier()
		if ident == "R" && l.ch == '"' {
			return l.readRawString(line, col, off)
		}
		return token.Token{Type: token.LookupIdent(ident), Lexeme: ident, Literal: ident, Line: line, Column: col, Offset: off}
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return l.readNumber(line, col, off)
	case l.ch == '"':
		return l.readString(line, col, off)
	case l.ch == '\'':
		return l.readCharLiteral(line, col, off)
	}

	rest := l.input[l.position:]
	for _, p := range punctuators {
		if strings.HasPrefix(rest, p) {
			for range p {
				l.readChar()
			}
			typ := token.OPERATOR_SYMBOL
			switch p {
			case "::":
				typ = token.SCOPE
			case "->":
				typ = token.ARROW
			case "&&":
				typ = token.AND
			case "...":
				typ = token.ELLIPSIS
			}
			return token.Token{Type: typ, Lexeme: p, Literal: p, Line: line, Column: col, Offset: off}
		}
	}

	ch := l.ch
	l.readChar()
	typ, ok := single[ch]
	if !ok {
		if strings.ContainsRune("+-/%!^|?", ch) {
			typ = token.OPERATOR_SYMBOL
		} else {
			typ = token.ILLEGAL
		}
	}
	return token.Token{Type: typ, Lexeme: string(ch), Literal: string(ch), Line: line, Column: col, Offset: off}
}

// Tokenize scans the whole input, EOF included.
func (l *Lexer) Tokenize() []token.Token {
	var out []token.Token
	for {
		tok := l.NextToken()
		out = append(out, tok)
		if tok.Type == token.EOF {
			return out
		}
	}
}

// skipWhitespace skips blanks, comments and preprocessor lines. It returns
// an ILLEGAL token for an unterminated block comment.
func (l *Lexer) skipWhitespace() (token.Token, bool) {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n' || l.ch == '\f' || l.ch == '\v' {
			l.readChar()
		}

		if l.ch == '#' && l.lineStart {
			for l.ch != '\n' && l.ch != 0 {
				if l.ch == '\\' && l.peekChar() == '\n' {
					l.readChar()
				}
				l.readChar()
			}
			continue
		}

		if l.ch == '/' {
			if l.peekChar() == '/' {
				for l.ch != '\n' && l.ch != 0 {
					l.readChar()
				}
				continue
			} else if l.peekChar() == '*' {
				line, col, off := l.line, l.column, l.position
				l.readChar() // consume /
				l.readChar() // consume *
				for {
					if l.ch == 0 {
						return token.Token{Type: token.ILLEGAL, Lexeme: "/*", Literal: "unterminated comment", Line: line, Column: col, Offset: off}, false
					}
					if l.ch == '*' && l.peekChar() == '/' {
						l.readChar() // consume *
						l.readChar() // consume /
						break
					}
					l.readChar()
				}
				continue
			}
		}
		return token.Token{}, true
	}
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber(line, col, off int) token.Token {
	start := l.position
	isFloat := false
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) || l.ch == '\'' {
			l.readChar()
		}
	} else {
		for isDigit(l.ch) || l.ch == '\'' || l.ch == '.' || l.ch == 'e' || l.ch == 'E' ||
			((l.ch == '+' || l.ch == '-') && (l.input[l.position-1] == 'e' || l.input[l.position-1] == 'E')) {
			if l.ch == '.' || l.ch == 'e' || l.ch == 'E' {
				isFloat = true
			}
			l.readChar()
		}
	}
	digits := strings.ReplaceAll(l.input[start:l.position], "'", "")
	for strings.ContainsRune("uUlLfF", l.ch) && l.ch != 0 {
		if l.ch == 'f' || l.ch == 'F' {
			isFloat = true
		}
		l.readChar()
	}
	lexeme := l.input[start:l.position]

	if isFloat {
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return token.Token{Type: token.ILLEGAL, Lexeme: lexeme, Literal: "malformed number", Line: line, Column: col, Offset: off}
		}
		return token.Token{Type: token.FLOAT, Lexeme: lexeme, Literal: v, Line: line, Column: col, Offset: off}
	}
	v, err := strconv.ParseUint(digits, 0, 64)
	if err != nil {
		return token.Token{Type: token.ILLEGAL, Lexeme: lexeme, Literal: "malformed number", Line: line, Column: col, Offset: off}
	}
	return token.Token{Type: token.INT, Lexeme: lexeme, Literal: int64(v), Line: line, Column: col, Offset: off}
}

func (l *Lexer) readString(line, col, off int) token.Token {
	start := l.position
	l.readChar() // opening quote
	for l.ch != '"' {
		if l.ch == 0 || l.ch == '\n' {
			return token.Token{Type: token.ILLEGAL, Lexeme: l.input[start:l.position], Literal: "unterminated string", Line: line, Column: col, Offset: off}
		}
		if l.ch == '\\' {
			l.readChar()
		}
		l.readChar()
	}
	l.readChar() // closing quote
	lexeme := l.input[start:l.position]
	value, err := strconv.Unquote(lexeme)
	if err != nil {
		value = lexeme[1 : len(lexeme)-1]
	}
	return token.Token{Type: token.STRING, Lexeme: lexeme, Literal: value, Line: line, Column: col, Offset: off}
}

// readRawString reads R"delim(...)delim"; the leading R is already consumed.
func (l *Lexer) readRawString(line, col, off int) token.Token {
	rest := l.input[l.position+1:]
	open := strings.IndexByte(rest, '(')
	if open < 0 || open > 16 {
		return token.Token{Type: token.ILLEGAL, Lexeme: "R\"", Literal: "malformed raw string", Line: line, Column: col, Offset: off}
	}
	closing := ")" + rest[:open] + "\""
	end := strings.Index(rest[open+1:], closing)
	if end < 0 {
		return token.Token{Type: token.ILLEGAL, Lexeme: "R\"", Literal: "unterminated raw string", Line: line, Column: col, Offset: off}
	}
	value := rest[open+1 : open+1+end]
	total := 1 + open + 1 + end + len(closing)
	for i := 0; i < total; {
		_, w := utf8.DecodeRuneInString(l.input[l.position:])
		i += w
		l.readChar()
	}
	return token.Token{Type: token.STRING, Lexeme: l.input[off:l.position], Literal: value, Line: line, Column: col, Offset: off}
}

func (l *Lexer) readCharLiteral(line, col, off int) token.Token {
	start := l.position
	l.readChar() // opening quote
	for l.ch != '\'' {
		if l.ch == 0 || l.ch == '\n' {
			return token.Token{Type: token.ILLEGAL, Lexeme: l.input[start:l.position], Literal: "unterminated character literal", Line: line, Column: col, Offset: off}
		}
		if l.ch == '\\' {
			l.readChar()
		}
		l.readChar()
	}
	l.readChar()
	lexeme := l.input[start:l.position]
	v, _, _, err := strconv.UnquoteChar(lexeme[1:len(lexeme)-1], '\'')
	if err != nil {
		return token.Token{Type: token.ILLEGAL, Lexeme: lexeme, Literal: "malformed character literal", Line: line, Column: col, Offset: off}
	}
	return token.Token{Type: token.CHAR, Lexeme: lexeme, Literal: int64(v), Line: line, Column: col, Offset: off}
}

func isHexDigit(ch rune) bool {
	return isDigit(ch) || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}

func isLetter(ch rune) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || ch >= utf8.RuneSelf && unicode.IsLetter(ch)
}

func isDigit(ch rune) bool {
	return '0' <= ch && ch <= '9'
}
