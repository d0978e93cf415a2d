package parser

import (
	"strings"

	"github.com/funvibe/cxbridge/internal/ast"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/diagnostics"
	"github.com/funvibe/cxbridge/internal/token"
)

// parseTypeRef reads a type up to the declarator name. It stops at the
// first identifier that cannot continue the type, so in "unsigned int x"
// the type is "unsigned int" and in "A B::f" it is "A".
func (p *Parser) parseTypeRef() *ast.TypeRef {
	first := p.curToken
	var toks []token.Token
	sawName, sawBuiltin := false, false

loop:
	for {
		switch p.curToken.Type {
		case token.CONST, token.VOLATILE, token.STRUCT, token.CLASS, token.UNION, token.ENUM, token.TYPENAME:
			toks = append(toks, p.curToken)
			p.nextToken()
		case token.SCOPE:
			if sawName || sawBuiltin || !p.peekTokenIs(token.IDENT) {
				break loop
			}
			p.nextToken()
		case token.IDENT:
			if !sawName && config.IsBuiltinWord(p.curToken.Lexeme) {
				toks = append(toks, p.curToken)
				sawBuiltin = true
				p.nextToken()
				continue
			}
			if sawName || sawBuiltin {
				break loop
			}
			sawName = true
			toks = append(toks, p.curToken)
			p.nextToken()
			for {
				if p.curTokenIs(token.LT) {
					args, ok := p.collectAngles()
					if !ok {
						return nil
					}
					toks = append(toks, args...)
					continue
				}
				if p.curTokenIs(token.SCOPE) && p.peekTokenIs(token.IDENT) {
					toks = append(toks, p.curToken, p.peekToken)
					p.nextToken()
					p.nextToken()
					continue
				}
				break
			}
		case token.ASTERISK, token.AMPERSAND, token.AND:
			if !sawName && !sawBuiltin {
				break loop
			}
			toks = append(toks, p.curToken)
			p.nextToken()
		default:
			break loop
		}
	}

	if !sawName && !sawBuiltin {
		p.addError(diagnostics.ErrP006, p.curToken, "expected type, got %s", describe(p.curToken))
		return nil
	}
	return &ast.TypeRef{Token: first, Text: joinTokens(toks)}
}

// collectAngles returns the tokens of a balanced <...> group, brackets
// included. The current token is '<'.
func (p *Parser) collectAngles() ([]token.Token, bool) {
	open := p.curToken
	var toks []token.Token
	depth := 0
	for {
		switch p.curToken.Type {
		case token.LT:
			depth++
		case token.GT:
			depth--
		case token.EOF, token.SEMICOLON, token.LBRACE, token.RBRACE:
			p.addError(diagnostics.ErrP006, open, "unterminated template argument list")
			return nil, false
		}
		toks = append(toks, p.curToken)
		p.nextToken()
		if depth == 0 {
			return toks, true
		}
	}
}

func wordLike(tok token.Token) bool {
	if tok.Lexeme == "" {
		return false
	}
	c := tok.Lexeme[0]
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// joinTokens spells tokens with a space between adjacent words and after
// commas.
func joinTokens(toks []token.Token) string {
	var sb strings.Builder
	for i, tok := range toks {
		if i > 0 {
			prev := toks[i-1]
			if (wordLike(prev) && wordLike(tok)) || prev.Type == token.COMMA {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(tok.Lexeme)
	}
	return sb.String()
}
