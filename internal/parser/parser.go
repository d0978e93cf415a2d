package parser

import (
	"strings"

	"github.com/funvibe/cxbridge/internal/ast"
	"github.com/funvibe/cxbridge/internal/diagnostics"
	"github.com/funvibe/cxbridge/internal/pipeline"
	"github.com/funvibe/cxbridge/internal/token"
)

// Parser builds declarations from a token stream. Function bodies are not
// parsed; their source text is kept for the evaluator.
type Parser struct {
	stream pipeline.TokenStream
	ctx    *pipeline.PipelineContext
	source string

	curToken  token.Token
	peekToken token.Token
}

func New(stream pipeline.TokenStream, ctx *pipeline.PipelineContext) *Parser {
	p := &Parser{stream: stream, ctx: ctx, source: stream.Source()}
	p.nextToken()
	p.nextToken()
	return p
}

// scope is the declarative region being parsed.
type scope struct {
	class   *ast.ClassDeclaration // nil at namespace scope
	access  ast.Access
	externC bool
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.stream.Next()
}

func (p *Parser) curTokenIs(t token.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t token.TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) expectCur(t token.TokenType) bool {
	if p.curTokenIs(t) {
		return true
	}
	p.addError(diagnostics.ErrP002, p.curToken, "expected %s, got %s", t, describe(p.curToken))
	return false
}

func (p *Parser) peekError(t token.TokenType) {
	p.addError(diagnostics.ErrP002, p.peekToken, "expected %s, got %s", t, describe(p.peekToken))
}

func (p *Parser) addError(code diagnostics.ErrorCode, tok token.Token, msg string, args ...interface{}) {
	p.ctx.Errors = append(p.ctx.Errors, diagnostics.NewError(code, tok, msg, args...))
}

func describe(tok token.Token) string {
	if tok.Type == token.EOF {
		return "end of input"
	}
	return "'" + tok.Lexeme + "'"
}

// adjacent reports whether b starts right where a ends.
func adjacent(a, b token.Token) bool {
	return a.Offset+len(a.Lexeme) == b.Offset
}

// ParseProgram parses declarations until EOF.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}
	program.Declarations = p.parseDeclarations(token.EOF, &scope{})
	return program
}

func (p *Parser) parseDeclarations(end token.TokenType, sc *scope) []ast.Declaration {
	var decls []ast.Declaration
	for !p.curTokenIs(end) && !p.curTokenIs(token.EOF) {
		before := p.curToken
		decls = append(decls, p.parseDeclaration(sc)...)
		if p.curToken == before {
			// Guarantee progress on malformed input.
			p.nextToken()
		}
	}
	if end != token.EOF && !p.curTokenIs(end) {
		p.addError(diagnostics.ErrP003, p.curToken, "expected %s before end of input", end)
	}
	return decls
}

// skipDeclaration skips to the end of the current declaration: past the
// next ';' at depth zero, or past a balanced brace block.
func (p *Parser) skipDeclaration() {
	depth := 0
	for !p.curTokenIs(token.EOF) {
		switch p.curToken.Type {
		case token.LBRACE, token.LPAREN, token.LBRACKET:
			depth++
		case token.RBRACE, token.RPAREN, token.RBRACKET:
			if depth == 0 {
				return
			}
			depth--
			if depth == 0 && p.curTokenIs(token.RBRACE) {
				p.nextToken()
				if p.curTokenIs(token.SEMICOLON) {
					p.nextToken()
				}
				return
			}
		case token.SEMICOLON:
			if depth == 0 {
				p.nextToken()
				return
			}
		}
		p.nextToken()
	}
}

// parseBody captures the text of a brace-enclosed function body. The
// current token is '{'; on return it is the token after the closing '}'.
func (p *Parser) parseBody() *ast.Body {
	open := p.curToken
	depth := 0
	for {
		switch p.curToken.Type {
		case token.EOF:
			p.addError(diagnostics.ErrP003, open, "unterminated function body")
			return nil
		case token.LBRACE:
			depth++
		case token.RBRACE:
			depth--
			if depth == 0 {
				body := &ast.Body{Token: open, Text: strings.TrimSpace(p.source[open.Offset+1 : p.curToken.Offset])}
				p.nextToken()
				return body
			}
		case token.ILLEGAL:
			if lit, ok := p.curToken.Literal.(string); ok && strings.HasPrefix(lit, "unterminated") {
				p.addError(diagnostics.ErrL002, p.curToken, "%s", lit)
			}
		}
		p.nextToken()
	}
}

// skipBalanced skips from an opening token to just past its match.
func (p *Parser) skipBalanced(open, close token.TokenType) string {
	start := p.curToken
	depth := 0
	for !p.curTokenIs(token.EOF) {
		switch p.curToken.Type {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				text := p.source[start.Offset : p.curToken.Offset+len(p.curToken.Lexeme)]
				p.nextToken()
				return text
			}
		}
		p.nextToken()
	}
	p.addError(diagnostics.ErrP003, start, "unbalanced %s", open)
	return ""
}
