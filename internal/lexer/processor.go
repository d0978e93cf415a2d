package lexer

import (
	"github.com/funvibe/cxbridge/internal/pipeline"
	"github.com/funvibe/cxbridge/internal/token"
)

// TokenStream buffers the lexer output for the parser.
type TokenStream struct {
	source string
	tokens []token.Token
	pos    int
}

// NewTokenStream scans all of l's input.
func NewTokenStream(l *Lexer) *TokenStream {
	return &TokenStream{source: l.Input(), tokens: l.Tokenize()}
}

// Next returns the next token; EOF repeats forever.
func (s *TokenStream) Next() token.Token {
	tok := s.tokens[s.pos]
	if s.pos < len(s.tokens)-1 {
		s.pos++
	}
	return tok
}

func (s *TokenStream) Source() string { return s.source }

type LexerProcessor struct{}

func (lp *LexerProcessor) Process(ctx *pipeline.PipelineContext) *pipeline.PipelineContext {
	ctx.TokenStream = NewTokenStream(New(ctx.SourceCode))
	return ctx
}
