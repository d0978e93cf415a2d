package pipeline

import (
	"github.com/funvibe/cxbridge/internal/ast"
	"github.com/funvibe/cxbridge/internal/diagnostics"
	"github.com/funvibe/cxbridge/internal/token"
)

// Processor is one stage of the pipeline.
type Processor interface {
	Process(ctx *PipelineContext) *PipelineContext
}

// TokenStream supplies tokens to the parser.
type TokenStream interface {
	Next() token.Token
	// Source is the text the tokens were scanned from; token offsets index it.
	Source() string
}

// PipelineContext carries the state shared by the stages.
type PipelineContext struct {
	SourceCode  string
	FilePath    string
	TokenStream TokenStream
	AstRoot     ast.Node
	Errors      []*diagnostics.DiagnosticError
}

func NewPipelineContext(source string) *PipelineContext {
	return &PipelineContext{SourceCode: source}
}

// Err returns the collected diagnostics as a single error, or nil.
func (ctx *PipelineContext) Err() error {
	return diagnostics.List(ctx.Errors).Err()
}
