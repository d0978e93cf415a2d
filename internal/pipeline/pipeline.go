package pipeline

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the stages in order. A stage that reports diagnostics ends
// the run, so later stages never see a partial AST.
func (p *Pipeline) Run(initialCtx *PipelineContext) *PipelineContext {
	ctx := initialCtx
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
		if len(ctx.Errors) > 0 {
			for _, err := range ctx.Errors {
				if err.File == "" {
					err.File = ctx.FilePath
				}
			}
			break
		}
	}
	return ctx
}
