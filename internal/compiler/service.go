// Package compiler is the reference Compiler Service. It enters parsed
// declarations into a symbol table, lays out class instances on a
// simulated heap, deduces template arguments and runs function bodies
// through the evaluator.
//
// A Service is one compilation session. All calls are serialized by a
// single mutex.
package compiler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/ast"
	"github.com/funvibe/cxbridge/internal/evaluator"
	"github.com/funvibe/cxbridge/internal/lexer"
	"github.com/funvibe/cxbridge/internal/logging"
	"github.com/funvibe/cxbridge/internal/parser"
	"github.com/funvibe/cxbridge/internal/pipeline"
	"github.com/funvibe/cxbridge/internal/symbols"
)

// maxCallDepth bounds calls made from bodies into other bodies.
const maxCallDepth = 256

type Service struct {
	mu      sync.Mutex
	table   *symbols.Table
	heap    *heap
	eval    *evaluator.Evaluator
	log     logging.Logger
	out     io.Writer
	lazy    bool
	closed  bool
	depth   int
	layouts map[int64]*layout
	statics map[string]any
}

var _ abi.Service = (*Service)(nil)

type Option func(*Service)

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithOutput sets where printf and puts in bodies write. Defaults to
// os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Service) { s.out = w }
}

// WithLazyInstantiation controls whether templates are instantiated on
// demand. When off, only explicitly instantiated templates resolve.
func WithLazyInstantiation(on bool) Option {
	return func(s *Service) { s.lazy = on }
}

// New opens an empty compilation session.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	s := &Service{
		log:     logging.Discard(),
		out:     os.Stdout,
		lazy:    true,
		heap:    newHeap(),
		layouts: make(map[int64]*layout),
		statics: make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}

	table, err := symbols.Open(ctx)
	if err != nil {
		return nil, err
	}
	s.table = table
	s.eval = evaluator.New(s.out, evaluator.WithLogger(s.log))
	return s, nil
}

func (s *Service) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return abi.ErrClosed
	}
	return nil
}

// Parse enters the declarations in code.
func (s *Service) Parse(ctx context.Context, code string) error {
	return s.ParseFile(ctx, "", code)
}

// ParseFile is Parse with a file name for diagnostics.
func (s *Service) ParseFile(ctx context.Context, file, code string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	pctx := pipeline.NewPipelineContext(code)
	pctx.FilePath = file
	pctx = pipeline.New(&lexer.LexerProcessor{}, &parser.ParserProcessor{}).Run(pctx)
	if err := pctx.Err(); err != nil {
		return abi.ErrParse.Wrap(err).With(slog.String("file", file))
	}

	prog, ok := pctx.AstRoot.(*ast.Program)
	if !ok {
		return abi.ErrParse.Wrapf("parser produced no program").With(slog.String("file", file))
	}

	d := newDeclarer(ctx, s, file)
	prog.Accept(d)
	// Classes may have been completed or extended.
	s.layouts = make(map[int64]*layout)
	if err := d.errs.Err(); err != nil {
		return abi.ErrParse.Wrap(err).With(slog.String("file", file))
	}

	s.log.Debug(ctx, "declarations entered",
		slog.String("file", file),
		slog.Int("declarations", len(prog.Declarations)))
	return nil
}

// LookupName resolves a qualified scope name. "::" is the global namespace.
func (s *Service) LookupName(ctx context.Context, name string) (abi.ScopeHandle, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return 0, abi.ErrNotFound.Wrapf("empty scope name")
	}
	sc, err := s.table.ScopeByName(ctx, name)
	if errors.Is(err, symbols.ErrNotFound) {
		return 0, abi.ErrNotFound.Wrapf("no scope named %s", name).With(slog.String("name", name))
	}
	if err != nil {
		return 0, err
	}
	return abi.ScopeHandle(sc.ID), nil
}

// Close releases the session. Later calls fail with abi.ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.table.Close()
}

// scope returns the scope behind h.
func (s *Service) scope(ctx context.Context, h abi.ScopeHandle) (symbols.Scope, error) {
	if h == 0 {
		return symbols.Scope{}, abi.ErrNotFound.Wrapf("zero scope handle")
	}
	sc, err := s.table.ScopeByID(ctx, int64(h))
	if errors.Is(err, symbols.ErrNotFound) {
		return sc, abi.ErrNotFound.Wrapf("unknown %s", h)
	}
	return sc, err
}

// resolveScope looks name up as C++ would from inside the scope named from:
// the innermost enclosing scope declaring it wins.
func (s *Service) resolveScope(ctx context.Context, from, name string) (symbols.Scope, error) {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "::") {
		return s.table.ScopeByName(ctx, name)
	}
	for prefix := from; ; prefix = parentName(prefix) {
		sc, err := s.table.ScopeByName(ctx, qualify(prefix, name))
		if err == nil || !errors.Is(err, symbols.ErrNotFound) || prefix == "" {
			return sc, err
		}
	}
}

// qualify joins a scope prefix and a name. The global scope has an empty
// prefix.
func qualify(prefix, name string) string {
	if prefix == "" || prefix == abi.GlobalScope {
		return name
	}
	return prefix + "::" + name
}

func parentName(q string) string {
	if i := strings.LastIndex(q, "::"); i >= 0 {
		return q[:i]
	}
	return ""
}

func lastName(q string) string {
	if i := strings.LastIndex(q, "::"); i >= 0 {
		return q[i+2:]
	}
	return q
}

// prefixOf is the name prefix members of sc are qualified with.
func prefixOf(sc symbols.Scope) string {
	if sc.ID == symbols.GlobalScopeID {
		return ""
	}
	return sc.Name
}
