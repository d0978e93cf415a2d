// Package bridge is the host-facing API of cxbridge.
//
// A Session owns one Compiler Service session and everything resolved
// through it: scope handles, template instantiations and bound callables.
// Sessions are explicit values; nothing in this package is global.
//
//	s, _ := bridge.Open(ctx, cfg)
//	b, _ := s.Construct(ctx, "B")
//	a, _ := s.Construct(ctx, "A")
//	c, _ := s.Construct(ctx, "C")
//	_, err := b.Call(ctx, "callme", a, 42, c)
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/compiler"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/invoke"
	"github.com/funvibe/cxbridge/internal/logging"
	"github.com/funvibe/cxbridge/internal/marshal"
	"github.com/funvibe/cxbridge/internal/native"
	"github.com/funvibe/cxbridge/internal/object"
	"github.com/funvibe/cxbridge/internal/rpc"
	"github.com/funvibe/cxbridge/internal/scope"
	"github.com/funvibe/cxbridge/internal/template"
)

// Callable is a bound native function. Its Call takes the full slot list,
// receiver first.
type Callable = invoke.Callable

// Ptr passes inst explicitly as a pointer (Name*).
func Ptr(inst marshal.Instance) marshal.Pointer { return marshal.Ptr(inst) }

// Ref passes inst explicitly as a reference (Name&).
func Ref(inst marshal.Instance) marshal.Reference { return marshal.Ref(inst) }

// Session is one bridge session over a Compiler Service.
type Session struct {
	id  uuid.UUID
	svc abi.Service
	log logging.Logger

	scopes    *scope.Registry
	templates *template.Resolver
	objects   *object.Factory
	calls     *invoke.Bridge

	mu        sync.RWMutex
	classes   map[string]*Class
	callables map[abi.MethodHandle]*Callable
	closed    bool
}

type options struct {
	log logging.Logger
	out io.Writer
	svc abi.Service
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the session logger. It is shared with the backend.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithOutput redirects what method bodies print. Only the in-process
// backend honors it.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithService uses svc instead of opening the configured backend.
func WithService(svc abi.Service) Option {
	return func(o *options) { o.svc = svc }
}

// Open starts a session on the backend selected by cfg, parses the
// configured prelude and sources, and defines the configured types.
// A nil cfg means config.Default().
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{log: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	svc := o.svc
	if svc == nil {
		var err error
		if svc, err = openBackend(ctx, cfg, o); err != nil {
			return nil, err
		}
	}
	s := newSession(svc, o.log)

	sources, err := cfg.ReadSources()
	if err != nil {
		svc.Close()
		return nil, err
	}
	for _, src := range sources {
		if err := s.Parse(ctx, src); err != nil {
			svc.Close()
			return nil, err
		}
	}

	for _, ts := range cfg.Types {
		if _, err := s.Define(ctx, typeInfoOf(ts)); err != nil {
			svc.Close()
			return nil, fmt.Errorf("type %s: %w", ts.Name, err)
		}
	}

	s.log.Info(ctx, "session opened",
		slog.String("session", s.id.String()),
		slog.String("backend", cfg.Backend),
		slog.Int("sources", len(sources)),
		slog.Int("types", len(cfg.Types)))
	return s, nil
}

// New starts a session on an already opened Compiler Service. The session
// takes ownership of svc.
func New(svc abi.Service, opts ...Option) *Session {
	o := options{log: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return newSession(svc, o.log)
}

func newSession(svc abi.Service, log logging.Logger) *Session {
	id := uuid.New()
	log = log.With(slog.String("session", id.String()))
	return &Session{
		id:        id,
		svc:       svc,
		log:       log,
		scopes:    scope.New(svc, scope.WithLogger(log)),
		templates: template.New(svc, template.WithLogger(log)),
		objects:   object.New(svc, object.WithLogger(log)),
		calls:     invoke.New(svc, invoke.WithLogger(log)),
		classes:   make(map[string]*Class),
		callables: make(map[abi.MethodHandle]*Callable),
	}
}

func openBackend(ctx context.Context, cfg *config.Config, o options) (abi.Service, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		copts := []compiler.Option{
			compiler.WithLogger(o.log),
			compiler.WithLazyInstantiation(cfg.Lazy()),
		}
		if o.out != nil {
			copts = append(copts, compiler.WithOutput(o.out))
		}
		return compiler.New(ctx, copts...)
	case config.BackendNative:
		return native.Open(ctx, cfg.Library,
			native.WithLogger(o.log),
			native.WithLazyInstantiation(cfg.Lazy()))
	case config.BackendRemote:
		return rpc.Dial(cfg.Target)
	}
	return nil, abi.ErrUnsupported.Wrapf("backend %q", cfg.Backend)
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Service returns the Compiler Service the session runs on.
func (s *Session) Service() abi.Service { return s.svc }

func (s *Session) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return abi.ErrClosed
	}
	return nil
}

// Parse adds top-level declarations to the session.
func (s *Session) Parse(ctx context.Context, code string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.svc.Parse(ctx, code)
}

// Resolve returns the scope handle of a qualified class or namespace name.
func (s *Session) Resolve(ctx context.Context, name string) (abi.ScopeHandle, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.scopes.Resolve(ctx, name)
}

// Construct creates a default-initialized instance of the named class. An
// unknown name fails with abi.ErrConstruction before anything is allocated.
func (s *Session) Construct(ctx context.Context, typeName string) (*Object, error) {
	return s.construct(ctx, typeName, nil)
}

func (s *Session) construct(ctx context.Context, typeName string, cls *Class) (*Object, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	name := scope.Normalize(typeName)
	h, err := s.scopes.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, abi.ErrNotFound) {
			return nil, abi.ErrConstruction.Wrap(err).With(slog.String("type", name))
		}
		return nil, err
	}
	inst, err := s.objects.Construct(ctx, h, name)
	if err != nil {
		return nil, err
	}
	return &Object{session: s, class: cls, inst: inst}, nil
}

// Destroy runs the destructor of obj and releases it. obj must not be used
// afterwards; doing so is abi.ErrUseAfterFree when the backend notices.
func (s *Session) Destroy(ctx context.Context, obj *Object) error {
	if err := s.check(); err != nil {
		return err
	}
	if obj == nil {
		return abi.ErrUseAfterFree.Wrapf("nil object")
	}
	return s.objects.Destroy(ctx, obj.inst)
}

// Explicit resolves method within the named scope from type-argument text
// and binds it.
func (s *Session) Explicit(ctx context.Context, scopeName, method string, targs ...string) (*Callable, error) {
	h, err := s.Resolve(ctx, scopeName)
	if err != nil {
		return nil, err
	}
	mh, err := s.templates.Explicit(ctx, h, method, targs...)
	if err != nil {
		return nil, err
	}
	return s.bind(ctx, mh)
}

// Implicit resolves method within the named scope from the values a call
// would pass, receiver excluded, and binds it.
func (s *Session) Implicit(ctx context.Context, scopeName, method string, args ...any) (*Callable, error) {
	h, err := s.Resolve(ctx, scopeName)
	if err != nil {
		return nil, err
	}
	mh, err := s.templates.Implicit(ctx, h, method, args...)
	if err != nil {
		return nil, err
	}
	return s.bind(ctx, mh)
}

// Bind returns the callable of a resolved method. Callables are cached.
func (s *Session) Bind(ctx context.Context, method abi.MethodHandle) (*Callable, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.bind(ctx, method)
}

func (s *Session) bind(ctx context.Context, mh abi.MethodHandle) (*Callable, error) {
	s.mu.RLock()
	c, ok := s.callables[mh]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	c, err := s.calls.Bind(ctx, mh)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if prev, ok := s.callables[mh]; ok {
		c = prev
	} else {
		s.callables[mh] = c
	}
	s.mu.Unlock()
	return c, nil
}

// Close ends the session and releases the Compiler Service. Objects and
// callables of the session must not be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.log.Debug(context.Background(), "session closed",
		slog.Int("scopes", len(s.scopes.Names())),
		slog.Int("classes", len(s.Classes())))
	return s.svc.Close()
}
