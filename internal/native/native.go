// Package native is a Compiler Service backed by an interop library that
// exports the Clang_* C-linkage entry points. The library is loaded with
// dlopen and its JIT'd functions are called through libffi, which needs
// cgo and the libffi build tag.
//
// The C interface carries no calling conventions. Every declaration the
// library parses is therefore also entered into a reference compiler
// session, which answers Signature and classifies resolution failures.
package native

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/compiler"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/logging"
)

// library is the raw C interface of an interop library. Zero results mean
// failure, as they do across the C boundary.
type library interface {
	parse(code string)
	lookupName(name string, context uint64) uint64
	createObject(decl uint64) uint64
	// destroyObject reports false when the library exports no destructor
	// entry point.
	destroyObject(decl, addr uint64) bool
	instantiateTemplate(decl uint64, name, args string) uint64
	functionAddress(decl uint64) uint64
	call(fn uint64, sig abi.Signature, slots []abi.Slot) (abi.Slot, error)
	close() error
}

type Service struct {
	mu      sync.Mutex
	lib     library
	shadow  *compiler.Service
	log     logging.Logger
	closed  bool
	scopes  map[abi.ScopeHandle]abi.ScopeHandle   // library handle -> shadow handle
	methods map[abi.MethodHandle]abi.MethodHandle // library handle -> shadow handle
	live    map[abi.Addr]abi.ScopeHandle
}

var _ abi.Service = (*Service)(nil)

type Option func(*options)

type options struct {
	log  logging.Logger
	lazy bool
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLazyInstantiation is forwarded to the reference session that mirrors
// the library's declarations.
func WithLazyInstantiation(on bool) Option {
	return func(o *options) { o.lazy = on }
}

// Open loads the interop library at path.
func Open(ctx context.Context, path string, opts ...Option) (*Service, error) {
	lib, err := openLibrary(path)
	if err != nil {
		return nil, err
	}
	s, err := newService(ctx, lib, opts...)
	if err != nil {
		_ = lib.close()
		return nil, err
	}
	s.log.Debug(ctx, "interop library loaded", slog.String("path", path))
	return s, nil
}

func newService(ctx context.Context, lib library, opts ...Option) (*Service, error) {
	o := options{log: logging.Discard(), lazy: true}
	for _, opt := range opts {
		opt(&o)
	}

	shadow, err := compiler.New(ctx,
		compiler.WithOutput(io.Discard),
		compiler.WithLazyInstantiation(o.lazy))
	if err != nil {
		return nil, err
	}
	return &Service{
		lib:     lib,
		shadow:  shadow,
		log:     o.log,
		scopes:  make(map[abi.ScopeHandle]abi.ScopeHandle),
		methods: make(map[abi.MethodHandle]abi.MethodHandle),
		live:    make(map[abi.Addr]abi.ScopeHandle),
	}, nil
}

func (s *Service) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return abi.ErrClosed
	}
	return nil
}

// Parse checks code in the reference session, then hands it to the
// library. Code the reference session rejects never reaches the library.
func (s *Service) Parse(ctx context.Context, code string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := s.shadow.Parse(ctx, code); err != nil {
		return err
	}
	s.lib.parse(code)
	return nil
}

// LookupName resolves a qualified name one component at a time, each in
// the context of the previous one.
func (s *Service) LookupName(ctx context.Context, name string) (abi.ScopeHandle, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	name = strings.TrimPrefix(strings.TrimSpace(name), "::")
	if name == "" {
		return 0, abi.ErrNotFound.Wrapf("the global namespace has no declaration handle")
	}

	var decl uint64
	for _, part := range strings.Split(name, "::") {
		decl = s.lib.lookupName(strings.TrimSpace(part), decl)
		if decl == 0 {
			return 0, abi.ErrNotFound.Wrapf("%s", name).With(slog.String("component", part))
		}
	}

	shadow, err := s.shadow.LookupName(ctx, name)
	if err != nil {
		return 0, err
	}
	s.scopes[abi.ScopeHandle(decl)] = shadow
	return abi.ScopeHandle(decl), nil
}

func (s *Service) shadowScope(scope abi.ScopeHandle) (abi.ScopeHandle, error) {
	if scope == 0 {
		return 0, abi.ErrNotFound.Wrapf("zero scope handle")
	}
	sh, ok := s.scopes[scope]
	if !ok {
		return 0, abi.ErrNotFound.Wrapf("%s was not returned by LookupName", scope)
	}
	return sh, nil
}

// CreateObject allocates an instance through the library.
func (s *Service) CreateObject(ctx context.Context, scope abi.ScopeHandle) (abi.Addr, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if _, err := s.shadowScope(scope); err != nil {
		return 0, abi.ErrConstruction.Wrap(err)
	}
	addr := abi.Addr(s.lib.createObject(uint64(scope)))
	if addr == 0 {
		return 0, abi.ErrConstruction.Wrapf("%s returned a null instance", config.CreateObjectSymbol)
	}
	s.live[addr] = scope
	s.log.Debug(ctx, "object created", slog.String("scope", scope.String()), slog.String("addr", addr.String()))
	return addr, nil
}

// DestroyObject releases an instance created by CreateObject.
func (s *Service) DestroyObject(ctx context.Context, scope abi.ScopeHandle, addr abi.Addr) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	owner, ok := s.live[addr]
	if !ok {
		return abi.ErrUseAfterFree.Wrapf("no live instance at %s", addr)
	}
	if scope == 0 {
		scope = owner
	}
	if !s.lib.destroyObject(uint64(scope), uint64(addr)) {
		return abi.ErrUnsupported.Wrapf("library does not export %s", config.DestroyObjectSymbol)
	}
	delete(s.live, addr)
	return nil
}

// InstantiateTemplate resolves name through the library. When the library
// reports failure, the reference session's error says why.
func (s *Service) InstantiateTemplate(ctx context.Context, scope abi.ScopeHandle, name, args string) (abi.MethodHandle, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	sh, err := s.shadowScope(scope)
	if err != nil {
		return 0, err
	}
	shadow, serr := s.shadow.InstantiateTemplate(ctx, sh, name, args)

	decl := abi.MethodHandle(s.lib.instantiateTemplate(uint64(scope), name, args))
	if decl == 0 {
		if serr != nil {
			return 0, serr
		}
		return 0, abi.ErrNoMatch.Wrapf("%s returned no declaration for %s(%s)", config.InstantiateTemplateSymbol, name, args)
	}
	if serr != nil {
		return 0, abi.ErrUnsupported.Wrapf("no calling convention for %s(%s)", name, args).With(
			slog.String("cause", serr.Error()))
	}
	s.methods[decl] = shadow
	s.log.Debug(ctx, "template resolved",
		slog.String("name", name),
		slog.String("args", args),
		slog.String("handle", decl.String()))
	return decl, nil
}

// GetFunctionAddress returns the JIT'd entry point of method.
func (s *Service) GetFunctionAddress(ctx context.Context, method abi.MethodHandle) (abi.FuncAddr, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if _, ok := s.methods[method]; !ok {
		return 0, abi.ErrNotFound.Wrapf("unknown %s", method)
	}
	fn := abi.FuncAddr(s.lib.functionAddress(uint64(method)))
	if fn == 0 {
		return 0, abi.ErrNotFound.Wrapf("%s has no code", method)
	}
	return fn, nil
}

// Signature returns the calling convention the reference session computed
// for method.
func (s *Service) Signature(ctx context.Context, method abi.MethodHandle) (abi.Signature, error) {
	if err := s.lock(); err != nil {
		return abi.Signature{}, err
	}
	defer s.mu.Unlock()

	shadow, ok := s.methods[method]
	if !ok {
		return abi.Signature{}, abi.ErrNotFound.Wrapf("unknown %s", method)
	}
	return s.shadow.Signature(ctx, shadow)
}

// Call invokes fn through libffi.
func (s *Service) Call(ctx context.Context, fn abi.FuncAddr, sig abi.Signature, slots []abi.Slot) (abi.Slot, error) {
	if err := s.lock(); err != nil {
		return abi.Slot{}, err
	}
	defer s.mu.Unlock()

	if fn == 0 {
		return abi.Slot{}, abi.ErrInvocation.Wrapf("null function address")
	}
	if len(slots) < sig.Arity() || (!sig.Variadic && len(slots) != sig.Arity()) {
		return abi.Slot{}, abi.ErrInvocation.Wrapf("%s takes %d arguments, got %d", sig.Name, sig.Arity(), len(slots))
	}
	for i, p := range sig.Slots() {
		if slots[i].Mode != p.Mode || slots[i].Width != p.Width {
			return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: argument %d is %s/%d, want %s", sig.Name, i, slots[i].Mode, slots[i].Width, p)
		}
		if p.Mode == abi.ByReference && slots[i].Bits == 0 {
			return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: argument %d is a null reference", sig.Name, i)
		}
	}

	s.log.Trace(ctx, "native call", slog.String("fn", fn.String()), slog.String("signature", sig.String()))
	res, err := s.lib.call(uint64(fn), sig, slots)
	if err != nil {
		return abi.Slot{}, abi.ErrInvocation.Wrap(err).With(slog.String("function", sig.Name))
	}
	return res, nil
}

// Close releases the library and the reference session.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	serr := s.shadow.Close()
	if err := s.lib.close(); err != nil {
		return err
	}
	return serr
}
