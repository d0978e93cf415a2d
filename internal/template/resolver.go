// Package template resolves template-parameterized methods to concrete
// instantiations, either from caller-supplied type-argument text or from
// the host values of a prospective call.
package template

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/logging"
	"github.com/funvibe/cxbridge/internal/marshal"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// Mode tells how a resolution obtained its type list.
type Mode uint8

const (
	Explicit Mode = iota + 1
	Implicit
)

func (m Mode) String() string {
	switch m {
	case Explicit:
		return "explicit"
	case Implicit:
		return "implicit"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

type key struct {
	scope abi.ScopeHandle
	mode  Mode
	text  string
}

// Resolver maps (scope, method name, types) to a MethodHandle through a
// Compiler Service. Successful resolutions are cached for the session;
// failures are not.
type Resolver struct {
	svc abi.Service
	log logging.Logger

	mu    sync.RWMutex
	cache map[key]abi.MethodHandle
}

type Option func(*Resolver)

func WithLogger(l logging.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func New(svc abi.Service, opts ...Option) *Resolver {
	r := &Resolver{
		svc:   svc,
		log:   logging.Discard(),
		cache: make(map[key]abi.MethodHandle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Explicit resolves name within scope using type-argument text supplied by
// the caller. targs is either a single comma-separated list ("A, int, C*")
// or one element per argument; every element is normalized before the
// request is composed as name<T1, T2, ...>.
func (r *Resolver) Explicit(ctx context.Context, scope abi.ScopeHandle, name string, targs ...string) (abi.MethodHandle, error) {
	list, err := ExplicitList(targs...)
	if err != nil {
		return 0, err
	}
	request := strings.TrimSpace(name) + "<" + list + ">"
	return r.resolve(ctx, key{scope, Explicit, request}, request, "")
}

// Implicit resolves name within scope from the values a call would pass,
// mapping each through the value-to-TypeDescriptor table. The receiver is
// not part of values.
func (r *Resolver) Implicit(ctx context.Context, scope abi.ScopeHandle, name string, values ...any) (abi.MethodHandle, error) {
	types, err := marshal.Descriptors(values)
	if err != nil {
		return 0, err
	}
	return r.ImplicitTypes(ctx, scope, name, types...)
}

// ImplicitTypes is Implicit with the argument descriptors already derived.
func (r *Resolver) ImplicitTypes(ctx context.Context, scope abi.ScopeHandle, name string, types ...string) (abi.MethodHandle, error) {
	name = strings.TrimSpace(name)
	args := abi.JoinTypes(types)
	return r.resolve(ctx, key{scope, Implicit, name + "(" + args + ")"}, name, args)
}

// ExplicitList normalizes caller type-argument text into a canonical
// comma-joined list.
func ExplicitList(targs ...string) (string, error) {
	var parts []string
	for _, t := range targs {
		for _, el := range abi.SplitTypes(t) {
			c, err := typesystem.Canonical(el)
			if err != nil {
				return "", abi.ErrNoMatch.Wrap(err).With(slog.String("targs", strings.Join(targs, ", ")))
			}
			parts = append(parts, c)
		}
	}
	return abi.JoinTypes(parts), nil
}

func (r *Resolver) resolve(ctx context.Context, k key, name, args string) (abi.MethodHandle, error) {
	if k.scope == 0 {
		return 0, abi.ErrNoMatch.Wrapf("%s: no scope", k.text)
	}

	r.mu.RLock()
	h, ok := r.cache[k]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	h, err := r.svc.InstantiateTemplate(ctx, k.scope, name, args)
	if err != nil {
		return 0, err
	}
	if h == 0 {
		return 0, abi.ErrAmbiguousOrNotFound.Wrapf("%s: service returned no handle", k.text)
	}

	r.mu.Lock()
	r.cache[k] = h
	r.mu.Unlock()

	r.log.Debug(ctx, "template resolved",
		slog.String("scope", k.scope.String()),
		slog.String("mode", k.mode.String()),
		slog.String("request", k.text),
		slog.String("handle", h.String()))
	return h, nil
}

// Cached returns the number of resolutions held in the cache.
func (r *Resolver) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
