// Package scope resolves qualified names to scope handles and caches them
// for the lifetime of a session.
package scope

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/logging"
)

// Registry resolves qualified names through a Compiler Service. A handle,
// once resolved, is stable for the session, so results are cached.
type Registry struct {
	svc abi.Service
	log logging.Logger

	mu     sync.RWMutex
	scopes map[string]abi.ScopeHandle
}

type Option func(*Registry)

func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func New(svc abi.Service, opts ...Option) *Registry {
	r := &Registry{
		svc:    svc,
		log:    logging.Discard(),
		scopes: make(map[string]abi.ScopeHandle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalize returns the cache key of a qualified name: surrounding space
// and a leading "::" are dropped, and "::" itself names the global scope.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == abi.GlobalScope {
		return name
	}
	parts := strings.Split(strings.TrimPrefix(name, "::"), "::")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, "::")
}

// Resolve returns the handle of the class or namespace name. It fails with
// abi.ErrNotFound when no such declaration exists; a zero handle is never
// returned.
func (r *Registry) Resolve(ctx context.Context, name string) (abi.ScopeHandle, error) {
	key := Normalize(name)
	if key == "" {
		return 0, abi.ErrNotFound.Wrapf("empty scope name")
	}

	r.mu.RLock()
	h, ok := r.scopes[key]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	h, err := r.svc.LookupName(ctx, key)
	if errors.Is(err, abi.ErrNotFound) {
		return 0, abi.ErrNotFound.Wrap(err).With(slog.String("scope", key))
	}
	if err != nil {
		return 0, err
	}
	if h == 0 {
		return 0, abi.ErrNotFound.Wrapf("%s", key)
	}

	r.mu.Lock()
	if prev, ok := r.scopes[key]; ok {
		h = prev
	} else {
		r.scopes[key] = h
	}
	r.mu.Unlock()

	r.log.Debug(ctx, "scope resolved", slog.String("scope", key), slog.String("handle", h.String()))
	return h, nil
}

// Names returns the qualified names resolved so far and their handles.
func (r *Registry) Names() map[string]abi.ScopeHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]abi.ScopeHandle, len(r.scopes))
	for k, v := range r.scopes {
		out[k] = v
	}
	return out
}

// Forget drops every cached handle. It is needed only when the service
// session is replaced.
func (r *Registry) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = make(map[string]abi.ScopeHandle)
}
