// Package invoke turns a resolved MethodHandle into a callable and carries
// host values across the native calling convention.
package invoke

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/logging"
	"github.com/funvibe/cxbridge/internal/marshal"
)

// Binding is one argument ready for a native call: the host value, the
// declared TypeDescriptor of its slot and the marshaled slot itself.
type Binding struct {
	Value any
	Type  string
	Slot  abi.Slot
}

// Bridge binds MethodHandles to callables through a Compiler Service.
type Bridge struct {
	svc abi.Service
	log logging.Logger
}

type Option func(*Bridge)

func WithLogger(l logging.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

func New(svc abi.Service, opts ...Option) *Bridge {
	b := &Bridge{svc: svc, log: logging.Discard()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Callable is a native entry point together with its calling convention.
// It is immutable and may be called any number of times.
type Callable struct {
	svc    abi.Service
	log    logging.Logger
	method abi.MethodHandle
	fn     abi.FuncAddr
	sig    abi.Signature
}

// Bind fetches the function address and calling convention of method.
func (b *Bridge) Bind(ctx context.Context, method abi.MethodHandle) (*Callable, error) {
	if method == 0 {
		return nil, abi.ErrNotFound.Wrapf("no method")
	}
	fn, err := b.svc.GetFunctionAddress(ctx, method)
	if err != nil {
		return nil, err
	}
	if fn == 0 {
		return nil, abi.ErrNotFound.Wrapf("%s has no function address", method)
	}
	sig, err := b.svc.Signature(ctx, method)
	if err != nil {
		return nil, err
	}
	return &Callable{svc: b.svc, log: b.log, method: method, fn: fn, sig: sig}, nil
}

func (c *Callable) Method() abi.MethodHandle { return c.method }
func (c *Callable) Address() abi.FuncAddr    { return c.fn }
func (c *Callable) Signature() abi.Signature { return c.sig }
func (c *Callable) String() string           { return c.sig.String() }
func (c *Callable) HasReceiver() bool        { return c.sig.Receiver != nil }

// Bindings marshals values against the declared slots, receiver first.
func (c *Callable) Bindings(values ...any) ([]Binding, error) {
	slots := c.sig.Slots()
	if err := c.checkArity(len(values)); err != nil {
		return nil, err
	}

	out := make([]Binding, len(values))
	for i, v := range values {
		var (
			p   abi.Param
			err error
		)
		if i < len(slots) {
			p = slots[i]
		} else if p, err = variadicParam(v); err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", c.sig.Name, i, err)
		}
		sl, err := marshal.Slot(v, p)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", c.sig.Name, i, err)
		}
		out[i] = Binding{Value: v, Type: p.Type, Slot: sl}
	}
	return out, nil
}

// Call marshals values and invokes the function. values are the full slot
// list, receiver first when the signature declares one.
func (c *Callable) Call(ctx context.Context, values ...any) (any, error) {
	bindings, err := c.Bindings(values...)
	if err != nil {
		return nil, err
	}
	return c.CallBindings(ctx, bindings)
}

// CallBindings validates arity and passing modes, then calls the native
// function synchronously. Nothing reaches the service when validation
// fails.
func (c *Callable) CallBindings(ctx context.Context, bindings []Binding) (any, error) {
	if err := c.checkArity(len(bindings)); err != nil {
		return nil, err
	}
	params := c.sig.Slots()
	slots := make([]abi.Slot, len(bindings))
	for i, b := range bindings {
		if i < len(params) {
			p := params[i]
			if b.Slot.Mode != p.Mode {
				return nil, abi.ErrInvocation.Wrapf("%s argument %d: %s passed for a %s parameter", c.sig.Name, i, b.Slot.Mode, p.Mode).
					With(slog.String("type", p.Type))
			}
			if b.Slot.Width != p.Width {
				return nil, abi.ErrInvocation.Wrapf("%s argument %d: %d-byte slot for a %d-byte %s", c.sig.Name, i, b.Slot.Width, p.Width, p.Type)
			}
		}
		slots[i] = b.Slot
	}

	c.log.Trace(ctx, "native call",
		slog.String("method", c.sig.Name),
		slog.String("fn", c.fn.String()),
		slog.Int("slots", len(slots)))

	res, err := c.svc.Call(ctx, c.fn, c.sig, slots)
	if err != nil {
		if abi.KindOf(err) == "" {
			return nil, abi.ErrInvocation.Wrap(err)
		}
		return nil, err
	}
	return marshal.Value(res, c.sig.Result), nil
}

func (c *Callable) checkArity(n int) error {
	want := c.sig.Arity()
	if n == want || c.sig.Variadic && n > want {
		return nil
	}
	return abi.ErrInvocation.Wrapf("%s expects %d arguments, got %d", c.sig.Name, want, n).
		With(slog.Int("arity", want), slog.Int("given", n))
}

// variadicParam describes a trailing variadic argument by its own type.
// References cannot travel through "...".
func variadicParam(v any) (abi.Param, error) {
	switch v.(type) {
	case marshal.Reference:
		return abi.Param{}, abi.ErrInvocation.Wrapf("a reference cannot be passed as a variadic argument")
	case float32, float64:
		return abi.Param{Type: "double", Mode: abi.ByValue, Width: 8, Kind: abi.Float}, nil
	case bool:
		return abi.Param{Type: "bool", Mode: abi.ByValue, Width: 1, Kind: abi.Bool}, nil
	case uint, uint8, uint16, uint32:
		return abi.Param{Type: "unsigned int", Mode: abi.ByValue, Width: 4, Kind: abi.Uint}, nil
	case uint64:
		return abi.Param{Type: "unsigned long long", Mode: abi.ByValue, Width: 8, Kind: abi.Uint}, nil
	case int64:
		return abi.Param{Type: "long long", Mode: abi.ByValue, Width: 8, Kind: abi.Int}, nil
	case abi.Addr, marshal.Instance, marshal.Pointer, nil:
		return abi.Param{Type: "void*", Mode: abi.ByPointer, Width: 8, Kind: abi.Pointer}, nil
	default:
		return abi.Param{Type: "int", Mode: abi.ByValue, Width: 4, Kind: abi.Int}, nil
	}
}
