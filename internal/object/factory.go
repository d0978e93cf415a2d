// Package object constructs and destroys opaque native instances.
//
// An Instance is owned by the caller. Destroying it twice, or passing a
// destroyed instance to a call, is a contract violation (abi.ErrUseAfterFree);
// the factory does not track liveness and a backend reports it only when it
// happens to notice.
package object

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/logging"
)

// Instance is a native instance: the scope it was built from, the
// qualified class name and its address.
type Instance struct {
	Scope abi.ScopeHandle
	Type  string
	Addr  abi.Addr
}

// TypeName implements marshal.Instance.
func (i *Instance) TypeName() string { return i.Type }

// Address implements marshal.Instance.
func (i *Instance) Address() abi.Addr { return i.Addr }

func (i *Instance) String() string {
	return fmt.Sprintf("%s@%s", i.Type, i.Addr)
}

// Factory creates instances through a Compiler Service.
type Factory struct {
	svc abi.Service
	log logging.Logger
}

type Option func(*Factory)

func WithLogger(l logging.Logger) Option {
	return func(f *Factory) { f.log = l }
}

func New(svc abi.Service, opts ...Option) *Factory {
	f := &Factory{svc: svc, log: logging.Discard()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Construct allocates and default-initializes an instance of scope. A zero
// handle fails with abi.ErrConstruction without reaching the service; any
// service failure is reported as abi.ErrConstruction wrapping the cause.
func (f *Factory) Construct(ctx context.Context, scope abi.ScopeHandle, typeName string) (*Instance, error) {
	if scope == 0 {
		return nil, abi.ErrConstruction.Wrapf("%s: type is not registered", typeName).With(slog.String("type", typeName))
	}

	addr, err := f.svc.CreateObject(ctx, scope)
	if err != nil {
		if abi.KindOf(err) == abi.KindConstruction {
			return nil, err
		}
		return nil, abi.ErrConstruction.Wrap(err).With(slog.String("type", typeName))
	}
	if addr == 0 {
		return nil, abi.ErrConstruction.Wrapf("%s: null instance", typeName)
	}

	inst := &Instance{Scope: scope, Type: typeName, Addr: addr}
	f.log.Debug(ctx, "instance constructed", slog.String("instance", inst.String()))
	return inst, nil
}

// Destroy runs the destructor of inst and releases its storage. inst must
// not be used afterwards.
func (f *Factory) Destroy(ctx context.Context, inst *Instance) error {
	if inst == nil || inst.Addr == 0 {
		return abi.ErrUseAfterFree.Wrapf("null instance")
	}
	if err := f.svc.DestroyObject(ctx, inst.Scope, inst.Addr); err != nil {
		return err
	}
	f.log.Debug(ctx, "instance destroyed", slog.String("instance", inst.String()))
	return nil
}
