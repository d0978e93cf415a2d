package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/evaluator"
	"github.com/funvibe/cxbridge/internal/symbols"
)

// CreateObject allocates a zeroed instance of the class behind scope and
// runs its default constructor, bases and members first.
func (s *Service) CreateObject(ctx context.Context, scope abi.ScopeHandle) (abi.Addr, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	sc, err := s.scope(ctx, scope)
	if err != nil {
		return 0, abi.ErrConstruction.Wrap(err)
	}
	if err := s.constructible(ctx, sc); err != nil {
		return 0, abi.ErrConstruction.Wrap(err).With(slog.String("class", sc.Name))
	}

	l, err := s.layoutOf(ctx, sc.ID)
	if err != nil {
		return 0, abi.ErrConstruction.Wrap(err).With(slog.String("class", sc.Name))
	}
	addr := s.heap.alloc(sc.ID, l.size, l.align)
	if err := s.construct(ctx, sc.ID, addr); err != nil {
		_ = s.heap.free(addr)
		return 0, abi.ErrConstruction.Wrap(err).With(slog.String("class", sc.Name))
	}

	s.log.Debug(ctx, "object created",
		slog.String("class", sc.Name),
		slog.String("addr", abi.Addr(addr).String()),
		slog.Int("size", l.size))
	return abi.Addr(addr), nil
}

// constructible checks that an instance of sc can be default-initialized.
func (s *Service) constructible(ctx context.Context, sc symbols.Scope) error {
	switch {
	case !sc.Kind.IsClass():
		return fmt.Errorf("%s is a namespace", sc.Name)
	case !sc.Complete:
		return fmt.Errorf("%s is incomplete", sc.Name)
	}

	pure, err := s.pureVirtuals(ctx, sc.ID)
	if err != nil {
		return err
	}
	if len(pure) > 0 {
		names := make([]string, 0, len(pure))
		for k := range pure {
			names = append(names, k)
		}
		sort.Strings(names)
		return fmt.Errorf("%s is abstract: %s", sc.Name, strings.Join(names, ", "))
	}
	return s.defaultConstructible(ctx, sc)
}

// defaultConstructible checks the default constructors of sc, its bases
// and its class-typed members.
func (s *Service) defaultConstructible(ctx context.Context, sc symbols.Scope) error {
	if _, err := s.defaultConstructor(ctx, sc); err != nil {
		return err
	}
	l, err := s.layoutOf(ctx, sc.ID)
	if err != nil {
		return err
	}
	for _, b := range l.bases {
		if err := s.defaultConstructibleID(ctx, b.Scope); err != nil {
			return err
		}
	}
	for _, m := range l.members {
		if m.Class != 0 {
			if err := s.defaultConstructibleID(ctx, m.Class); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) defaultConstructibleID(ctx context.Context, id int64) error {
	sc, err := s.table.ScopeByID(ctx, id)
	if err != nil {
		return err
	}
	return s.defaultConstructible(ctx, sc)
}

// construct initializes the object of class id at addr.
func (s *Service) construct(ctx context.Context, id int64, addr uint64) error {
	l, err := s.layoutOf(ctx, id)
	if err != nil {
		return err
	}
	for _, b := range l.bases {
		if err := s.construct(ctx, b.Scope, addr+uint64(b.Offset)); err != nil {
			return err
		}
	}
	for _, m := range l.members {
		if m.Class != 0 {
			if err := s.construct(ctx, m.Class, addr+uint64(m.Offset)); err != nil {
				return err
			}
		}
	}

	ctor, err := s.defaultConstructor(ctx, l.scope)
	if err != nil || ctor == nil || !ctor.HasBody {
		return err
	}
	_, err = s.run(ctx, *ctor, nil, &evaluator.Frame{}, addr)
	return err
}

// DestroyObject runs the destructor of the instance at addr and releases
// it. Destroying an instance twice is abi.ErrUseAfterFree.
func (s *Service) DestroyObject(ctx context.Context, scope abi.ScopeHandle, addr abi.Addr) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	b, err := s.heap.object(uint64(addr))
	if err != nil {
		return err
	}
	if scope != 0 && int64(scope) != b.scope {
		if _, ok, _ := s.baseOffset(ctx, b.scope, int64(scope)); !ok {
			return abi.ErrInvocation.Wrapf("object at %s is not a %s", addr, scope)
		}
	}

	derr := s.destroy(ctx, b.scope, uint64(addr))
	if err := s.heap.free(uint64(addr)); err != nil {
		return err
	}
	if derr != nil {
		return abi.ErrInvocation.Wrap(derr)
	}

	s.log.Debug(ctx, "object destroyed", slog.String("addr", addr.String()))
	return nil
}

// destroy runs destructors in reverse construction order.
func (s *Service) destroy(ctx context.Context, id int64, addr uint64) error {
	l, err := s.layoutOf(ctx, id)
	if err != nil {
		return err
	}

	dtor, err := s.destructor(ctx, id)
	if err != nil {
		return err
	}
	if dtor != nil && dtor.HasBody {
		if _, err := s.run(ctx, *dtor, nil, &evaluator.Frame{}, addr); err != nil {
			return err
		}
	}

	for i := len(l.members) - 1; i >= 0; i-- {
		if m := l.members[i]; m.Class != 0 {
			if err := s.destroy(ctx, m.Class, addr+uint64(m.Offset)); err != nil {
				return err
			}
		}
	}
	for i := len(l.bases) - 1; i >= 0; i-- {
		if err := s.destroy(ctx, l.bases[i].Scope, addr+uint64(l.bases[i].Offset)); err != nil {
			return err
		}
	}
	return nil
}
