package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/symbols"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// member is a non-static data member placed in an object.
type member struct {
	Name   string
	Type   string
	Offset int
	Width  int
	Kind   abi.Kind // abi.Void for a class-typed subobject
	Class  int64    // scope of a class-typed subobject
}

type subobject struct {
	Scope  int64
	Offset int
}

// layout is the object representation of a class.
type layout struct {
	scope   symbols.Scope
	size    int
	align   int
	vptr    bool // owns a vtable pointer at offset 0
	dynamic bool // has a vtable pointer, own or inherited
	bases   []subobject
	members []member
	statics []symbols.Field

	allBasesEmpty bool
}

// empty reports whether the class has no storage of its own.
func (l *layout) empty() bool {
	return !l.dynamic && len(l.members) == 0 && l.size == 1 && l.allBasesEmpty
}

// layoutOf computes, and caches, the layout of the class scope id. Bases
// come first in declaration order, then fields; empty bases share offset 0.
// A class with virtual functions and no dynamic base gets its own vtable
// pointer. Unions overlay every field at offset 0.
func (s *Service) layoutOf(ctx context.Context, id int64) (*layout, error) {
	if l, ok := s.layouts[id]; ok {
		if l == nil {
			return nil, fmt.Errorf("scope #%d contains itself", id)
		}
		return l, nil
	}
	s.layouts[id] = nil

	l, err := s.computeLayout(ctx, id)
	if err != nil {
		delete(s.layouts, id)
		return nil, err
	}
	s.layouts[id] = l
	return l, nil
}

func (s *Service) computeLayout(ctx context.Context, id int64) (*layout, error) {
	sc, err := s.table.ScopeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sc.Kind.IsClass() {
		return nil, fmt.Errorf("%s is a namespace", sc.Name)
	}
	if !sc.Complete {
		return nil, fmt.Errorf("%s is incomplete", sc.Name)
	}

	l := &layout{scope: sc, align: 1, allBasesEmpty: true}
	bases, err := s.table.Bases(ctx, id)
	if err != nil {
		return nil, err
	}
	baseLayouts := make([]*layout, len(bases))
	inheritsVptr := false
	for i, b := range bases {
		bl, err := s.layoutOf(ctx, b.Scope)
		if err != nil {
			return nil, err
		}
		baseLayouts[i] = bl
		inheritsVptr = inheritsVptr || bl.dynamic
	}

	virtual, err := s.declaresVirtual(ctx, id)
	if err != nil {
		return nil, err
	}
	l.dynamic = virtual || inheritsVptr

	off := 0
	if virtual && !inheritsVptr {
		l.vptr = true
		off = config.PointerWidth
		l.align = config.PointerWidth
	}

	// A dynamic base goes first so it shares the vtable pointer.
	order := make([]int, 0, len(bases))
	for i, bl := range baseLayouts {
		if bl.dynamic {
			order = append(order, i)
		}
	}
	for i, bl := range baseLayouts {
		if !bl.dynamic {
			order = append(order, i)
		}
	}

	l.bases = make([]subobject, len(bases))
	for _, i := range order {
		bl := baseLayouts[i]
		if bl.empty() {
			l.bases[i] = subobject{Scope: bases[i].Scope, Offset: 0}
			continue
		}
		l.allBasesEmpty = false
		off = alignUp(off, bl.align)
		l.bases[i] = subobject{Scope: bases[i].Scope, Offset: off}
		off += bl.size
		l.align = max(l.align, bl.align)
	}

	fields, err := s.table.Fields(ctx, id)
	if err != nil {
		return nil, err
	}
	end := off
	for _, f := range fields {
		if f.Static {
			l.statics = append(l.statics, f)
			continue
		}
		m, align, err := s.placeField(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("%s::%s: %w", sc.Name, f.Name, err)
		}
		if sc.Kind == symbols.Union {
			m.Offset = 0
			end = max(end, m.size)
		} else {
			off = alignUp(off, align)
			m.Offset = off
			off += m.size
			end = off
		}
		l.align = max(l.align, align)
		l.members = append(l.members, m.member)
	}

	l.size = alignUp(end, l.align)
	if l.size == 0 {
		l.size = 1
	}
	return l, nil
}

type placed struct {
	member
	size int
}

func (s *Service) placeField(ctx context.Context, f symbols.Field) (placed, int, error) {
	m := placed{member: member{Name: f.Name, Type: f.Type}}
	t, err := typesystem.Parse(f.Type, nil)
	if err != nil {
		return m, 0, err
	}

	switch t := t.(type) {
	case typesystem.TPtr, typesystem.TRef:
		m.Width, m.Kind, m.size = config.PointerWidth, abi.Pointer, config.PointerWidth
		return m, config.PointerWidth, nil
	case typesystem.TCon:
		if b, ok := config.LookupBuiltin(t.Name); ok {
			if b.Width == 0 {
				return m, 0, fmt.Errorf("field of type %s", t.Name)
			}
			m.Width, m.Kind, m.size = b.Width, b.Kind, b.Width
			return m, b.Width, nil
		}
		sc, err := s.table.ScopeByName(ctx, t.Name)
		if err != nil {
			return m, 0, fmt.Errorf("no layout for %s", t.Name)
		}
		fl, err := s.layoutOf(ctx, sc.ID)
		if err != nil {
			return m, 0, err
		}
		m.Kind, m.Class, m.Width, m.size = abi.Void, sc.ID, fl.size, fl.size
		return m, fl.align, nil
	}
	return m, 0, fmt.Errorf("no layout for %s", f.Type)
}

// declaresVirtual reports whether scope id itself declares a virtual
// function.
func (s *Service) declaresVirtual(ctx context.Context, id int64) (bool, error) {
	fns, err := s.table.FunctionsOf(ctx, id)
	if err != nil {
		return false, err
	}
	for _, fn := range fns {
		if fn.Virtual || fn.Pure {
			return true, nil
		}
	}
	return false, nil
}

// pureVirtuals returns the pure virtual functions of scope id that no class
// on the way down overrides, keyed by name and parameter list.
func (s *Service) pureVirtuals(ctx context.Context, id int64) (map[string]bool, error) {
	pure := make(map[string]bool)
	bases, err := s.table.Bases(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, b := range bases {
		inherited, err := s.pureVirtuals(ctx, b.Scope)
		if err != nil {
			return nil, err
		}
		for k := range inherited {
			pure[k] = true
		}
	}

	// Every class has its own destructor, implicit or not.
	delete(pure, "~")
	fns, err := s.table.FunctionsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, fn := range fns {
		key := overrideKey(fn)
		if fn.Pure {
			pure[key] = true
		} else {
			delete(pure, key)
		}
	}
	return pure, nil
}

func overrideKey(fn symbols.Function) string {
	if fn.Kind == symbols.Destructor {
		return "~"
	}
	key := fn.Name + "(" + strings.Join(fn.Params, ", ") + ")"
	if fn.Const {
		key += " const"
	}
	return key
}

// defaultConstructor returns the user-declared default constructor of sc,
// or nil when the class relies on the implicit one.
func (s *Service) defaultConstructor(ctx context.Context, sc symbols.Scope) (*symbols.Function, error) {
	fns, err := s.table.FunctionsOf(ctx, sc.ID)
	if err != nil {
		return nil, err
	}

	declared := false
	for i := range fns {
		fn := &fns[i]
		if fn.Kind != symbols.Constructor {
			continue
		}
		declared = true
		if len(fn.Params) != 0 || fn.Variadic || fn.IsTemplate() {
			continue
		}
		switch {
		case fn.Deleted:
			return nil, fmt.Errorf("default constructor of %s is deleted", sc.Name)
		case fn.Access != "public":
			return nil, fmt.Errorf("default constructor of %s is %s", sc.Name, fn.Access)
		}
		return fn, nil
	}
	if declared {
		return nil, fmt.Errorf("%s has no default constructor", sc.Name)
	}
	return nil, nil
}

// destructor returns the user-declared destructor of scope id, if any.
func (s *Service) destructor(ctx context.Context, id int64) (*symbols.Function, error) {
	fns, err := s.table.FunctionsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range fns {
		if fns[i].Kind == symbols.Destructor {
			return &fns[i], nil
		}
	}
	return nil, nil
}

// findField locates the non-static field name in the object of class id at
// addr, searching bases after the class itself.
func (s *Service) findField(ctx context.Context, id int64, addr uint64, name string) (member, uint64, bool, error) {
	l, err := s.layoutOf(ctx, id)
	if err != nil {
		return member{}, 0, false, err
	}
	for _, m := range l.members {
		if m.Name == name {
			return m, addr + uint64(m.Offset), true, nil
		}
	}
	for _, b := range l.bases {
		m, at, ok, err := s.findField(ctx, b.Scope, addr+uint64(b.Offset), name)
		if err != nil || ok {
			return m, at, ok, err
		}
	}
	return member{}, 0, false, nil
}

// findStatic locates the static field name of class id or its bases and
// returns its storage key.
func (s *Service) findStatic(ctx context.Context, id int64, name string) (symbols.Field, string, bool, error) {
	l, err := s.layoutOf(ctx, id)
	if err != nil {
		return symbols.Field{}, "", false, err
	}
	for _, f := range l.statics {
		if f.Name == name {
			return f, l.scope.Name + "::" + name, true, nil
		}
	}
	for _, b := range l.bases {
		f, key, ok, err := s.findStatic(ctx, b.Scope, name)
		if err != nil || ok {
			return f, key, ok, err
		}
	}
	return symbols.Field{}, "", false, nil
}

// baseOffset returns the offset of the base subobject of class base within
// class derived.
func (s *Service) baseOffset(ctx context.Context, derived, base int64) (int, bool, error) {
	if derived == base {
		return 0, true, nil
	}
	l, err := s.layoutOf(ctx, derived)
	if err != nil {
		return 0, false, err
	}
	for _, b := range l.bases {
		off, ok, err := s.baseOffset(ctx, b.Scope, base)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return b.Offset + off, true, nil
		}
	}
	return 0, false, nil
}

// sizeOf is sizeof(text) as seen from the scope named from.
func (s *Service) sizeOf(ctx context.Context, from, text string) (int, error) {
	sc, err := s.resolveScope(ctx, from, text)
	if err != nil || !sc.Kind.IsClass() {
		return 0, abi.ErrInvocation.Wrapf("sizeof(%s): unknown type", text)
	}
	l, err := s.layoutOf(ctx, sc.ID)
	if err != nil {
		return 0, abi.ErrInvocation.Wrap(err)
	}
	return l.size, nil
}
