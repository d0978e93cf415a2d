package compiler

import (
	"context"
	"log/slog"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/evaluator"
	"github.com/funvibe/cxbridge/internal/symbols"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// Call invokes the function at fn. sig must be the Signature of the method
// fn was obtained for, and slots must follow it.
func (s *Service) Call(ctx context.Context, fn abi.FuncAddr, sig abi.Signature, slots []abi.Slot) (abi.Slot, error) {
	if err := s.lock(); err != nil {
		return abi.Slot{}, err
	}
	defer s.mu.Unlock()

	h, ok := methodID(fn)
	if !ok {
		return abi.Slot{}, abi.ErrInvocation.Wrapf("%s is not a function address", fn)
	}
	m, err := s.method(ctx, h)
	if err != nil {
		return abi.Slot{}, abi.ErrInvocation.Wrap(err)
	}
	want, err := m.signature()
	if err != nil {
		return abi.Slot{}, abi.ErrInvocation.Wrap(err)
	}
	if sig.String() != want.String() {
		return abi.Slot{}, abi.ErrInvocation.Wrapf("%s called as %s", want, sig)
	}
	if err := checkSlots(want, slots); err != nil {
		return abi.Slot{}, err
	}

	frame, this, err := s.frame(ctx, m, want, slots)
	if err != nil {
		return abi.Slot{}, err
	}
	v, err := s.run(ctx, m.fn, m.subst, frame, this)
	if err != nil {
		return abi.Slot{}, err
	}
	return resultSlot(want.Result, v)
}

// checkSlots validates the count and passing mode of every slot.
func checkSlots(sig abi.Signature, slots []abi.Slot) error {
	params := sig.Slots()
	if len(slots) < len(params) || (!sig.Variadic && len(slots) > len(params)) {
		return abi.ErrInvocation.Wrapf("%s takes %d arguments, got %d", sig.Name, len(params), len(slots))
	}
	for i, p := range params {
		sl := slots[i]
		if sl.Mode != p.Mode {
			return abi.ErrInvocation.Wrapf("%s: argument %d passed %s, declared %s", sig.Name, i+1, sl.Mode, p.Mode)
		}
		if sl.Kind != p.Kind || sl.Width != p.Width {
			return abi.ErrInvocation.Wrapf("%s: argument %d is a %d-byte %s, declared %s", sig.Name, i+1, sl.Width, sl.Kind, p)
		}
	}
	return nil
}

// frame binds the slots of a call to the parameter names of m.
func (s *Service) frame(ctx context.Context, m *method, sig abi.Signature, slots []abi.Slot) (*evaluator.Frame, uint64, error) {
	frame := &evaluator.Frame{
		Vars:     make(map[string]any),
		VarTypes: make(map[string]string),
	}

	var this uint64
	if sig.Receiver != nil {
		addr := slots[0].Bits
		b, off, err := s.heap.find(addr)
		if err != nil {
			return nil, 0, err
		}
		if off == 0 && b.scope != m.scope.ID {
			delta, ok, err := s.baseOffset(ctx, b.scope, m.scope.ID)
			if err != nil {
				return nil, 0, abi.ErrInvocation.Wrap(err)
			}
			if !ok {
				return nil, 0, abi.ErrInvocation.Wrapf("object at %s is not a %s", abi.Addr(addr), m.scope.Name)
			}
			addr += uint64(delta)
		}
		this = addr
		slots = slots[1:]
	}

	for i, p := range sig.Params {
		sl := slots[i]
		if p.Kind == abi.Pointer && sl.Bits != 0 && pointsToClass(p.Type) {
			if _, _, err := s.heap.find(sl.Bits); err != nil {
				return nil, 0, err
			}
		}
		if p.Name == "" {
			continue
		}
		frame.Vars[p.Name] = slotValue(sl)
		frame.VarTypes[p.Name] = p.Type
	}
	return frame, this, nil
}

func pointsToClass(text string) bool {
	t, err := typesystem.Parse(text, nil)
	if err != nil {
		return false
	}
	t = typesystem.StripRef(t)
	if p, ok := t.(typesystem.TPtr); ok {
		t = p.Elem
	}
	return typesystem.IsObject(t)
}

func slotValue(sl abi.Slot) any {
	if sl.Kind == abi.Pointer {
		return sl.Bits
	}
	return sl.Value()
}

// run executes the body of fn. this is the object address for members.
func (s *Service) run(ctx context.Context, fn symbols.Function, subst typesystem.Subst, frame *evaluator.Frame, this uint64) (any, error) {
	sc, err := s.table.ScopeByID(ctx, fn.Scope)
	if err != nil {
		return nil, err
	}
	name := qualify(prefixOf(sc), fn.Name)

	if !fn.HasBody {
		if fn.Defaulted || fn.Kind == symbols.Constructor || fn.Kind == symbols.Destructor {
			return nil, nil
		}
		return nil, abi.ErrInvocation.Wrapf("%s is declared but never defined", name)
	}
	if s.depth >= maxCallDepth {
		return nil, abi.ErrInvocation.Wrapf("%s: call depth exceeds %d", name, maxCallDepth)
	}

	if frame.Vars == nil {
		frame.Vars = make(map[string]any)
	}
	if frame.VarTypes == nil {
		frame.VarTypes = make(map[string]string)
	}
	frame.Types = make(map[string]string, len(subst))
	for tp, t := range subst {
		frame.Types[tp] = t.String()
	}
	if fn.HasReceiver() {
		frame.Vars[config.ThisName] = this
		frame.VarTypes[config.ThisName] = sc.Name + "*"
	}
	frame.Host = &objectHost{s: s, scope: sc, this: this}

	s.depth++
	defer func() { s.depth-- }()

	s.log.Trace(ctx, "running body", slog.String("function", name))
	v, err := s.eval.Run(ctx, fn.Body, frame)
	if err != nil {
		return nil, abi.ErrInvocation.Wrap(err).With(slog.String("function", name))
	}
	return v, nil
}

// resultSlot marshals a body's return value per the declared result.
func resultSlot(p abi.Param, v any) (abi.Slot, error) {
	switch p.Kind {
	case abi.Void:
		return abi.Slot{Mode: abi.ByValue, Kind: abi.Void}, nil
	case abi.Float:
		f, err := toFloat(v)
		if err != nil {
			return abi.Slot{}, err
		}
		return abi.FloatSlot(p.Width, f), nil
	case abi.Pointer:
		n, err := toInt(v)
		if err != nil {
			return abi.Slot{}, err
		}
		return abi.AddrSlot(p.Mode, abi.Addr(n)), nil
	}

	bits, err := scalarBits(p.Width, p.Kind, v)
	if err != nil {
		return abi.Slot{}, err
	}
	if p.Width < 8 {
		bits &= 1<<(8*uint(p.Width)) - 1
	}
	return abi.Slot{Mode: abi.ByValue, Width: p.Width, Kind: p.Kind, Bits: bits}, nil
}

// convert applies the conversion of an assignment to a scalar.
func convert(width int, kind abi.Kind, v any) (any, error) {
	bits, err := scalarBits(width, kind, v)
	if err != nil {
		return nil, err
	}
	if kind == abi.Pointer {
		return bits, nil
	}
	if width < 8 {
		bits &= 1<<(8*uint(width)) - 1
	}
	return abi.Slot{Width: width, Kind: kind, Bits: bits}.Value(), nil
}

// scalarOf returns the width and kind of a scalar type.
func scalarOf(text string) (int, abi.Kind, bool) {
	t, err := typesystem.Parse(text, nil)
	if err != nil {
		return 0, 0, false
	}
	switch t := t.(type) {
	case typesystem.TPtr, typesystem.TRef:
		return config.PointerWidth, abi.Pointer, true
	case typesystem.TCon:
		if b, ok := config.LookupBuiltin(t.Name); ok && b.Kind != abi.Void {
			return b.Width, b.Kind, true
		}
	}
	return 0, 0, false
}

// objectHost serves field access and calls made by a running body.
type objectHost struct {
	s     *Service
	scope symbols.Scope // declaring scope of the running function
	this  uint64        // zero outside member functions
}

var _ evaluator.Host = (*objectHost)(nil)

func (h *objectHost) Field(ctx context.Context, name string) (any, error) {
	if h.this != 0 && h.scope.Kind.IsClass() {
		m, addr, ok, err := h.s.findField(ctx, h.scope.ID, h.this, name)
		if err != nil {
			return nil, abi.ErrInvocation.Wrap(err)
		}
		if ok {
			if m.Class != 0 {
				return addr, nil
			}
			return h.s.heap.load(addr, m.Width, m.Kind)
		}
	}

	f, key, err := h.static(ctx, name)
	if err != nil {
		return nil, err
	}
	if v, ok := h.s.statics[key]; ok {
		return v, nil
	}
	width, kind, ok := scalarOf(f.Type)
	if !ok {
		return nil, abi.ErrUnsupported.Wrapf("static member %s of type %s", key, f.Type)
	}
	return convert(width, kind, int64(0))
}

func (h *objectHost) SetField(ctx context.Context, name string, v any) error {
	if h.this != 0 && h.scope.Kind.IsClass() {
		m, addr, ok, err := h.s.findField(ctx, h.scope.ID, h.this, name)
		if err != nil {
			return abi.ErrInvocation.Wrap(err)
		}
		if ok {
			if m.Class != 0 {
				return abi.ErrUnsupported.Wrapf("assignment to class-typed member %s", name)
			}
			return h.s.heap.store(addr, m.Width, m.Kind, v)
		}
	}

	f, key, err := h.static(ctx, name)
	if err != nil {
		return err
	}
	width, kind, ok := scalarOf(f.Type)
	if !ok {
		return abi.ErrUnsupported.Wrapf("static member %s of type %s", key, f.Type)
	}
	cv, err := convert(width, kind, v)
	if err != nil {
		return err
	}
	h.s.statics[key] = cv
	return nil
}

func (h *objectHost) static(ctx context.Context, name string) (symbols.Field, string, error) {
	if h.scope.Kind.IsClass() {
		f, key, ok, err := h.s.findStatic(ctx, h.scope.ID, name)
		if err != nil {
			return f, "", abi.ErrInvocation.Wrap(err)
		}
		if ok {
			return f, key, nil
		}
	}
	return symbols.Field{}, "", abi.ErrInvocation.Wrapf("%s has no member %s", h.scope.Name, name)
}

func (h *objectHost) Call(ctx context.Context, name string, args []any) (any, error) {
	fn, err := h.s.callee(ctx, h.scope, name, len(args))
	if err != nil {
		return nil, err
	}

	var this uint64
	if fn.HasReceiver() {
		if h.this == 0 || !h.scope.Kind.IsClass() {
			return nil, abi.ErrInvocation.Wrapf("call to member %s without an object", name)
		}
		off, ok, err := h.s.baseOffset(ctx, h.scope.ID, fn.Scope)
		if err != nil {
			return nil, abi.ErrInvocation.Wrap(err)
		}
		if !ok {
			return nil, abi.ErrInvocation.Wrapf("%s is not a member of %s", name, h.scope.Name)
		}
		this = h.this + uint64(off)
	}

	frame := &evaluator.Frame{
		Vars:     make(map[string]any),
		VarTypes: make(map[string]string),
	}
	for i, pname := range fn.ParamNames {
		if pname == "" || i >= len(args) {
			continue
		}
		v := args[i]
		if width, kind, ok := scalarOf(fn.Params[i]); ok {
			cv, err := convert(width, kind, v)
			if err != nil {
				return nil, err
			}
			v = cv
		}
		frame.Vars[pname] = v
		frame.VarTypes[pname] = fn.Params[i]
	}
	return h.s.run(ctx, fn, nil, frame, this)
}

func (h *objectHost) SizeOf(ctx context.Context, typ string) (int, error) {
	return h.s.sizeOf(ctx, prefixOf(h.scope), typ)
}

// callee finds the single non-template function name callable with argc
// arguments, searching outward from the scope of the running function.
func (s *Service) callee(ctx context.Context, from symbols.Scope, name string, argc int) (symbols.Function, error) {
	var (
		cands []symbols.Function
		err   error
	)
	if q := parentName(name); q != "" {
		sc, rerr := s.resolveScope(ctx, prefixOf(from), q)
		if rerr != nil {
			return symbols.Function{}, abi.ErrNotFound.Wrapf("unknown scope %s", q)
		}
		cands, err = s.candidates(ctx, sc, lastName(name))
	} else {
		sc := from
		for {
			cands, err = s.candidates(ctx, sc, name)
			if err != nil || len(cands) > 0 || sc.ID == symbols.GlobalScopeID {
				break
			}
			if sc, err = s.table.ScopeByID(ctx, sc.Parent); err != nil {
				break
			}
		}
		if err == nil && len(cands) == 0 {
			cands, err = s.table.ExternC(ctx, name)
		}
	}
	if err != nil {
		return symbols.Function{}, abi.ErrInvocation.Wrap(err)
	}

	var viable []symbols.Function
	for _, fn := range cands {
		if fn.IsTemplate() || fn.Deleted || fn.Kind == symbols.Constructor || fn.Kind == symbols.Destructor {
			continue
		}
		if len(fn.Params) == argc || (fn.Variadic && argc >= len(fn.Params)) {
			viable = append(viable, fn)
		}
	}
	switch len(viable) {
	case 0:
		return symbols.Function{}, abi.ErrNotFound.Wrapf("no function %s taking %d arguments", name, argc)
	case 1:
		return viable[0], nil
	}
	return symbols.Function{}, abi.ErrAmbiguous.Wrapf("call to %s with %d arguments matches %d functions", name, argc, len(viable))
}
