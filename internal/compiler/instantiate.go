package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/symbols"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// InstantiateTemplate resolves name in scope against argument types.
//
// name is either a plain function name with args listing the argument
// types, or name<T1, ...> with empty args. A bracket list is read as the
// argument types of the call, so both forms deduce the same instantiation:
// callme<A, int, C*> and callme with "A, int, C" both yield callme<A, int, C>.
// When no function accepts the list as argument types, it binds the
// template parameters of the templates taking exactly that many, so
// make<int> reaches template<typename T> T make().
// Non-template functions match when their parameter types equal the
// argument types, allowing for reference stripping and pointer decay of
// class arguments.
func (s *Service) InstantiateTemplate(ctx context.Context, scope abi.ScopeHandle, name, args string) (abi.MethodHandle, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	sc, err := s.scope(ctx, scope)
	if err != nil {
		return 0, err
	}

	plain, bracket, explicit := abi.SplitTemplateName(name)
	if explicit {
		if strings.TrimSpace(args) != "" {
			return 0, abi.ErrUnsupported.Wrapf("%s: template argument list and argument types given together", name)
		}
		args = bracket
	}
	attrs := []slog.Attr{
		slog.String("scope", sc.Name),
		slog.String("name", plain),
		slog.String("args", args),
	}

	argTypes, err := s.argumentTypes(ctx, sc, args)
	if err != nil {
		return 0, abi.ErrNoMatch.Wrap(err).With(attrs...)
	}

	cands, err := s.candidates(ctx, sc, plain)
	if err != nil {
		return 0, err
	}
	if len(cands) == 0 {
		return 0, abi.ErrNoMatch.Wrapf("%s has no function %s", sc.Name, plain).With(attrs...)
	}

	type match struct {
		fn    symbols.Function
		targs string
	}
	var (
		matches []match
		reasons []string
	)
	for _, fn := range cands {
		if fn.Kind == symbols.Constructor || fn.Kind == symbols.Destructor {
			continue
		}
		if fn.Deleted {
			reasons = append(reasons, fmt.Sprintf("%s: deleted", signatureText(fn)))
			continue
		}
		subst, err := deduce(fn, argTypes)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", signatureText(fn), err))
			continue
		}
		matches = append(matches, match{fn: fn, targs: typesystem.Join(subst.Args(fn.TemplateParams))})
	}

	if len(matches) == 0 && explicit {
		for _, fn := range cands {
			if fn.Deleted || !fn.IsTemplate() || len(fn.TemplateParams) != len(argTypes) {
				continue
			}
			if fn.Kind == symbols.Constructor || fn.Kind == symbols.Destructor {
				continue
			}
			matches = append(matches, match{fn: fn, targs: typesystem.Join(argTypes)})
		}
		if len(matches) > 0 {
			attrs = append(attrs, slog.Bool("bound", true))
		}
	}

	switch len(matches) {
	case 0:
		return 0, abi.ErrNoMatch.Wrapf("no %s::%s accepts (%s)", sc.Name, plain, typesystem.Join(argTypes)).
			With(append(attrs, slog.String("rejected", strings.Join(reasons, "; ")))...)
	case 1:
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = signatureText(m.fn)
		}
		return 0, abi.ErrAmbiguous.Wrapf("%s::%s(%s) matches %d candidates", sc.Name, plain, typesystem.Join(argTypes), len(matches)).
			With(append(attrs, slog.String("candidates", strings.Join(names, "; ")))...)
	}

	m := matches[0]
	inst, err := s.table.Instantiation(ctx, m.fn.ID, m.targs)
	if errors.Is(err, symbols.ErrNotFound) {
		if m.fn.IsTemplate() && !s.lazy {
			return 0, abi.ErrNotInstantiated.Wrapf("%s<%s> has no explicit instantiation", m.fn.Name, m.targs).With(attrs...)
		}
		inst, err = s.table.Instantiate(ctx, m.fn.ID, m.targs, false)
	}
	if err != nil {
		return 0, err
	}

	s.log.Debug(ctx, "template resolved",
		append(attrs,
			slog.String("targs", m.targs),
			slog.String("handle", abi.MethodHandle(inst.ID).String()))...)
	return abi.MethodHandle(inst.ID), nil
}

// argumentTypes parses a TypeDescriptor list, qualifying class names as
// seen from sc.
func (s *Service) argumentTypes(ctx context.Context, sc symbols.Scope, list string) ([]typesystem.Type, error) {
	ts, err := typesystem.ParseList(list, nil)
	if err != nil {
		return nil, err
	}
	for i, t := range ts {
		ts[i] = typesystem.ReplaceTCon(t, func(name string) string {
			if _, ok := config.LookupBuiltin(name); ok {
				return name
			}
			if found, err := s.resolveScope(ctx, prefixOf(sc), name); err == nil && found.Kind.IsClass() {
				return found.Name
			}
			return name
		})
	}
	return ts, nil
}

// candidates returns the functions named name visible in sc. A class that
// does not declare name looks in its bases.
func (s *Service) candidates(ctx context.Context, sc symbols.Scope, name string) ([]symbols.Function, error) {
	fns, err := s.table.Functions(ctx, sc.ID, name)
	if err != nil || len(fns) > 0 || !sc.Kind.IsClass() {
		return fns, err
	}

	bases, err := s.table.Bases(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range bases {
		base, err := s.table.ScopeByID(ctx, b.Scope)
		if err != nil {
			return nil, err
		}
		inherited, err := s.candidates(ctx, base, name)
		if err != nil {
			return nil, err
		}
		fns = append(fns, inherited...)
	}
	return fns, nil
}

// deduce matches the parameters of fn against argument types. Arguments
// beyond the declared parameters of a variadic function are accepted as is.
func deduce(fn symbols.Function, args []typesystem.Type) (typesystem.Subst, error) {
	params, err := paramTypes(fn)
	if err != nil {
		return nil, err
	}
	if fn.Variadic && len(args) > len(params) {
		args = args[:len(params)]
	}
	return typesystem.Deduce(params, args, fn.TemplateParams)
}

func signatureText(fn symbols.Function) string {
	var sb strings.Builder
	if fn.IsTemplate() {
		fmt.Fprintf(&sb, "template<%s> ", strings.Join(fn.TemplateParams, ", "))
	}
	fmt.Fprintf(&sb, "%s(%s", fn.Name, strings.Join(fn.Params, ", "))
	if fn.Variadic {
		if len(fn.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteByte(')')
	return sb.String()
}

// method is a resolved instantiation with everything needed to call it.
type method struct {
	inst  symbols.Instantiation
	fn    symbols.Function
	scope symbols.Scope
	subst typesystem.Subst
}

func (m *method) name() string {
	n := qualify(prefixOf(m.scope), m.fn.Name)
	if m.fn.IsTemplate() {
		n += "<" + m.inst.TemplateArgs + ">"
	}
	return n
}

func (s *Service) method(ctx context.Context, h abi.MethodHandle) (*method, error) {
	if h == 0 {
		return nil, abi.ErrNotFound.Wrapf("zero method handle")
	}
	inst, err := s.table.InstantiationByID(ctx, int64(h))
	if errors.Is(err, symbols.ErrNotFound) {
		return nil, abi.ErrNotFound.Wrapf("unknown %s", h)
	}
	if err != nil {
		return nil, err
	}
	fn, err := s.table.Function(ctx, inst.Function)
	if err != nil {
		return nil, err
	}
	sc, err := s.table.ScopeByID(ctx, fn.Scope)
	if err != nil {
		return nil, err
	}

	m := &method{inst: inst, fn: fn, scope: sc, subst: typesystem.Subst{}}
	if fn.IsTemplate() {
		targs, err := typesystem.ParseList(inst.TemplateArgs, nil)
		if err != nil {
			return nil, err
		}
		if len(targs) != len(fn.TemplateParams) {
			return nil, fmt.Errorf("%s: %d template arguments for %d parameters", m.name(), len(targs), len(fn.TemplateParams))
		}
		for i, tp := range fn.TemplateParams {
			m.subst[tp] = targs[i]
		}
	}
	return m, nil
}

// GetFunctionAddress returns the entry point of the method behind h.
func (s *Service) GetFunctionAddress(ctx context.Context, h abi.MethodHandle) (abi.FuncAddr, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	m, err := s.method(ctx, h)
	if err != nil {
		return 0, err
	}
	if m.fn.Deleted {
		return 0, abi.ErrNotFound.Wrapf("%s is deleted", m.name())
	}
	return funcAddr(m.inst.ID), nil
}

func funcAddr(id int64) abi.FuncAddr {
	return abi.FuncAddr(codeBase + uint64(id)*codeAlign)
}

// methodID inverts funcAddr.
func methodID(fn abi.FuncAddr) (abi.MethodHandle, bool) {
	a := uint64(fn)
	if a <= codeBase || a >= heapBase || (a-codeBase)%codeAlign != 0 {
		return 0, false
	}
	return abi.MethodHandle((a - codeBase) / codeAlign), true
}

// Signature returns the calling convention of the method behind h.
func (s *Service) Signature(ctx context.Context, h abi.MethodHandle) (abi.Signature, error) {
	if err := s.lock(); err != nil {
		return abi.Signature{}, err
	}
	defer s.mu.Unlock()

	m, err := s.method(ctx, h)
	if err != nil {
		return abi.Signature{}, err
	}
	return m.signature()
}

func (m *method) signature() (abi.Signature, error) {
	sig := abi.Signature{Name: m.name(), Variadic: m.fn.Variadic}
	if m.fn.HasReceiver() {
		r := typesystem.ReceiverFor(m.scope.Name)
		sig.Receiver = &r
	}

	params, err := paramTypes(m.fn)
	if err != nil {
		return sig, err
	}
	for i, t := range typesystem.Instantiate(params, m.subst) {
		name := ""
		if i < len(m.fn.ParamNames) {
			name = m.fn.ParamNames[i]
		}
		p, err := typesystem.ParamFor(name, t)
		if err != nil {
			return sig, abi.ErrUnsupported.Wrap(err)
		}
		sig.Params = append(sig.Params, p)
	}

	result, err := typesystem.Parse(m.fn.Result, tparamSet(m.fn.TemplateParams))
	if err != nil {
		return sig, err
	}
	sig.Result, err = typesystem.ParamFor("", result.Apply(m.subst))
	if err != nil {
		return sig, abi.ErrUnsupported.Wrap(err)
	}
	return sig, nil
}
