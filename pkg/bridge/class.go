package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/object"
	"github.com/funvibe/cxbridge/internal/scope"
)

// MemberKind tells how a surrogate member resolves.
type MemberKind uint8

const (
	// Method is a plain member function, resolved by argument types.
	Method MemberKind = iota + 1
	// Template is a member template, resolved implicitly or explicitly.
	Template
)

func (k MemberKind) String() string {
	switch k {
	case Method:
		return "method"
	case Template:
		return "template"
	default:
		return fmt.Sprintf("MemberKind(%d)", uint8(k))
	}
}

// Member is one member exposed on a surrogate.
type Member struct {
	Name string
	Kind MemberKind
}

// TypeInfo describes a surrogate: the host-side name, the qualified native
// scope it stands for (Name when empty) and the members it exposes.
type TypeInfo struct {
	Name    string
	Scope   string
	Members []Member
}

func typeInfoOf(ts config.TypeSpec) TypeInfo {
	info := TypeInfo{Name: ts.Name}
	for _, m := range ts.Methods {
		info.Members = append(info.Members, Member{Name: m, Kind: Method})
	}
	for _, m := range ts.Templates {
		info.Members = append(info.Members, Member{Name: m, Kind: Template})
	}
	return info
}

// Class is a host-side surrogate of a native class. Only declared members
// can be called through it.
type Class struct {
	session *Session
	name    string
	scope   string
	handle  abi.ScopeHandle
	members map[string]MemberKind
}

// Define registers a surrogate. The native scope must exist; redefining a
// name replaces the previous surrogate.
func (s *Session) Define(ctx context.Context, info TypeInfo) (*Class, error) {
	if info.Name == "" {
		return nil, abi.ErrNotFound.Wrapf("type without a name")
	}
	qualified := info.Scope
	if qualified == "" {
		qualified = info.Name
	}
	qualified = scope.Normalize(qualified)

	h, err := s.Resolve(ctx, qualified)
	if err != nil {
		return nil, err
	}

	cls := &Class{
		session: s,
		name:    info.Name,
		scope:   qualified,
		handle:  h,
		members: make(map[string]MemberKind, len(info.Members)),
	}
	for _, m := range info.Members {
		if prev, ok := cls.members[m.Name]; ok && prev != m.Kind {
			return nil, fmt.Errorf("%s: member %s declared as %s and %s", info.Name, m.Name, prev, m.Kind)
		}
		cls.members[m.Name] = m.Kind
	}

	s.mu.Lock()
	s.classes[info.Name] = cls
	s.mu.Unlock()

	s.log.Debug(ctx, "type defined",
		slog.String("type", info.Name),
		slog.String("scope", qualified),
		slog.Int("members", len(cls.members)))
	return cls, nil
}

// Class returns the surrogate defined under name.
func (s *Session) Class(name string) (*Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cls, ok := s.classes[name]
	return cls, ok
}

// Classes returns the names of every defined surrogate, sorted.
func (s *Session) Classes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Class) Name() string            { return c.name }
func (c *Class) Scope() string           { return c.scope }
func (c *Class) Handle() abi.ScopeHandle { return c.handle }

// Members returns the declared members, sorted by name.
func (c *Class) Members() []Member {
	out := make([]Member, 0, len(c.members))
	for name, kind := range c.members {
		out = append(out, Member{Name: name, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Class) member(name string) (MemberKind, error) {
	kind, ok := c.members[name]
	if !ok {
		return 0, abi.ErrNotFound.Wrapf("%s has no member %s", c.name, name).
			With(slog.String("type", c.name), slog.String("member", name))
	}
	return kind, nil
}

// New constructs an instance of the class.
func (c *Class) New(ctx context.Context) (*Object, error) {
	return c.session.construct(ctx, c.scope, c)
}

// Call invokes a static member resolved from args.
func (c *Class) Call(ctx context.Context, member string, args ...any) (any, error) {
	if _, err := c.member(member); err != nil {
		return nil, err
	}
	fn, err := c.session.Implicit(ctx, c.scope, member, args...)
	if err != nil {
		return nil, err
	}
	if fn.HasReceiver() {
		return nil, abi.ErrInvocation.Wrapf("%s::%s needs an object", c.name, member)
	}
	return fn.Call(ctx, args...)
}

// Object is a native instance created through a session. It can be passed
// as an argument wherever an instance, pointer or reference is expected.
type Object struct {
	session *Session
	class   *Class
	inst    *object.Instance
}

// TypeName implements marshal.Instance.
func (o *Object) TypeName() string { return o.inst.Type }

// Address implements marshal.Instance.
func (o *Object) Address() abi.Addr { return o.inst.Addr }

// Class returns the surrogate the object was created from, or nil for
// objects made by Session.Construct.
func (o *Object) Class() *Class { return o.class }

func (o *Object) String() string { return o.inst.String() }

func (o *Object) member(name string) (MemberKind, error) {
	if o.class == nil {
		return Template, nil
	}
	return o.class.member(name)
}

// Call resolves member implicitly from args and invokes it on the object.
// Objects made by Session.Construct accept any member name.
func (o *Object) Call(ctx context.Context, member string, args ...any) (any, error) {
	if _, err := o.member(member); err != nil {
		return nil, err
	}
	fn, err := o.session.Implicit(ctx, o.inst.Type, member, args...)
	if err != nil {
		return nil, err
	}
	return o.invoke(ctx, fn, args)
}

// Explicit resolves a member template from type-argument text and returns
// it bound to the object.
func (o *Object) Explicit(ctx context.Context, member string, targs ...string) (*BoundMethod, error) {
	kind, err := o.member(member)
	if err != nil {
		return nil, err
	}
	if kind != Template {
		return nil, abi.ErrUnsupported.Wrapf("%s::%s is not a template", o.inst.Type, member)
	}
	fn, err := o.session.Explicit(ctx, o.inst.Type, member, targs...)
	if err != nil {
		return nil, err
	}
	return &BoundMethod{obj: o, fn: fn}, nil
}

func (o *Object) invoke(ctx context.Context, fn *Callable, args []any) (any, error) {
	if fn.HasReceiver() {
		args = append([]any{o}, args...)
	}
	return fn.Call(ctx, args...)
}

// BoundMethod is a callable with its receiver attached.
type BoundMethod struct {
	obj *Object
	fn  *Callable
}

// Callable returns the underlying callable.
func (m *BoundMethod) Callable() *Callable { return m.fn }

// Call invokes the method; the receiver is prepended when the signature
// declares one.
func (m *BoundMethod) Call(ctx context.Context, args ...any) (any, error) {
	return m.obj.invoke(ctx, m.fn, args)
}
