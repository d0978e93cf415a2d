// Package typesystem models declared native types: template parameters,
// named types, template-ids, pointers and references. It renders the
// canonical TypeDescriptor text shared by literal type names and names
// derived from host values, and deduces template arguments from argument
// types.
package typesystem

import (
	"sort"
	"strings"

	"github.com/funvibe/cxbridge/internal/config"
)

// Type is the interface for all types in our system.
type Type interface {
	String() string
	Apply(Subst) Type
	FreeTypeVariables() []TVar
}

// Subst maps template parameter names to types.
type Subst map[string]Type

// TVar is a template type parameter (e.g. T in template<typename T>).
type TVar struct {
	Name string
}

// TCon is a named type: a fundamental type or a qualified class name.
type TCon struct {
	Name string
}

// TApp is a template-id such as Pair<int, T>.
type TApp struct {
	Constructor TCon
	Args        []Type
}

// TPtr is a pointer to Elem.
type TPtr struct {
	Elem Type
}

// TRef is an lvalue reference, or an rvalue reference when RValue is set.
type TRef struct {
	Elem   Type
	RValue bool
}

func (t TVar) String() string { return t.Name }
func (t TCon) String() string { return t.Name }

func (t TApp) String() string {
	var sb strings.Builder
	sb.WriteString(t.Constructor.Name)
	sb.WriteByte('<')
	for i, a := range t.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte('>')
	return sb.String()
}

func (t TPtr) String() string { return t.Elem.String() + "*" }

func (t TRef) String() string {
	if t.RValue {
		return t.Elem.String() + "&&"
	}
	return t.Elem.String() + "&"
}

func (t TVar) Apply(s Subst) Type {
	if r, ok := s[t.Name]; ok {
		return r
	}
	return t
}

func (t TCon) Apply(Subst) Type { return t }

func (t TApp) Apply(s Subst) Type {
	args := make([]Type, len(t.Args))
	for i, a := range t.Args {
		args[i] = a.Apply(s)
	}
	return TApp{Constructor: t.Constructor, Args: args}
}

func (t TPtr) Apply(s Subst) Type { return TPtr{Elem: t.Elem.Apply(s)} }

func (t TRef) Apply(s Subst) Type {
	elem := t.Elem.Apply(s)
	// Reference collapsing: T& with T = U& is U&.
	if inner, ok := elem.(TRef); ok {
		return TRef{Elem: inner.Elem, RValue: t.RValue && inner.RValue}
	}
	return TRef{Elem: elem, RValue: t.RValue}
}

func (t TVar) FreeTypeVariables() []TVar { return []TVar{t} }
func (t TCon) FreeTypeVariables() []TVar { return nil }

func (t TApp) FreeTypeVariables() []TVar {
	var out []TVar
	for _, a := range t.Args {
		out = append(out, a.FreeTypeVariables()...)
	}
	return uniqueVars(out)
}

func (t TPtr) FreeTypeVariables() []TVar { return t.Elem.FreeTypeVariables() }
func (t TRef) FreeTypeVariables() []TVar { return t.Elem.FreeTypeVariables() }

func uniqueVars(vs []TVar) []TVar {
	if len(vs) < 2 {
		return vs
	}
	seen := make(map[string]bool, len(vs))
	out := vs[:0]
	for _, v := range vs {
		if !seen[v.Name] {
			seen[v.Name] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsBuiltin reports whether t is a fundamental type.
func IsBuiltin(t Type) bool {
	c, ok := t.(TCon)
	if !ok {
		return false
	}
	_, ok = config.LookupBuiltin(c.Name)
	return ok
}

// IsObject reports whether t names a class type (not a pointer, reference,
// fundamental type or template parameter).
func IsObject(t Type) bool {
	switch t := t.(type) {
	case TCon:
		return !IsBuiltin(t)
	case TApp:
		return true
	}
	return false
}

// StripRef removes one level of reference.
func StripRef(t Type) Type {
	if r, ok := t.(TRef); ok {
		return r.Elem
	}
	return t
}

// Equal reports whether two types render to the same descriptor.
func Equal(a, b Type) bool {
	return a.String() == b.String()
}

// Join renders an ordered type list as a TypeDescriptor list.
func Join(ts []Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
