package typesystem

import (
	"fmt"
	"strings"
)

// Deduce matches declared parameter types against argument types and
// returns the bindings of the template parameters named in tparams.
//
// Matching is structural: no conversions, promotions or derived-to-base
// adjustments are considered. References on either side are stripped.
// A pointer parameter U* also accepts a class-typed argument X (binding
// U to X), since host objects always travel by address.
// Every template parameter must end up bound.
func Deduce(params, args []Type, tparams []string) (Subst, error) {
	if len(params) != len(args) {
		return nil, &DeductionError{Msg: fmt.Sprintf("expected %d arguments, got %d", len(params), len(args))}
	}

	s := Subst{}
	for i := range params {
		if err := match(StripRef(params[i]), StripRef(args[i]), s); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
	}

	var missing []string
	for _, name := range tparams {
		if _, ok := s[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &DeductionError{Msg: "could not deduce " + strings.Join(missing, ", ")}
	}
	return s, nil
}

func match(p, a Type, s Subst) error {
	switch p := p.(type) {
	case TVar:
		if bound, ok := s[p.Name]; ok {
			if !Equal(bound, a) {
				return errDeduce(p, a, fmt.Sprintf("%s already deduced as %s", p.Name, bound))
			}
			return nil
		}
		return bind(p, a, s)

	case TCon:
		if c, ok := a.(TCon); ok && c.Name == p.Name {
			return nil
		}
		return errDeduce(p, a, "type mismatch")

	case TApp:
		app, ok := a.(TApp)
		if !ok || app.Constructor.Name != p.Constructor.Name || len(app.Args) != len(p.Args) {
			return errDeduce(p, a, "template-id mismatch")
		}
		for i := range p.Args {
			if err := match(p.Args[i], app.Args[i], s); err != nil {
				return err
			}
		}
		return nil

	case TPtr:
		switch a := a.(type) {
		case TPtr:
			return match(p.Elem, a.Elem, s)
		default:
			if IsObject(a) {
				return match(p.Elem, a, s)
			}
		}
		return errDeduce(p, a, "argument is not a pointer or object")

	case TRef:
		return match(p.Elem, a, s)
	}
	return errDeduce(p, a, fmt.Sprintf("unsupported parameter type %T", p))
}

func bind(tv TVar, t Type, s Subst) error {
	if _, isVoid := t.(TCon); isVoid && t.String() == "void" {
		return errDeduce(tv, t, "void is not a valid argument type")
	}
	for _, v := range t.FreeTypeVariables() {
		if v.Name == tv.Name {
			return errDeduce(tv, t, "infinite type")
		}
	}
	s[tv.Name] = t
	return nil
}

// Instantiate applies s to every type in ts.
func Instantiate(ts []Type, s Subst) []Type {
	out := make([]Type, len(ts))
	for i, t := range ts {
		out[i] = t.Apply(s)
	}
	return out
}

// Args returns the bindings of tparams in declaration order.
func (s Subst) Args(tparams []string) []Type {
	out := make([]Type, 0, len(tparams))
	for _, name := range tparams {
		if t, ok := s[name]; ok {
			out = append(out, t)
		}
	}
	return out
}
