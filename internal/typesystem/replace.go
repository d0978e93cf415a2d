package typesystem

// ReplaceTCon rewrites the name of every named type in t through rename.
// Template parameters are left alone. The compiler uses it to qualify names
// written inside a class or namespace.
func ReplaceTCon(t Type, rename func(name string) string) Type {
	if t == nil {
		return nil
	}
	switch typ := t.(type) {
	case TCon:
		return TCon{Name: rename(typ.Name)}
	case TApp:
		newArgs := make([]Type, len(typ.Args))
		for i, arg := range typ.Args {
			newArgs[i] = ReplaceTCon(arg, rename)
		}
		return TApp{
			Constructor: TCon{Name: rename(typ.Constructor.Name)},
			Args:        newArgs,
		}
	case TPtr:
		return TPtr{Elem: ReplaceTCon(typ.Elem, rename)}
	case TRef:
		return TRef{Elem: ReplaceTCon(typ.Elem, rename), RValue: typ.RValue}
	default:
		return t
	}
}
