package typesystem

import (
	"fmt"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
)

// ParamFor derives the calling-convention slot of a declared type:
// fundamental types pass by value at their native width, pointers and
// class objects pass by pointer, references pass by reference.
// The type must be fully instantiated.
func ParamFor(name string, t Type) (abi.Param, error) {
	if vs := t.FreeTypeVariables(); len(vs) > 0 {
		return abi.Param{}, fmt.Errorf("%s: template parameter %s is not instantiated", t, vs[0].Name)
	}

	p := abi.Param{Name: name, Type: t.String()}
	switch t := t.(type) {
	case TRef:
		p.Mode, p.Width, p.Kind = abi.ByReference, config.PointerWidth, abi.Pointer
	case TPtr:
		p.Mode, p.Width, p.Kind = abi.ByPointer, config.PointerWidth, abi.Pointer
	case TCon:
		if b, ok := config.LookupBuiltin(t.Name); ok {
			p.Mode, p.Width, p.Kind = abi.ByValue, b.Width, b.Kind
			break
		}
		p.Mode, p.Width, p.Kind = abi.ByPointer, config.PointerWidth, abi.Pointer
	case TApp:
		p.Mode, p.Width, p.Kind = abi.ByPointer, config.PointerWidth, abi.Pointer
	default:
		return abi.Param{}, fmt.Errorf("%s: no calling convention for %T", t, t)
	}
	return p, nil
}

// ReceiverFor is the implicit object parameter of a member of class.
func ReceiverFor(class string) abi.Param {
	return abi.Param{
		Name:  config.ThisName,
		Type:  class + "*",
		Mode:  abi.ByPointer,
		Width: config.PointerWidth,
		Kind:  abi.Pointer,
	}
}
