// Package marshal maps host values to TypeDescriptors and to the argument
// slots of a native calling convention.
//
// The mapping is total over the categories below; any other value is
// abi.ErrUnmarshalable.
//
//	bool                    bool
//	int8, uint8             signed char, unsigned char
//	int16, uint16           short, unsigned short
//	int, int32              int
//	uint, uint32            unsigned int
//	int64, uint64           long long, unsigned long long
//	float32, float64        float, double
//	Instance                its qualified class name
//	Pointer                 Name*
//	Reference               Name&
//	abi.Addr                void*
//
// Named types with one of these underlying kinds map like the kind.
package marshal

import (
	"fmt"
	"math"
	"reflect"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// Instance is a host value standing for a native instance.
type Instance interface {
	// TypeName is the qualified name of the instance's class.
	TypeName() string
	// Address is the native address of the instance.
	Address() abi.Addr
}

// Pointer passes an instance explicitly as Name*.
type Pointer struct{ Instance }

// Reference passes an instance explicitly as Name&.
type Reference struct{ Instance }

// Ptr wraps inst so it is described and passed as a pointer.
func Ptr(inst Instance) Pointer { return Pointer{inst} }

// Ref wraps inst so it is described and passed as a reference.
func Ref(inst Instance) Reference { return Reference{inst} }

var kindNames = map[reflect.Kind]string{
	reflect.Bool:    config.BoolTypeName,
	reflect.Int8:    config.SCharTypeName,
	reflect.Uint8:   config.UCharTypeName,
	reflect.Int16:   config.ShortTypeName,
	reflect.Uint16:  config.UShortTypeName,
	reflect.Int:     config.IntTypeName,
	reflect.Int32:   config.IntTypeName,
	reflect.Uint:    config.UIntTypeName,
	reflect.Uint32:  config.UIntTypeName,
	reflect.Int64:   config.LongLongTypeName,
	reflect.Uint64:  config.ULongLongTypeName,
	reflect.Float32: config.FloatTypeName,
	reflect.Float64: config.DoubleTypeName,
}

// Descriptor returns the TypeDescriptor of v, normalized the same way as
// literal type text.
func Descriptor(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", abi.ErrUnmarshalable.Wrapf("nil has no type")
	case Pointer:
		return instanceName(v.Instance, "*")
	case Reference:
		return instanceName(v.Instance, "&")
	case Instance:
		return instanceName(v, "")
	case abi.Addr:
		return config.VoidPtrTypeName, nil
	}

	if name, ok := kindNames[reflect.TypeOf(v).Kind()]; ok {
		return name, nil
	}
	return "", abi.ErrUnmarshalable.Wrapf("%T", v)
}

func instanceName(inst Instance, suffix string) (string, error) {
	if inst == nil || reflect.ValueOf(inst).Kind() == reflect.Pointer && reflect.ValueOf(inst).IsNil() {
		return "", abi.ErrUnmarshalable.Wrapf("nil instance")
	}
	name, err := typesystem.Canonical(inst.TypeName() + suffix)
	if err != nil {
		return "", abi.ErrUnmarshalable.Wrap(err)
	}
	return name, nil
}

// Descriptors renders the descriptor of every value, in order.
func Descriptors(values []any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		d, err := Descriptor(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// Slot marshals v into the slot described by p. Values are range checked
// against the declared width; instances pass their address.
func Slot(v any, p abi.Param) (abi.Slot, error) {
	switch p.Mode {
	case abi.ByPointer, abi.ByReference:
		return addressSlot(v, p)
	case abi.ByValue:
		return valueSlot(v, p)
	}
	return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: unknown pass mode %s", p.Type, p.Mode)
}

func addressSlot(v any, p abi.Param) (abi.Slot, error) {
	var addr abi.Addr
	switch v := v.(type) {
	case nil:
		if p.Mode == abi.ByReference {
			return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: null reference", p.Type)
		}
	case Pointer:
		if p.Mode != abi.ByPointer {
			return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: pointer passed for a %s", p.Type, p.Mode)
		}
		addr = v.Address()
	case Reference:
		if p.Mode != abi.ByReference {
			return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: reference passed for a %s", p.Type, p.Mode)
		}
		addr = v.Address()
	case Instance:
		addr = v.Address()
	case abi.Addr:
		addr = v
	default:
		return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: %T passed for a %s", p.Type, v, p.Mode)
	}
	return abi.AddrSlot(p.Mode, addr), nil
}

func valueSlot(v any, p abi.Param) (abi.Slot, error) {
	switch v.(type) {
	case nil, Instance, Pointer, Reference:
		return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: %T passed by value", p.Type, v)
	case abi.Addr:
		if p.Kind != abi.Pointer {
			return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: address passed for a %s", p.Type, p.Kind)
		}
	}

	rv := reflect.ValueOf(v)
	switch p.Kind {
	case abi.Bool:
		if rv.Kind() == reflect.Bool {
			return abi.BoolSlot(rv.Bool()), nil
		}
	case abi.Int:
		switch {
		case rv.CanInt():
			return abi.IntSlot(p.Width, rv.Int())
		case rv.CanUint():
			u := rv.Uint()
			if u > math.MaxInt64 {
				return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: %d overflows", p.Type, u)
			}
			return abi.IntSlot(p.Width, int64(u))
		}
	case abi.Uint:
		switch {
		case rv.CanUint():
			return abi.UintSlot(p.Width, rv.Uint())
		case rv.CanInt():
			if rv.Int() < 0 {
				return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: negative value %d", p.Type, rv.Int())
			}
			return abi.UintSlot(p.Width, uint64(rv.Int()))
		}
	case abi.Float:
		switch {
		case rv.CanFloat():
			return abi.FloatSlot(p.Width, rv.Float()), nil
		case rv.CanInt():
			return abi.FloatSlot(p.Width, float64(rv.Int())), nil
		case rv.CanUint():
			return abi.FloatSlot(p.Width, float64(rv.Uint())), nil
		}
	case abi.Pointer:
		if a, ok := v.(abi.Addr); ok {
			return abi.Slot{Mode: abi.ByValue, Width: p.Width, Kind: abi.Pointer, Bits: uint64(a)}, nil
		}
	}
	return abi.Slot{}, abi.ErrInvocation.Wrapf("%s: cannot pass %T as %s", p.Type, v, p.Kind)
}

// Value unmarshals a result slot by the declared kind of p: nil for void,
// then bool, int64, uint64, float64 or abi.Addr.
func Value(s abi.Slot, p abi.Param) any {
	if p.Kind == abi.Void {
		return nil
	}
	s.Kind, s.Width = p.Kind, p.Width
	return s.Value()
}
