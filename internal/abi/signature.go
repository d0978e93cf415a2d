package abi

import (
	"fmt"
	"math"
	"strings"
)

// PassMode is how one argument slot is passed.
type PassMode uint8

const (
	ByValue PassMode = iota + 1
	ByPointer
	ByReference
)

func (m PassMode) String() string {
	switch m {
	case ByValue:
		return "value"
	case ByPointer:
		return "pointer"
	case ByReference:
		return "reference"
	default:
		return fmt.Sprintf("PassMode(%d)", uint8(m))
	}
}

// Kind classifies the bits carried in a slot.
type Kind uint8

const (
	Void Kind = iota
	Bool
	Int
	Uint
	Float
	Pointer
)

var kindNames = [...]string{
	Void:    "void",
	Bool:    "bool",
	Int:     "int",
	Uint:    "uint",
	Float:   "float",
	Pointer: "pointer",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Param describes one slot of a calling convention.
type Param struct {
	Name  string   // Declared parameter name, may be empty
	Type  string   // Canonical TypeDescriptor text
	Mode  PassMode // How the slot is passed
	Width int      // Native width in bytes
	Kind  Kind     // Value kind for ByValue slots; Pointer otherwise
}

func (p Param) String() string {
	return fmt.Sprintf("%s:%s/%d", p.Type, p.Mode, p.Width)
}

// Signature is the calling-convention descriptor of one MethodHandle.
type Signature struct {
	Name     string // Fully qualified instantiation name
	Receiver *Param // Implicit object argument, nil for static and free functions
	Params   []Param
	Result   Param // Kind Void when nothing is returned
	Variadic bool
}

// Arity is the number of slots a call must supply, receiver included.
func (s Signature) Arity() int {
	if s.Receiver != nil {
		return len(s.Params) + 1
	}

	return len(s.Params)
}

// Slots returns the full ordered slot layout, receiver first.
func (s Signature) Slots() []Param {
	out := make([]Param, 0, s.Arity())
	if s.Receiver != nil {
		out = append(out, *s.Receiver)
	}

	return append(out, s.Params...)
}

func (s Signature) String() string {
	parts := make([]string, 0, s.Arity())
	for _, p := range s.Slots() {
		parts = append(parts, p.String())
	}

	if s.Variadic {
		parts = append(parts, "...")
	}

	return fmt.Sprintf("%s(%s) -> %s", s.Name, strings.Join(parts, ", "), s.Result.Type)
}

// Slot is one marshaled argument or result.
type Slot struct {
	Mode  PassMode
	Width int
	Kind  Kind
	Bits  uint64
}

// AddrSlot marshals an address for a pointer or reference slot.
func AddrSlot(mode PassMode, a Addr) Slot {
	return Slot{Mode: mode, Width: 8, Kind: Pointer, Bits: uint64(a)}
}

// Addr returns the address carried by a pointer or reference slot.
func (s Slot) Addr() Addr { return Addr(s.Bits) }

// Int returns the sign-extended integer carried by s.
func (s Slot) Int() int64 {
	switch s.Width {
	case 1:
		return int64(int8(s.Bits))
	case 2:
		return int64(int16(s.Bits))
	case 4:
		return int64(int32(s.Bits))
	default:
		return int64(s.Bits)
	}
}

// Uint returns the zero-extended integer carried by s.
func (s Slot) Uint() uint64 {
	if s.Width >= 8 || s.Width <= 0 {
		return s.Bits
	}

	return s.Bits & (1<<(8*uint(s.Width)) - 1)
}

// Float returns the floating point value carried by s.
func (s Slot) Float() float64 {
	if s.Width == 4 {
		return float64(math.Float32frombits(uint32(s.Bits)))
	}

	return math.Float64frombits(s.Bits)
}

// Bool returns the boolean carried by s.
func (s Slot) Bool() bool { return s.Bits&0xff != 0 }

// Value returns the Go value carried by s according to its kind.
func (s Slot) Value() any {
	switch s.Kind {
	case Void:
		return nil
	case Bool:
		return s.Bool()
	case Int:
		return s.Int()
	case Uint:
		return s.Uint()
	case Float:
		return s.Float()
	default:
		return s.Addr()
	}
}

// IntSlot marshals v into a value slot of the given width, failing when v
// does not fit.
func IntSlot(width int, v int64) (Slot, error) {
	if width < 8 {
		lim := int64(1) << (8*uint(width) - 1)
		if v < -lim || v >= lim {
			return Slot{}, ErrInvocation.Wrapf("value %d overflows %d-byte integer", v, width)
		}
	}

	return Slot{Mode: ByValue, Width: width, Kind: Int, Bits: uint64(v) & mask(width)}, nil
}

// UintSlot marshals v into an unsigned value slot of the given width.
func UintSlot(width int, v uint64) (Slot, error) {
	if width < 8 && v>>(8*uint(width)) != 0 {
		return Slot{}, ErrInvocation.Wrapf("value %d overflows %d-byte unsigned integer", v, width)
	}

	return Slot{Mode: ByValue, Width: width, Kind: Uint, Bits: v}, nil
}

// FloatSlot marshals v into a 4 or 8 byte floating point slot.
func FloatSlot(width int, v float64) Slot {
	if width == 4 {
		return Slot{Mode: ByValue, Width: 4, Kind: Float, Bits: uint64(math.Float32bits(float32(v)))}
	}

	return Slot{Mode: ByValue, Width: 8, Kind: Float, Bits: math.Float64bits(v)}
}

// BoolSlot marshals v into a one byte slot.
func BoolSlot(v bool) Slot {
	s := Slot{Mode: ByValue, Width: 1, Kind: Bool}
	if v {
		s.Bits = 1
	}

	return s
}

func mask(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}

	return 1<<(8*uint(width)) - 1
}
