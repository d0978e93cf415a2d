package marshal

import (
	"errors"
	"math"
	"testing"

	"github.com/funvibe/cxbridge/internal/abi"
)

type inst struct {
	name string
	addr abi.Addr
}

func (i inst) TypeName() string  { return i.name }
func (i inst) Address() abi.Addr { return i.addr }

type level int16

func TestDescriptor(t *testing.T) {
	a := inst{"A", 0x1000}
	nested := inst{"ns::B", 0x2000}

	tests := []struct {
		value any
		want  string
	}{
		{true, "bool"},
		{int8(-1), "signed char"},
		{uint8(1), "unsigned char"},
		{int16(1), "short"},
		{uint16(1), "unsigned short"},
		{42, "int"},
		{int32(42), "int"},
		{uint(42), "unsigned int"},
		{uint32(42), "unsigned int"},
		{int64(42), "long long"},
		{uint64(42), "unsigned long long"},
		{float32(1.5), "float"},
		{2.5, "double"},
		{level(3), "short"},
		{a, "A"},
		{nested, "ns::B"},
		{Ptr(a), "A*"},
		{Ref(a), "A&"},
		{abi.Addr(0x10), "void*"},
	}

	for _, tt := range tests {
		got, err := Descriptor(tt.value)
		if err != nil {
			t.Errorf("Descriptor(%#v): %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Descriptor(%#v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestDescriptorUnmarshalable(t *testing.T) {
	for _, v := range []any{nil, "text", []int{1}, map[string]int{}, struct{}{}, complex(1, 2), Ptr(nil)} {
		if _, err := Descriptor(v); !errors.Is(err, abi.ErrUnmarshalable) {
			t.Errorf("Descriptor(%#v) = %v, want ErrUnmarshalable", v, err)
		}
	}
}

func TestDescriptors(t *testing.T) {
	got, err := Descriptors([]any{inst{"A", 1}, 42, inst{"C", 2}})
	if err != nil {
		t.Fatal(err)
	}
	if s := abi.JoinTypes(got); s != "A, int, C" {
		t.Errorf("Descriptors = %q", s)
	}

	if _, err := Descriptors([]any{1, "x"}); !errors.Is(err, abi.ErrUnmarshalable) {
		t.Errorf("Descriptors with a string = %v", err)
	}
}

func param(typ string, mode abi.PassMode, width int, kind abi.Kind) abi.Param {
	return abi.Param{Type: typ, Mode: mode, Width: width, Kind: kind}
}

func TestSlot(t *testing.T) {
	a := inst{"A", 0x1000}
	intP := param("int", abi.ByValue, 4, abi.Int)
	charP := param("char", abi.ByValue, 1, abi.Int)
	ucharP := param("unsigned char", abi.ByValue, 1, abi.Uint)
	floatP := param("float", abi.ByValue, 4, abi.Float)
	boolP := param("bool", abi.ByValue, 1, abi.Bool)
	ptrP := param("A*", abi.ByPointer, 8, abi.Pointer)
	refP := param("A&", abi.ByReference, 8, abi.Pointer)

	tests := []struct {
		name  string
		value any
		p     abi.Param
		want  abi.Slot
	}{
		{"int", 42, intP, abi.Slot{Mode: abi.ByValue, Width: 4, Kind: abi.Int, Bits: 42}},
		{"negative int", -1, intP, abi.Slot{Mode: abi.ByValue, Width: 4, Kind: abi.Int, Bits: 0xffffffff}},
		{"uint into int", uint8(7), charP, abi.Slot{Mode: abi.ByValue, Width: 1, Kind: abi.Int, Bits: 7}},
		{"uchar", 200, ucharP, abi.Slot{Mode: abi.ByValue, Width: 1, Kind: abi.Uint, Bits: 200}},
		{"bool", true, boolP, abi.Slot{Mode: abi.ByValue, Width: 1, Kind: abi.Bool, Bits: 1}},
		{"float", 1.5, floatP, abi.FloatSlot(4, 1.5)},
		{"int into float", 2, floatP, abi.FloatSlot(4, 2)},
		{"object", a, ptrP, abi.AddrSlot(abi.ByPointer, 0x1000)},
		{"pointer", Ptr(a), ptrP, abi.AddrSlot(abi.ByPointer, 0x1000)},
		{"reference", Ref(a), refP, abi.AddrSlot(abi.ByReference, 0x1000)},
		{"object by reference", a, refP, abi.AddrSlot(abi.ByReference, 0x1000)},
		{"raw address", abi.Addr(0x40), ptrP, abi.AddrSlot(abi.ByPointer, 0x40)},
		{"null pointer", nil, ptrP, abi.AddrSlot(abi.ByPointer, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Slot(tt.value, tt.p)
			if err != nil {
				t.Fatalf("Slot: %v", err)
			}
			if got != tt.want {
				t.Errorf("Slot = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSlotErrors(t *testing.T) {
	a := inst{"A", 0x1000}
	intP := param("int", abi.ByValue, 4, abi.Int)
	charP := param("char", abi.ByValue, 1, abi.Int)
	uintP := param("unsigned int", abi.ByValue, 4, abi.Uint)
	ptrP := param("A*", abi.ByPointer, 8, abi.Pointer)
	refP := param("A&", abi.ByReference, 8, abi.Pointer)

	tests := []struct {
		name  string
		value any
		p     abi.Param
	}{
		{"float for int", 1.5, intP},
		{"object by value", a, intP},
		{"int overflows char", 300, charP},
		{"int overflows int", int64(math.MaxInt32) + 1, intP},
		{"huge uint", uint64(math.MaxUint64), intP},
		{"negative unsigned", -1, uintP},
		{"int for pointer", 42, ptrP},
		{"reference for pointer", Ref(a), ptrP},
		{"pointer for reference", Ptr(a), refP},
		{"null reference", nil, refP},
		{"bool for int", true, intP},
		{"nil by value", nil, intP},
		{"no mode", 1, abi.Param{Type: "int", Width: 4, Kind: abi.Int}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Slot(tt.value, tt.p); !errors.Is(err, abi.ErrInvocation) {
				t.Errorf("Slot = %v, want ErrInvocation", err)
			}
		})
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		name string
		slot abi.Slot
		p    abi.Param
		want any
	}{
		{"void", abi.Slot{}, abi.Param{Type: "void"}, nil},
		{"int", abi.Slot{Bits: 0xfffffffe}, param("int", abi.ByValue, 4, abi.Int), int64(-2)},
		{"uint", abi.Slot{Bits: 0x1ff}, param("unsigned char", abi.ByValue, 1, abi.Uint), uint64(0xff)},
		{"bool", abi.Slot{Bits: 1}, param("bool", abi.ByValue, 1, abi.Bool), true},
		{"double", abi.FloatSlot(8, 0.25), param("double", abi.ByValue, 8, abi.Float), 0.25},
		{"pointer", abi.Slot{Bits: 0x2000}, param("A*", abi.ByPointer, 8, abi.Pointer), abi.Addr(0x2000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Value(tt.slot, tt.p); got != tt.want {
				t.Errorf("Value = %#v, want %#v", got, tt.want)
			}
		})
	}
}
