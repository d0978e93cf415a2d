package abi

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitTypes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"int", []string{"int"}},
		{"A, int, C*", []string{"A", "int", "C*"}},
		{"Pair<int, int>, C&", []string{"Pair<int, int>", "C&"}},
		{"void (*)(int, int), long", []string{"void (*)(int, int)", "long"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SplitTypes(tt.in)); diff != "" {
				t.Errorf("SplitTypes(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestSplitTemplateName(t *testing.T) {
	tests := []struct {
		in          string
		plain, args string
		ok          bool
	}{
		{"callme", "callme", "", false},
		{"callme<A, int, C*>", "callme", "A, int, C*", true},
		{"wrap<Pair<A, B>>", "wrap", "Pair<A, B>", true},
		{"operator<", "operator<", "", false},
		{"operator>", "operator>", "", false},
		{"operator<=>", "operator<=>", "", false},
		{"operator<<", "operator<<", "", false},
		{"operator< <int>", "operator<", "int", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			plain, args, ok := SplitTemplateName(tt.in)
			if plain != tt.plain || args != tt.args || ok != tt.ok {
				t.Errorf("SplitTemplateName(%q) = %q, %q, %v; want %q, %q, %v",
					tt.in, plain, args, ok, tt.plain, tt.args, tt.ok)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := ErrNoMatch.Wrapf("callme(%s)", "A, int")
	if !errors.Is(err, ErrNoMatch) {
		t.Error("wrapped error does not match its sentinel")
	}
	if !errors.Is(err, ErrAmbiguousOrNotFound) {
		t.Error("sub-kind does not match its umbrella sentinel")
	}
	if errors.Is(err, ErrAmbiguous) {
		t.Error("sub-kinds must be distinguishable")
	}
	if errors.Is(ErrAmbiguousOrNotFound, ErrNoMatch) {
		t.Error("umbrella must not match a narrower kind")
	}

	outer := fmt.Errorf("resolve: %w", ErrConstruction.Wrap(ErrNotFound.Wrapf("X")))
	if !errors.Is(outer, ErrConstruction) || !errors.Is(outer, ErrNotFound) {
		t.Error("errors.Is must walk the whole chain")
	}
	if got := KindOf(outer); got != KindConstruction {
		t.Errorf("KindOf = %q, want %q", got, KindConstruction)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q", got)
	}
}

func TestErrorMessageAndAttrs(t *testing.T) {
	err := ErrInvocation.Wrapf("expected %d arguments, got %d", 3, 2).With(slog.Int("arity", 3))
	if got, want := err.Error(), "invocation failed: expected 3 arguments, got 2"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvocation) {
		t.Error("With must keep the sentinel")
	}

	v := err.LogValue()
	if v.Kind() != slog.KindGroup {
		t.Fatalf("LogValue kind = %v", v.Kind())
	}
	keys := map[string]bool{}
	for _, a := range v.Group() {
		keys[a.Key] = true
	}
	for _, k := range []string{"kind", "error", "cause", "arity"} {
		if !keys[k] {
			t.Errorf("LogValue missing %q", k)
		}
	}
}

func TestSentinelLookup(t *testing.T) {
	for _, s := range []*Error{ErrNotFound, ErrNoMatch, ErrAmbiguous, ErrNotInstantiated, ErrUseAfterFree} {
		if got := Sentinel(s.Kind()); got != s {
			t.Errorf("Sentinel(%q) = %v", s.Kind(), got)
		}
	}
	if Sentinel("bogus") != nil {
		t.Error("unknown kind resolved")
	}
}

func TestSlotRoundTrip(t *testing.T) {
	s, err := IntSlot(4, -42)
	if err != nil {
		t.Fatal(err)
	}
	if s.Int() != -42 {
		t.Errorf("Int() = %d", s.Int())
	}
	if s.Bits != 0xffffffd6 {
		t.Errorf("bits = %#x, want truncated to 4 bytes", s.Bits)
	}

	if _, err := IntSlot(1, 200); !errors.Is(err, ErrInvocation) {
		t.Errorf("IntSlot overflow error = %v", err)
	}
	if _, err := UintSlot(2, 1<<16); !errors.Is(err, ErrInvocation) {
		t.Errorf("UintSlot overflow error = %v", err)
	}

	f := FloatSlot(4, 1.5)
	if f.Float() != 1.5 {
		t.Errorf("Float() = %v", f.Float())
	}
	if !BoolSlot(true).Value().(bool) {
		t.Error("BoolSlot(true) decoded as false")
	}
	if got := AddrSlot(ByPointer, 0x1000).Value(); got != Addr(0x1000) {
		t.Errorf("AddrSlot value = %v", got)
	}
}

func TestSignatureSlots(t *testing.T) {
	recv := Param{Type: "B*", Mode: ByPointer, Width: 8, Kind: Pointer}
	sig := Signature{
		Name:     "B::callme<A, int, C>",
		Receiver: &recv,
		Params: []Param{
			{Type: "A", Mode: ByPointer, Width: 8, Kind: Pointer},
			{Type: "int", Mode: ByValue, Width: 4, Kind: Int},
			{Type: "C*", Mode: ByPointer, Width: 8, Kind: Pointer},
		},
		Result: Param{Type: "void", Mode: ByValue, Kind: Void},
	}
	if sig.Arity() != 4 {
		t.Errorf("Arity() = %d, want 4", sig.Arity())
	}
	if sig.Slots()[0].Type != "B*" {
		t.Errorf("receiver must come first, got %v", sig.Slots())
	}
	want := "B::callme<A, int, C>(B*:pointer/8, A:pointer/8, int:value/4, C*:pointer/8) -> void"
	if got := sig.String(); got != want {
		t.Errorf("String() = %q\nwant %q", got, want)
	}
}
