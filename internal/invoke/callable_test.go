package invoke

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/abi/abitest"
	"github.com/funvibe/cxbridge/internal/compiler"
	"github.com/funvibe/cxbridge/internal/marshal"
	"github.com/funvibe/cxbridge/internal/object"
)

const decls = `
extern "C" int printf(const char*,...);
class A {};
class C {};
struct B : public A {
    template<typename T, typename S, typename U>
    void callme(T, S, U*) { printf(" call me may B! \n"); }
    int twice(int x) { return x * 2; }
    static double half(double d) { return d / 2; }
    bool positive(long long v) { return v > 0; }
};
`

type fixture struct {
	svc *compiler.Service
	spy *abitest.Spy
	out *bytes.Buffer
	b   *Bridge
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	var out bytes.Buffer
	svc, err := compiler.New(ctx, compiler.WithOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	if err := svc.Parse(ctx, decls); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	spy := &abitest.Spy{Service: svc}
	return &fixture{svc: svc, spy: spy, out: &out, b: New(spy)}
}

func (f *fixture) instance(t *testing.T, name string) *object.Instance {
	t.Helper()
	ctx := context.Background()
	scope, err := f.svc.LookupName(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	inst, err := object.New(f.svc).Construct(ctx, scope, name)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func (f *fixture) bind(t *testing.T, scope, name, args string) *Callable {
	t.Helper()
	ctx := context.Background()
	sc, err := f.svc.LookupName(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	h, err := f.svc.InstantiateTemplate(ctx, sc, name, args)
	if err != nil {
		t.Fatalf("InstantiateTemplate(%s): %v", name, err)
	}
	c, err := f.b.Bind(ctx, h)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return c
}

func TestCallTemplate(t *testing.T) {
	f := setup(t)
	b, a, c := f.instance(t, "B"), f.instance(t, "A"), f.instance(t, "C")
	call := f.bind(t, "B", "callme", "A, int, C")

	if !call.HasReceiver() || call.Signature().Arity() != 4 {
		t.Fatalf("signature = %s", call)
	}
	res, err := call.Call(context.Background(), b, a, 42, c)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res != nil {
		t.Errorf("void call returned %v", res)
	}
	if got := f.out.String(); got != " call me may B! \n" {
		t.Errorf("output = %q", got)
	}
	if n := f.spy.Count("Call"); n != 1 {
		t.Errorf("Call made %d times", n)
	}
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	b := f.instance(t, "B")

	tests := []struct {
		name, args string
		values     []any
		want       any
	}{
		{"twice", "int", []any{b, -21}, int64(-42)},
		{"half", "double", []any{3.0}, 1.5},
		{"positive", "long long", []any{b, int64(5)}, true},
		{"positive", "long long", []any{marshal.Ptr(b), -5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.bind(t, "B", tt.name, tt.args).Call(ctx, tt.values...)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestTooFewArgumentsNeverCalls(t *testing.T) {
	f := setup(t)
	b, a := f.instance(t, "B"), f.instance(t, "A")
	call := f.bind(t, "B", "callme", "A, int, C")
	f.spy.Reset()

	_, err := call.Call(context.Background(), b, a, 42)
	if !errors.Is(err, abi.ErrInvocation) {
		t.Fatalf("Call = %v, want ErrInvocation", err)
	}
	if n := f.spy.Count("Call"); n != 0 {
		t.Errorf("native call made %d times", n)
	}
	if f.out.Len() != 0 {
		t.Errorf("side effect observed: %q", f.out.String())
	}
}

func TestCallBindingsChecksModes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	b, a, c := f.instance(t, "B"), f.instance(t, "A"), f.instance(t, "C")
	call := f.bind(t, "B", "callme", "A, int, C")

	good, err := call.Bindings(b, a, 42, c)
	if err != nil {
		t.Fatal(err)
	}
	if good[2].Type != "int" || good[2].Slot.Bits != 42 {
		t.Errorf("binding = %+v", good[2])
	}

	bad := append([]Binding(nil), good...)
	bad[2] = Binding{Value: a, Type: "int", Slot: abi.AddrSlot(abi.ByPointer, a.Addr)}
	narrow := append([]Binding(nil), good...)
	narrow[2].Slot.Width = 1

	f.spy.Reset()
	for name, bs := range map[string][]Binding{"mode": bad, "width": narrow, "arity": good[:2]} {
		if _, err := call.CallBindings(ctx, bs); !errors.Is(err, abi.ErrInvocation) {
			t.Errorf("%s: CallBindings = %v, want ErrInvocation", name, err)
		}
	}
	if n := f.spy.Count("Call"); n != 0 {
		t.Errorf("native call made %d times", n)
	}
}

func TestMarshalingErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	b, a := f.instance(t, "B"), f.instance(t, "A")
	twice := f.bind(t, "B", "twice", "int")
	f.spy.Reset()

	for name, args := range map[string][]any{
		"float for int":     {b, 1.5},
		"object for int":    {b, a},
		"out of range":      {b, int64(1) << 40},
		"value receiver":    {1, 2},
		"too many":          {b, 1, 2},
		"reference for ptr": {marshal.Ref(b), 1},
	} {
		if _, err := twice.Call(ctx, args...); !errors.Is(err, abi.ErrInvocation) {
			t.Errorf("%s: Call = %v, want ErrInvocation", name, err)
		}
	}
	if n := f.spy.Count("Call"); n != 0 {
		t.Errorf("native call made %d times", n)
	}
}

func TestBindFailures(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	if _, err := f.b.Bind(ctx, 0); !errors.Is(err, abi.ErrNotFound) {
		t.Errorf("Bind(0) = %v", err)
	}
	if _, err := f.b.Bind(ctx, 9999); err == nil {
		t.Error("Bind of an unknown handle succeeded")
	}
}

func TestVariadicParams(t *testing.T) {
	tests := []struct {
		v    any
		kind abi.Kind
		mode abi.PassMode
	}{
		{1.5, abi.Float, abi.ByValue},
		{float32(1), abi.Float, abi.ByValue},
		{true, abi.Bool, abi.ByValue},
		{uint16(1), abi.Uint, abi.ByValue},
		{int64(1), abi.Int, abi.ByValue},
		{7, abi.Int, abi.ByValue},
		{abi.Addr(1), abi.Pointer, abi.ByPointer},
	}
	for _, tt := range tests {
		p, err := variadicParam(tt.v)
		if err != nil {
			t.Fatalf("variadicParam(%#v): %v", tt.v, err)
		}
		if p.Kind != tt.kind || p.Mode != tt.mode {
			t.Errorf("variadicParam(%#v) = %v %v", tt.v, p.Mode, p.Kind)
		}
		if _, err := marshal.Slot(tt.v, p); err != nil {
			t.Errorf("Slot(%#v): %v", tt.v, err)
		}
	}
}

func TestVariadicReference(t *testing.T) {
	f := setup(t)
	a := f.instance(t, "A")
	fn := &Callable{svc: f.spy, sig: abi.Signature{
		Name:     "log",
		Params:   []abi.Param{{Type: "int", Mode: abi.ByValue, Width: 4, Kind: abi.Int}},
		Result:   abi.Param{Type: "void"},
		Variadic: true,
	}}

	if _, err := fn.Bindings(1, marshal.Ptr(a), 2.5); err != nil {
		t.Fatalf("Bindings with a pointer tail: %v", err)
	}
	_, err := fn.Bindings(1, marshal.Ref(a))
	if !errors.Is(err, abi.ErrInvocation) {
		t.Fatalf("Bindings = %v, want ErrInvocation", err)
	}
	if !strings.Contains(err.Error(), "variadic") {
		t.Errorf("error = %q, want it to name the variadic tail", err)
	}
}
