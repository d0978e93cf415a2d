package compiler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/diagnostics"
)

const demoDecls = `
void* operator new(__SIZE_TYPE__, void* __p) noexcept;
extern "C" int printf(const char*,...);
class A {};
class C {};
struct B : public A {
    template<typename T, typename S, typename U>
    void callme(T, S, U*) { printf(" call me may B! \n"); }
};
`

func newService(t *testing.T, decls string, opts ...Option) (*Service, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s, err := New(context.Background(), append([]Option{WithOutput(&out)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if decls != "" {
		if err := s.Parse(context.Background(), decls); err != nil {
			t.Fatalf("Parse: %v", err)
		}
	}
	return s, &out
}

func lookup(t *testing.T, s *Service, name string) abi.ScopeHandle {
	t.Helper()
	h, err := s.LookupName(context.Background(), name)
	if err != nil {
		t.Fatalf("LookupName(%s): %v", name, err)
	}
	return h
}

func create(t *testing.T, s *Service, name string) abi.Addr {
	t.Helper()
	addr, err := s.CreateObject(context.Background(), lookup(t, s, name))
	if err != nil {
		t.Fatalf("CreateObject(%s): %v", name, err)
	}
	return addr
}

func resolve(t *testing.T, s *Service, scope, name, args string) abi.MethodHandle {
	t.Helper()
	h, err := s.InstantiateTemplate(context.Background(), lookup(t, s, scope), name, args)
	if err != nil {
		t.Fatalf("InstantiateTemplate(%s, %s, %q): %v", scope, name, args, err)
	}
	return h
}

// call invokes h with the given slots after the receiver, if any.
func call(t *testing.T, s *Service, h abi.MethodHandle, slots ...abi.Slot) (abi.Slot, error) {
	t.Helper()
	ctx := context.Background()
	fn, err := s.GetFunctionAddress(ctx, h)
	if err != nil {
		t.Fatalf("GetFunctionAddress: %v", err)
	}
	sig, err := s.Signature(ctx, h)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	return s.Call(ctx, fn, sig, slots)
}

func ptr(a abi.Addr) abi.Slot { return abi.AddrSlot(abi.ByPointer, a) }

func intSlot(t *testing.T, v int64) abi.Slot {
	t.Helper()
	sl, err := abi.IntSlot(4, v)
	if err != nil {
		t.Fatal(err)
	}
	return sl
}

func TestDemoScenario(t *testing.T) {
	ctx := context.Background()
	s, out := newService(t, demoDecls)

	b1, b2 := lookup(t, s, "B"), lookup(t, s, "B")
	if b1 != b2 {
		t.Fatalf("LookupName not idempotent: %v != %v", b1, b2)
	}

	explicit := resolve(t, s, "B", "callme<A, int, C*>", "")
	implicit := resolve(t, s, "B", "callme", "A, int, C")
	if explicit != implicit {
		t.Fatalf("explicit %v != implicit %v", explicit, implicit)
	}

	sig, err := s.Signature(ctx, explicit)
	if err != nil {
		t.Fatal(err)
	}
	want := "B::callme<A, int, C>(B*:pointer/8, A:pointer/8, int:value/4, C*:pointer/8) -> void"
	if got := sig.String(); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}

	b, a, c := create(t, s, "B"), create(t, s, "A"), create(t, s, "C")
	res, err := call(t, s, explicit, ptr(b), ptr(a), intSlot(t, 42), ptr(c))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Kind != abi.Void {
		t.Errorf("result kind = %v, want void", res.Kind)
	}
	if got := out.String(); got != " call me may B! \n" {
		t.Errorf("output = %q", got)
	}
}

func TestLookupName(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, `namespace ns { namespace inner { struct X {}; } struct Y {}; }`)

	if h := lookup(t, s, "::"); h != 1 {
		t.Errorf("global scope = %v, want scope#1", h)
	}
	for _, name := range []string{"ns", "ns::inner", "ns::inner::X", "::ns::Y"} {
		lookup(t, s, name)
	}
	for _, name := range []string{"Undeclared", "X", "ns::X", ""} {
		if _, err := s.LookupName(ctx, name); !errors.Is(err, abi.ErrNotFound) {
			t.Errorf("LookupName(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestInstantiateErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, `
struct A {};
struct K {
    template<class T> void one(T) {}
    template<class T> void amb(T) {}
    template<class T> void amb(T*) {}
    void plain(int) {}
    void gone(int) = delete;
};`)
	k := lookup(t, s, "K")

	tests := []struct {
		name, args string
		want       error
	}{
		{"missing", "int", abi.ErrNoMatch},
		{"one", "int, int", abi.ErrNoMatch},
		{"plain", "long", abi.ErrNoMatch},
		{"gone", "int", abi.ErrNoMatch},
		{"amb", "A", abi.ErrAmbiguous},
		{"one", "int[", abi.ErrNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name+"("+tt.args+")", func(t *testing.T) {
			_, err := s.InstantiateTemplate(ctx, k, tt.name, tt.args)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, abi.ErrAmbiguousOrNotFound) {
				t.Errorf("%v is not ErrAmbiguousOrNotFound", err)
			}
		})
	}

	if _, err := s.InstantiateTemplate(ctx, k, "one<int>", "int"); !errors.Is(err, abi.ErrUnsupported) {
		t.Errorf("bracket list with argument types: %v", err)
	}
	if _, err := s.InstantiateTemplate(ctx, 0, "one", "int"); !errors.Is(err, abi.ErrNotFound) {
		t.Errorf("zero scope: %v", err)
	}

	// Non-templates resolve by exact parameter types.
	h1 := resolve(t, s, "K", "plain", "int")
	h2 := resolve(t, s, "K", "plain", "const int&")
	if h1 != h2 {
		t.Errorf("plain(int) resolved to %v and %v", h1, h2)
	}
}

func TestExplicitBindsTemplateParameters(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, `
struct F {
    template<class T> static T make() { return 7; }
    template<class T> void take(T*) {}
    template<class T> void pick(T*) {}
    template<class T> static T pick() { return 1; }
};`)
	f := lookup(t, s, "F")

	mk := resolve(t, s, "F", "make<int>", "")
	sig, err := s.Signature(ctx, mk)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Name != "F::make<int>" || sig.Result.Type != "int" || sig.Receiver != nil || len(sig.Params) != 0 {
		t.Errorf("make<int> signature = %v", sig)
	}
	res, err := call(t, s, mk)
	if err != nil || res.Int() != 7 {
		t.Errorf("make<int>() = %v, %v", res.Int(), err)
	}
	if again := resolve(t, s, "F", "make<int>", ""); again != mk {
		t.Errorf("make<int> resolved to %v then %v", mk, again)
	}

	take := resolve(t, s, "F", "take<int>", "")
	sig, err = s.Signature(ctx, take)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Name != "F::take<int>" || len(sig.Params) != 1 || sig.Params[0].Type != "int*" {
		t.Errorf("take<int> signature = %v", sig)
	}

	// The argument-type reading still wins when it matches.
	if byArgs := resolve(t, s, "F", "take<int*>", ""); byArgs != take {
		t.Errorf("take<int*> = %v, want take<int> %v", byArgs, take)
	}

	tests := []struct {
		name string
		want error
	}{
		{"make<int, int>", abi.ErrNoMatch},
		{"pick<int>", abi.ErrAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.InstantiateTemplate(ctx, f, tt.name, ""); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := s.InstantiateTemplate(ctx, f, "make", "int"); !errors.Is(err, abi.ErrNoMatch) {
		t.Errorf("implicit make(int) = %v, want ErrNoMatch", err)
	}
}

func TestExplicitInstantiationOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, `
struct A {};
struct K { template<class T> T id(T v) { return v; } };
template int K::id<int>(int);
template A K::id<A>(A);
`, WithLazyInstantiation(false))
	k := lookup(t, s, "K")

	resolve(t, s, "K", "id<int>", "")
	resolve(t, s, "K", "id", "A")
	_, err := s.InstantiateTemplate(ctx, k, "id", "double")
	if !errors.Is(err, abi.ErrNotInstantiated) || !errors.Is(err, abi.ErrAmbiguousOrNotFound) {
		t.Errorf("error = %v, want ErrNotInstantiated", err)
	}
}

func TestExplicitInstantiationMismatch(t *testing.T) {
	s, _ := newService(t, "")
	err := s.Parse(context.Background(), `
struct K { template<class T> void f(T*) {} };
template void K::f<int>(int);
`)
	assertDiagnostic(t, err, diagnostics.ErrS004)
}

func assertDiagnostic(t *testing.T, err error, code diagnostics.ErrorCode) {
	t.Helper()
	if !errors.Is(err, abi.ErrParse) {
		t.Fatalf("error = %v, want ErrParse", err)
	}
	var list diagnostics.List
	if !errors.As(err, &list) {
		t.Fatalf("error %v carries no diagnostics", err)
	}
	for _, d := range list {
		if d.Code == code {
			return
		}
	}
	t.Errorf("diagnostics %v do not include %s", list, code)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls string
		code  diagnostics.ErrorCode
	}{
		{"syntax", "class { int x; };", diagnostics.ErrP004},
		{"redefinition", "struct A {}; struct A {};", diagnostics.ErrS001},
		{"duplicate field", "struct A { int x; char x; };", diagnostics.ErrS001},
		{"unknown base", "struct B : Missing {};", diagnostics.ErrS003},
		{"final base", "struct F final {}; struct G : F {};", diagnostics.ErrS003},
		{"incomplete field", "struct Fwd; struct H { Fwd f; };", diagnostics.ErrS002},
		{"self field", "struct S { S s; };", diagnostics.ErrS002},
		{"undeclared member", "struct M {}; void M::f() {}", diagnostics.ErrS002},
		{"two bodies", "void f() {} void f() {}", diagnostics.ErrS001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newService(t, "")
			assertDiagnostic(t, s.Parse(context.Background(), tt.decls), tt.code)
		})
	}
}

func TestLayout(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, `
struct E {};
struct P { char c; int i; };
struct V { virtual void f(); char c; };
union U { char c; double d; };
struct D : E { int x; };
struct Q : P { char z; };
struct W : V { int w; };
struct N { P p; char tail; };
struct R { int& r; short s; };
`)
	tests := map[string]int{
		"E": 1, "P": 8, "V": 16, "U": 8, "D": 4, "Q": 12, "W": 24, "N": 12, "R": 16,
	}
	for name, want := range tests {
		l, err := s.layoutOf(ctx, int64(lookup(t, s, name)))
		if err != nil {
			t.Fatalf("layoutOf(%s): %v", name, err)
		}
		if l.size != want {
			t.Errorf("sizeof(%s) = %d, want %d", name, l.size, want)
		}
	}

	l, _ := s.layoutOf(ctx, int64(lookup(t, s, "W")))
	if got := l.members[0].Offset; got != 16 {
		t.Errorf("W::w at %d, want 16", got)
	}
}

func TestCreateObjectErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, `
namespace ns {}
struct Fwd;
struct Abstract { virtual void f() = 0; };
struct Concrete : Abstract { void f() {} };
struct Deleted { Deleted() = delete; };
class Hidden { Hidden(); };
struct OnlyArgs { OnlyArgs(int); };
struct Holder { Deleted d; };
`)

	for _, name := range []string{"ns", "Fwd", "Abstract", "Deleted", "Hidden", "OnlyArgs", "Holder"} {
		t.Run(name, func(t *testing.T) {
			_, err := s.CreateObject(ctx, lookup(t, s, name))
			if !errors.Is(err, abi.ErrConstruction) {
				t.Errorf("CreateObject(%s) error = %v, want ErrConstruction", name, err)
			}
		})
	}
	if _, err := s.CreateObject(ctx, 0); !errors.Is(err, abi.ErrConstruction) {
		t.Errorf("zero handle: %v", err)
	}
	create(t, s, "Concrete")
}

const counterDecls = `
namespace util { int twice(int x) { return x * 2; } }
class Counter {
public:
    int n;
    double scale;
    Counter() { this->n = 5; this->scale = 0.5; }
    ~Counter() { printf("bye %d\n", this->n); }
    int add(int k) { this->n = this->n + k; return this->n; }
    double scaled() const { return this->n * this->scale; }
    int run(int x) { return util::twice(x) + helper(); }
    static int triple(int x) { return 3 * x; }
    static int calls;
    void bump() { this->calls += 1; }
    int bumped() { return this->calls; }
private:
    int helper() { return 1; }
};
struct Base { int v; int get() const { return this->v; } };
struct Derived : Base { Derived() { this->v = 7; } };
`

func TestMethodCalls(t *testing.T) {
	s, out := newService(t, counterDecls)
	obj := create(t, s, "Counter")

	add := resolve(t, s, "Counter", "add", "int")
	for _, want := range []int64{8, 11} {
		res, err := call(t, s, add, ptr(obj), intSlot(t, 3))
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if res.Int() != want {
			t.Errorf("add(3) = %d, want %d", res.Int(), want)
		}
	}

	res, err := call(t, s, resolve(t, s, "Counter", "scaled", ""), ptr(obj))
	if err != nil {
		t.Fatal(err)
	}
	if res.Float() != 5.5 {
		t.Errorf("scaled() = %v, want 5.5", res.Float())
	}

	res, err = call(t, s, resolve(t, s, "Counter", "run", "int"), ptr(obj), intSlot(t, 20))
	if err != nil {
		t.Fatal(err)
	}
	if res.Int() != 41 {
		t.Errorf("run(20) = %d, want 41", res.Int())
	}

	triple := resolve(t, s, "Counter", "triple", "int")
	sig, _ := s.Signature(context.Background(), triple)
	if sig.Receiver != nil {
		t.Errorf("static member has receiver %v", sig.Receiver)
	}
	res, err = call(t, s, triple, intSlot(t, -4))
	if err != nil {
		t.Fatal(err)
	}
	if res.Int() != -12 {
		t.Errorf("triple(-4) = %d", res.Int())
	}

	bump := resolve(t, s, "Counter", "bump", "")
	other := create(t, s, "Counter")
	for _, o := range []abi.Addr{obj, other, obj} {
		if _, err := call(t, s, bump, ptr(o)); err != nil {
			t.Fatal(err)
		}
	}
	res, err = call(t, s, resolve(t, s, "Counter", "bumped", ""), ptr(other))
	if err != nil {
		t.Fatal(err)
	}
	if res.Int() != 3 {
		t.Errorf("static calls = %d, want 3", res.Int())
	}

	if err := s.DestroyObject(context.Background(), lookup(t, s, "Counter"), obj); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "bye 11\n" {
		t.Errorf("destructor output = %q", got)
	}
}

func TestInheritedMethod(t *testing.T) {
	s, _ := newService(t, counterDecls)
	d := create(t, s, "Derived")

	get := resolve(t, s, "Derived", "get", "")
	sig, _ := s.Signature(context.Background(), get)
	if sig.Receiver == nil || sig.Receiver.Type != "Base*" {
		t.Fatalf("receiver = %v, want Base*", sig.Receiver)
	}
	res, err := call(t, s, get, ptr(d))
	if err != nil {
		t.Fatal(err)
	}
	if res.Int() != 7 {
		t.Errorf("get() = %d, want 7", res.Int())
	}
}

func TestUseAfterFree(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, counterDecls)
	scope := lookup(t, s, "Counter")
	obj := create(t, s, "Counter")
	add := resolve(t, s, "Counter", "add", "int")

	if err := s.DestroyObject(ctx, scope, obj); err != nil {
		t.Fatal(err)
	}
	if err := s.DestroyObject(ctx, scope, obj); !errors.Is(err, abi.ErrUseAfterFree) {
		t.Errorf("second destroy: %v", err)
	}
	if _, err := call(t, s, add, ptr(obj), intSlot(t, 1)); !errors.Is(err, abi.ErrUseAfterFree) {
		t.Errorf("call on destroyed object: %v", err)
	}
	if err := s.DestroyObject(ctx, scope, 0x42); !errors.Is(err, abi.ErrInvocation) {
		t.Errorf("destroy of a wild address: %v", err)
	}
}

func TestCallValidation(t *testing.T) {
	ctx := context.Background()
	s, out := newService(t, demoDecls)
	h := resolve(t, s, "B", "callme", "A, int, C")
	fn, _ := s.GetFunctionAddress(ctx, h)
	sig, _ := s.Signature(ctx, h)
	b, a, c := create(t, s, "B"), create(t, s, "A"), create(t, s, "C")

	tests := []struct {
		name  string
		fn    abi.FuncAddr
		sig   abi.Signature
		slots []abi.Slot
	}{
		{"too few", fn, sig, []abi.Slot{ptr(b), ptr(a), intSlot(t, 42)}},
		{"too many", fn, sig, []abi.Slot{ptr(b), ptr(a), intSlot(t, 42), ptr(c), ptr(c)}},
		{"mode", fn, sig, []abi.Slot{ptr(b), abi.AddrSlot(abi.ByReference, a), intSlot(t, 42), ptr(c)}},
		{"width", fn, sig, []abi.Slot{ptr(b), ptr(a), abi.BoolSlot(true), ptr(c)}},
		{"signature", fn, abi.Signature{Name: "B::callme"}, nil},
		{"address", fn + 1, sig, nil},
		{"wild receiver", fn, sig, []abi.Slot{ptr(0x10), ptr(a), intSlot(t, 42), ptr(c)}},
		{"wrong receiver", fn, sig, []abi.Slot{ptr(a), ptr(a), intSlot(t, 42), ptr(c)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Call(ctx, tt.fn, tt.sig, tt.slots); !errors.Is(err, abi.ErrInvocation) {
				t.Errorf("error = %v, want ErrInvocation", err)
			}
		})
	}
	if out.Len() != 0 {
		t.Errorf("rejected calls produced output %q", out.String())
	}
}

func TestBodyErrors(t *testing.T) {
	s, _ := newService(t, `
struct K {
    int declared(int);
    int unsupported() { if (1) return 2; }
    char narrow() { return 300; }
};`)
	obj := create(t, s, "K")

	_, err := call(t, s, resolve(t, s, "K", "declared", "int"), ptr(obj), intSlot(t, 1))
	if !errors.Is(err, abi.ErrInvocation) || !strings.Contains(err.Error(), "never defined") {
		t.Errorf("undefined function: %v", err)
	}
	_, err = call(t, s, resolve(t, s, "K", "unsupported", ""), ptr(obj))
	if !errors.Is(err, abi.ErrUnsupported) {
		t.Errorf("unsupported statement: %v", err)
	}
	res, err := call(t, s, resolve(t, s, "K", "narrow", ""), ptr(obj))
	if err != nil {
		t.Fatal(err)
	}
	if res.Int() != 44 {
		t.Errorf("(char)300 = %d, want 44", res.Int())
	}
}

func TestOutOfClassDefinitions(t *testing.T) {
	s, _ := newService(t, `
namespace geo {
struct Point {
    int x;
    Point();
    template<typename T> T scaled(T k) const;
};
}
geo::Point::Point() { this->x = 2; }
template<typename U> U geo::Point::scaled(U k) const { return this->x * k; }
`)
	p := create(t, s, "geo::Point")
	h := resolve(t, s, "geo::Point", "scaled<long long>", "")
	sl, err := abi.IntSlot(8, 21)
	if err != nil {
		t.Fatal(err)
	}
	res, err := call(t, s, h, ptr(p), sl)
	if err != nil {
		t.Fatal(err)
	}
	if res.Int() != 42 {
		t.Errorf("scaled(21) = %d, want 42", res.Int())
	}
}

func TestHandlesAreDistinct(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, `struct K { template<class T> void f(T) {} };`)
	seen := map[abi.FuncAddr]string{}
	for _, arg := range []string{"int", "double", "K", "K*"} {
		h := resolve(t, s, "K", "f", arg)
		fn, err := s.GetFunctionAddress(ctx, h)
		if err != nil {
			t.Fatal(err)
		}
		if prev, dup := seen[fn]; dup {
			t.Errorf("f(%s) and f(%s) share %v", arg, prev, fn)
		}
		seen[fn] = arg
	}

	// K and K* deduce different T, but the same call shape.
	sigs := []string{}
	for _, arg := range []string{"K", "K*"} {
		sig, _ := s.Signature(ctx, resolve(t, s, "K", "f", arg))
		sigs = append(sigs, sig.String())
	}
	want := []string{
		"K::f<K>(K*:pointer/8, K:pointer/8) -> void",
		"K::f<K*>(K*:pointer/8, K*:pointer/8) -> void",
	}
	if diff := cmp.Diff(want, sigs); diff != "" {
		t.Errorf("signatures mismatch (-want +got):\n%s", diff)
	}
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, demoDecls)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.LookupName(ctx, "B"); !errors.Is(err, abi.ErrClosed) {
		t.Errorf("LookupName after Close: %v", err)
	}
	if err := s.Parse(ctx, "struct Z {};"); !errors.Is(err, abi.ErrClosed) {
		t.Errorf("Parse after Close: %v", err)
	}
}
