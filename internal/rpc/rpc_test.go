package rpc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/compiler"
)

const demoDecls = `
extern "C" int printf(const char*,...);
class A {};
class C {};
struct B : public A {
    template<typename T, typename S, typename U>
    void callme(T, S, U*) { printf(" call me may B! \n"); }
    int twice(int x) { return x * 2; }
};
`

// syncBuffer is written by server goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) (*Server, *grpc.ClientConn, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	srv := NewServer(func(ctx context.Context) (abi.Service, error) {
		return compiler.New(ctx, compiler.WithOutput(out))
	})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	if err := srv.Register(gs); err != nil {
		t.Fatalf("Register: %v", err)
	}
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() {
		gs.Stop()
		_ = srv.Close()
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn, out
}

func TestDemoOverTheWire(t *testing.T) {
	ctx := context.Background()
	_, conn, out := startServer(t)
	c := NewClient(conn)
	defer c.Close()

	if err := c.Parse(ctx, demoDecls); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := c.LookupName(ctx, "B")
	if err != nil {
		t.Fatalf("LookupName: %v", err)
	}

	explicit, err := c.InstantiateTemplate(ctx, b, "callme<A, int, C*>", "")
	if err != nil {
		t.Fatal(err)
	}
	implicit, err := c.InstantiateTemplate(ctx, b, "callme", "A, int, C")
	if err != nil {
		t.Fatal(err)
	}
	if explicit != implicit {
		t.Fatalf("explicit %v != implicit %v", explicit, implicit)
	}

	sig, err := c.Signature(ctx, explicit)
	if err != nil {
		t.Fatal(err)
	}
	want := "B::callme<A, int, C>(B*:pointer/8, A:pointer/8, int:value/4, C*:pointer/8) -> void"
	if got := sig.String(); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
	if sig.Receiver == nil || sig.Receiver.Kind != abi.Pointer {
		t.Errorf("receiver lost in transit: %+v", sig.Receiver)
	}

	var slots []abi.Slot
	for _, name := range []string{"B", "A", "C"} {
		h, err := c.LookupName(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		addr, err := c.CreateObject(ctx, h)
		if err != nil {
			t.Fatal(err)
		}
		slots = append(slots, abi.AddrSlot(abi.ByPointer, addr))
	}
	i42, _ := abi.IntSlot(4, 42)
	slots = []abi.Slot{slots[0], slots[1], i42, slots[2]}

	fn, err := c.GetFunctionAddress(ctx, explicit)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Call(ctx, fn, sig, slots)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Kind != abi.Void {
		t.Errorf("result = %+v, want void", res)
	}
	if got := out.String(); got != " call me may B! \n" {
		t.Errorf("server output = %q", got)
	}
}

func TestResultsCrossTheWire(t *testing.T) {
	ctx := context.Background()
	_, conn, _ := startServer(t)
	c := NewClient(conn)
	defer c.Close()

	if err := c.Parse(ctx, demoDecls); err != nil {
		t.Fatal(err)
	}
	b, _ := c.LookupName(ctx, "B")
	m, err := c.InstantiateTemplate(ctx, b, "twice", "int")
	if err != nil {
		t.Fatal(err)
	}
	sig, _ := c.Signature(ctx, m)
	fn, _ := c.GetFunctionAddress(ctx, m)
	obj, _ := c.CreateObject(ctx, b)

	arg, _ := abi.IntSlot(4, -21)
	res, err := c.Call(ctx, fn, sig, []abi.Slot{abi.AddrSlot(abi.ByPointer, obj), arg})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := res.Int(); got != -42 {
		t.Errorf("twice(-21) = %d, want -42", got)
	}
}

func TestErrorsKeepTheirKind(t *testing.T) {
	ctx := context.Background()
	_, conn, _ := startServer(t)
	c := NewClient(conn)
	defer c.Close()

	if err := c.Parse(ctx, demoDecls); err != nil {
		t.Fatal(err)
	}
	b, _ := c.LookupName(ctx, "B")

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"parse", func() error { return c.Parse(ctx, "class {") }, abi.ErrParse},
		{"lookup", func() error { _, err := c.LookupName(ctx, "Missing"); return err }, abi.ErrNotFound},
		{"no match", func() error { _, err := c.InstantiateTemplate(ctx, b, "callme", "A"); return err }, abi.ErrNoMatch},
		{"construct", func() error { _, err := c.CreateObject(ctx, 0); return err }, abi.ErrConstruction},
		{"signature", func() error { _, err := c.Signature(ctx, 999); return err }, abi.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	_, err := c.InstantiateTemplate(ctx, b, "callme", "A")
	if !errors.Is(err, abi.ErrAmbiguousOrNotFound) {
		t.Errorf("sub-kind lost its umbrella: %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	srv, conn, _ := startServer(t)

	c1, c2 := NewClient(conn), NewClient(conn)
	if err := c1.Parse(ctx, "class OnlyHere {};"); err != nil {
		t.Fatal(err)
	}
	if _, err := c1.LookupName(ctx, "OnlyHere"); err != nil {
		t.Errorf("c1 lookup: %v", err)
	}
	if _, err := c2.LookupName(ctx, "OnlyHere"); !errors.Is(err, abi.ErrNotFound) {
		t.Errorf("c2 sees c1's declarations: %v", err)
	}
	if n := srv.Sessions(); n != 2 {
		t.Errorf("sessions = %d, want 2", n)
	}

	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := srv.Sessions(); n != 1 {
		t.Errorf("sessions after close = %d, want 1", n)
	}
	if err := c2.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionHeaderRequired(t *testing.T) {
	_, conn, _ := startServer(t)

	md, err := methodDescriptor("LookupName")
	if err != nil {
		t.Fatal(err)
	}
	in, err := encode(md.GetInputType(), fields{"name": "A"})
	if err != nil {
		t.Fatal(err)
	}
	out := dynamic.NewMessage(md.GetOutputType())
	err = conn.Invoke(context.Background(), fullMethod("LookupName"), in, out)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Invoke without session = %v, want InvalidArgument", err)
	}
}

func TestSchema(t *testing.T) {
	sd, err := serviceDescriptor()
	if err != nil {
		t.Fatalf("serviceDescriptor: %v", err)
	}

	want := map[string][2]string{
		"Parse":               {"ParseRequest", "Empty"},
		"LookupName":          {"LookupNameRequest", "ScopeReply"},
		"CreateObject":        {"CreateObjectRequest", "AddrReply"},
		"DestroyObject":       {"DestroyObjectRequest", "Empty"},
		"InstantiateTemplate": {"InstantiateTemplateRequest", "MethodReply"},
		"GetFunctionAddress":  {"MethodRequest", "FuncAddrReply"},
		"Signature":           {"MethodRequest", "SignatureReply"},
		"Call":                {"CallRequest", "SlotReply"},
		"CloseSession":        {"Empty", "Empty"},
	}
	got := map[string][2]string{}
	for _, md := range sd.GetMethods() {
		got[md.GetName()] = [2]string{md.GetInputType().GetName(), md.GetOutputType().GetName()}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("methods mismatch (-want +got):\n%s", diff)
	}
}

func TestSignatureCodec(t *testing.T) {
	recv := abi.Param{Type: "B*", Mode: abi.ByPointer, Width: 8, Kind: abi.Pointer}
	sig := abi.Signature{
		Name:     "B::f<int>",
		Receiver: &recv,
		Params: []abi.Param{
			{Name: "x", Type: "int", Mode: abi.ByValue, Width: 4, Kind: abi.Int},
			{Name: "r", Type: "A&", Mode: abi.ByReference, Width: 8, Kind: abi.Pointer},
		},
		Result:   abi.Param{Type: "double", Mode: abi.ByValue, Width: 8, Kind: abi.Float},
		Variadic: true,
	}

	md, err := methodDescriptor("Signature")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := encode(md.GetOutputType(), signatureFields(sig))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wire, err := msg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back := dynamic.NewMessage(md.GetOutputType())
	if err := back.Unmarshal(wire); err != nil {
		t.Fatal(err)
	}
	f, err := decode(back)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(sig, signatureOf(f)); diff != "" {
		t.Errorf("signature mismatch (-want +got):\n%s", diff)
	}

	static := abi.Signature{Name: "f", Result: abi.Param{Type: "void"}}
	msg, _ = encode(md.GetOutputType(), signatureFields(static))
	f, _ = decode(msg)
	if got := signatureOf(f); got.Receiver != nil {
		t.Errorf("static signature grew a receiver: %+v", got.Receiver)
	}
}

func TestStatusMapping(t *testing.T) {
	err := toStatus(abi.ErrAmbiguous.Wrapf("f matches 2 candidates"))
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("code = %v", status.Code(err))
	}
	back := fromStatus(err)
	if !errors.Is(back, abi.ErrAmbiguous) {
		t.Fatalf("fromStatus = %v", back)
	}
	if got, want := back.Error(), "ambiguous candidates: f matches 2 candidates"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}

	plain := status.Error(codes.Unavailable, "connection refused")
	if fromStatus(plain) != plain {
		t.Error("transport error was rewritten")
	}
}
