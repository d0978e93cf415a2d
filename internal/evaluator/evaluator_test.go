package evaluator

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/funvibe/cxbridge/internal/abi"
)

type fakeHost struct {
	fields map[string]any
	calls  []string
}

func (h *fakeHost) Field(_ context.Context, name string) (any, error) {
	v, ok := h.fields[name]
	if !ok {
		return nil, abi.ErrNotFound.Wrapf("no field %s", name)
	}
	return v, nil
}

func (h *fakeHost) SetField(_ context.Context, name string, v any) error {
	h.fields[name] = v
	return nil
}

func (h *fakeHost) Call(_ context.Context, name string, args []any) (any, error) {
	h.calls = append(h.calls, name)
	switch name {
	case "twice":
		return args[0].(int64) * 2, nil
	case "ns::twice":
		return args[0].(int64) * 20, nil
	}
	return nil, nil
}

func (h *fakeHost) SizeOf(_ context.Context, typ string) (int, error) {
	if typ == "A" {
		return 1, nil
	}
	return 0, abi.ErrNotFound.Wrapf("no type %s", typ)
}

func TestRunPrintf(t *testing.T) {
	var out bytes.Buffer
	ev := New(&out)

	v, err := ev.Run(context.Background(), `printf(" call me may B! \n");`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v != nil {
		t.Errorf("result = %v, want nil", v)
	}
	if got := out.String(); got != " call me may B! \n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunTemplateFrame(t *testing.T) {
	var out bytes.Buffer
	ev := New(&out)
	frame := &Frame{
		Types:    map[string]string{"T": "A", "S": "int", "U": "C"},
		Vars:     map[string]any{"s": int64(42), "u": uint64(0x2000)},
		VarTypes: map[string]string{"s": "int", "u": "C*"},
	}
	body := `
		printf("%s %s %s|", typeid(T).name(), typeid(S).name(), typeid(U*).name());
		printf("%d %s|", s, S);
		printf("%s", typeid(u).name());
	`
	if _, err := ev.Run(context.Background(), body, frame); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := out.String(), "1A i P1C|42 int|P1C"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunLocalsAndReturn(t *testing.T) {
	ev := New(nil)
	tests := []struct {
		name string
		body string
		vars map[string]any
		want any
	}{
		{"return literal", "return 42;", nil, int64(42)},
		{"return param", "return x + 1;", map[string]any{"x": int64(1)}, int64(2)},
		{"declaration", "int y = x * 3; return y;", map[string]any{"x": int64(2)}, int64(6)},
		{"truncating declaration", "int q = 7 / 2; return q;", nil, int64(3)},
		{"double", "double d = 1; d += 0.5; return d;", nil, 1.5},
		{"auto", "auto a = 2.5; return a;", nil, 2.5},
		{"zero value", "long z; return z;", nil, int64(0)},
		{"increment", "int i = 1; i++; ++i; i--; return i;", nil, int64(2)},
		{"compound", "int i = 10; i -= 3; i *= 2; return i;", nil, int64(14)},
		{"comparison", "return x >= 3 && x != 4;", map[string]any{"x": int64(3)}, true},
		{"ternary", "return x > 0 ? 1 : -1;", map[string]any{"x": int64(-5)}, int64(-1)},
		{"char literal", "return 'A' + 1;", nil, int64(66)},
		{"concatenation", `return "ab" "cd";`, nil, "abcd"},
		{"bool", "bool b = 2; return b;", nil, true},
		{"unsigned", "unsigned int u = 5; return u;", nil, uint64(5)},
		{"empty return", "return; printf(\"never\");", nil, nil},
		{"sizeof builtin", "return sizeof(long long);", nil, uint64(8)},
		{"sizeof pointer", "return sizeof(char*);", nil, uint64(8)},
		{"no statements", "", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Run(context.Background(), tt.body, &Frame{Vars: tt.vars})
			if err != nil {
				t.Fatalf("Run(%q): %v", tt.body, err)
			}
			if got != tt.want {
				t.Errorf("Run(%q) = %#v, want %#v", tt.body, got, tt.want)
			}
		})
	}
}

func TestRunHost(t *testing.T) {
	var out bytes.Buffer
	ev := New(&out)
	host := &fakeHost{fields: map[string]any{"count": int64(1)}}
	frame := &Frame{Vars: map[string]any{"this": uint64(0x1000)}, Host: host}

	body := `
		this->count = this->count + 4;
		this->count++;
		helper();
		printf("%d %zu %p", twice(this->count), sizeof(A), this);
		return ns::twice(1);
	`
	got, err := ev.Run(context.Background(), body, frame)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != int64(20) {
		t.Errorf("result = %#v, want ns::twice(1)", got)
	}
	if host.fields["count"] != int64(6) {
		t.Errorf("count = %#v", host.fields["count"])
	}
	if out.String() != "12 1 0x1000" {
		t.Errorf("output = %q", out.String())
	}
	want := []string{"helper", "twice", "ns::twice"}
	if len(host.calls) != len(want) {
		t.Fatalf("calls = %v", host.calls)
	}
	for i := range want {
		if host.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, host.calls[i], want[i])
		}
	}
}

func TestRunErrors(t *testing.T) {
	ev := New(nil)
	tests := []struct {
		name string
		body string
		want error
	}{
		{"if statement", "if (x) return 1;", abi.ErrUnsupported},
		{"block", "{ return 1; }", abi.ErrUnsupported},
		{"missing semicolon", "return 1", abi.ErrUnsupported},
		{"member access", "return a.b;", abi.ErrUnsupported},
		{"address-of", "return &x;", abi.ErrUnsupported},
		{"shift", "return 1 << 2;", abi.ErrUnsupported},
		{"undeclared", "y = 1;", abi.ErrInvocation},
		{"unknown identifier", "return nope + 1;", abi.ErrInvocation},
		{"field without host", "return this->x;", abi.ErrInvocation},
		{"call without host", "f();", abi.ErrUnsupported},
		{"bad format", `printf("%v", 1);`, abi.ErrInvocation},
		{"bad type", "typeid(int[3]);", abi.ErrInvocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ev.Run(context.Background(), tt.body, &Frame{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Run(%q) error = %v, want %v", tt.body, err, tt.want)
			}
		})
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).Run(ctx, "return 1;", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestProgramCache(t *testing.T) {
	ev := New(nil)
	for i := int64(0); i < 3; i++ {
		got, err := ev.Run(context.Background(), "return x * 2;", &Frame{Vars: map[string]any{"x": i}})
		if err != nil {
			t.Fatal(err)
		}
		if got != i*2 {
			t.Errorf("x=%d: got %v", i, got)
		}
	}
	n := 0
	ev.programs.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("cached %d programs, want 1", n)
	}
}
