package evaluator

import (
	"testing"
)

func TestTranslateFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		args     int
		wantErr  bool
	}{
		{"", "", 0, false},
		{"Hello World", "Hello World", 0, false},
		{"Hello %s", "Hello %s", 1, false},
		{"%d %i %u", "%d %d %d", 3, false},
		{"%%", "%%", 0, false},
		{"%% %d", "%% %d", 1, false},
		{"%.2f", "%.2f", 1, false},
		{"%5d", "%5d", 1, false},
		{"%05d", "%05d", 1, false},
		{"%-5d", "%-5d", 1, false},
		{"%+d", "%+d", 1, false},
		{"%#x", "%#x", 1, false},
		{"% 5d", "% 5d", 1, false}, // Space flag
		{"%ld %lld %zu %hhd", "%d %d %d %d", 4, false},
		{"%F", "%f", 1, false},
		{"%p", "%#x", 1, false},
		{"%*d", "%*d", 2, false},
		{"%.*s", "%.*s", 2, false},
		{"%c", "%c", 1, false},
		{"%", "", 0, true},
		{"%l", "", 0, true},
		{"%n", "", 0, true},
		{"%v", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, roles, err := translateFormat(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("translateFormat(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("translateFormat(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("translateFormat(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if len(roles) != tt.args {
				t.Errorf("translateFormat(%q) consumes %d args, want %d", tt.input, len(roles), tt.args)
			}
		})
	}
}

func TestFormatC(t *testing.T) {
	tests := []struct {
		format string
		args   []any
		want   string
	}{
		{" call me may B! \n", nil, " call me may B! \n"},
		{"%d-%s", []any{int64(42), "x"}, "42-x"},
		{"%c%c", []any{int64('o'), int64('k')}, "ok"},
		{"%u", []any{int64(-1)}, "4294967295"},
		{"%lu", []any{int64(-1)}, "18446744073709551615"},
		{"%x", []any{int64(255)}, "ff"},
		{"%p", []any{uint64(0x1000)}, "0x1000"},
		{"%*d|", []any{int64(4), int64(7)}, "   7|"},
		{"%.1f", []any{2.25}, "2.2"},
		{"%d", []any{3.9}, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := formatC(tt.format, tt.args)
			if err != nil {
				t.Fatalf("formatC: %v", err)
			}
			if got != tt.want {
				t.Errorf("formatC(%q) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}

	if _, err := formatC("%d %d", []any{int64(1)}); err == nil {
		t.Error("expected error for missing argument")
	}
}
