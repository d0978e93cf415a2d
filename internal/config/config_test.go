package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"), "cxbridge.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("backend = %q, want %q", cfg.Backend, BackendMemory)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("listen = %q, want %q", cfg.Listen, DefaultListen)
	}
	if !cfg.Lazy() {
		t.Error("expected lazy instantiation by default")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "auto" {
		t.Errorf("log = %+v, want info/auto", cfg.Log)
	}
}

func TestParseConfig_Full(t *testing.T) {
	yaml := `
backend: remote
target: localhost:9000
lazy_instantiation: false
sources: [classes.hpp]
prelude: |
  class A {};
log:
  level: debug
  format: json
types:
  - name: B
    templates: [callme]
    methods: [size]
`
	cfg, err := ParseConfig([]byte(yaml), "/etc/cx/cxbridge.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Lazy() {
		t.Error("lazy_instantiation: false was ignored")
	}
	want := []TypeSpec{{Name: "B", Methods: []string{"size"}, Templates: []string{"callme"}}}
	if diff := cmp.Diff(want, cfg.Types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/etc/cx/classes.hpp"}, cfg.SourcePaths()); diff != "" {
		t.Errorf("source paths mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "backend: jit", "unknown backend"},
		{"native without library", "backend: native", "library is required"},
		{"remote without target", "backend: remote", "target is required"},
		{"bad level", "log: {level: loud}", "unknown level"},
		{"bad format", "log: {format: xml}", "unknown format"},
		{"bad source", "sources: [main.go]", "not a declaration file"},
		{"unnamed type", "types: [{methods: [f]}]", "name is required"},
		{"duplicate type", "types: [{name: A}, {name: A}]", "duplicate type"},
		{"duplicate member", "types: [{name: A, methods: [f], templates: [f]}]", "declared twice"},
		{"malformed", "backend: [", "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml), "cxbridge.yaml")
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestFindConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "cxbridge.yml"), []byte("backend: memory\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindConfig(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(root, "cxbridge.yml") {
		t.Errorf("FindConfig = %q", got)
	}
}

func TestReadSources(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.hpp"), []byte("class A {};"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "cxbridge.yaml")
	if err := os.WriteFile(path, []byte("prelude: class P {};\nsources: [a.hpp]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	got, err := cfg.ReadSources()
	if err != nil {
		t.Fatalf("ReadSources: %v", err)
	}
	if diff := cmp.Diff([]string{"class P {};", "class A {};"}, got); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestCanonicalBuiltin(t *testing.T) {
	tests := []struct {
		words []string
		want  string
		ok    bool
	}{
		{[]string{"int"}, "int", true},
		{[]string{"unsigned"}, "unsigned int", true},
		{[]string{"short", "int"}, "short", true},
		{[]string{"long", "unsigned", "int"}, "unsigned long", true},
		{[]string{"long", "long"}, "long long", true},
		{[]string{"unsigned", "long", "long", "int"}, "unsigned long long", true},
		{[]string{"signed", "char"}, "signed char", true},
		{[]string{"char"}, "char", true},
		{[]string{"size_t"}, "size_t", true},
		{[]string{"long", "double"}, "", false},
		{[]string{"short", "long"}, "", false},
		{[]string{"unsigned", "float"}, "", false},
		{nil, "", false},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.words, " "), func(t *testing.T) {
			got, ok := CanonicalBuiltin(tt.words)
			if got != tt.want || ok != tt.ok {
				t.Errorf("CanonicalBuiltin(%v) = %q, %v; want %q, %v", tt.words, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLookupBuiltin(t *testing.T) {
	b, ok := LookupBuiltin("unsigned short")
	if !ok || b.Width != 2 {
		t.Fatalf("LookupBuiltin(unsigned short) = %+v, %v", b, ok)
	}
	if _, ok := LookupBuiltin("A"); ok {
		t.Error("class name reported as builtin")
	}
}
