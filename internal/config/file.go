package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level cxbridge.yaml configuration.
type Config struct {
	// Backend selects the Compiler Service: "memory" (in-process reference
	// service), "native" (interop library loaded at runtime) or "remote"
	// (gRPC). Defaults to "memory".
	Backend string `yaml:"backend,omitempty"`

	// Library is the path of the interop shared library. Required when
	// Backend is "native".
	Library string `yaml:"library,omitempty"`

	// Target is the gRPC address of a remote Compiler Service. Required when
	// Backend is "remote".
	Target string `yaml:"target,omitempty"`

	// Listen is the address `cxbridge serve` listens on. Defaults to
	// "127.0.0.1:7433".
	Listen string `yaml:"listen,omitempty"`

	// Sources lists declaration files parsed when a session opens, relative
	// to the configuration file.
	Sources []string `yaml:"sources,omitempty"`

	// Prelude is declaration text parsed before Sources.
	Prelude string `yaml:"prelude,omitempty"`

	// LazyInstantiation lets the reference service instantiate templates on
	// demand. When false, only explicitly instantiated templates resolve.
	// Defaults to true.
	LazyInstantiation *bool `yaml:"lazy_instantiation,omitempty"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log,omitempty"`

	// Types declares host-side surrogates registered when a session opens.
	//
	// Example:
	//   - name: B
	//     templates: [callme]
	//     methods: [size]
	Types []TypeSpec `yaml:"types,omitempty"`

	dir string
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`

	// Format is one of text, json, auto. Defaults to auto.
	Format string `yaml:"format,omitempty"`
}

// TypeSpec describes one surrogate type.
type TypeSpec struct {
	// Name is the qualified native class name (e.g. "ns::B").
	Name string `yaml:"name"`

	// Methods lists plain member functions exposed on the surrogate.
	Methods []string `yaml:"methods,omitempty"`

	// Templates lists member templates exposed on the surrogate.
	Templates []string `yaml:"templates,omitempty"`
}

// DefaultListen is the default `serve` address.
const DefaultListen = "127.0.0.1:7433"

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// LoadConfig reads and parses a cxbridge.yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses cxbridge.yaml content from bytes.
// The path argument is used for error messages and to resolve Sources.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return &cfg, nil
}

// FindConfig searches for cxbridge.yaml starting from dir and walking up
// to parent directories.
// Returns the path to the config file and nil error if found,
// or empty string and nil error if not found.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func (c *Config) validate(path string) error {
	switch c.Backend {
	case BackendMemory:
	case BackendNative:
		if c.Library == "" {
			return fmt.Errorf("%s: library is required for the native backend", path)
		}
	case BackendRemote:
		if c.Target == "" {
			return fmt.Errorf("%s: target is required for the remote backend", path)
		}
	default:
		return fmt.Errorf("%s: unknown backend %q", path, c.Backend)
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s: log.level: unknown level %q", path, c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json", "auto":
	default:
		return fmt.Errorf("%s: log.format: unknown format %q", path, c.Log.Format)
	}

	for i, src := range c.Sources {
		if !hasSourceExt(src) {
			return fmt.Errorf("%s: sources[%d]: %q is not a declaration file", path, i, src)
		}
	}

	seen := make(map[string]bool)
	for i, ts := range c.Types {
		if ts.Name == "" {
			return fmt.Errorf("%s: types[%d]: name is required", path, i)
		}
		if seen[ts.Name] {
			return fmt.Errorf("%s: types[%d]: duplicate type %q", path, i, ts.Name)
		}
		seen[ts.Name] = true

		members := make(map[string]bool)
		for _, m := range append(append([]string{}, ts.Methods...), ts.Templates...) {
			if members[m] {
				return fmt.Errorf("%s: types[%d] (%s): member %q declared twice", path, i, ts.Name, m)
			}
			members[m] = true
		}
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LazyInstantiation == nil {
		lazy := true
		c.LazyInstantiation = &lazy
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// Lazy reports whether on-demand template instantiation is enabled.
func (c *Config) Lazy() bool {
	return c.LazyInstantiation == nil || *c.LazyInstantiation
}

// SourcePaths returns Sources resolved against the configuration directory.
func (c *Config) SourcePaths() []string {
	paths := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		if !filepath.IsAbs(src) && c.dir != "" {
			src = filepath.Join(c.dir, src)
		}
		paths = append(paths, src)
	}
	return paths
}

// ReadSources returns the prelude followed by the content of every source
// file, in declaration order.
func (c *Config) ReadSources() ([]string, error) {
	var out []string
	if strings.TrimSpace(c.Prelude) != "" {
		out = append(out, c.Prelude)
	}
	for _, path := range c.SourcePaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading source %s: %w", path, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

func hasSourceExt(path string) bool {
	for _, ext := range SourceFileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
