package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/pkg/bridge"
)

// Call resolves Method in Scope and calls it. A receiver is constructed
// from Scope when the method needs one.
//
// Arguments are parsed as: true/false, integers (decimal or 0x), floats,
// @T for a new instance of T, *@T and &@T to pass it as a pointer or a
// reference.
type Call struct {
	Scope    string   `arg:"" help:"Qualified class or namespace"`
	Method   string   `arg:"" help:"Method or template name"`
	Args     []string `arg:"" help:"Arguments" optional:""`
	Explicit string   `help:"Template arguments, resolving explicitly (e.g. \"A, int, C*\")" short:"t"`
	Source   []string `help:"Additional declaration files" short:"s" type:"existingfile"`
}

func (c *Call) Run(ctx context.Context, env *Env) error {
	s, err := bridge.Open(ctx, env.Config,
		bridge.WithLogger(env.Log),
		bridge.WithOutput(env.Stdout))
	if err != nil {
		return err
	}
	defer s.Close()

	for _, path := range c.Source {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := s.Parse(ctx, string(data)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	args := make([]any, len(c.Args))
	for i, text := range c.Args {
		if args[i], err = parseArg(ctx, s, text); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}

	var fn *bridge.Callable
	if c.Explicit != "" {
		fn, err = s.Explicit(ctx, c.Scope, c.Method, c.Explicit)
	} else {
		fn, err = s.Implicit(ctx, c.Scope, c.Method, args...)
	}
	if err != nil {
		return err
	}

	if fn.HasReceiver() {
		recv, err := s.Construct(ctx, c.Scope)
		if err != nil {
			return err
		}
		args = append([]any{recv}, args...)
	}

	res, err := fn.Call(ctx, args...)
	if err != nil {
		return err
	}
	if res != nil {
		_, err = fmt.Fprintln(env.Stdout, res)
	}
	return err
}

func parseArg(ctx context.Context, s *bridge.Session, text string) (any, error) {
	switch {
	case strings.HasPrefix(text, "*@"):
		o, err := s.Construct(ctx, text[2:])
		if err != nil {
			return nil, err
		}
		return bridge.Ptr(o), nil
	case strings.HasPrefix(text, "&@"):
		o, err := s.Construct(ctx, text[2:])
		if err != nil {
			return nil, err
		}
		return bridge.Ref(o), nil
	case strings.HasPrefix(text, "@"):
		return s.Construct(ctx, text[1:])
	case text == "true" || text == "false":
		return text == "true", nil
	}

	if n, err := strconv.ParseInt(text, 0, 64); err == nil {
		if n == int64(int32(n)) {
			return int(n), nil
		}
		return n, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	return nil, abi.ErrUnmarshalable.Wrapf("%q", text)
}
