package evaluator

import (
	"fmt"
	"io"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// bindBuiltins installs the functions translated bodies call.
func (r *run) bindBuiltins() {
	r.env[config.PrintfFuncName] = func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, abi.ErrInvocation.Wrapf("printf needs a format")
		}
		format, ok := args[0].(string)
		if !ok {
			return nil, abi.ErrInvocation.Wrapf("printf format is %T, not a string", args[0])
		}
		out, err := formatC(format, args[1:])
		if err != nil {
			return nil, abi.ErrInvocation.Wrap(err)
		}
		return r.e.write(out)
	}

	r.env[config.PutsFuncName] = func(s string) (any, error) {
		return r.e.write(s + "\n")
	}

	r.env[config.TypeidFuncName] = func(text string) (string, error) {
		t, err := typesystem.Parse(text, nil)
		if err != nil {
			return "", abi.ErrInvocation.Wrap(err)
		}
		return typesystem.Mangle(t), nil
	}

	r.env[config.SizeofFuncName] = func(text string) (any, error) {
		if b, ok := config.LookupBuiltin(text); ok {
			return uint64(b.Width), nil
		}
		t, err := typesystem.Parse(text, nil)
		if err != nil {
			return nil, abi.ErrInvocation.Wrap(err)
		}
		if _, ok := typesystem.StripRef(t).(typesystem.TPtr); ok {
			return uint64(config.PointerWidth), nil
		}
		if r.frame.Host == nil {
			return nil, abi.ErrUnsupported.Wrapf("sizeof(%s) needs a compiler host", text)
		}
		n, err := r.frame.Host.SizeOf(r.ctx, typesystem.StripRef(t).String())
		return uint64(n), err
	}

	r.env[fieldFunc] = func(name string) (any, error) {
		if r.frame.Host == nil {
			return nil, abi.ErrInvocation.Wrapf("this->%s outside a member function", name)
		}
		v, err := r.frame.Host.Field(r.ctx, name)
		return normalize(v), err
	}

	r.env[callFunc] = func(name string, args ...any) (any, error) {
		if r.frame.Host == nil {
			return nil, abi.ErrUnsupported.Wrapf("call to %s needs a compiler host", name)
		}
		for i, a := range args {
			args[i] = normalize(a)
		}
		v, err := r.frame.Host.Call(r.ctx, name, args)
		return normalize(v), err
	}
}

// write sends s to the output and returns the byte count as printf does.
func (e *Evaluator) write(s string) (any, error) {
	if e.out == nil {
		return int64(len(s)), nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := io.WriteString(e.out, s)
	if err != nil {
		return nil, abi.ErrInvocation.Wrap(fmt.Errorf("write output: %w", err))
	}
	return int64(n), nil
}
