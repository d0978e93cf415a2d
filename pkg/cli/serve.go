package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/compiler"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/native"
	"github.com/funvibe/cxbridge/internal/rpc"
)

// Serve exposes a Compiler Service over gRPC. Every client session gets its
// own compiler session, preloaded with the configured sources.
type Serve struct {
	Listen string `help:"Address to listen on (default from configuration)" short:"l"`

	// Ready, when set, receives the bound address once listening.
	Ready chan<- net.Addr `kong:"-"`
}

func (s *Serve) Run(ctx context.Context, env *Env) error {
	cfg := env.Config
	sources, err := cfg.ReadSources()
	if err != nil {
		return err
	}

	open, err := sessionOpener(cfg, sources, env)
	if err != nil {
		return err
	}

	addr := s.Listen
	if addr == "" {
		addr = cfg.Listen
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := rpc.NewServer(open, rpc.WithServerLogger(env.Log))
	gs := grpc.NewServer()
	if err := srv.Register(gs); err != nil {
		lis.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		env.Log.Info(ctx, "serving",
			slog.String("addr", lis.Addr().String()),
			slog.String("backend", cfg.Backend),
			slog.String("version", config.Version))
		if s.Ready != nil {
			s.Ready <- lis.Addr()
		}
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		env.Log.Info(ctx, "shutting down", slog.Int("sessions", srv.Sessions()))
		gs.GracefulStop()
		return srv.Close()
	})
	return g.Wait()
}

func sessionOpener(cfg *config.Config, sources []string, env *Env) (rpc.OpenFunc, error) {
	var open func(ctx context.Context) (abi.Service, error)
	switch cfg.Backend {
	case config.BackendMemory:
		open = func(ctx context.Context) (abi.Service, error) {
			svc, err := compiler.New(ctx,
				compiler.WithLogger(env.Log),
				compiler.WithOutput(env.Stdout),
				compiler.WithLazyInstantiation(cfg.Lazy()))
			if err != nil {
				return nil, err
			}
			return svc, nil
		}
	case config.BackendNative:
		open = func(ctx context.Context) (abi.Service, error) {
			svc, err := native.Open(ctx, cfg.Library,
				native.WithLogger(env.Log),
				native.WithLazyInstantiation(cfg.Lazy()))
			if err != nil {
				return nil, err
			}
			return svc, nil
		}
	default:
		return nil, abi.ErrUnsupported.Wrapf("cannot serve the %s backend", cfg.Backend)
	}

	return func(ctx context.Context) (abi.Service, error) {
		svc, err := open(ctx)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			if err := svc.Parse(ctx, src); err != nil {
				svc.Close()
				return nil, err
			}
		}
		return svc, nil
	}, nil
}
