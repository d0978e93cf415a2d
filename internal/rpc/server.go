package rpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/logging"
)

// OpenFunc opens the compilation session backing one client session.
type OpenFunc func(ctx context.Context) (abi.Service, error)

// Server serves CompilerService, keeping one independent abi.Service per
// client session.
type Server struct {
	open OpenFunc
	log  logging.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]abi.Service
}

type ServerOption func(*Server)

func WithServerLogger(l logging.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func NewServer(open OpenFunc, opts ...ServerOption) *Server {
	s := &Server{
		open:     open,
		log:      logging.Discard(),
		sessions: make(map[uuid.UUID]abi.Service),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// handler runs one RPC against the caller's session.
type handler func(ctx context.Context, svc abi.Service, req fields) (fields, error)

var handlers = map[string]handler{
	"Parse": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		return fields{}, svc.Parse(ctx, req.str("code"))
	},
	"LookupName": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		h, err := svc.LookupName(ctx, req.str("name"))
		return fields{"scope": uint64(h)}, err
	},
	"CreateObject": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		a, err := svc.CreateObject(ctx, abi.ScopeHandle(req.u64("scope")))
		return fields{"addr": uint64(a)}, err
	},
	"DestroyObject": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		return fields{}, svc.DestroyObject(ctx, abi.ScopeHandle(req.u64("scope")), abi.Addr(req.u64("addr")))
	},
	"InstantiateTemplate": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		h, err := svc.InstantiateTemplate(ctx, abi.ScopeHandle(req.u64("scope")), req.str("name"), req.str("args"))
		return fields{"method": uint64(h)}, err
	},
	"GetFunctionAddress": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		fn, err := svc.GetFunctionAddress(ctx, abi.MethodHandle(req.u64("method")))
		return fields{"fn": uint64(fn)}, err
	},
	"Signature": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		sig, err := svc.Signature(ctx, abi.MethodHandle(req.u64("method")))
		return signatureFields(sig), err
	},
	"Call": func(ctx context.Context, svc abi.Service, req fields) (fields, error) {
		sf, _ := req.message("signature")
		var slots []abi.Slot
		for _, s := range req.list("slots") {
			slots = append(slots, slotOf(s))
		}
		res, err := svc.Call(ctx, abi.FuncAddr(req.u64("fn")), signatureOf(sf), slots)
		return fields{"result": slotFields(res)}, err
	},
}

const closeSessionMethod = "CloseSession"

// Register builds the service description from the schema and registers s
// with reg.
func (s *Server) Register(reg grpc.ServiceRegistrar) error {
	sd, err := serviceDescriptor()
	if err != nil {
		return err
	}

	gsd := &grpc.ServiceDesc{
		ServiceName: sd.GetFullyQualifiedName(),
		HandlerType: (*any)(nil),
		Metadata:    sd.GetFile().GetName(),
	}
	for _, md := range sd.GetMethods() {
		h, ok := handlers[md.GetName()]
		if !ok && md.GetName() != closeSessionMethod {
			return errors.New("no handler for " + fullMethod(md.GetName()))
		}
		gsd.Methods = append(gsd.Methods, grpc.MethodDesc{
			MethodName: md.GetName(),
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				return srv.(*Server).handle(ctx, md, h, dec, interceptor)
			},
		})
	}

	reg.RegisterService(gsd, s)
	return nil
}

func (s *Server) handle(ctx context.Context, md *desc.MethodDescriptor, h handler, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamic.NewMessage(md.GetInputType())
	if err := dec(in); err != nil {
		return nil, err
	}

	run := func(ctx context.Context, req any) (any, error) {
		reply, err := s.dispatch(ctx, md.GetName(), h, req.(*dynamic.Message))
		if err != nil {
			return nil, err
		}
		out, err := encode(md.GetOutputType(), reply)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return out, nil
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: fullMethod(md.GetName())}
	return interceptor(ctx, in, info, run)
}

func (s *Server) dispatch(ctx context.Context, method string, h handler, in *dynamic.Message) (fields, error) {
	id, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	if method == closeSessionMethod {
		return fields{}, s.closeSession(ctx, id)
	}

	req, err := decode(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	svc, err := s.session(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}

	reply, err := h(ctx, svc, req)
	if err != nil {
		s.log.Debug(ctx, "call failed",
			slog.String("session", id.String()),
			slog.String("method", method),
			slog.Any("error", err))
		return nil, toStatus(err)
	}
	return reply, nil
}

func sessionID(ctx context.Context) (uuid.UUID, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(config.SessionHeader)
	if len(vals) != 1 {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "exactly one %s header is required", config.SessionHeader)
	}
	id, err := uuid.Parse(vals[0])
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s: %v", config.SessionHeader, err)
	}
	return id, nil
}

// session returns the service for id, opening it on first use.
func (s *Server) session(ctx context.Context, id uuid.UUID) (abi.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.sessions[id]; ok {
		return svc, nil
	}
	svc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.sessions[id] = svc
	s.log.Info(ctx, "session opened", slog.String("session", id.String()), slog.Int("sessions", len(s.sessions)))
	return svc, nil
}

func (s *Server) closeSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	svc, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	s.log.Info(ctx, "session closed", slog.String("session", id.String()), slog.Int("sessions", n))
	if err := svc.Close(); err != nil {
		return toStatus(err)
	}
	return nil
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close closes every open session.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[uuid.UUID]abi.Service)
	s.mu.Unlock()

	var errs []error
	for _, svc := range sessions {
		if err := svc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
