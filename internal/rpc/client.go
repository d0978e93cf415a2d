package rpc

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
)

// Client is an abi.Service backed by a remote CompilerService. Each Client
// owns one server-side session.
type Client struct {
	conn    grpc.ClientConnInterface
	owned   io.Closer
	session string
}

var _ abi.Service = (*Client)(nil)

// Dial connects to a CompilerService at target.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, abi.ErrUnsupported.Wrap(err)
	}
	c := NewClient(conn)
	c.owned = conn
	return c, nil
}

// NewClient opens a new session over conn. The caller keeps ownership of
// conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, session: uuid.NewString()}
}

// Session returns the session id sent with every request.
func (c *Client) Session() string { return c.session }

func (c *Client) invoke(ctx context.Context, method string, req fields) (fields, error) {
	md, err := methodDescriptor(method)
	if err != nil {
		return nil, err
	}
	in, err := encode(md.GetInputType(), req)
	if err != nil {
		return nil, abi.ErrUnmarshalable.Wrap(err)
	}
	out := dynamic.NewMessage(md.GetOutputType())

	ctx = metadata.AppendToOutgoingContext(ctx, config.SessionHeader, c.session)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fromStatus(err)
	}
	return decode(out)
}

func (c *Client) Parse(ctx context.Context, code string) error {
	_, err := c.invoke(ctx, "Parse", fields{"code": code})
	return err
}

func (c *Client) LookupName(ctx context.Context, name string) (abi.ScopeHandle, error) {
	reply, err := c.invoke(ctx, "LookupName", fields{"name": name})
	if err != nil {
		return 0, err
	}
	return abi.ScopeHandle(reply.u64("scope")), nil
}

func (c *Client) CreateObject(ctx context.Context, scope abi.ScopeHandle) (abi.Addr, error) {
	reply, err := c.invoke(ctx, "CreateObject", fields{"scope": uint64(scope)})
	if err != nil {
		return 0, err
	}
	return abi.Addr(reply.u64("addr")), nil
}

func (c *Client) DestroyObject(ctx context.Context, scope abi.ScopeHandle, addr abi.Addr) error {
	_, err := c.invoke(ctx, "DestroyObject", fields{"scope": uint64(scope), "addr": uint64(addr)})
	return err
}

func (c *Client) InstantiateTemplate(ctx context.Context, scope abi.ScopeHandle, name, args string) (abi.MethodHandle, error) {
	reply, err := c.invoke(ctx, "InstantiateTemplate", fields{"scope": uint64(scope), "name": name, "args": args})
	if err != nil {
		return 0, err
	}
	return abi.MethodHandle(reply.u64("method")), nil
}

func (c *Client) GetFunctionAddress(ctx context.Context, method abi.MethodHandle) (abi.FuncAddr, error) {
	reply, err := c.invoke(ctx, "GetFunctionAddress", fields{"method": uint64(method)})
	if err != nil {
		return 0, err
	}
	return abi.FuncAddr(reply.u64("fn")), nil
}

func (c *Client) Signature(ctx context.Context, method abi.MethodHandle) (abi.Signature, error) {
	reply, err := c.invoke(ctx, "Signature", fields{"method": uint64(method)})
	if err != nil {
		return abi.Signature{}, err
	}
	return signatureOf(reply), nil
}

func (c *Client) Call(ctx context.Context, fn abi.FuncAddr, sig abi.Signature, slots []abi.Slot) (abi.Slot, error) {
	list := make([]any, 0, len(slots))
	for _, s := range slots {
		list = append(list, slotFields(s))
	}
	reply, err := c.invoke(ctx, "Call", fields{
		"fn":        uint64(fn),
		"signature": signatureFields(sig),
		"slots":     list,
	})
	if err != nil {
		return abi.Slot{}, err
	}
	res, _ := reply.message("result")
	return slotOf(res), nil
}

// Close ends the server-side session and, for a dialed Client, closes the
// connection.
func (c *Client) Close() error {
	_, err := c.invoke(context.Background(), closeSessionMethod, fields{})
	if c.owned != nil {
		if cerr := c.owned.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
