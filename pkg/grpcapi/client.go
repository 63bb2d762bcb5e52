package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/psaab/ipfwd/pkg/cmdtree"
)

// Client is a Forwarder service client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to the daemon at addr without transport security.
func Dial(addr string) (*Client, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

func (c *Client) structCall(ctx context.Context, method string, in any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) listCall(ctx context.Context, method string, in any) ([]any, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsSlice(), nil
}

func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	st, err := c.structCall(ctx, "GetStatus", &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

func (c *Client) GetStatistics(ctx context.Context) (map[string]any, error) {
	st, err := c.structCall(ctx, "GetStatistics", &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

func (c *Client) ListRoutes(ctx context.Context) ([]any, error) {
	return c.listCall(ctx, "ListRoutes", &emptypb.Empty{})
}

func (c *Client) ListNeighbors(ctx context.Context) ([]any, error) {
	return c.listCall(ctx, "ListNeighbors", &emptypb.Empty{})
}

func (c *Client) ListInterfaces(ctx context.Context) ([]any, error) {
	return c.listCall(ctx, "ListInterfaces", &emptypb.Empty{})
}

// Lookup asks the daemon which route (and next-hop MAC) serves addr.
func (c *Client) Lookup(ctx context.Context, addr string) (map[string]any, error) {
	st, err := c.structCall(ctx, "Lookup", wrapperspb.String(addr))
	if err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

// GetEvents fetches recent drop events; filter keys are reason, port,
// address and limit.
func (c *Client) GetEvents(ctx context.Context, filter map[string]any) ([]any, error) {
	req, err := structpb.NewStruct(filter)
	if err != nil {
		return nil, err
	}
	return c.listCall(ctx, "GetEvents", req)
}

func (c *Client) Reload(ctx context.Context) error {
	return c.cc.Invoke(ctx, fullMethod("Reload"), &emptypb.Empty{}, new(emptypb.Empty))
}

// Complete returns completion candidates for line.
func (c *Client) Complete(ctx context.Context, line string) ([]cmdtree.Candidate, error) {
	items, err := c.listCall(ctx, "Complete", wrapperspb.String(line))
	if err != nil {
		return nil, err
	}
	out := make([]cmdtree.Candidate, 0, len(items))
	for _, it := range items {
		m, _ := it.(map[string]any)
		name, _ := m["name"].(string)
		desc, _ := m["desc"].(string)
		out = append(out, cmdtree.Candidate{Name: name, Desc: desc})
	}
	return out, nil
}
