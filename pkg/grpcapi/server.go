// Package grpcapi implements the gRPC API server for ipfwd.
package grpcapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/psaab/ipfwd/pkg/cmdtree"
	"github.com/psaab/ipfwd/pkg/fib"
	"github.com/psaab/ipfwd/pkg/forwarding"
	"github.com/psaab/ipfwd/pkg/link"
	"github.com/psaab/ipfwd/pkg/logging"
)

const defaultEventLimit = 50

// PortLister describes the router's ports.
type PortLister interface {
	Describe() []link.PortInfo
}

// Config configures the gRPC server.
type Config struct {
	DP       *forwarding.Pipeline
	Ports    PortLister
	EventBuf *logging.EventBuffer
	ReloadFn func() error // daemon's table reload callback
	Version  string
}

// Server implements the Forwarder gRPC service.
type Server struct {
	UnimplementedForwarderServer

	dp        *forwarding.Pipeline
	ports     PortLister
	eventBuf  *logging.EventBuffer
	reloadFn  func() error
	version   string
	startTime time.Time
	addr      string
}

// NewServer creates a new gRPC server.
func NewServer(addr string, cfg Config) *Server {
	return &Server{
		dp:        cfg.DP,
		ports:     cfg.Ports,
		eventBuf:  cfg.EventBuf,
		reloadFn:  cfg.ReloadFn,
		version:   cfg.Version,
		startTime: time.Now(),
		addr:      addr,
	}
}

// Run starts the gRPC server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	RegisterForwarderServer(srv, s)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	srv.GracefulStop()
	return nil
}

func (s *Server) tables() (*forwarding.Tables, error) {
	if s.dp == nil {
		return nil, status.Error(codes.Unavailable, "dataplane not running")
	}
	t := s.dp.Tables()
	if t == nil {
		return nil, status.Error(codes.Unavailable, "no forwarding tables loaded")
	}
	return t, nil
}

func newStructOrInternal(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

func newListOrInternal(items []any) (*structpb.ListValue, error) {
	lv, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return lv, nil
}

// --- Status RPCs ---

func (s *Server) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	m := map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if t, err := s.tables(); err == nil {
		m["routes"] = t.FIB.Len()
		m["routes_replaced"] = t.FIB.Replaced()
		m["neighbors"] = t.Neighbors.Len()
	}
	if s.ports != nil {
		m["ports"] = len(s.ports.Describe())
	}
	if s.eventBuf != nil {
		m["drop_events"] = s.eventBuf.Total()
	}
	return newStructOrInternal(m)
}

func (s *Server) GetStatistics(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.dp == nil {
		return nil, status.Error(codes.Unavailable, "dataplane not running")
	}
	st := s.dp.Stats()
	drops := make(map[string]any, len(st.Dropped))
	for r, n := range st.Dropped {
		drops[r.String()] = n
	}
	return newStructOrInternal(map[string]any{
		"frames":       st.Frames,
		"bytes":        st.Bytes,
		"transmitted":  st.Transmitted,
		"replied":      st.Replied,
		"dropped":      st.DroppedTotal(),
		"drop_reasons": drops,
	})
}

// --- Table RPCs ---

func routeMap(r fib.Route) map[string]any {
	return map[string]any{
		"destination": r.Destination().String(),
		"next_hop":    r.Gateway().String(),
		"interface":   r.Interface,
	}
}

func (s *Server) ListRoutes(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	t, err := s.tables()
	if err != nil {
		return nil, err
	}
	var items []any
	for _, r := range t.FIB.Routes() {
		items = append(items, routeMap(r))
	}
	return newListOrInternal(items)
}

func (s *Server) ListNeighbors(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	t, err := s.tables()
	if err != nil {
		return nil, err
	}
	var items []any
	for _, e := range t.Neighbors.Entries() {
		items = append(items, map[string]any{
			"ip":  fib.AddrFrom(e.IP).String(),
			"mac": e.HardwareAddr.String(),
		})
	}
	return newListOrInternal(items)
}

func (s *Server) ListInterfaces(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	if s.ports == nil {
		return nil, status.Error(codes.Unavailable, "no ports configured")
	}
	var items []any
	for _, p := range s.ports.Describe() {
		items = append(items, map[string]any{
			"port":    p.Port,
			"name":    p.Name,
			"address": p.Address,
			"mac":     p.MAC,
		})
	}
	return newListOrInternal(items)
}

func (s *Server) Lookup(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	t, err := s.tables()
	if err != nil {
		return nil, err
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(req.GetValue()))
	if err != nil || !addr.Unmap().Is4() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid IPv4 address %q", req.GetValue())
	}
	m := map[string]any{
		"address": addr.Unmap().String(),
		"found":   false,
	}
	if r, ok := t.FIB.LookupAddr(addr); ok {
		m["found"] = true
		m["route"] = routeMap(r)
		if mac, ok := t.Neighbors.Resolve(r.NextHop); ok {
			m["next_hop_mac"] = mac.String()
		}
	}
	return newStructOrInternal(m)
}

// --- Events ---

// GetEvents returns recent drop events, newest first. The request may set
// "reason", "port", "address" and "limit".
func (s *Server) GetEvents(_ context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	if s.eventBuf == nil {
		return nil, status.Error(codes.Unavailable, "event buffer not available")
	}
	f := logging.AnyEvent
	limit := defaultEventLimit
	for k, v := range req.GetFields() {
		switch k {
		case "reason":
			f.Reason = v.GetStringValue()
		case "address":
			f.Addr = v.GetStringValue()
		case "port":
			n := v.GetNumberValue()
			if n < 0 || n != float64(int(n)) {
				return nil, status.Errorf(codes.InvalidArgument, "invalid port %v", n)
			}
			f.Port = int(n)
		case "limit":
			n := int(v.GetNumberValue())
			if n <= 0 {
				return nil, status.Errorf(codes.InvalidArgument, "invalid limit %v", v.GetNumberValue())
			}
			limit = n
		default:
			return nil, status.Errorf(codes.InvalidArgument, "unknown filter %q", k)
		}
	}

	var items []any
	for _, ev := range s.eventBuf.LatestFiltered(limit, f) {
		items = append(items, map[string]any{
			"time":    ev.Time.Format(time.RFC3339),
			"port":    ev.Port,
			"reason":  ev.Reason,
			"length":  ev.Length,
			"message": ev.String(),
		})
	}
	return newListOrInternal(items)
}

// --- Control ---

func (s *Server) Reload(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.reloadFn == nil {
		return nil, status.Error(codes.Unimplemented, "reload not supported")
	}
	if err := s.reloadFn(); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "reload: %v", err)
	}
	return &emptypb.Empty{}, nil
}

// --- Completion RPC ---

// Complete returns {name, desc} candidates for the partially typed line.
func (s *Server) Complete(_ context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	env := &cmdtree.Env{}
	if s.ports != nil {
		for _, p := range s.ports.Describe() {
			env.Interfaces = append(env.Interfaces, p.Name)
		}
	}
	words, partial := cmdtree.SplitLine(req.GetValue())

	var items []any
	for _, c := range cmdtree.Complete(cmdtree.OperationalTree, words, partial, env) {
		items = append(items, map[string]any{"name": c.Name, "desc": c.Desc})
	}
	return newListOrInternal(items)
}
