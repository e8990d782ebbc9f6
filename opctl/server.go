// Package opctl is the operator control-plane: a small gRPC surface for
// triggering an out-of-band reconciliation sweep and listing recent alerts,
// separate from the merchant-facing widget/admin HTTP API so it can be
// bound to an internal-only address.
//
// It is deliberately transport-only: the service descriptor is hand-built
// (no protoc-generated stubs) and carries JSON payloads over grpc's codec
// hook rather than protobuf messages, so adding an RPC is a matter of
// adding a method here, not regenerating code.
package opctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// ReconcileNowRequest triggers an immediate out-of-cycle sweep.
type ReconcileNowRequest struct{}

// ReconcileNowResponse reports how many stuck transactions the sweep
// attempted to repair.
type ReconcileNowResponse struct {
	Attempted int `json:"attempted"`
}

// ListAlertsRequest asks for the most recent N alerts held in the ring
// buffer.
type ListAlertsRequest struct {
	Limit int `json:"limit"`
}

// Alert mirrors an AlertSink.Alert call, retained in-memory for operators
// polling via ListAlerts instead of tailing logs.
type Alert struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ListAlertsResponse is the reply to ListAlerts.
type ListAlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

// Sweeper is the subset of reconcile.Scanner's behavior opctl drives.
type Sweeper interface {
	SweepNow(ctx context.Context) (attempted int)
}

// AlertRing is a bounded, thread-safe recent-alerts buffer that also
// implements orchestrator.AlertSink / reconcile.AlertSink. It keeps the
// most recent alerts for ListAlerts and forwards nothing onward.
type AlertRing struct {
	mu       sync.Mutex
	alerts   []Alert
	capacity int
}

// NewAlertRing builds a ring buffer retaining up to capacity alerts.
func NewAlertRing(capacity int) *AlertRing {
	if capacity <= 0 {
		capacity = 200
	}
	return &AlertRing{capacity: capacity}
}

// Alert records an alert, evicting the oldest entry once at capacity.
func (r *AlertRing) Alert(ctx context.Context, kind, message string, fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{Kind: kind, Message: message, Fields: fields, Timestamp: alertTimestamp()})
	if len(r.alerts) > r.capacity {
		r.alerts = r.alerts[len(r.alerts)-r.capacity:]
	}
}

// alertTimestamp is indirected so tests can override it; production uses
// time.Now.
var alertTimestamp = time.Now

func (r *AlertRing) recent(limit int) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.alerts) {
		limit = len(r.alerts)
	}
	out := make([]Alert, limit)
	copy(out, r.alerts[len(r.alerts)-limit:])
	return out
}

// Service implements the operator control-plane RPCs.
type Service struct {
	sweeper Sweeper
	alerts  *AlertRing
}

// NewService builds a Service bound to a sweeper and the shared alert ring.
func NewService(sweeper Sweeper, alerts *AlertRing) *Service {
	return &Service{sweeper: sweeper, alerts: alerts}
}

// ReconcileNow runs sweepOnce synchronously and reports what it attempted.
func (s *Service) ReconcileNow(ctx context.Context, _ *ReconcileNowRequest) (*ReconcileNowResponse, error) {
	return &ReconcileNowResponse{Attempted: s.sweeper.SweepNow(ctx)}, nil
}

// ListAlerts returns the most recent alerts still held in the ring.
func (s *Service) ListAlerts(ctx context.Context, req *ListAlertsRequest) (*ListAlertsResponse, error) {
	return &ListAlertsResponse{Alerts: s.alerts.recent(req.Limit)}, nil
}

// jsonCodec marshals RPC payloads as JSON instead of protobuf, so this
// service needs no .proto-generated types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "opctl.Operator",
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReconcileNow",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(ReconcileNowRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Service).ReconcileNow(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/opctl.Operator/ReconcileNow"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Service).ReconcileNow(ctx, req.(*ReconcileNowRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "ListAlerts",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(ListAlertsRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Service).ListAlerts(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/opctl.Operator/ListAlerts"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Service).ListAlerts(ctx, req.(*ListAlertsRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
}

// Server hosts the operator control-plane on its own listener.
type Server struct {
	grpcServer *grpc.Server
	addr       string
}

// NewServer builds and registers the gRPC server; it does not start
// listening until Serve is called.
func NewServer(addr string, svc *Service) *Server {
	gs := grpc.NewServer()
	gs.RegisterService(&serviceDesc, svc)
	return &Server{grpcServer: gs, addr: addr}
}

// Serve blocks accepting connections until the listener errors or Stop is
// called.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("opctl: listen on %s: %w", s.addr, err)
	}
	return s.grpcServer.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
