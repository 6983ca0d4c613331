// Package grpcserver hosts the agent's gRPC endpoint: the standard health
// and reflection services plus the switchagent.v1.Switch introspection
// service, with request ids, tracing and metrics on every unary call.
package grpcserver

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/switchagent/internal/logging"
)

// Option customises Server construction.
type Option func(*options)

type options struct {
	log          logging.Logger
	interceptors []grpc.UnaryServerInterceptor
	reflection   bool
}

// WithLogger sets the base logger for per-request loggers.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithUnaryInterceptors appends interceptors after the request-id and
// tracing ones.
func WithUnaryInterceptors(i ...grpc.UnaryServerInterceptor) Option {
	return func(o *options) {
		o.interceptors = append(o.interceptors, i...)
	}
}

// WithReflection toggles the reflection service. It is on by default.
func WithReflection(enabled bool) Option {
	return func(o *options) {
		o.reflection = enabled
	}
}

// Server wraps a grpc.Server and its health service.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    logging.Logger
}

// New builds a server that reports NOT_SERVING until SetServing(true).
func New(opts ...Option) *Server {
	o := options{log: logging.Noop(), reflection: true}
	for _, opt := range opts {
		opt(&o)
	}

	chain := append([]grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(o.log),
		TracingUnaryServerInterceptor(),
	}, o.interceptors...)

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	if o.reflection {
		reflection.Register(srv)
	}

	return &Server{srv: srv, health: hs, log: o.log}
}

// RegisterSwitch exposes sw as the switchagent.v1.Switch service.
func (s *Server) RegisterSwitch(sw SwitchBackend) {
	RegisterSwitchServer(s.srv, NewSwitchService(sw, s.log))
	s.health.SetServingStatus(SwitchServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// SetServing flips the overall and per-service health status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	if _, ok := s.srv.GetServiceInfo()[SwitchServiceName]; ok {
		s.health.SetServingStatus(SwitchServiceName, st)
	}
}

// Serve accepts connections on lis until ctx is done, then drains in-flight
// calls. It returns nil after a shutdown triggered by ctx.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(lis)
	}()
	s.log.Info(ctx, "gRPC server listening", logging.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.srv.GracefulStop()
		<-errCh
		s.log.Info(context.WithoutCancel(ctx), "gRPC server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
