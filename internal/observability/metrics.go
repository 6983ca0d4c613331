package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/switchagent/internal/sai"
)

// AgentCollector bundles Prometheus metrics for the agent's hardware
// programming and its gRPC surface, and provides helpers to wire them into
// gRPC servers and HTTP handlers.
type AgentCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	SAICalls     *prometheus.CounterVec
	TableEntries *prometheus.GaugeVec
	PortAdminUp  *prometheus.GaugeVec
	PortLinkUp   *prometheus.GaugeVec
	PortStats    *prometheus.GaugeVec
}

// NewAgentCollector registers agent Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAgentCollector(reg prometheus.Registerer) (*AgentCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_rpc_requests_total",
		Help: "Total number of handled agent RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "agent_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_rpc_duration_seconds",
		Help:    "Agent RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "agent_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	calls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sai_calls_total",
		Help: "Control API calls issued, labeled by object type, operation, and returned status.",
	}, []string{"object", "op", "status"}), "sai_calls_total")
	if err != nil {
		return nil, err
	}

	entries, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hw_table_entries",
		Help: "Hardware resources currently owned by each object table.",
	}, []string{"table"}), "hw_table_entries")
	if err != nil {
		return nil, err
	}

	adminUp, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "port_admin_up",
		Help: "1 when the port is administratively enabled.",
	}, []string{"port"}), "port_admin_up")
	if err != nil {
		return nil, err
	}

	linkUp, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "port_link_up",
		Help: "1 when the port link is reported up.",
	}, []string{"port"}), "port_link_up")
	if err != nil {
		return nil, err
	}

	stats, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "port_stat",
		Help: "Last polled port counter value, keyed by port stat name.",
	}, []string{"key"}), "port_stat")
	if err != nil {
		return nil, err
	}

	return &AgentCollector{
		gatherer:     gatherer,
		RPCRequests:  requests,
		RPCDurations: durations,
		SAICalls:     calls,
		TableEntries: entries,
		PortAdminUp:  adminUp,
		PortLinkUp:   linkUp,
		PortStats:    stats,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *AgentCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AgentCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCall satisfies sai.CallObserver.
func (c *AgentCollector) ObserveCall(op sai.Op, t sai.ObjectType, st sai.Status) {
	if c == nil || c.SAICalls == nil {
		return
	}
	c.SAICalls.WithLabelValues(t.String(), string(op), st.String()).Inc()
}

// SetTableEntries satisfies hw.SizeRecorder.
func (c *AgentCollector) SetTableEntries(table string, n int) {
	if c == nil || c.TableEntries == nil {
		return
	}
	c.TableEntries.WithLabelValues(table).Set(float64(n))
}

// SetPortState records the admin and link state of the named port.
func (c *AgentCollector) SetPortState(port string, adminUp, linkUp bool) {
	if c == nil {
		return
	}
	if c.PortAdminUp != nil {
		c.PortAdminUp.WithLabelValues(port).Set(boolGauge(adminUp))
	}
	if c.PortLinkUp != nil {
		c.PortLinkUp.WithLabelValues(port).Set(boolGauge(linkUp))
	}
}

// SetPortStat satisfies hw.StatSink.
func (c *AgentCollector) SetPortStat(key string, value uint64) {
	if c == nil || c.PortStats == nil {
		return
	}
	c.PortStats.WithLabelValues(key).Set(float64(value))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
