package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/switchagent/internal/sai"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("agent_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "agent_rpc_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 1 {
		t.Fatalf("agent_rpc_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("agent_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestObserveCallCountsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	collector.ObserveCall(sai.OpSet, sai.ObjectTypePort, sai.StatusSuccess)
	collector.ObserveCall(sai.OpSet, sai.ObjectTypePort, sai.StatusSuccess)
	collector.ObserveCall(sai.OpSet, sai.ObjectTypePort, sai.StatusFailure)

	if got := testutil.ToFloat64(collector.SAICalls.WithLabelValues("port", "set", "SUCCESS")); got != 2 {
		t.Fatalf("sai_calls_total{SUCCESS} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.SAICalls.WithLabelValues("port", "set", "FAILURE")); got != 1 {
		t.Fatalf("sai_calls_total{FAILURE} = %v, want 1", got)
	}
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}
	second, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("second NewAgentCollector: %v", err)
	}
	if first.SAICalls != second.SAICalls {
		t.Fatalf("second collector did not reuse the registered sai_calls_total")
	}
}

func TestMetricsHandlerExposesPortGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}
	collector.SetTableEntries("acl_entries", 3)
	collector.SetPortState("port1", true, false)
	collector.SetPortStat("port1.in_bytes", 4096)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, line := range []string{
		`hw_table_entries{table="acl_entries"} 3`,
		`port_admin_up{port="port1"} 1`,
		`port_link_up{port="port1"} 0`,
		`port_stat{key="port1.in_bytes"} 4096`,
		`agent_rpc_requests_total{code="OK",method="method",service="svc"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in /metrics output:\n%s", line, body)
		}
	}
}

func TestSwitchCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSwitchCollector(reg)
	if err != nil {
		t.Fatalf("NewSwitchCollector: %v", err)
	}

	c.ObserveApply(2 * time.Millisecond)
	c.ObserveReconcile(time.Millisecond, 0)
	c.ObserveReconcile(time.Millisecond, 3)
	c.IncLinkEvents()
	c.SetWarmBoot(true)

	if got := testutil.ToFloat64(c.ReconcileRewrites); got != 3 {
		t.Fatalf("switch_reconcile_rewrites_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.LinkEvents); got != 1 {
		t.Fatalf("switch_link_events_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.WarmBoot); got != 1 {
		t.Fatalf("switch_warm_boot = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "switch_reconcile_duration_seconds", nil); count != 2 {
		t.Fatalf("switch_reconcile_duration_seconds sample_count = %d, want 2", count)
	}

	var nilCollector *SwitchCollector
	nilCollector.ObserveApply(time.Second)
	nilCollector.IncLinkEvents()
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/grpc.health.v1.Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"nomethod", "unknown", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.method {
			t.Fatalf("SplitMethod(%q) = %q, %q; want %q, %q", tc.in, s, m, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
