package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SwitchCollector exposes orchestrator-level Prometheus metrics: how long
// configuration applies and reconciliation passes take and how much they
// had to write.
type SwitchCollector struct {
	gatherer prometheus.Gatherer

	ApplyDuration     prometheus.Histogram
	ReconcileDuration prometheus.Histogram
	ReconcileRewrites prometheus.Counter
	LinkEvents        prometheus.Counter
	WarmBoot          prometheus.Gauge
}

// NewSwitchCollector registers orchestrator metrics against the provided registerer.
func NewSwitchCollector(reg prometheus.Registerer) (*SwitchCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	buckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5}

	apply, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "switch_apply_duration_seconds",
		Help:    "Duration of applying a configuration snapshot to hardware.",
		Buckets: buckets,
	}), "switch_apply_duration_seconds")
	if err != nil {
		return nil, err
	}

	reconcile, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "switch_reconcile_duration_seconds",
		Help:    "Duration of reconciliation passes.",
		Buckets: buckets,
	}), "switch_reconcile_duration_seconds")
	if err != nil {
		return nil, err
	}

	rewrites, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "switch_reconcile_rewrites_total",
		Help: "Hardware writes issued by reconciliation to heal drift or earlier failures.",
	}), "switch_reconcile_rewrites_total")
	if err != nil {
		return nil, err
	}

	events, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "switch_link_events_total",
		Help: "Link status events received from hardware.",
	}), "switch_link_events_total")
	if err != nil {
		return nil, err
	}

	warm, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "switch_warm_boot",
		Help: "1 when the agent started from saved warm-boot state.",
	}), "switch_warm_boot")
	if err != nil {
		return nil, err
	}

	return &SwitchCollector{
		gatherer:          gatherer,
		ApplyDuration:     apply,
		ReconcileDuration: reconcile,
		ReconcileRewrites: rewrites,
		LinkEvents:        events,
		WarmBoot:          warm,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SwitchCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveApply records the duration of one snapshot apply.
func (c *SwitchCollector) ObserveApply(d time.Duration) {
	if c == nil || c.ApplyDuration == nil {
		return
	}
	c.ApplyDuration.Observe(d.Seconds())
}

// ObserveReconcile records one reconciliation pass and the writes it issued.
func (c *SwitchCollector) ObserveReconcile(d time.Duration, rewrites int) {
	if c == nil {
		return
	}
	if c.ReconcileDuration != nil {
		c.ReconcileDuration.Observe(d.Seconds())
	}
	if c.ReconcileRewrites != nil && rewrites > 0 {
		c.ReconcileRewrites.Add(float64(rewrites))
	}
}

// IncLinkEvents counts one hardware link event.
func (c *SwitchCollector) IncLinkEvents() {
	if c == nil || c.LinkEvents == nil {
		return
	}
	c.LinkEvents.Inc()
}

// SetWarmBoot records whether the agent restored warm-boot state.
func (c *SwitchCollector) SetWarmBoot(warm bool) {
	if c == nil || c.WarmBoot == nil {
		return
	}
	c.WarmBoot.Set(boolGauge(warm))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
