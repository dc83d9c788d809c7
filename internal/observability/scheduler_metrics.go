package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes metrics for the cooperative tick loop that drives
// the event scheduler.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	TickDuration  prometheus.Histogram
	EventsPending prometheus.Gauge
	SimTimeLag    prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Wall time spent running due events on one tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}), "scheduler_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_events_pending",
		Help: "Number of events waiting for their due time.",
	}), "scheduler_events_pending")
	if err != nil {
		return nil, err
	}

	lag, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_sim_time_lag_seconds",
		Help: "Difference between wall clock and simulation clock at the last tick.",
	}), "scheduler_sim_time_lag_seconds")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:      gatherer,
		TickDuration:  tick,
		EventsPending: pending,
		SimTimeLag:    lag,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one RunDue pass and the queue depth left behind.
func (c *SchedulerCollector) ObserveTick(d time.Duration, pending int) {
	if c == nil {
		return
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.EventsPending != nil {
		c.EventsPending.Set(float64(pending))
	}
}

// SetSimTimeLag records wall minus simulated time. Negative values are
// reported as zero.
func (c *SchedulerCollector) SetSimTimeLag(lag time.Duration) {
	if c == nil || c.SimTimeLag == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	c.SimTimeLag.Set(lag.Seconds())
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
