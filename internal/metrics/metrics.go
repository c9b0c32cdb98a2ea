// Package metrics holds the Prometheus registry exposed at /metrics:
// CounterVec/HistogramVec construction and MustRegister, covering this
// service's dispatch/monitor/consume surface.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eayunstack/notifyqueue/internal/monitor"
)

// Registry holds every metric the dispatcher, monitor stores, and consume
// service record.
type Registry struct {
	DispatchAttempts *prometheus.CounterVec
	DispatchLatency  *prometheus.HistogramVec
	RetryAttempts    *prometheus.HistogramVec

	MonitorUpdateLatency *prometheus.HistogramVec
	MonitorUpdateErrors  *prometheus.CounterVec

	ConsumeClaims     *prometheus.CounterVec
	ConsumeClaimBytes prometheus.Histogram
}

// NewRegistry builds and registers every metric against reg (pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry; pass prometheus.DefaultRegisterer in production).
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		DispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyqueue_dispatch_attempts_total",
				Help: "Total notification dispatch attempts by scheme and outcome",
			},
			[]string{"scheme", "outcome"},
		),
		DispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifyqueue_dispatch_duration_seconds",
				Help:    "Duration of a single notifier dispatch attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scheme"},
		),
		RetryAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifyqueue_retry_attempts",
				Help:    "Number of attempts a dispatch took before settling",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
			},
			[]string{"policy"},
		),
		MonitorUpdateLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifyqueue_monitor_update_duration_seconds",
				Help:    "Duration of a monitor counter update round-trip",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"backend"},
		),
		MonitorUpdateErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyqueue_monitor_update_errors_total",
				Help: "Monitor counter update failures by backend",
			},
			[]string{"backend"},
		),
		ConsumeClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifyqueue_consume_claims_total",
				Help: "Claims created by the consume path, by queue",
			},
			[]string{"queue"},
		),
		ConsumeClaimBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notifyqueue_consume_claim_bytes",
				Help:    "Total message bytes returned per claim",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.DispatchAttempts,
		m.DispatchLatency,
		m.RetryAttempts,
		m.MonitorUpdateLatency,
		m.MonitorUpdateErrors,
		m.ConsumeClaims,
		m.ConsumeClaimBytes,
	)
	return m
}

// Handler exposes the metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// InstrumentedController wraps a monitor.Controller, recording update
// latency and error counts by backend label without altering behavior.
type InstrumentedController struct {
	monitor.Controller
	reg     *Registry
	backend string
}

// Instrument wraps inner so every Update call records latency/errors under
// backend (e.g. "redis", "postgres", "memory").
func Instrument(inner monitor.Controller, reg *Registry, backend string) *InstrumentedController {
	return &InstrumentedController{Controller: inner, reg: reg, backend: backend}
}

func (c *InstrumentedController) Update(ctx context.Context, project, name string, countType monitor.CountType, success bool, n int, b int64) error {
	start := time.Now()
	err := c.Controller.Update(ctx, project, name, countType, success, n, b)
	c.reg.MonitorUpdateLatency.WithLabelValues(c.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		c.reg.MonitorUpdateErrors.WithLabelValues(c.backend).Inc()
	}
	return err
}
