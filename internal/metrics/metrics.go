// Package metrics exposes Prometheus counters for reported accesses,
// reverted members and page runs.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
)

// Collector owns a private registry so several collectors can coexist in
// one process (tests, collector plus embedded runs).
type Collector struct {
	registry *prometheus.Registry

	reports         *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	reverts         *prometheus.CounterVec
	pages           *prometheus.CounterVec
	skipped         prometheus.Counter
}

// NewCollector creates a collector. Empty namespace selects "rtcwatch".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "rtcwatch"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.reports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "records_total",
			Help:      "Records handed to the sink, by member, access type and result",
		},
		[]string{"description", "access_type", "result"},
	)

	c.deliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "delivery_duration_seconds",
			Help:      "Time taken by the sink to accept a record",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
		[]string{"result"},
	)

	c.reverts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intercept",
			Name:      "reverts_total",
			Help:      "Member sides restored to their original after reaching the threshold",
		},
		[]string{"description", "side"},
	)

	c.pages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "page",
			Name:      "scripts_total",
			Help:      "Scripts loaded into pages, by result",
		},
		[]string{"result"},
	)

	c.skipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intercept",
			Name:      "skipped_targets_total",
			Help:      "Targets that could not be installed",
		},
	)

	c.registry.MustRegister(c.reports, c.deliveryLatency, c.reverts, c.pages, c.skipped)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordReport counts one record handed to a sink.
func (c *Collector) RecordReport(d model.CallDetails, duration time.Duration, err error) {
	result := resultLabel(err)
	c.reports.WithLabelValues(d.Description, string(d.AccessType), result).Inc()
	c.deliveryLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordRevert counts one reverted side. Its signature matches the
// intercept engine's revert hook.
func (c *Collector) RecordRevert(key string, side model.AccessType, _ int) {
	c.reverts.WithLabelValues(key, string(side)).Inc()
}

// RecordScript counts one script load.
func (c *Collector) RecordScript(err error) {
	c.pages.WithLabelValues(resultLabel(err)).Inc()
}

// RecordSkipped counts targets that could not be installed.
func (c *Collector) RecordSkipped(n int) {
	c.skipped.Add(float64(n))
}

// Sink wraps next so every delivery is counted and timed.
func (c *Collector) Sink(next report.Sink) report.Sink {
	return &countingSink{next: next, c: c}
}

type countingSink struct {
	next report.Sink
	c    *Collector
}

func (s *countingSink) Deliver(ctx context.Context, rec report.Record) error {
	start := time.Now()
	err := s.next.Deliver(ctx, rec)
	s.c.RecordReport(rec.CallDetails, time.Since(start), err)
	return err
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
