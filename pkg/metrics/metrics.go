// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides metrics collection for the accounting policy engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the interface for policy-decision metrics collection.
type Collector interface {
	// RecordAdmit records a job admitted without any clipping.
	RecordAdmit(partition string)

	// RecordClip records a job admitted with a limit clipped to a
	// narrower value (e.g. time limit lowered to fit max_wall_pj).
	RecordClip(partition, limitName string)

	// RecordHold records a job held pending (not yet runnable) for a
	// named limit.
	RecordHold(partition, limitName string)

	// RecordDeny records a job rejected outright (strict checking).
	RecordDeny(partition, limitName string)

	// RecordTimeout records a running job killed by the time-out evaluator.
	RecordTimeout(partition string)

	// RecordUnderflow records a usage counter saturating at zero instead
	// of wrapping.
	RecordUnderflow(counterName string)

	// SetUsageGauge sets a live usage gauge for an association or QOS.
	SetUsageGauge(scope, name, tresName string, value float64)
}

// PrometheusCollector implements Collector on a real Prometheus registry,
// replacing the in-memory counters an HTTP client would otherwise need.
type PrometheusCollector struct {
	admits    *prometheus.CounterVec
	clips     *prometheus.CounterVec
	holds     *prometheus.CounterVec
	denies    *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	underflow *prometheus.CounterVec
	usage     *prometheus.GaugeVec
}

// NewPrometheusCollector creates and registers a new PrometheusCollector
// against the given registerer (pass prometheus.DefaultRegisterer in
// production, a fresh prometheus.NewRegistry() in tests).
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		admits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acctpolicy_admits_total",
			Help: "Jobs admitted without any limit clip.",
		}, []string{"partition"}),
		clips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acctpolicy_clips_total",
			Help: "Jobs admitted with a limit clipped to a narrower value.",
		}, []string{"partition", "limit"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acctpolicy_holds_total",
			Help: "Jobs held pending for a named limit.",
		}, []string{"partition", "limit"}),
		denies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acctpolicy_denies_total",
			Help: "Jobs rejected outright under strict checking.",
		}, []string{"partition", "limit"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acctpolicy_timeouts_total",
			Help: "Running jobs killed by the time-out evaluator.",
		}, []string{"partition"}),
		underflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acctpolicy_counter_underflow_total",
			Help: "Usage counter decrements clamped at zero instead of wrapping.",
		}, []string{"counter"}),
		usage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acctpolicy_usage",
			Help: "Current usage value for an association or QOS scope.",
		}, []string{"scope", "name", "tres"}),
	}

	reg.MustRegister(c.admits, c.clips, c.holds, c.denies, c.timeouts, c.underflow, c.usage)

	return c
}

func (c *PrometheusCollector) RecordAdmit(partition string) {
	c.admits.WithLabelValues(partition).Inc()
}

func (c *PrometheusCollector) RecordClip(partition, limitName string) {
	c.clips.WithLabelValues(partition, limitName).Inc()
}

func (c *PrometheusCollector) RecordHold(partition, limitName string) {
	c.holds.WithLabelValues(partition, limitName).Inc()
}

func (c *PrometheusCollector) RecordDeny(partition, limitName string) {
	c.denies.WithLabelValues(partition, limitName).Inc()
}

func (c *PrometheusCollector) RecordTimeout(partition string) {
	c.timeouts.WithLabelValues(partition).Inc()
}

func (c *PrometheusCollector) RecordUnderflow(counterName string) {
	c.underflow.WithLabelValues(counterName).Inc()
}

func (c *PrometheusCollector) SetUsageGauge(scope, name, tresName string, value float64) {
	c.usage.WithLabelValues(scope, name, tresName).Set(value)
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

func (NoOpCollector) RecordAdmit(partition string)                        {}
func (NoOpCollector) RecordClip(partition, limitName string)              {}
func (NoOpCollector) RecordHold(partition, limitName string)              {}
func (NoOpCollector) RecordDeny(partition, limitName string)              {}
func (NoOpCollector) RecordTimeout(partition string)                      {}
func (NoOpCollector) RecordUnderflow(counterName string)                  {}
func (NoOpCollector) SetUsageGauge(scope, name, tres string, value float64) {}

// Global default collector.
var defaultCollector Collector = NoOpCollector{}

// SetDefaultCollector sets the default metrics collector.
func SetDefaultCollector(collector Collector) {
	if collector == nil {
		collector = NoOpCollector{}
	}
	defaultCollector = collector
}

// GetDefaultCollector returns the default metrics collector.
func GetDefaultCollector() Collector {
	return defaultCollector
}
