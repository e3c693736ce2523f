// Package metrics holds the Prometheus collectors for the collector service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_collector"

// Tick results.
const (
	ResultOK            = "ok"
	ResultProviderError = "provider_error"
	ResultInvalid       = "invalid_reading"
	ResultStoreError    = "store_error"
	ResultPanic         = "panic"
)

type Metrics struct {
	ticks       *prometheus.CounterVec
	tickLatency prometheus.Histogram
	running     prometheus.Gauge
	sinkErrors  *prometheus.CounterVec
	storeAuth   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Collection ticks by result.",
		}, []string{"result"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of collection ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_collectors",
			Help:      "Collectors currently scheduled.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed reading publications by sink.",
		}, []string{"sink"}),
		storeAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_auth_attempts_total",
			Help:      "Store authentication attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ticks, m.tickLatency, m.running, m.sinkErrors, m.storeAuth)
	return m
}

func (m *Metrics) ObserveTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	m.tickLatency.Observe(d.Seconds())
}

func (m *Metrics) SetRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) StoreAuth(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.storeAuth.WithLabelValues(result).Inc()
}
