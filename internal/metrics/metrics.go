// Package metrics exposes gateway counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"brokergw/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brokergw"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one. A nil *Metrics records nothing.
type Metrics struct {
	reg      *prometheus.Registry
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_operations_total",
			Help:      "Broker operations by name, mode and result category.",
		}, []string{"op", "mode", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broker_operation_seconds",
			Help:      "Latency of broker operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "mode"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.ops, m.latency, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveOp records one gateway operation. The result label is "ok" or the
// failure category.
func (m *Metrics) ObserveOp(op, mode string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	m.ops.WithLabelValues(op, mode, result).Inc()
	m.latency.WithLabelValues(op, mode).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// TrackSessions exports fn as the active session gauge.
func (m *Metrics) TrackSessions(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Registered broker sessions.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
