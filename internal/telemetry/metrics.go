// Package telemetry provides observability primitives for the wvgate gateway.
package telemetry

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wvgate"

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	RateLimitRejects prometheus.Counter
	LoginAttempts    *prometheus.CounterVec
	SessionActive    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "route"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "upstream_duration_seconds",
			Help:                            "Weverse API call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"op"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total Weverse API errors.",
		}, []string{"op", "status"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}, []string{"namespace"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}, []string{"namespace"}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}),

		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Upstream login attempts by outcome.",
		}, []string{"outcome"}),

		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while an upstream session token is held.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.LoginAttempts,
		m.SessionActive,
	)

	return m
}

// ObserveUpstream records the duration and outcome of one Weverse call.
func (m *Metrics) ObserveUpstream(op string, elapsed time.Duration, err error) {
	m.UpstreamDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.UpstreamErrors.WithLabelValues(op, errorStatus(err)).Inc()
	}
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(ns string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(ns).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(ns).Inc()
}

// ObserveLogin records a login outcome: "success", "rejected" or "error".
func (m *Metrics) ObserveLogin(outcome string, authenticated bool) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
	if authenticated {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
}

// errorStatus labels an upstream error by HTTP status when it carries one.
func errorStatus(err error) string {
	var he interface{ HTTPStatus() int }
	if errors.As(err, &he) {
		return strconv.Itoa(he.HTTPStatus())
	}
	return "error"
}
