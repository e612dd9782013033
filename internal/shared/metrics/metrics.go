// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridegate"

// Metrics is safe for concurrent use. A nil *Metrics is a no-op so
// components can be built without a registry in tests.
type Metrics struct {
	outboundAttempts *prometheus.CounterVec
	outboundDuration *prometheus.HistogramVec
	outboundResults  *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
}

// New creates and registers the collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		outboundAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_attempts_total",
			Help:      "Outbound provider attempts by outcome.",
		}, []string{"provider", "outcome"}),
		outboundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbound_duration_seconds",
			Help:      "Wall time of a full outbound call chain including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		outboundResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_results_total",
			Help:      "Outbound call chains by final result code.",
		}, []string{"provider", "code"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by a rate limiter, by group.",
		}, []string{"group"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by route and result.",
		}, []string{"route", "result"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected inbound credentials by error code.",
		}, []string{"code"}),
	}
}

// ObserveAttempt counts one outbound attempt. outcome is "success",
// "retryable" or "terminal".
func (m *Metrics) ObserveAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.outboundAttempts.WithLabelValues(provider, outcome).Inc()
}

// ObserveChain records the final result of an outbound call chain. code is
// "ok" or the error code returned to the caller.
func (m *Metrics) ObserveChain(provider, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outboundDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	m.outboundResults.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) IncRateLimited(group string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(group).Inc()
}

func (m *Metrics) IncCache(route string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(route, result).Inc()
}

func (m *Metrics) IncAuthFailure(code string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(code).Inc()
}
