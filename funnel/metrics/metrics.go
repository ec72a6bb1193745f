// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the funnel collectors behind a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Postbacks        *prometheus.CounterVec
	PostbackDuration prometheus.Histogram
	Pushes           *prometheus.CounterVec
	Updates          *prometheus.CounterVec
	RateLimited      prometheus.Counter
	VIPTransitions   prometheus.Counter
	OutboundJobs     *prometheus.CounterVec
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Postbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Name:      "postbacks_total",
			Help:      "Postbacks received by kind and outcome.",
		}, []string{"kind", "outcome"}),
		PostbackDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "funnelbot",
			Name:      "postback_duration_seconds",
			Help:      "Time spent applying one postback.",
			Buckets:   prometheus.DefBuckets,
		}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Name:      "screen_pushes_total",
			Help:      "Screens delivered by step and outcome.",
		}, []string{"step", "outcome"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Name:      "telegram_updates_total",
			Help:      "Telegram updates handled by kind.",
		}, []string{"kind"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Name:      "rate_limited_total",
			Help:      "Updates dropped by the per-user rate limiter.",
		}),
		VIPTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Name:      "vip_transitions_total",
			Help:      "Users that crossed the VIP threshold.",
		}),
		OutboundJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funnelbot",
			Name:      "outbound_jobs_total",
			Help:      "Queued Telegram calls by action and outcome.",
		}, []string{"action", "outcome"}),
	}
	m.registry.MustRegister(
		m.Postbacks,
		m.PostbackDuration,
		m.Pushes,
		m.Updates,
		m.RateLimited,
		m.VIPTransitions,
		m.OutboundJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveJob records the final result of a dispatcher job.
func (m *Metrics) ObserveJob(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "fail"
	}
	m.OutboundJobs.WithLabelValues(action, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
