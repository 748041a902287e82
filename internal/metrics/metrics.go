// Package metrics exposes Prometheus instrumentation for the screening
// pipeline. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the pipeline's collectors.
type Recorder struct {
	verdicts       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	policyMatches  *prometheus.CounterVec
	rateLimited    prometheus.Counter
	auditDropped   prometheus.Counter
	auditFailed    prometheus.Counter
	duration       prometheus.Histogram
	policyFallback prometheus.Gauge
}

// NewRecorder registers the collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptshield_verdicts_total",
			Help: "Verdicts returned, by action",
		}, []string{"action"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptshield_cache_lookups_total",
			Help: "Result cache lookups, by outcome (hit, miss, degraded)",
		}, []string{"outcome"}),
		policyMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptshield_policy_matches_total",
			Help: "Policy matches, by policy name",
		}, []string{"policy"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptshield_rate_limited_total",
			Help: "Requests blocked by the per-agent request limit",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptshield_audit_dropped_total",
			Help: "Audit events dropped because the queue was full",
		}),
		auditFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptshield_audit_failed_total",
			Help: "Audit events the sink failed to record",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptshield_evaluation_duration_seconds",
			Help:    "Wall-clock time to produce a verdict",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		policyFallback: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "promptshield_policy_fallback",
			Help: "1 while the fallback policy is in force",
		}),
	}
	reg.MustRegister(
		r.verdicts,
		r.cacheLookups,
		r.policyMatches,
		r.rateLimited,
		r.auditDropped,
		r.auditFailed,
		r.duration,
		r.policyFallback,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveVerdict records one verdict and how long it took.
func (r *Recorder) ObserveVerdict(action string, d time.Duration) {
	if r == nil {
		return
	}
	r.verdicts.WithLabelValues(action).Inc()
	r.duration.Observe(d.Seconds())
}

func (r *Recorder) ObserveRateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Inc()
}

// CacheLookup implements cache.Observer.
func (r *Recorder) CacheLookup(outcome string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(outcome).Inc()
}

// PolicyMatched implements policy.Observer.
func (r *Recorder) PolicyMatched(name string) {
	if r == nil {
		return
	}
	r.policyMatches.WithLabelValues(name).Inc()
}

// PolicyFallback implements policy.Observer.
func (r *Recorder) PolicyFallback(active bool) {
	if r == nil {
		return
	}
	if active {
		r.policyFallback.Set(1)
		return
	}
	r.policyFallback.Set(0)
}

func (r *Recorder) AuditDropped() {
	if r == nil {
		return
	}
	r.auditDropped.Inc()
}

func (r *Recorder) AuditFailed() {
	if r == nil {
		return
	}
	r.auditFailed.Inc()
}
