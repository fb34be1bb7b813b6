package metrics

import (
	"time"

	"campuscore/keygate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// AdmissionMetrics tracks admission controller decisions.
//
// Metrics:
//   - keygate_admissions_total: decisions by tier and result
//   - keygate_admission_duration_seconds: decision latency
//   - keygate_admission_cas_conflicts_total: lost CAS races by tier
//   - keygate_admission_fallbacks_total: grants served by a fallback tier
//   - keygate_admission_reserved_tokens: reserved token estimates
type AdmissionMetrics struct {
	decisionsTotal *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	conflictsTotal *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	reservedTokens *prometheus.HistogramVec
}

// NewAdmissionMetrics creates and registers admission metrics.
func NewAdmissionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AdmissionMetrics {
	am := &AdmissionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "admissions_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"tier", "result"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "admission_duration_seconds",
				Help:      "Time spent making an admission decision",
				Buckets:   cfg.AdmissionLatencyBuckets,
			},
			[]string{"tier"},
		),

		conflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "admission_cas_conflicts_total",
				Help:      "Total number of lost compare-and-swap races during admission",
			},
			[]string{"tier"},
		),

		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "admission_fallbacks_total",
				Help:      "Total number of grants served by a fallback tier",
			},
			[]string{"requested_tier", "served_tier"},
		),

		reservedTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "admission_reserved_tokens",
				Help:      "Token estimates reserved at admission",
				Buckets:   cfg.TokenCountBuckets,
			},
			[]string{"tier"},
		),
	}

	registry.MustRegister(
		am.decisionsTotal,
		am.duration,
		am.conflictsTotal,
		am.fallbacksTotal,
		am.reservedTokens,
	)

	return am
}

// RecordDecision records one decision.
func (am *AdmissionMetrics) RecordDecision(tier, result string, d time.Duration) {
	am.decisionsTotal.WithLabelValues(tier, result).Inc()
	am.duration.WithLabelValues(tier).Observe(d.Seconds())
}

// RecordConflict records a lost CAS race.
func (am *AdmissionMetrics) RecordConflict(tier string) {
	am.conflictsTotal.WithLabelValues(tier).Inc()
}

// RecordFallback records a fallback grant.
func (am *AdmissionMetrics) RecordFallback(requested, served string) {
	am.fallbacksTotal.WithLabelValues(requested, served).Inc()
}

// RecordReserved records a reserved estimate.
func (am *AdmissionMetrics) RecordReserved(tier string, tokens int64) {
	am.reservedTokens.WithLabelValues(tier).Observe(float64(tokens))
}
