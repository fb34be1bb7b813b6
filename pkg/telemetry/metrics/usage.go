package metrics

import (
	"time"

	"campuscore/keygate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// UsageMetrics tracks completion reporting and credential health.
//
// Metrics:
//   - keygate_completions_total: reconciled reservations by tier and outcome
//   - keygate_completion_tokens_total: tokens added to lifetime totals
//   - keygate_credential_transitions_total: credentials rotated or disabled
type UsageMetrics struct {
	completionsTotal *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

// NewUsageMetrics creates and registers usage metrics.
func NewUsageMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *UsageMetrics {
	um := &UsageMetrics{
		completionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "completions_total",
				Help:      "Total number of reconciled reservations",
			},
			[]string{"tier", "outcome"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "completion_tokens_total",
				Help:      "Total tokens recorded against credentials",
			},
			[]string{"tier"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "credential_transitions_total",
				Help:      "Total number of credentials leaving the active state",
			},
			[]string{"tier", "status"},
		),
	}

	registry.MustRegister(um.completionsTotal, um.tokensTotal, um.transitionsTotal)
	return um
}

// RecordCompletion records one reconciled reservation.
func (um *UsageMetrics) RecordCompletion(tier, outcome string, tokens int64) {
	um.completionsTotal.WithLabelValues(tier, outcome).Inc()
	if tokens > 0 {
		um.tokensTotal.WithLabelValues(tier).Add(float64(tokens))
	}
}

// RecordTransition records a credential status change.
func (um *UsageMetrics) RecordTransition(tier, status string) {
	um.transitionsTotal.WithLabelValues(tier, status).Inc()
}

// SweepMetrics tracks the scheduled sweep.
//
// Metrics:
//   - keygate_sweep_runs_total
//   - keygate_sweep_duration_seconds
//   - keygate_sweep_reclaimed_total: credentials whose windows were reset
//   - keygate_sweep_reconciled_total: expired reservations reconciled
//   - keygate_sweep_failures_total: per-credential failures
//   - keygate_sweep_last_run_timestamp_seconds
type SweepMetrics struct {
	runsTotal       prometheus.Counter
	duration        prometheus.Histogram
	reclaimedTotal  prometheus.Counter
	reconciledTotal prometheus.Counter
	failuresTotal   prometheus.Counter
	lastRun         prometheus.Gauge
}

// NewSweepMetrics creates and registers sweep metrics.
func NewSweepMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *SweepMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help})
	}

	sm := &SweepMetrics{
		runsTotal: counter("sweep_runs_total", "Total number of sweep runs"),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep runs",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		reclaimedTotal:  counter("sweep_reclaimed_total", "Total credentials whose windows were reset by the sweep"),
		reconciledTotal: counter("sweep_reconciled_total", "Total expired reservations reconciled by the sweep"),
		failuresTotal:   counter("sweep_failures_total", "Total per-credential sweep failures"),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "sweep_last_run_timestamp_seconds",
			Help:      "Unix time of the last completed sweep",
		}),
	}

	registry.MustRegister(sm.runsTotal, sm.duration, sm.reclaimedTotal, sm.reconciledTotal, sm.failuresTotal, sm.lastRun)
	return sm
}

// RecordRun records a completed sweep.
func (sm *SweepMetrics) RecordRun(d time.Duration, reclaimed, reconciled, failed int) {
	sm.runsTotal.Inc()
	sm.duration.Observe(d.Seconds())
	sm.reclaimedTotal.Add(float64(reclaimed))
	sm.reconciledTotal.Add(float64(reconciled))
	sm.failuresTotal.Add(float64(failed))
	sm.lastRun.SetToCurrentTime()
}

// TierSnapshot is the aggregated usage of one tier.
type TierSnapshot struct {
	Tier          string
	RPMUsed       int64
	RPDUsed       int64
	TPMUsed       int64
	TotalRequests int64
	TotalTokens   int64
	Active        int
	Disabled      int
	Rotated       int
}

// TierMetrics publishes per-tier usage gauges.
type TierMetrics struct {
	used        *prometheus.GaugeVec
	lifetime    *prometheus.GaugeVec
	credentials *prometheus.GaugeVec
}

// NewTierMetrics creates and registers tier gauges.
func NewTierMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TierMetrics {
	tm := &TierMetrics{
		used: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "tier_window_usage",
			Help:      "Current window usage summed over a tier's credentials",
		}, []string{"tier", "axis"}),
		lifetime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "tier_lifetime_usage",
			Help:      "Lifetime usage summed over a tier's credentials",
		}, []string{"tier", "kind"}),
		credentials: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "tier_credentials",
			Help:      "Number of credentials in a tier by status",
		}, []string{"tier", "status"}),
	}

	registry.MustRegister(tm.used, tm.lifetime, tm.credentials)
	return tm
}

// Set replaces the gauges of one tier.
func (tm *TierMetrics) Set(s TierSnapshot) {
	tm.used.WithLabelValues(s.Tier, "rpm").Set(float64(s.RPMUsed))
	tm.used.WithLabelValues(s.Tier, "rpd").Set(float64(s.RPDUsed))
	tm.used.WithLabelValues(s.Tier, "tpm").Set(float64(s.TPMUsed))
	tm.lifetime.WithLabelValues(s.Tier, "requests").Set(float64(s.TotalRequests))
	tm.lifetime.WithLabelValues(s.Tier, "tokens").Set(float64(s.TotalTokens))
	tm.credentials.WithLabelValues(s.Tier, "active").Set(float64(s.Active))
	tm.credentials.WithLabelValues(s.Tier, "disabled").Set(float64(s.Disabled))
	tm.credentials.WithLabelValues(s.Tier, "rotated").Set(float64(s.Rotated))
}
