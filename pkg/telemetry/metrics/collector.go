package metrics

import (
	"time"

	"campuscore/keygate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Admission results.
const (
	ResultAdmitted  = "admitted"
	ResultFallback  = "fallback"
	ResultExhausted = "exhausted"
	ResultError     = "error"
)

// Completion outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeAbandoned   = "abandoned"
	OutcomeReconciled  = "reconciled"
)

// Collector is the entry point for all keygate Prometheus metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	config   *config.MetricsConfig
	enabled  bool
	registry *prometheus.Registry

	admission *AdmissionMetrics
	usage     *UsageMetrics
	sweep     *SweepMetrics
	tiers     *TierMetrics
	cache     *CacheMetrics
}

// NewCollector creates a collector with the specified configuration and
// Prometheus registry. If registry is nil a fresh private registry is used.
//
// Example:
//
//	collector := metrics.NewCollector(&config.MetricsConfig{Namespace: "keygate"}, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.AdmissionLatencyBuckets) == 0 {
		cfg.AdmissionLatencyBuckets = append([]float64(nil), config.DefaultAdmissionLatencyBuckets...)
	}
	if len(cfg.TokenCountBuckets) == 0 {
		cfg.TokenCountBuckets = append([]float64(nil), config.DefaultTokenCountBuckets...)
	}

	c := &Collector{
		config:   cfg,
		enabled:  cfg.IsEnabled(),
		registry: registry,
	}

	c.admission = NewAdmissionMetrics(cfg, registry)
	c.usage = NewUsageMetrics(cfg, registry)
	c.sweep = NewSweepMetrics(cfg, registry)
	c.tiers = NewTierMetrics(cfg, registry)
	c.cache = NewCacheMetrics(cfg, registry)

	return c
}

func (c *Collector) active() bool {
	return c != nil && c.enabled
}

// RecordAdmission records one admission decision and its latency.
//
// Parameters:
//   - tier: the tier that was requested
//   - result: ResultAdmitted, ResultFallback, ResultExhausted or ResultError
//   - duration: time spent deciding
func (c *Collector) RecordAdmission(tier, result string, duration time.Duration) {
	if !c.active() {
		return
	}
	c.admission.RecordDecision(tier, result, duration)
}

// RecordReservedTokens records the token estimate reserved by a grant.
func (c *Collector) RecordReservedTokens(tier string, tokens int64) {
	if !c.active() {
		return
	}
	c.admission.RecordReserved(tier, tokens)
}

// RecordCASConflict records a lost compare-and-swap race during admission.
func (c *Collector) RecordCASConflict(tier string) {
	if !c.active() {
		return
	}
	c.admission.RecordConflict(tier)
}

// RecordFallback records a grant served by a tier other than the requested one.
func (c *Collector) RecordFallback(requested, served string) {
	if !c.active() {
		return
	}
	c.admission.RecordFallback(requested, served)
}

// RecordCompletion records a reconciled reservation.
//
// Parameters:
//   - tier: the tier of the credential
//   - outcome: one of the Outcome constants
//   - tokens: tokens added to lifetime totals (0 when unmetered)
func (c *Collector) RecordCompletion(tier, outcome string, tokens int64) {
	if !c.active() {
		return
	}
	c.usage.RecordCompletion(tier, outcome, tokens)
}

// RecordCredentialTransition records a credential leaving the active state.
func (c *Collector) RecordCredentialTransition(tier, status string) {
	if !c.active() {
		return
	}
	c.usage.RecordTransition(tier, status)
}

// RecordSweep records one sweep run.
func (c *Collector) RecordSweep(duration time.Duration, reclaimed, reconciled, failed int) {
	if !c.active() {
		return
	}
	c.sweep.RecordRun(duration, reclaimed, reconciled, failed)
}

// SetTierSnapshot publishes aggregated usage for one tier.
func (c *Collector) SetTierSnapshot(s TierSnapshot) {
	if !c.active() {
		return
	}
	c.tiers.Set(s)
}

// RecordCacheHit records a status cache hit.
func (c *Collector) RecordCacheHit(cacheName string) {
	if !c.active() {
		return
	}
	c.cache.RecordHit(cacheName)
}

// RecordCacheMiss records a status cache miss.
func (c *Collector) RecordCacheMiss(cacheName string) {
	if !c.active() {
		return
	}
	c.cache.RecordMiss(cacheName)
}

// RecordCacheEvictions records entries removed by a cache sweep.
func (c *Collector) RecordCacheEvictions(cacheName string, n int) {
	if !c.active() || n <= 0 {
		return
	}
	c.cache.RecordEvictions(cacheName, n)
}

// UpdateCacheSize updates the current size of a cache.
func (c *Collector) UpdateCacheSize(cacheName string, size int) {
	if !c.active() {
		return
	}
	c.cache.UpdateSize(cacheName, size)
}

// RecordIdentityFailure records a failed identity check.
// kind is "invalid" or "unavailable".
func (c *Collector) RecordIdentityFailure(kind string) {
	if !c.active() {
		return
	}
	c.cache.RecordIdentityFailure(kind)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
