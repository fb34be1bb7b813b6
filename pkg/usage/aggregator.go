package usage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campuscore/keygate/pkg/telemetry/metrics"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/window"
)

// TierSummary aggregates the credentials of one tier. It is observational
// only and never consulted by admission.
type TierSummary struct {
	Tier          tier.Tier `json:"tier"`
	RPMUsed       int64     `json:"rpm_used"`
	RPDUsed       int64     `json:"rpd_used"`
	TPMUsed       int64     `json:"tpm_used"`
	TotalRequests int64     `json:"total_requests"`
	TotalTokens   int64     `json:"total_tokens"`
	Active        int       `json:"active"`
	Disabled      int       `json:"disabled"`
	Rotated       int       `json:"rotated"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Aggregator recomputes and holds the latest TierSummary of every tier.
type Aggregator struct {
	store    vault.Store
	registry *tier.Registry
	metrics  *metrics.Collector
	now      func() time.Time

	mu        sync.RWMutex
	summaries []TierSummary
}

// NewAggregator creates an Aggregator. Tiers configured in registry are
// always reported, even without credentials.
func NewAggregator(store vault.Store, registry *tier.Registry, opts ...Option) *Aggregator {
	o := buildOptions(opts)
	return &Aggregator{
		store:    store,
		registry: registry,
		metrics:  o.metrics,
		now:      o.now,
	}
}

// Recompute reads every credential, rebuilds the summaries and publishes
// them as gauges. Window counters are reported as they would read after
// reclamation at the current time.
func (a *Aggregator) Recompute(ctx context.Context) ([]TierSummary, error) {
	creds, err := a.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	now := a.now()
	byTier := make(map[tier.Tier]*TierSummary)
	for _, t := range a.registry.Tiers() {
		byTier[t] = &TierSummary{Tier: t, ComputedAt: now}
	}

	for _, c := range creds {
		s, ok := byTier[c.Tier]
		if !ok {
			s = &TierSummary{Tier: c.Tier, ComputedAt: now}
			byTier[c.Tier] = s
		}
		u, _ := window.Reclaim(c.Usage, now)
		s.RPMUsed += u.RPMUsed
		s.RPDUsed += u.RPDUsed
		s.TPMUsed += u.TPMUsed
		s.TotalRequests += u.TotalRequests
		s.TotalTokens += u.TotalTokens

		switch c.Status {
		case vault.StatusActive:
			s.Active++
		case vault.StatusDisabled:
			s.Disabled++
		case vault.StatusRotated:
			s.Rotated++
		}
	}

	out := make([]TierSummary, 0, len(byTier))
	for _, s := range byTier {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return rank(out[i].Tier) < rank(out[j].Tier) })

	for _, s := range out {
		a.metrics.SetTierSnapshot(metrics.TierSnapshot{
			Tier:          string(s.Tier),
			RPMUsed:       s.RPMUsed,
			RPDUsed:       s.RPDUsed,
			TPMUsed:       s.TPMUsed,
			TotalRequests: s.TotalRequests,
			TotalTokens:   s.TotalTokens,
			Active:        s.Active,
			Disabled:      s.Disabled,
			Rotated:       s.Rotated,
		})
	}

	a.mu.Lock()
	a.summaries = out
	a.mu.Unlock()

	return append([]TierSummary(nil), out...), nil
}

// Summaries returns the result of the last Recompute.
func (a *Aggregator) Summaries() []TierSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]TierSummary(nil), a.summaries...)
}

func rank(t tier.Tier) int {
	for i, k := range tier.All {
		if k == t {
			return i
		}
	}
	return len(tier.All)
}
