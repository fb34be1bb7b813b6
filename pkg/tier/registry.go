package tier

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Entry configures one tier in a Registry.
type Entry struct {
	// Tier is the tier being configured.
	Tier Tier

	// Limits are the per-credential limits of the tier.
	Limits Limits

	// FallbackOrder positions the tier in the fallback chain.
	// Lower values are tried first. Ties keep the order of All.
	FallbackOrder int
}

// Registry holds the live tier configuration.
type Registry struct {
	table atomic.Pointer[table]
}

type table struct {
	limits map[Tier]Limits
	chain  []Tier
}

// NewRegistry builds a registry from entries.
func NewRegistry(entries []Entry) (*Registry, error) {
	t, err := buildTable(entries)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.table.Store(t)
	return r, nil
}

// Replace swaps the registry contents. On error the previous table is kept.
func (r *Registry) Replace(entries []Entry) error {
	t, err := buildTable(entries)
	if err != nil {
		return err
	}
	r.table.Store(t)
	return nil
}

// Limits returns the limits of t, or ErrUnknownTier.
func (r *Registry) Limits(t Tier) (Limits, error) {
	l, ok := r.table.Load().limits[t]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	return l, nil
}

// Tiers returns the configured tiers in fallback order.
func (r *Registry) Tiers() []Tier {
	chain := r.table.Load().chain
	out := make([]Tier, len(chain))
	copy(out, chain)
	return out
}

// FallbackChain returns t followed by every tier after it in fallback order.
// It returns nil when t is not configured.
func (r *Registry) FallbackChain(t Tier) []Tier {
	chain := r.table.Load().chain
	for i, c := range chain {
		if c == t {
			out := make([]Tier, len(chain)-i)
			copy(out, chain[i:])
			return out
		}
	}
	return nil
}

func buildTable(entries []Entry) (*table, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("tier registry: at least one tier is required")
	}

	t := &table{limits: make(map[Tier]Limits, len(entries))}
	rank := make(map[Tier]int, len(All))
	for i, k := range All {
		rank[k] = i
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	for _, e := range sorted {
		if !e.Tier.Valid() {
			return nil, fmt.Errorf("tier registry: %w: %q", ErrUnknownTier, e.Tier)
		}
		if _, dup := t.limits[e.Tier]; dup {
			return nil, fmt.Errorf("tier registry: duplicate tier %q", e.Tier)
		}
		if err := e.Limits.Validate(); err != nil {
			return nil, fmt.Errorf("tier registry: %s: %w", e.Tier, err)
		}
		t.limits[e.Tier] = e.Limits
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FallbackOrder != sorted[j].FallbackOrder {
			return sorted[i].FallbackOrder < sorted[j].FallbackOrder
		}
		return rank[sorted[i].Tier] < rank[sorted[j].Tier]
	})
	for _, e := range sorted {
		t.chain = append(t.chain, e.Tier)
	}

	return t, nil
}
