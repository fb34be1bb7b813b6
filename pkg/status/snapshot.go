package status

import (
	"context"
	"fmt"
	"time"

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/window"
)

// TierStatus is the quota view of one tier. Request figures use the day
// window, token figures the minute window. Limits are summed over active
// credentials; a nil RequestLimit means requests are unbounded.
type TierStatus struct {
	Tier              tier.Tier `json:"tier"`
	Used              int64     `json:"used"`
	Limit             *int64    `json:"limit"`
	ResetInSeconds    int64     `json:"reset_in_seconds"`
	TokensUsed        int64     `json:"tokens_used"`
	TokensLimit       int64     `json:"tokens_limit"`
	ActiveCredentials int       `json:"active_credentials"`
}

// Snapshot is an immutable quota view for one caller.
type Snapshot struct {
	CallerID    string       `json:"caller_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	Tiers       []TierStatus `json:"tiers"`

	encoded []byte
}

// Bytes returns the JSON encoding of the snapshot. The same slice is
// returned for every read of a cached entry and must not be modified.
func (s *Snapshot) Bytes() []byte {
	return s.encoded
}

// Source computes tier statuses.
type Source interface {
	TierStatus(ctx context.Context, tiers []tier.Tier) ([]TierStatus, error)
}

// VaultSource reads tier statuses from the credential store.
type VaultSource struct {
	store    vault.Store
	registry *tier.Registry
	now      func() time.Time
}

// NewVaultSource creates a VaultSource. A nil now uses time.Now.
func NewVaultSource(store vault.Store, registry *tier.Registry, now func() time.Time) *VaultSource {
	if now == nil {
		now = time.Now
	}
	return &VaultSource{store: store, registry: registry, now: now}
}

// TierStatus builds the status of each tier in tiers. Tiers without
// configured limits are skipped. An empty tiers lists every configured tier.
func (s *VaultSource) TierStatus(ctx context.Context, tiers []tier.Tier) ([]TierStatus, error) {
	if len(tiers) == 0 {
		tiers = s.registry.Tiers()
	}

	now := s.now()
	out := make([]TierStatus, 0, len(tiers))
	for _, t := range tiers {
		limits, err := s.registry.Limits(t)
		if err != nil {
			continue
		}
		creds, err := s.store.ListByTier(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("list credentials for tier %s: %w", t, err)
		}

		st := TierStatus{Tier: t}
		var reset time.Duration
		for _, c := range creds {
			if c.Status != vault.StatusActive {
				continue
			}
			u, _ := window.Reclaim(c.Usage, now)
			st.ActiveCredentials++
			st.Used += u.RPDUsed
			st.TokensUsed += u.TPMUsed
			st.TokensLimit += limits.TPM

			if d := window.DayRemaining(u, now); reset == 0 || d < reset {
				reset = d
			}
		}
		if limits.RPD != nil {
			total := *limits.RPD * int64(st.ActiveCredentials)
			st.Limit = &total
		}
		st.ResetInSeconds = int64((reset + time.Second - 1) / time.Second)
		out = append(out, st)
	}
	return out, nil
}
