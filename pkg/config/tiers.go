package config

import (
	"fmt"

	"campuscore/keygate/pkg/tier"
)

// TierEntries converts the tier table into registry entries, ordered by the
// fallback configuration.
func (c *Config) TierEntries() ([]tier.Entry, error) {
	order := make(map[tier.Tier]int, len(c.Fallback.Order))
	for i, name := range c.Fallback.Order {
		t, err := tier.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("fallback.order[%d]: %w", i, err)
		}
		order[t] = i
	}

	entries := make([]tier.Entry, 0, len(c.Tiers))
	for name, tc := range c.Tiers {
		t, err := tier.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("tiers.%s: %w", name, err)
		}

		pos, listed := order[t]
		if !listed {
			// Unlisted tiers follow the listed ones in natural order.
			pos = len(c.Fallback.Order)
		}

		entries = append(entries, tier.Entry{
			Tier:          t,
			Limits:        tier.Limits{RPM: tc.RPM, RPD: tc.RPD, TPM: tc.TPM},
			FallbackOrder: pos,
		})
	}
	return entries, nil
}
