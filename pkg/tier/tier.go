package tier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier identifies an upstream capability class.
type Tier string

const (
	// Flagship is the most capable (and most tightly limited) model family.
	Flagship Tier = "flagship"

	// Standard is the general purpose model family.
	Standard Tier = "standard"

	// Fast is the low-latency model family.
	Fast Tier = "fast"

	// Lite is the smallest model family, used as the last fallback.
	Lite Tier = "lite"
)

// All lists every known tier in default fallback order.
var All = []Tier{Flagship, Standard, Fast, Lite}

// ErrUnknownTier is returned for a tier outside the closed set, or for a
// known tier that has no configured limits.
var ErrUnknownTier = errors.New("unknown capability tier")

// Parse converts s into a Tier. Matching is case-insensitive.
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case Flagship, Standard, Fast, Lite:
		return true
	}
	return false
}

// String returns the tier name.
func (t Tier) String() string {
	return string(t)
}

// Limits is the static rate limit record of a tier.
// A nil RPM or RPD means that axis is unbounded. TPM is always bounded.
type Limits struct {
	// RPM is the requests-per-minute limit of a single credential.
	RPM *int64

	// RPD is the requests-per-day limit of a single credential.
	RPD *int64

	// TPM is the tokens-per-minute limit of a single credential.
	TPM int64
}

// Int returns a pointer to v. Used to build optional limits.
func Int(v int64) *int64 {
	return &v
}

// Validate checks that the limits are usable.
func (l Limits) Validate() error {
	if l.TPM <= 0 {
		return fmt.Errorf("tpm limit must be positive, got %d", l.TPM)
	}
	if l.RPM != nil && *l.RPM <= 0 {
		return fmt.Errorf("rpm limit must be positive when set, got %d", *l.RPM)
	}
	if l.RPD != nil && *l.RPD <= 0 {
		return fmt.Errorf("rpd limit must be positive when set, got %d", *l.RPD)
	}
	return nil
}

// RPMAllows reports whether one more request fits under the RPM limit.
func (l Limits) RPMAllows(used int64) bool {
	return l.RPM == nil || used < *l.RPM
}

// RPDAllows reports whether one more request fits under the RPD limit.
func (l Limits) RPDAllows(used int64) bool {
	return l.RPD == nil || used < *l.RPD
}

// TPMAllows reports whether tokens more fit under the TPM limit.
func (l Limits) TPMAllows(used, tokens int64) bool {
	return used+tokens <= l.TPM
}

func (l Limits) String() string {
	return fmt.Sprintf("rpm=%s rpd=%s tpm=%d", optional(l.RPM), optional(l.RPD), l.TPM)
}

func optional(v *int64) string {
	if v == nil {
		return "unbounded"
	}
	return fmt.Sprintf("%d", *v)
}
