package vault

import (
	"time"

	"campuscore/keygate/pkg/tier"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	// StatusActive credentials are eligible for admission.
	StatusActive Status = "active"

	// StatusDisabled credentials were switched off by an operator or because
	// their sealed material failed to open.
	StatusDisabled Status = "disabled"

	// StatusRotated credentials crossed the consecutive failure threshold and
	// wait for replacement material.
	StatusRotated Status = "rotated"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDisabled, StatusRotated:
		return true
	}
	return false
}

// Usage is the rate limit accounting of one credential.
type Usage struct {
	// RPMUsed counts requests admitted in the current minute window.
	RPMUsed int64

	// TPMUsed counts tokens charged in the current minute window.
	TPMUsed int64

	// RPDUsed counts requests admitted in the current day window.
	RPDUsed int64

	// MinuteWindowStart is when the current minute window opened.
	MinuteWindowStart time.Time

	// DayWindowStart is when the current day window opened.
	DayWindowStart time.Time

	// TotalRequests is the lifetime request count.
	TotalRequests int64

	// TotalTokens is the lifetime token count.
	TotalTokens int64
}

// Credential is one upstream provider key and its accounting state.
type Credential struct {
	ID             string
	Tier           tier.Tier
	SealedMaterial string

	// Priority orders selection. Lower values are preferred.
	Priority int

	Status Status
	Usage  Usage

	// ConsecutiveFailures counts failed completions since the last success.
	ConsecutiveFailures int

	// CooldownUntil excludes the credential from selection until the given
	// instant. Set after the provider answers with a rate limit error.
	CooldownUntil time.Time

	// Version is the compare-and-swap token. Stores increment it on every
	// successful write.
	Version int64

	Label     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of c that shares no mutable state with it.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// CoolingDown reports whether the credential is inside a provider cooldown.
func (c *Credential) CoolingDown(now time.Time) bool {
	return !c.CooldownUntil.IsZero() && now.Before(c.CooldownUntil)
}

// Reservation is the token estimate charged to a credential at admission.
type Reservation struct {
	ID              string
	CredentialID    string
	Tier            tier.Tier
	EstimatedTokens int64
	AdmittedAt      time.Time
}

// Clone returns a copy of r.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
