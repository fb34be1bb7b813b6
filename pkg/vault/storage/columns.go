package storage

import (
	"time"

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

// SQL backends share one column layout. Timestamps are stored as Unix
// nanoseconds, with 0 meaning unset.
const credentialColumns = `id, tier, sealed_material, priority, status,
	rpm_used, tpm_used, rpd_used, minute_window_start, day_window_start,
	total_requests, total_tokens, consecutive_failures, cooldown_until,
	version, label, created_at, updated_at`

const reservationColumns = `id, credential_id, tier, estimated_tokens, admitted_at`

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*vault.Credential, error) {
	var (
		c                               vault.Credential
		tierName, status                string
		minuteStart, dayStart, cooldown int64
		createdAt, updatedAt            int64
	)
	err := row.Scan(
		&c.ID, &tierName, &c.SealedMaterial, &c.Priority, &status,
		&c.Usage.RPMUsed, &c.Usage.TPMUsed, &c.Usage.RPDUsed, &minuteStart, &dayStart,
		&c.Usage.TotalRequests, &c.Usage.TotalTokens, &c.ConsecutiveFailures, &cooldown,
		&c.Version, &c.Label, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Tier = tier.Tier(tierName)
	c.Status = vault.Status(status)
	c.Usage.MinuteWindowStart = fromNanos(minuteStart)
	c.Usage.DayWindowStart = fromNanos(dayStart)
	c.CooldownUntil = fromNanos(cooldown)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	return &c, nil
}

// credentialValues returns the column values of c in credentialColumns order,
// with version replaced by the given value.
func credentialValues(c *vault.Credential, version int64) []any {
	return []any{
		c.ID, string(c.Tier), c.SealedMaterial, c.Priority, string(c.Status),
		c.Usage.RPMUsed, c.Usage.TPMUsed, c.Usage.RPDUsed,
		toNanos(c.Usage.MinuteWindowStart), toNanos(c.Usage.DayWindowStart),
		c.Usage.TotalRequests, c.Usage.TotalTokens, c.ConsecutiveFailures,
		toNanos(c.CooldownUntil), version, c.Label,
		toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
	}
}

func scanReservation(row rowScanner) (*vault.Reservation, error) {
	var (
		r          vault.Reservation
		tierName   string
		admittedAt int64
	)
	if err := row.Scan(&r.ID, &r.CredentialID, &tierName, &r.EstimatedTokens, &admittedAt); err != nil {
		return nil, err
	}
	r.Tier = tier.Tier(tierName)
	r.AdmittedAt = fromNanos(admittedAt)
	return &r, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
