package admission

import (
	"log/slog"
	"time"

	"campuscore/keygate/pkg/tier"
)

// Grant is a successful admission. The caller uses Material against the
// provider and reports back with ReservationID.
type Grant struct {
	CredentialID    string
	Tier            tier.Tier
	RequestedTier   tier.Tier
	Material        []byte
	ReservationID   string
	EstimatedTokens int64
	AdmittedAt      time.Time
	FallbackCount   int
}

// LogValue keeps material out of logs.
func (g *Grant) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("credential_id", g.CredentialID),
		slog.String("tier", g.Tier.String()),
		slog.String("requested_tier", g.RequestedTier.String()),
		slog.String("reservation_id", g.ReservationID),
		slog.Int64("estimated_tokens", g.EstimatedTokens),
		slog.Int("fallback_count", g.FallbackCount),
	)
}
