package ledger

import (
	"context"
	"io"
	"time"
)

// EventKind classifies a ledger event.
type EventKind string

const (
	// KindAdmitted is a grant on the requested tier.
	KindAdmitted EventKind = "admitted"
	// KindFallback is a grant served by a lower tier.
	KindFallback EventKind = "fallback"
	// KindExhausted is a rejected admission.
	KindExhausted EventKind = "exhausted"
	// KindCompleted is a reservation reconciled with actual usage.
	KindCompleted EventKind = "completed"
	// KindAbandoned is a reservation the caller gave up on.
	KindAbandoned EventKind = "abandoned"
	// KindReconciled is a reservation closed by the sweep after the grace period.
	KindReconciled EventKind = "reconciled"
	// KindCredentialDisabled records a credential disabled after a seal failure.
	KindCredentialDisabled EventKind = "credential_disabled"
	// KindCredentialRotated records a credential retired after repeated failures.
	KindCredentialRotated EventKind = "credential_rotated"
)

// ValidKinds lists every known event kind.
var ValidKinds = map[EventKind]bool{
	KindAdmitted:           true,
	KindFallback:           true,
	KindExhausted:          true,
	KindCompleted:          true,
	KindAbandoned:          true,
	KindReconciled:         true,
	KindCredentialDisabled: true,
	KindCredentialRotated:  true,
}

// Event is one ledger entry.
type Event struct {
	ID   string    `json:"id"`
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	RequestID     string `json:"request_id,omitempty"`
	RequestedTier string `json:"requested_tier,omitempty"`
	Tier          string `json:"tier,omitempty"`
	CredentialID  string `json:"credential_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`

	EstimatedTokens int64 `json:"estimated_tokens"`
	ActualTokens    int64 `json:"actual_tokens"`
	FallbackCount   int   `json:"fallback_count"`

	// RetryAfter is set on exhausted events.
	RetryAfter time.Duration `json:"retry_after_ns,omitempty"`

	// Succeeded is the provider outcome on completed events.
	Succeeded bool `json:"succeeded"`

	// Detail is a short free-form reason.
	Detail string `json:"detail,omitempty"`
}

// Query defines filter parameters for querying events.
type Query struct {
	// Time range
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive start time
	EndTime   *time.Time `json:"end_time,omitempty"`   // Inclusive end time

	// Filters
	Kind          EventKind `json:"kind,omitempty"`
	Tier          string    `json:"tier,omitempty"`
	CredentialID  string    `json:"credential_id,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortOrder is "asc" or "desc" by event time.
	SortOrder string `json:"sort_order,omitempty"`
}

// Matches reports whether e satisfies the filters of q (not pagination).
func (q *Query) Matches(e *Event) bool {
	if q.StartTime != nil && e.Time.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.Time.After(*q.EndTime) {
		return false
	}
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if q.Tier != "" && e.Tier != q.Tier {
		return false
	}
	if q.CredentialID != "" && e.CredentialID != q.CredentialID {
		return false
	}
	if q.ReservationID != "" && e.ReservationID != q.ReservationID {
		return false
	}
	return true
}

// Storage defines the interface for ledger storage backends.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists an event.
	Store(ctx context.Context, event *Event) error

	// Query retrieves events matching the query filters.
	// Returns an empty slice if no events match.
	Query(ctx context.Context, query *Query) ([]*Event, error)

	// Count returns the number of events matching the query filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes events matching the query filters and returns how many
	// were deleted. Pagination fields are ignored.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the storage backend.
	Close() error
}

// Sink accepts events from the admission and usage paths.
type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// Exporter writes events in some output format.
type Exporter interface {
	Export(ctx context.Context, events []*Event, w io.Writer) error
}
