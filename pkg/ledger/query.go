package ledger

import (
	"fmt"
)

const (
	// DefaultLimit is the number of events returned when a query has no limit.
	DefaultLimit = 100

	// MaxLimit is the largest limit a query may carry.
	MaxLimit = 10000
)

// Limits bounds query pagination.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns the package defaults.
func DefaultLimits() Limits {
	return Limits{Default: DefaultLimit, Max: MaxLimit}
}

// Validate checks a query and returns a *QueryError if any parameter is invalid.
func Validate(q *Query, limits Limits) error {
	if limits.Max <= 0 {
		limits.Max = MaxLimit
	}

	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > limits.Max {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", limits.Max, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc" {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	if q.Kind != "" && !ValidKinds[q.Kind] {
		return NewQueryError(q, fmt.Errorf("unknown event kind: %s", q.Kind))
	}

	return nil
}

// ApplyDefaults fills the limit and sort order of a query.
func ApplyDefaults(q *Query, limits Limits) {
	if limits.Default <= 0 {
		limits.Default = DefaultLimit
	}
	if q.Limit == 0 {
		q.Limit = limits.Default
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}
