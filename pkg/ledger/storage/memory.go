package storage

import (
	"context"
	"sort"
	"sync"

	"campuscore/keygate/pkg/ledger"
)

// MemoryStorage implements ledger.Storage in memory.
type MemoryStorage struct {
	events []*ledger.Event
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store persists a copy of the event.
func (s *MemoryStorage) Store(ctx context.Context, e *ledger.Event) error {
	cp := *e
	s.mu.Lock()
	s.events = append(s.events, &cp)
	s.mu.Unlock()
	return nil
}

// Query retrieves events matching the query filters.
func (s *MemoryStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Event, error) {
	s.mu.RLock()
	results := make([]*ledger.Event, 0)
	for _, e := range s.events {
		if q.Matches(e) {
			cp := *e
			results = append(results, &cp)
		}
	}
	s.mu.RUnlock()

	asc := q.SortOrder == "asc"
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.Time.Equal(b.Time) {
			if asc {
				return a.Time.Before(b.Time)
			}
			return a.Time.After(b.Time)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if q.Offset >= len(results) {
		return []*ledger.Event{}, nil
	}
	results = results[q.Offset:]

	limit := q.Limit
	if limit <= 0 {
		limit = ledger.DefaultLimit
	}
	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of events matching the query filters.
func (s *MemoryStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events {
		if q.Matches(e) {
			n++
		}
	}
	return n, nil
}

// Delete removes events matching the query filters.
func (s *MemoryStorage) Delete(ctx context.Context, q *ledger.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if q.Matches(e) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = nil
	}
	s.events = kept
	return deleted, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}
