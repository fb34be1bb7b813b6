package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"campuscore/keygate/pkg/ledger"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createTempDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := NewSQLiteStorage(&SQLiteConfig{Path: filepath.Join(t.TempDir(), "ledger.db")})
	if err != nil {
		t.Fatalf("Failed to create SQLite storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func seed(t *testing.T, s ledger.Storage) {
	t.Helper()
	ctx := context.Background()

	events := []*ledger.Event{
		{ID: "e1", Kind: ledger.KindAdmitted, Time: base, Tier: "flagship", CredentialID: "c1", ReservationID: "r1", EstimatedTokens: 100},
		{ID: "e2", Kind: ledger.KindCompleted, Time: base.Add(time.Minute), Tier: "flagship", CredentialID: "c1", ReservationID: "r1", ActualTokens: 120, Succeeded: true},
		{ID: "e3", Kind: ledger.KindExhausted, Time: base.Add(2 * time.Minute), RequestedTier: "lite", Tier: "lite", RetryAfter: 30 * time.Second, Detail: "all credentials at limit"},
		{ID: "e4", Kind: ledger.KindFallback, Time: base.Add(3 * time.Minute), RequestedTier: "flagship", Tier: "standard", CredentialID: "c2", FallbackCount: 1},
	}
	for _, e := range events {
		if err := s.Store(ctx, e); err != nil {
			t.Fatalf("Store(%s) failed: %v", e.ID, err)
		}
	}
}

func forEachStorage(t *testing.T, fn func(t *testing.T, s ledger.Storage)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStorage()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, createTempDB(t)) })
}

func TestStorage_StoreAndQuery(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s ledger.Storage) {
		seed(t, s)
		ctx := context.Background()

		events, err := s.Query(ctx, &ledger.Query{})
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if len(events) != 4 {
			t.Fatalf("Expected 4 events, got %d", len(events))
		}
		if events[0].ID != "e4" {
			t.Errorf("Expected newest first, got %s", events[0].ID)
		}

		got := events[1]
		if got.Kind != ledger.KindExhausted || got.RetryAfter != 30*time.Second || got.Detail != "all credentials at limit" {
			t.Errorf("Unexpected round trip of exhausted event: %+v", got)
		}
		if !got.Time.Equal(base.Add(2 * time.Minute)) {
			t.Errorf("Expected time %v, got %v", base.Add(2*time.Minute), got.Time)
		}
	})
}

func TestStorage_QueryFilters(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s ledger.Storage) {
		seed(t, s)
		ctx := context.Background()
		start := base.Add(30 * time.Second)
		end := base.Add(150 * time.Second)

		tests := []struct {
			name  string
			query ledger.Query
			want  []string
		}{
			{name: "by kind", query: ledger.Query{Kind: ledger.KindCompleted}, want: []string{"e2"}},
			{name: "by tier", query: ledger.Query{Tier: "flagship", SortOrder: "asc"}, want: []string{"e1", "e2"}},
			{name: "by credential", query: ledger.Query{CredentialID: "c2"}, want: []string{"e4"}},
			{name: "by reservation", query: ledger.Query{ReservationID: "r1", SortOrder: "asc"}, want: []string{"e1", "e2"}},
			{name: "time range", query: ledger.Query{StartTime: &start, EndTime: &end, SortOrder: "asc"}, want: []string{"e2", "e3"}},
			{name: "pagination", query: ledger.Query{Limit: 2, Offset: 1, SortOrder: "asc"}, want: []string{"e2", "e3"}},
			{name: "offset past end", query: ledger.Query{Offset: 10}, want: []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				q := tt.query
				events, err := s.Query(ctx, &q)
				if err != nil {
					t.Fatalf("Query() failed: %v", err)
				}
				if len(events) != len(tt.want) {
					t.Fatalf("Expected %d events, got %d", len(tt.want), len(events))
				}
				for i, id := range tt.want {
					if events[i].ID != id {
						t.Errorf("Expected event %d to be %s, got %s", i, id, events[i].ID)
					}
				}
			})
		}
	})
}

func TestStorage_CountAndDelete(t *testing.T) {
	forEachStorage(t, func(t *testing.T, s ledger.Storage) {
		seed(t, s)
		ctx := context.Background()

		n, err := s.Count(ctx, &ledger.Query{Tier: "flagship"})
		if err != nil {
			t.Fatalf("Count() failed: %v", err)
		}
		if n != 2 {
			t.Errorf("Expected 2 flagship events, got %d", n)
		}

		cutoff := base.Add(90 * time.Second)
		deleted, err := s.Delete(ctx, &ledger.Query{EndTime: &cutoff})
		if err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("Expected 2 deleted, got %d", deleted)
		}

		total, _ := s.Count(ctx, &ledger.Query{})
		if total != 2 {
			t.Errorf("Expected 2 remaining, got %d", total)
		}
	})
}

func TestSQLiteStorage_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	s, err := NewSQLiteStorage(&SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStorage() failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		e := &ledger.Event{ID: fmt.Sprintf("e%d", i), Kind: ledger.KindAdmitted, Time: base.Add(time.Duration(i) * time.Second)}
		if err := s.Store(ctx, e); err != nil {
			t.Fatalf("Store() failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close() should be a no-op, got %v", err)
	}

	reopened, err := NewSQLiteStorage(&SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(ctx, &ledger.Query{})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 persisted events, got %d", n)
	}
}

func TestSQLiteStorage_DuplicateID(t *testing.T) {
	s := createTempDB(t)
	ctx := context.Background()

	e := &ledger.Event{ID: "dup", Kind: ledger.KindAdmitted, Time: base}
	if err := s.Store(ctx, e); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	err := s.Store(ctx, e)
	var storageErr *ledger.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Expected StorageError, got %v", err)
	}
	if storageErr.Operation != "store" {
		t.Errorf("Expected operation store, got %s", storageErr.Operation)
	}
}

func TestNewSQLiteStorage_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStorage(&SQLiteConfig{}); err == nil {
		t.Error("Expected error for empty path")
	}
	if _, err := NewSQLiteStorage(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	if _, ok := s.(*MemoryStorage); !ok {
		t.Errorf("Expected MemoryStorage, got %T", s)
	}

	s, err = Open("sqlite", filepath.Join(t.TempDir(), "l.db"))
	if err != nil {
		t.Fatalf("Open(sqlite) failed: %v", err)
	}
	s.Close()

	if _, err := Open("cassandra", ""); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
