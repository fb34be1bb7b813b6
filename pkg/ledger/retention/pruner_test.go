package retention

import (
	"context"
	"testing"
	"time"

	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/ledger/storage"
)

func TestPruner_Prune(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{time.Hour, 10 * 24 * time.Hour, 40 * 24 * time.Hour, 90 * 24 * time.Hour} {
		e := &ledger.Event{ID: string(rune('a' + i)), Kind: ledger.KindAdmitted, Time: now.Add(-age)}
		if err := store.Store(ctx, e); err != nil {
			t.Fatalf("Store() failed: %v", err)
		}
	}

	p := NewPruner(store, 30)
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}

	remaining, _ := store.Count(ctx, &ledger.Query{})
	if remaining != 2 {
		t.Errorf("Expected 2 remaining, got %d", remaining)
	}

	deleted, err = p.Prune(ctx)
	if err != nil {
		t.Fatalf("Second Prune() failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected second prune to delete nothing, got %d", deleted)
	}
}

func TestPruner_KeepForever(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	store.Store(ctx, &ledger.Event{ID: "old", Kind: ledger.KindAdmitted, Time: time.Unix(0, 0)})

	for _, days := range []int{0, -1} {
		p := NewPruner(store, days)
		deleted, err := p.Prune(ctx)
		if err != nil {
			t.Fatalf("Prune() failed: %v", err)
		}
		if deleted != 0 {
			t.Errorf("Expected nothing pruned with retention %d, got %d", days, deleted)
		}
	}
}

func TestPruner_Cutoff(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), 7)
	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	want := now.Add(-7 * 24 * time.Hour)
	if !p.Cutoff().Equal(want) {
		t.Errorf("Expected cutoff %v, got %v", want, p.Cutoff())
	}
	if p.RetentionDays() != 7 {
		t.Errorf("Expected 7 days, got %d", p.RetentionDays())
	}
}
