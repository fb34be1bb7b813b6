package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

// runStoreSuite exercises the vault.Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) vault.Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("ListByTier", func(t *testing.T) { testListByTier(t, newStore(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newStore(t)) })
	t.Run("CompareAndSwapMissing", func(t *testing.T) { testCompareAndSwapMissing(t, newStore(t)) })
	t.Run("ConcurrentCompareAndSwap", func(t *testing.T) { testConcurrentCompareAndSwap(t, newStore(t)) })
	t.Run("Reservations", func(t *testing.T) { testReservations(t, newStore(t)) })
	t.Run("TakeReservationOnce", func(t *testing.T) { testTakeReservationOnce(t, newStore(t)) })
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCredential(id string, t tier.Tier) *vault.Credential {
	return &vault.Credential{
		ID:             id,
		Tier:           t,
		SealedMaterial: "c2VhbGVk",
		Priority:       1,
		Status:         vault.StatusActive,
		Usage: vault.Usage{
			MinuteWindowStart: testEpoch,
			DayWindowStart:    testEpoch,
		},
		Label:     "test",
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
	}
}

func testCreateAndGet(t *testing.T, store vault.Store) {
	ctx := context.Background()

	c := newTestCredential("key-a", tier.Flagship)
	c.CooldownUntil = testEpoch.Add(time.Minute)
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.Version != 1 {
		t.Errorf("Expected version 1 after create, got %d", c.Version)
	}

	got, err := store.Get(ctx, "key-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Tier != tier.Flagship {
		t.Errorf("Expected tier flagship, got %s", got.Tier)
	}
	if got.Status != vault.StatusActive {
		t.Errorf("Expected status active, got %s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("Expected version 1, got %d", got.Version)
	}
	if !got.Usage.MinuteWindowStart.Equal(testEpoch) {
		t.Errorf("Expected minute window start %v, got %v", testEpoch, got.Usage.MinuteWindowStart)
	}
	if !got.CooldownUntil.Equal(c.CooldownUntil) {
		t.Errorf("Expected cooldown %v, got %v", c.CooldownUntil, got.CooldownUntil)
	}
	if got.SealedMaterial != c.SealedMaterial {
		t.Errorf("Expected sealed material %q, got %q", c.SealedMaterial, got.SealedMaterial)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testCreateDuplicate(t *testing.T, store vault.Store) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestCredential("dup", tier.Fast)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Create(ctx, newTestCredential("dup", tier.Fast))
	if !errors.Is(err, vault.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func testListByTier(t *testing.T, store vault.Store) {
	ctx := context.Background()

	for _, c := range []*vault.Credential{
		newTestCredential("b", tier.Flagship),
		newTestCredential("a", tier.Flagship),
		newTestCredential("c", tier.Lite),
	} {
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	flagship, err := store.ListByTier(ctx, tier.Flagship)
	if err != nil {
		t.Fatalf("ListByTier failed: %v", err)
	}
	if len(flagship) != 2 {
		t.Fatalf("Expected 2 flagship credentials, got %d", len(flagship))
	}
	if flagship[0].ID != "a" || flagship[1].ID != "b" {
		t.Errorf("Expected [a b], got [%s %s]", flagship[0].ID, flagship[1].ID)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 credentials, got %d", len(all))
	}
}

func testCompareAndSwap(t *testing.T, store vault.Store) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestCredential("cas", tier.Standard)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	current, err := store.Get(ctx, "cas")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	next := current.Clone()
	next.Usage.RPMUsed = 1
	next.Usage.TPMUsed = 500
	ok, err := store.CompareAndSwap(ctx, next, current.Version)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected first CompareAndSwap to succeed")
	}
	if next.Version != current.Version+1 {
		t.Errorf("Expected version %d, got %d", current.Version+1, next.Version)
	}

	stale := current.Clone()
	stale.Usage.RPMUsed = 99
	ok, err = store.CompareAndSwap(ctx, stale, current.Version)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if ok {
		t.Fatal("Expected stale CompareAndSwap to fail")
	}

	got, _ := store.Get(ctx, "cas")
	if got.Usage.RPMUsed != 1 || got.Usage.TPMUsed != 500 {
		t.Errorf("Expected rpm=1 tpm=500, got rpm=%d tpm=%d", got.Usage.RPMUsed, got.Usage.TPMUsed)
	}
	if got.Version != 2 {
		t.Errorf("Expected version 2, got %d", got.Version)
	}
}

func testCompareAndSwapMissing(t *testing.T, store vault.Store) {
	_, err := store.CompareAndSwap(context.Background(), newTestCredential("ghost", tier.Fast), 1)
	if !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testConcurrentCompareAndSwap(t *testing.T, store vault.Store) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestCredential("race", tier.Fast)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 8
	const incrementsPerWorker = 10

	var wg sync.WaitGroup
	var failures atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < incrementsPerWorker; i++ {
				for {
					current, err := store.Get(ctx, "race")
					if err != nil {
						failures.Add(1)
						return
					}
					next := current.Clone()
					next.Usage.TotalRequests++
					ok, err := store.CompareAndSwap(ctx, next, current.Version)
					if err != nil {
						failures.Add(1)
						return
					}
					if ok {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("Expected no store errors, got %d", failures.Load())
	}

	got, err := store.Get(ctx, "race")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Usage.TotalRequests != workers*incrementsPerWorker {
		t.Errorf("Expected %d requests, got %d (lost update)", workers*incrementsPerWorker, got.Usage.TotalRequests)
	}
}

func testReservations(t *testing.T, store vault.Store) {
	ctx := context.Background()

	old := &vault.Reservation{ID: "r-old", CredentialID: "k", Tier: tier.Fast, EstimatedTokens: 100, AdmittedAt: testEpoch}
	fresh := &vault.Reservation{ID: "r-new", CredentialID: "k", Tier: tier.Fast, EstimatedTokens: 200, AdmittedAt: testEpoch.Add(10 * time.Minute)}
	for _, r := range []*vault.Reservation{old, fresh} {
		if err := store.PutReservation(ctx, r); err != nil {
			t.Fatalf("PutReservation failed: %v", err)
		}
	}

	expired, err := store.ExpiredReservations(ctx, testEpoch.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ExpiredReservations failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "r-old" {
		t.Fatalf("Expected only r-old to be expired, got %v", expired)
	}

	got, err := store.TakeReservation(ctx, "r-new")
	if err != nil {
		t.Fatalf("TakeReservation failed: %v", err)
	}
	if got.EstimatedTokens != 200 {
		t.Errorf("Expected 200 estimated tokens, got %d", got.EstimatedTokens)
	}
	if !got.AdmittedAt.Equal(fresh.AdmittedAt) {
		t.Errorf("Expected admitted at %v, got %v", fresh.AdmittedAt, got.AdmittedAt)
	}

	if _, err := store.TakeReservation(ctx, "r-new"); !errors.Is(err, vault.ErrReservationNotFound) {
		t.Errorf("Expected ErrReservationNotFound on second take, got %v", err)
	}
}

func testTakeReservationOnce(t *testing.T, store vault.Store) {
	ctx := context.Background()

	r := &vault.Reservation{ID: "once", CredentialID: "k", Tier: tier.Lite, EstimatedTokens: 1, AdmittedAt: testEpoch}
	if err := store.PutReservation(ctx, r); err != nil {
		t.Fatalf("PutReservation failed: %v", err)
	}

	var wg sync.WaitGroup
	var taken atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.TakeReservation(ctx, "once"); err == nil {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()

	if taken.Load() != 1 {
		t.Errorf("Expected exactly one successful take, got %d", taken.Load())
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) vault.Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) vault.Store {
		return newTestSQLiteStore(t)
	})
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vault.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	if err := store.Create(ctx, newTestCredential("durable", tier.Flagship)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen SQLite store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "durable")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Tier != tier.Flagship {
		t.Errorf("Expected tier flagship, got %s", got.Tier)
	}
}

func TestSQLiteStore_CloseIsIdempotent(t *testing.T) {
	store := newTestSQLiteStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("Expected error for empty db path")
	}
}

func TestStoreRejectsInvalidCredential(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	bad := newTestCredential("bad", tier.Tier("premium"))
	if err := store.Create(ctx, bad); err == nil {
		t.Error("Expected error for unknown tier")
	}

	bad = newTestCredential("", tier.Fast)
	if err := store.Create(ctx, bad); err == nil {
		t.Error("Expected error for empty id")
	}
}

func uniquePrefix(base string) string {
	return fmt.Sprintf("%s%d_", base, time.Now().UnixNano())
}
