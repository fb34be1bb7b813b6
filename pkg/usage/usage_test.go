package usage

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campuscore/keygate/pkg/admission"
	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/seal"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/vault/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureSink struct {
	mu     sync.Mutex
	events []*ledger.Event
}

func (s *captureSink) Record(ctx context.Context, e *ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) count(kind ledger.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	sealer     *seal.Sealer
	clock      *fakeClock
	store      *storage.MemoryStore
	vault      *vault.Vault
	registry   *tier.Registry
	sink       *captureSink
	controller *admission.Controller
	recorder   *Recorder
	aggregator *Aggregator
	sweeper    *Sweeper
}

func newFixture(t *testing.T, limits tier.Limits) *fixture {
	t.Helper()

	sealer, err := seal.New(seal.AES256GCM, bytes.Repeat([]byte{3}, seal.KeySize))
	if err != nil {
		t.Fatalf("seal.New failed: %v", err)
	}
	registry, err := tier.NewRegistry([]tier.Entry{{Tier: tier.Fast, Limits: limits}})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	f := &fixture{
		sealer:   sealer,
		clock:    &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		store:    storage.NewMemoryStore(),
		registry: registry,
		sink:     &captureSink{},
	}
	f.wire(f.store)
	return f
}

// wire builds the vault and its users on top of store.
func (f *fixture) wire(store vault.Store) {
	f.vault = vault.New(store, f.sealer, vault.WithClock(f.clock.Now))
	f.controller = admission.NewController(f.vault, f.registry, admission.WithClock(f.clock.Now))

	opts := []Option{WithClock(f.clock.Now), WithLedger(f.sink)}
	f.recorder = NewRecorder(f.vault, RecorderConfig{FailureThreshold: 3, RateLimitCooldown: 45 * time.Second}, opts...)
	f.aggregator = NewAggregator(store, f.registry, opts...)
	f.sweeper = NewSweeper(f.vault, f.recorder, f.aggregator, time.Minute, opts...)
}

// failingCAS fails compare-and-swap for one credential. A negative
// remaining count fails forever.
type failingCAS struct {
	vault.Store

	mu        sync.Mutex
	id        string
	remaining int
}

var errDiskIO = errors.New("disk I/O error")

func (s *failingCAS) CompareAndSwap(ctx context.Context, next *vault.Credential, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	fail := next.ID == s.id && s.remaining != 0
	if fail && s.remaining > 0 {
		s.remaining--
	}
	s.mu.Unlock()
	if fail {
		return false, errDiskIO
	}
	return s.Store.CompareAndSwap(ctx, next, expectedVersion)
}

func (f *fixture) failCAS(id string, times int) {
	f.wire(&failingCAS{Store: f.store, id: id, remaining: times})
}

func (f *fixture) provision(t *testing.T, id string) {
	t.Helper()
	_, err := f.vault.Provision(context.Background(), vault.ProvisionRequest{ID: id, Tier: tier.Fast, Material: []byte("sk-" + id)})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
}

func (f *fixture) admit(t *testing.T, est int64) *admission.Grant {
	t.Helper()
	g, err := f.controller.Admit(context.Background(), tier.Fast, est)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	return g
}

func (f *fixture) get(t *testing.T, id string) *vault.Credential {
	t.Helper()
	c, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return c
}

func TestRecordCompletion_AppliesDelta(t *testing.T) {
	tests := []struct {
		name     string
		estimate int64
		actual   int64
		wantTPM  int64
	}{
		{"over estimate", 100, 250, 250},
		{"under estimate", 100, 30, 30},
		{"exact", 100, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tier.Limits{RPM: tier.Int(10), TPM: 1000})
			f.provision(t, "a")
			g := f.admit(t, tt.estimate)

			cred, err := f.recorder.RecordCompletion(context.Background(), Completion{
				ReservationID: g.ReservationID,
				CredentialID:  g.CredentialID,
				ActualTokens:  tt.actual,
				Succeeded:     true,
			})
			if err != nil {
				t.Fatalf("RecordCompletion failed: %v", err)
			}
			if cred.Usage.TPMUsed != tt.wantTPM {
				t.Errorf("Expected tpm used %d, got %d", tt.wantTPM, cred.Usage.TPMUsed)
			}
			if cred.Usage.TotalRequests != 1 || cred.Usage.TotalTokens != tt.actual {
				t.Errorf("Expected totals 1/%d, got %d/%d", tt.actual, cred.Usage.TotalRequests, cred.Usage.TotalTokens)
			}
			if cred.Usage.RPMUsed != 1 {
				t.Errorf("Expected rpm used to stay 1, got %d", cred.Usage.RPMUsed)
			}
		})
	}
}

func TestRecordCompletion_FloorsAtZero(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	g := f.admit(t, 200)

	// Another writer drained the counter below this reservation's estimate.
	_, err := f.vault.Update(context.Background(), "a", func(c *vault.Credential) bool {
		c.Usage.TPMUsed = 50
		return true
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	cred, err := f.recorder.RecordCompletion(context.Background(), Completion{ReservationID: g.ReservationID, ActualTokens: 10, Succeeded: true})
	if err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	if cred.Usage.TPMUsed != 0 {
		t.Errorf("Expected tpm used floored at 0, got %d", cred.Usage.TPMUsed)
	}
}

func TestRecordCompletion_WindowRolled(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	g := f.admit(t, 100)

	f.clock.Advance(70 * time.Second)
	f.admit(t, 40)

	cred, err := f.recorder.RecordCompletion(context.Background(), Completion{ReservationID: g.ReservationID, ActualTokens: 900, Succeeded: true})
	if err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	if cred.Usage.TPMUsed != 40 {
		t.Errorf("Expected the new window to keep only its own 40 tokens, got %d", cred.Usage.TPMUsed)
	}
	if cred.Usage.TotalTokens != 900 {
		t.Errorf("Expected lifetime tokens 900, got %d", cred.Usage.TotalTokens)
	}
}

func TestRecordCompletion_ExactlyOnce(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	g := f.admit(t, 100)
	ctx := context.Background()

	c := Completion{ReservationID: g.ReservationID, ActualTokens: 120, Succeeded: true}
	if _, err := f.recorder.RecordCompletion(ctx, c); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	if _, err := f.recorder.RecordCompletion(ctx, c); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("Expected ErrUnknownReservation on the second completion, got %v", err)
	}
	if _, err := f.recorder.RecordAbandoned(ctx, g.ReservationID); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("Expected ErrUnknownReservation on abandon after completion, got %v", err)
	}

	cred := f.get(t, "a")
	if cred.Usage.TotalRequests != 1 || cred.Usage.TotalTokens != 120 {
		t.Errorf("Expected totals 1/120, got %d/%d", cred.Usage.TotalRequests, cred.Usage.TotalTokens)
	}
}

func TestRecordCompletion_StoreFailureKeepsReservation(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	g := f.admit(t, 100)
	f.failCAS("a", 1)
	ctx := context.Background()

	c := Completion{ReservationID: g.ReservationID, ActualTokens: 120, Succeeded: true}
	_, err := f.recorder.RecordCompletion(ctx, c)
	if !errors.Is(err, errDiskIO) {
		t.Fatalf("Expected the store error, got %v", err)
	}
	if errors.Is(err, ErrUnknownReservation) {
		t.Fatal("Expected the reservation to survive a failed settlement")
	}

	cred, err := f.recorder.RecordCompletion(ctx, c)
	if err != nil {
		t.Fatalf("Expected the retried completion to settle, got %v", err)
	}
	if cred.Usage.TotalRequests != 1 || cred.Usage.TotalTokens != 120 {
		t.Errorf("Expected totals 1/120, got %d/%d", cred.Usage.TotalRequests, cred.Usage.TotalTokens)
	}
	if cred.Usage.TPMUsed != 120 {
		t.Errorf("Expected tpm used 120, got %d", cred.Usage.TPMUsed)
	}
	if f.sink.count(ledger.KindCompleted) != 1 {
		t.Errorf("Expected one completed event, got %d", f.sink.count(ledger.KindCompleted))
	}
}

func TestRecordAbandoned_StoreFailureKeepsReservation(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	g := f.admit(t, 100)
	f.failCAS("a", 1)
	ctx := context.Background()

	if _, err := f.recorder.RecordAbandoned(ctx, g.ReservationID); !errors.Is(err, errDiskIO) {
		t.Fatalf("Expected the store error, got %v", err)
	}

	// The sweep settles what the caller could not.
	f.clock.Advance(2 * time.Minute)
	report, err := f.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		t.Fatalf("RunScheduledSweep failed: %v", err)
	}
	if report.Reconciled != 1 {
		t.Errorf("Expected 1 reconciled reservation, got %d", report.Reconciled)
	}
	cred := f.get(t, "a")
	if cred.Usage.TotalRequests != 1 || cred.Usage.TotalTokens != 100 {
		t.Errorf("Expected totals 1/100, got %d/%d", cred.Usage.TotalRequests, cred.Usage.TotalTokens)
	}
}

func TestRecordCompletion_InvalidTokens(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	g := f.admit(t, 100)

	_, err := f.recorder.RecordCompletion(context.Background(), Completion{ReservationID: g.ReservationID, ActualTokens: -5})
	if !errors.Is(err, ErrInvalidTokens) {
		t.Fatalf("Expected ErrInvalidTokens, got %v", err)
	}

	// The reservation is still open.
	if _, err := f.recorder.RecordCompletion(context.Background(), Completion{ReservationID: g.ReservationID, ActualTokens: 5, Succeeded: true}); err != nil {
		t.Errorf("Expected reservation to remain settleable, got %v", err)
	}
}

func TestRecordCompletion_FailuresRotateCredential(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 10000})
	f.provision(t, "a")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		g := f.admit(t, 10)
		cred, err := f.recorder.RecordCompletion(ctx, Completion{ReservationID: g.ReservationID, ActualTokens: 0, Succeeded: false})
		if err != nil {
			t.Fatalf("RecordCompletion #%d failed: %v", i, err)
		}
		if cred.ConsecutiveFailures != i {
			t.Errorf("Expected %d consecutive failures, got %d", i, cred.ConsecutiveFailures)
		}
	}

	cred := f.get(t, "a")
	if cred.Status != vault.StatusRotated {
		t.Fatalf("Expected status rotated, got %s", cred.Status)
	}
	if cred.Usage.TotalRequests != 3 {
		t.Errorf("Expected counters kept, got %d total requests", cred.Usage.TotalRequests)
	}
	if f.sink.count(ledger.KindCredentialRotated) != 1 {
		t.Errorf("Expected one credential_rotated event, got %d", f.sink.count(ledger.KindCredentialRotated))
	}
	if _, err := f.controller.Admit(ctx, tier.Fast, 10); !errors.Is(err, admission.ErrExhausted) {
		t.Errorf("Expected rotated credential to be skipped, got %v", err)
	}
}

func TestRecordCompletion_SuccessResetsFailures(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 10000})
	f.provision(t, "a")
	ctx := context.Background()

	g := f.admit(t, 10)
	if _, err := f.recorder.RecordCompletion(ctx, Completion{ReservationID: g.ReservationID, Succeeded: false}); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	g = f.admit(t, 10)
	cred, err := f.recorder.RecordCompletion(ctx, Completion{ReservationID: g.ReservationID, ActualTokens: 10, Succeeded: true})
	if err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	if cred.ConsecutiveFailures != 0 {
		t.Errorf("Expected failures reset, got %d", cred.ConsecutiveFailures)
	}
}

func TestRecordCompletion_RateLimitedCooldown(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 10000})
	f.provision(t, "a")
	ctx := context.Background()

	g := f.admit(t, 10)
	cred, err := f.recorder.RecordCompletion(ctx, Completion{ReservationID: g.ReservationID, RateLimited: true, Unmetered: true})
	if err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	want := f.clock.Now().Add(45 * time.Second)
	if !cred.CooldownUntil.Equal(want) {
		t.Errorf("Expected cooldown until %v, got %v", want, cred.CooldownUntil)
	}
	if cred.Usage.TotalRequests != 0 || cred.Usage.TotalTokens != 0 {
		t.Errorf("Expected unmetered call to leave totals unchanged, got %d/%d", cred.Usage.TotalRequests, cred.Usage.TotalTokens)
	}

	_, err = f.controller.Admit(ctx, tier.Fast, 10)
	var ex *admission.ExhaustionError
	if !errors.As(err, &ex) {
		t.Fatalf("Expected exhaustion during cooldown, got %v", err)
	}
	if ex.RetryAfter != 45*time.Second {
		t.Errorf("Expected retry after 45s, got %v", ex.RetryAfter)
	}

	f.clock.Advance(46 * time.Second)
	if _, err := f.controller.Admit(ctx, tier.Fast, 10); err != nil {
		t.Errorf("Expected admission after cooldown, got %v", err)
	}
}

func TestRecordAbandoned(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	g := f.admit(t, 300)

	cred, err := f.recorder.RecordAbandoned(context.Background(), g.ReservationID)
	if err != nil {
		t.Fatalf("RecordAbandoned failed: %v", err)
	}
	if cred.Usage.TPMUsed != 300 {
		t.Errorf("Expected the estimate to stay charged, got %d", cred.Usage.TPMUsed)
	}
	if cred.Usage.TotalRequests != 1 || cred.Usage.TotalTokens != 300 {
		t.Errorf("Expected totals 1/300, got %d/%d", cred.Usage.TotalRequests, cred.Usage.TotalTokens)
	}
	if f.sink.count(ledger.KindAbandoned) != 1 {
		t.Error("Expected one abandoned event")
	}
}

func TestRunScheduledSweep_ResetsMinuteWindow(t *testing.T) {
	f := newFixture(t, tier.Limits{RPM: tier.Int(2), RPD: tier.Int(100), TPM: 1000})
	f.provision(t, "a")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		g := f.admit(t, 100)
		if _, err := f.recorder.RecordCompletion(ctx, Completion{ReservationID: g.ReservationID, ActualTokens: 100, Succeeded: true}); err != nil {
			t.Fatalf("RecordCompletion failed: %v", err)
		}
	}
	if _, err := f.controller.Admit(ctx, tier.Fast, 100); !errors.Is(err, admission.ErrExhausted) {
		t.Fatalf("Expected minute limit to be hit, got %v", err)
	}

	f.clock.Advance(61 * time.Second)
	report, err := f.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		t.Fatalf("RunScheduledSweep failed: %v", err)
	}
	if report.Reclaimed != 1 {
		t.Errorf("Expected 1 reclaimed credential, got %d", report.Reclaimed)
	}
	if len(report.Failed) != 0 {
		t.Errorf("Expected no failures, got %v", report.Failed)
	}

	cred := f.get(t, "a")
	if cred.Usage.RPMUsed != 0 || cred.Usage.TPMUsed != 0 {
		t.Errorf("Expected minute counters reset, got rpm=%d tpm=%d", cred.Usage.RPMUsed, cred.Usage.TPMUsed)
	}
	if cred.Usage.RPDUsed != 2 {
		t.Errorf("Expected rpd used untouched at 2, got %d", cred.Usage.RPDUsed)
	}
	if !cred.Usage.MinuteWindowStart.Equal(f.clock.Now()) {
		t.Errorf("Expected minute window to restart at %v, got %v", f.clock.Now(), cred.Usage.MinuteWindowStart)
	}

	// A second sweep at the same instant changes nothing.
	report, err = f.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		t.Fatalf("RunScheduledSweep failed: %v", err)
	}
	if report.Reclaimed != 0 {
		t.Errorf("Expected idempotent sweep, got %d reclaimed", report.Reclaimed)
	}
}

func TestRunScheduledSweep_ReconcilesExpiredReservations(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	ctx := context.Background()

	old := f.admit(t, 100)
	f.clock.Advance(2 * time.Minute)
	fresh := f.admit(t, 50)

	report, err := f.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		t.Fatalf("RunScheduledSweep failed: %v", err)
	}
	if report.Reconciled != 1 {
		t.Fatalf("Expected 1 reconciled reservation, got %d", report.Reconciled)
	}

	if _, err := f.recorder.RecordCompletion(ctx, Completion{ReservationID: old.ReservationID, ActualTokens: 10}); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("Expected late completion to be rejected, got %v", err)
	}
	if _, err := f.recorder.RecordCompletion(ctx, Completion{ReservationID: fresh.ReservationID, ActualTokens: 50, Succeeded: true}); err != nil {
		t.Errorf("Expected reservation inside the grace period to stay open, got %v", err)
	}

	cred := f.get(t, "a")
	if cred.Usage.TotalRequests != 2 || cred.Usage.TotalTokens != 150 {
		t.Errorf("Expected totals 2/150, got %d/%d", cred.Usage.TotalRequests, cred.Usage.TotalTokens)
	}
	if f.sink.count(ledger.KindReconciled) != 1 {
		t.Error("Expected one reconciled event")
	}
}

func TestRunScheduledSweep_IsolatesCredentialFailures(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	f.provision(t, "a")
	f.provision(t, "b")
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := f.vault.Update(ctx, id, func(c *vault.Credential) bool {
			c.Usage.MinuteWindowStart = f.clock.Now()
			c.Usage.TPMUsed = 400
			return true
		}); err != nil {
			t.Fatalf("Update(%s) failed: %v", id, err)
		}
	}

	f.clock.Advance(61 * time.Second)
	f.failCAS("a", -1)

	report, err := f.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		t.Fatalf("RunScheduledSweep failed: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].CredentialID != "a" {
		t.Fatalf("Expected exactly credential a to fail, got %+v", report.Failed)
	}
	if report.Reclaimed != 1 {
		t.Errorf("Expected 1 reclaimed credential, got %d", report.Reclaimed)
	}
	if got := f.get(t, "b").Usage.TPMUsed; got != 0 {
		t.Errorf("Expected b reclaimed, got tpm used %d", got)
	}
	if got := f.get(t, "a").Usage.TPMUsed; got != 400 {
		t.Errorf("Expected a untouched, got tpm used %d", got)
	}
}

func TestRunScheduledSweep_ConcurrentSweepsReconcileOnce(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 10000})
	f.provision(t, "a")
	ctx := context.Background()

	const reservations = 8
	for i := 0; i < reservations; i++ {
		f.admit(t, 10)
	}
	f.clock.Advance(2 * time.Minute)

	const sweeps = 6
	var wg sync.WaitGroup
	reports := make([]*SweepReport, sweeps)
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := f.sweeper.RunScheduledSweep(ctx)
			if err != nil {
				t.Errorf("RunScheduledSweep failed: %v", err)
				return
			}
			reports[i] = report
		}(i)
	}
	wg.Wait()

	reconciled := 0
	for _, r := range reports {
		if r == nil {
			continue
		}
		reconciled += r.Reconciled
		if len(r.Failed) != 0 {
			t.Errorf("Expected no failures, got %+v", r.Failed)
		}
	}
	if reconciled != reservations {
		t.Errorf("Expected %d reconciliations across sweeps, got %d", reservations, reconciled)
	}

	cred := f.get(t, "a")
	if cred.Usage.TotalRequests != reservations || cred.Usage.TotalTokens != reservations*10 {
		t.Errorf("Expected totals %d/%d, got %d/%d", reservations, reservations*10, cred.Usage.TotalRequests, cred.Usage.TotalTokens)
	}
	if got := f.sink.count(ledger.KindReconciled); got != reservations {
		t.Errorf("Expected %d reconciled events, got %d", reservations, got)
	}
}

func TestAggregator_Recompute(t *testing.T) {
	f := newFixture(t, tier.Limits{RPM: tier.Int(10), RPD: tier.Int(100), TPM: 1000})
	f.provision(t, "a")
	f.provision(t, "b")
	f.provision(t, "c")
	ctx := context.Background()

	f.admit(t, 100)
	f.admit(t, 200)
	if _, err := f.vault.SetStatus(ctx, "c", vault.StatusDisabled); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	summaries, err := f.aggregator.Recompute(ctx)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("Expected 1 tier summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Tier != tier.Fast {
		t.Errorf("Expected fast, got %s", s.Tier)
	}
	if s.RPMUsed != 2 || s.RPDUsed != 2 || s.TPMUsed != 300 {
		t.Errorf("Expected rpm=2 rpd=2 tpm=300, got rpm=%d rpd=%d tpm=%d", s.RPMUsed, s.RPDUsed, s.TPMUsed)
	}
	if s.Active != 2 || s.Disabled != 1 || s.Rotated != 0 {
		t.Errorf("Expected 2 active and 1 disabled, got %d/%d/%d", s.Active, s.Disabled, s.Rotated)
	}

	f.clock.Advance(2 * time.Minute)
	summaries, err = f.aggregator.Recompute(ctx)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if summaries[0].RPMUsed != 0 || summaries[0].TPMUsed != 0 || summaries[0].RPDUsed != 2 {
		t.Errorf("Expected stale minute counters reported as zero, got %+v", summaries[0])
	}
	if got := f.aggregator.Summaries(); len(got) != 1 || !got[0].ComputedAt.Equal(f.clock.Now()) {
		t.Errorf("Expected Summaries to return the last computation, got %+v", got)
	}
}

type countingPruner struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPruner) Prune(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 0, nil
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	s := NewScheduler(f.sweeper, &countingPruner{}, SchedulerConfig{
		SweepSchedule: "@every 1h",
		SweepTimeout:  time.Minute,
		PruneSchedule: "0 3 * * *",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("Expected scheduler to be running")
	}
	if err := s.Start(ctx); err == nil {
		t.Error("Expected error when starting twice")
	}
	if s.NextRun("missing") != nil {
		t.Error("Expected nil next run for an unknown job")
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("Expected scheduler to be stopped")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	s := NewScheduler(f.sweeper, nil, SchedulerConfig{SweepSchedule: "not a schedule"})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Expected error for invalid schedule")
	}
	if s.IsRunning() {
		t.Error("Expected scheduler not to be running")
	}
}

func TestScheduler_NoJobs(t *testing.T) {
	f := newFixture(t, tier.Limits{TPM: 1000})
	s := NewScheduler(f.sweeper, nil, SchedulerConfig{PruneSchedule: "0 3 * * *"})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("Expected scheduler without jobs to stay idle")
	}
}
