package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campuscore/keygate/pkg/telemetry/metrics"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/window"
)

// DefaultReservationGrace is how long a reservation may stay open before the
// sweep settles it at its estimate.
const DefaultReservationGrace = 5 * time.Minute

// SweepFailure is one item the sweep could not process.
type SweepFailure struct {
	CredentialID  string `json:"credential_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Error         string `json:"error"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration_ns"`
	Credentials int            `json:"credentials"`
	Reclaimed   int            `json:"reclaimed"`
	Reconciled  int            `json:"reconciled"`
	Failed      []SweepFailure `json:"failed,omitempty"`
	Summaries   []TierSummary  `json:"summaries"`
}

// Sweeper runs batch reclamation independently of traffic.
type Sweeper struct {
	vault      *vault.Vault
	store      vault.Store
	recorder   *Recorder
	aggregator *Aggregator
	grace      time.Duration
	metrics    *metrics.Collector
	now        func() time.Time
	logger     *slog.Logger
}

// NewSweeper creates a Sweeper. A non-positive grace selects
// DefaultReservationGrace.
func NewSweeper(v *vault.Vault, recorder *Recorder, aggregator *Aggregator, grace time.Duration, opts ...Option) *Sweeper {
	if grace <= 0 {
		grace = DefaultReservationGrace
	}
	o := buildOptions(opts)
	return &Sweeper{
		vault:      v,
		store:      v.Store(),
		recorder:   recorder,
		aggregator: aggregator,
		grace:      grace,
		metrics:    o.metrics,
		now:        o.now,
		logger:     slog.Default().With("component", "usage.sweeper"),
	}
}

// RunScheduledSweep reclaims stale windows of every credential, settles
// reservations older than the grace period and recomputes the tier
// summaries. Failures on single credentials or reservations are collected in
// the report and do not stop the sweep. Concurrent sweeps are safe.
func (s *Sweeper) RunScheduledSweep(ctx context.Context) (*SweepReport, error) {
	start := s.now()
	report := &SweepReport{StartedAt: start}

	creds, err := vault.Retry(ctx, s.vault.RetryPolicy(), func() ([]*vault.Credential, error) {
		return s.store.List(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	report.Credentials = len(creds)

	for _, c := range creds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !window.Stale(c.Usage, s.now()) {
			continue
		}

		reclaimed := false
		_, err := s.vault.Update(ctx, c.ID, func(cred *vault.Credential) bool {
			var res window.Result
			cred.Usage, res = window.Reclaim(cred.Usage, s.now())
			reclaimed = res.Changed()
			return reclaimed
		})
		switch {
		case errors.Is(err, vault.ErrNotFound):
		case err != nil:
			s.logger.WarnContext(ctx, "failed to reclaim credential windows", "credential_id", c.ID, "error", err)
			report.Failed = append(report.Failed, SweepFailure{CredentialID: c.ID, Error: err.Error()})
		case reclaimed:
			report.Reclaimed++
		}
	}

	expired, err := vault.Retry(ctx, s.vault.RetryPolicy(), func() ([]*vault.Reservation, error) {
		return s.store.ExpiredReservations(ctx, s.now().Add(-s.grace))
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list expired reservations", "error", err)
		report.Failed = append(report.Failed, SweepFailure{Error: fmt.Sprintf("list expired reservations: %v", err)})
	}
	for _, res := range expired {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, err := s.recorder.reconcile(ctx, res.ID)
		switch {
		case errors.Is(err, ErrUnknownReservation):
			// settled concurrently
		case err != nil:
			s.logger.WarnContext(ctx, "failed to reconcile reservation", "reservation_id", res.ID, "error", err)
			report.Failed = append(report.Failed, SweepFailure{
				CredentialID:  res.CredentialID,
				ReservationID: res.ID,
				Error:         err.Error(),
			})
		default:
			report.Reconciled++
		}
	}

	summaries, err := s.aggregator.Recompute(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to recompute tier summaries", "error", err)
		report.Failed = append(report.Failed, SweepFailure{Error: fmt.Sprintf("recompute summaries: %v", err)})
	}
	report.Summaries = summaries

	report.Duration = s.now().Sub(start)
	s.metrics.RecordSweep(report.Duration, report.Reclaimed, report.Reconciled, len(report.Failed))

	s.logger.DebugContext(ctx, "sweep completed",
		"credentials", report.Credentials,
		"reclaimed", report.Reclaimed,
		"reconciled", report.Reconciled,
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report, nil
}
