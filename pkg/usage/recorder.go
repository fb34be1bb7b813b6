package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/telemetry/logging"
	"campuscore/keygate/pkg/telemetry/metrics"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/window"
)

const (
	// DefaultFailureThreshold is the consecutive failure count that retires
	// a credential.
	DefaultFailureThreshold = 5

	// DefaultRateLimitCooldown is how long a credential sits out after a
	// provider rate limit response.
	DefaultRateLimitCooldown = 60 * time.Second
)

// Completion is the outcome of one provider call made with a grant.
type Completion struct {
	ReservationID string
	// CredentialID is informational; the reservation decides which
	// credential is charged.
	CredentialID string
	ActualTokens int64
	Succeeded    bool
	// RateLimited puts the credential into cooldown.
	RateLimited bool
	// Unmetered means the provider rejected the call before counting it,
	// so lifetime totals stay unchanged.
	Unmetered bool
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	FailureThreshold  int
	RateLimitCooldown time.Duration
}

// Recorder settles reservations.
type Recorder struct {
	vault   *vault.Vault
	store   vault.Store
	config  RecorderConfig
	metrics *metrics.Collector
	ledger  ledger.Sink
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Recorder or a Sweeper.
type Option func(*options)

type options struct {
	metrics *metrics.Collector
	ledger  ledger.Sink
	now     func() time.Time
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithLedger attaches a ledger sink.
func WithLedger(s ledger.Sink) Option {
	return func(o *options) { o.ledger = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRecorder creates a Recorder. Zero config values select the defaults.
func NewRecorder(v *vault.Vault, cfg RecorderConfig, opts ...Option) *Recorder {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = DefaultRateLimitCooldown
	}
	o := buildOptions(opts)
	return &Recorder{
		vault:   v,
		store:   v.Store(),
		config:  cfg,
		metrics: o.metrics,
		ledger:  o.ledger,
		now:     o.now,
		logger:  slog.Default().With("component", "usage.recorder"),
	}
}

// RecordCompletion settles the reservation of c with the actual token count.
//
// While the minute window the reservation was charged to is still open, the
// difference between actual and estimated tokens is applied to TPMUsed
// (never below zero). Once the window has rolled the estimate already
// expired with it and only lifetime totals change.
func (r *Recorder) RecordCompletion(ctx context.Context, c Completion) (*vault.Credential, error) {
	if c.ActualTokens < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTokens, c.ActualTokens)
	}

	res, err := r.take(ctx, c.ReservationID)
	if err != nil {
		return nil, err
	}
	if c.CredentialID != "" && c.CredentialID != res.CredentialID {
		r.logger.WarnContext(ctx, "completion names a different credential than its reservation",
			"reservation_id", res.ID,
			"reported", c.CredentialID,
			"reserved", res.CredentialID,
		)
	}

	var rotated bool
	cred, err := r.vault.Update(ctx, res.CredentialID, func(cred *vault.Credential) bool {
		now := r.now()
		rotated = false

		if sameMinuteWindow(cred.Usage, res.AdmittedAt, now) {
			cred.Usage.TPMUsed += c.ActualTokens - res.EstimatedTokens
			if cred.Usage.TPMUsed < 0 {
				cred.Usage.TPMUsed = 0
			}
		}
		if !c.Unmetered {
			cred.Usage.TotalRequests++
			cred.Usage.TotalTokens += c.ActualTokens
		}

		if c.Succeeded {
			cred.ConsecutiveFailures = 0
		} else {
			cred.ConsecutiveFailures++
			if cred.Status == vault.StatusActive && cred.ConsecutiveFailures >= r.config.FailureThreshold {
				cred.Status = vault.StatusRotated
				rotated = true
			}
		}

		if c.RateLimited {
			cred.CooldownUntil = now.Add(r.config.RateLimitCooldown)
		}
		return true
	})
	if err != nil {
		return nil, r.restore(ctx, res, err)
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case c.RateLimited:
		outcome = metrics.OutcomeRateLimited
	case !c.Succeeded:
		outcome = metrics.OutcomeFailure
	}
	r.metrics.RecordCompletion(string(cred.Tier), outcome, c.ActualTokens)

	r.record(ctx, &ledger.Event{
		Kind:            ledger.KindCompleted,
		Tier:            string(cred.Tier),
		CredentialID:    cred.ID,
		ReservationID:   res.ID,
		EstimatedTokens: res.EstimatedTokens,
		ActualTokens:    c.ActualTokens,
		Succeeded:       c.Succeeded,
		Detail:          outcome,
	})

	if rotated {
		r.logger.WarnContext(ctx, "credential rotated after consecutive failures",
			"credential_id", cred.ID,
			"tier", cred.Tier,
			"failures", cred.ConsecutiveFailures,
		)
		r.metrics.RecordCredentialTransition(string(cred.Tier), string(vault.StatusRotated))
		r.record(ctx, &ledger.Event{
			Kind:         ledger.KindCredentialRotated,
			Tier:         string(cred.Tier),
			CredentialID: cred.ID,
			Detail:       fmt.Sprintf("%d consecutive failures", cred.ConsecutiveFailures),
		})
	}

	return cred, nil
}

// RecordAbandoned settles a reservation whose caller gave up. The estimate
// counts as actual usage.
func (r *Recorder) RecordAbandoned(ctx context.Context, reservationID string) (*vault.Credential, error) {
	res, err := r.take(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return r.settleEstimate(ctx, res, ledger.KindAbandoned, metrics.OutcomeAbandoned)
}

// reconcile closes a reservation found by the sweep after the grace period.
func (r *Recorder) reconcile(ctx context.Context, reservationID string) (*vault.Credential, error) {
	res, err := r.take(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return r.settleEstimate(ctx, res, ledger.KindReconciled, metrics.OutcomeReconciled)
}

func (r *Recorder) settleEstimate(ctx context.Context, res *vault.Reservation, kind ledger.EventKind, outcome string) (*vault.Credential, error) {
	cred, err := r.vault.Update(ctx, res.CredentialID, func(cred *vault.Credential) bool {
		cred.Usage.TotalRequests++
		cred.Usage.TotalTokens += res.EstimatedTokens
		return true
	})
	if err != nil {
		return nil, r.restore(ctx, res, err)
	}

	r.metrics.RecordCompletion(string(cred.Tier), outcome, res.EstimatedTokens)
	r.record(ctx, &ledger.Event{
		Kind:            kind,
		Tier:            string(cred.Tier),
		CredentialID:    cred.ID,
		ReservationID:   res.ID,
		EstimatedTokens: res.EstimatedTokens,
		ActualTokens:    res.EstimatedTokens,
	})
	r.logger.DebugContext(ctx, "reservation settled at estimate",
		"reservation_id", res.ID,
		"credential_id", cred.ID,
		"kind", kind,
	)
	return cred, nil
}

func (r *Recorder) take(ctx context.Context, id string) (*vault.Reservation, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrUnknownReservation)
	}
	res, err := vault.Retry(ctx, r.vault.RetryPolicy(), func() (*vault.Reservation, error) {
		return r.store.TakeReservation(ctx, id)
	})
	if errors.Is(err, vault.ErrReservationNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	if err != nil {
		return nil, fmt.Errorf("take reservation %s: %w", id, err)
	}
	return res, nil
}

// restore puts back a reservation whose settlement failed, so a retried
// completion or a later sweep can still settle it.
func (r *Recorder) restore(ctx context.Context, res *vault.Reservation, cause error) error {
	err := fmt.Errorf("settle reservation %s: %w", res.ID, cause)

	ctx = context.WithoutCancel(ctx)
	_, putErr := vault.Retry(ctx, r.vault.RetryPolicy(), func() (struct{}, error) {
		return struct{}{}, r.store.PutReservation(ctx, res)
	})
	if putErr != nil {
		r.logger.ErrorContext(ctx, "failed to restore unsettled reservation",
			"reservation_id", res.ID,
			"credential_id", res.CredentialID,
			"error", putErr,
		)
		return errors.Join(err, fmt.Errorf("restore reservation %s: %w", res.ID, putErr))
	}
	return err
}

func (r *Recorder) record(ctx context.Context, e *ledger.Event) {
	if r.ledger == nil {
		return
	}
	if e.RequestID == "" {
		e.RequestID = logging.GetRequestID(ctx)
	}
	if err := r.ledger.Record(ctx, e); err != nil {
		r.logger.WarnContext(ctx, "failed to record ledger event", "kind", e.Kind, "error", err)
	}
}

// sameMinuteWindow reports whether a reservation admitted at admittedAt was
// charged to the minute window u currently holds.
func sameMinuteWindow(u vault.Usage, admittedAt, now time.Time) bool {
	if u.MinuteWindowStart.After(admittedAt) {
		return false
	}
	return now.Sub(u.MinuteWindowStart) < window.Minute
}
