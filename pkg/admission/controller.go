package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/telemetry/logging"
	"campuscore/keygate/pkg/telemetry/metrics"
	"campuscore/keygate/pkg/telemetry/tracing"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/window"
)

// DefaultMaxRetries is the number of lost CAS races tolerated per admission.
const DefaultMaxRetries = 3

// Controller admits requests against the credential vault.
type Controller struct {
	vault      *vault.Vault
	store      vault.Store
	registry   *tier.Registry
	maxRetries int
	metrics    *metrics.Collector
	ledger     ledger.Sink
	tracer     *tracing.Tracer
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetries sets the CAS conflict budget.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLedger attaches a ledger sink.
func WithLedger(s ledger.Sink) Option {
	return func(c *Controller) { c.ledger = s }
}

// WithTracer records a span per admission.
func WithTracer(t *tracing.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller.
func NewController(v *vault.Vault, registry *tier.Registry, opts ...Option) *Controller {
	c := &Controller{
		vault:      v,
		store:      v.Store(),
		registry:   registry,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		logger:     slog.Default().With("component", "admission"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit reserves estimatedTokens on the best credential of t.
func (c *Controller) Admit(ctx context.Context, t tier.Tier, estimatedTokens int64) (*Grant, error) {
	ctx, span := c.tracer.Start(ctx, "admission.admit")
	defer span.End()
	tracing.SetAdmissionRequest(span, string(t), estimatedTokens)

	start := time.Now()
	g, err := c.admitTier(ctx, t, estimatedTokens)
	if g != nil {
		g.RequestedTier = t
	}
	c.observe(ctx, t, estimatedTokens, g, err, time.Since(start))
	return g, err
}

// AdmitWithFallback tries t and then each lower tier of its fallback chain,
// returning the first grant. When every tier is exhausted the returned
// *ExhaustionError carries the smallest RetryAfter seen.
func (c *Controller) AdmitWithFallback(ctx context.Context, t tier.Tier, estimatedTokens int64) (*Grant, error) {
	ctx, span := c.tracer.Start(ctx, "admission.admit_with_fallback")
	defer span.End()
	tracing.SetAdmissionRequest(span, string(t), estimatedTokens)

	start := time.Now()
	g, err := c.admitChain(ctx, t, estimatedTokens)
	c.observe(ctx, t, estimatedTokens, g, err, time.Since(start))
	return g, err
}

func (c *Controller) admitChain(ctx context.Context, t tier.Tier, est int64) (*Grant, error) {
	chain := c.registry.FallbackChain(t)
	if len(chain) == 0 {
		if _, err := c.registry.Limits(t); err != nil {
			return nil, err
		}
		chain = []tier.Tier{t}
	}

	var best *ExhaustionError
	var lastErr error
	for i, step := range chain {
		g, err := c.admitTier(ctx, step, est)
		if err == nil {
			g.RequestedTier = t
			g.FallbackCount = i
			return g, nil
		}

		var ex *ExhaustionError
		switch {
		case errors.As(err, &ex):
			if best == nil || ex.RetryAfter < best.RetryAfter {
				best = ex
			}
			lastErr = err
		case errors.Is(err, ErrEstimateTooLarge):
			lastErr = err
		default:
			return nil, err
		}
		c.logger.DebugContext(ctx, "fallback step failed", "tier", step, "error", err)
	}

	if best == nil {
		return nil, lastErr
	}
	return nil, &ExhaustionError{
		Tier:       t,
		RetryAfter: best.RetryAfter,
		Reason:     fmt.Sprintf("all %d tiers of the fallback chain exhausted", len(chain)),
	}
}

func (c *Controller) admitTier(ctx context.Context, t tier.Tier, est int64) (*Grant, error) {
	limits, err := c.registry.Limits(t)
	if err != nil {
		return nil, err
	}
	if est < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEstimate, est)
	}
	if est > limits.TPM {
		return nil, fmt.Errorf("%w: %d > %d for tier %s", ErrEstimateTooLarge, est, limits.TPM, t)
	}

	policy := c.vault.RetryPolicy()
	conflicts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		creds, err := vault.Retry(ctx, policy, func() ([]*vault.Credential, error) {
			return c.store.ListByTier(ctx, t)
		})
		if err != nil {
			return nil, fmt.Errorf("list credentials for tier %s: %w", t, err)
		}

		now := c.now()
		creds, err = c.reclaim(ctx, creds, now)
		if err != nil {
			return nil, err
		}

		candidates := eligible(creds, limits, est, now)
		if len(candidates) == 0 {
			return nil, exhaustion(t, creds, limits, est, now)
		}

		cand := candidates[0]
		material, err := c.vault.Unseal(cand)
		if err != nil {
			c.disable(ctx, cand, err)
			return nil, err
		}

		next := reserve(cand, limits, est)
		next.UpdatedAt = now
		ok, err := vault.Retry(ctx, policy, func() (bool, error) {
			return c.store.CompareAndSwap(ctx, next, cand.Version)
		})
		if err != nil && !errors.Is(err, vault.ErrNotFound) {
			return nil, fmt.Errorf("reserve on credential %s: %w", cand.ID, err)
		}
		if ok {
			return c.grant(ctx, next, est, now, material)
		}

		conflicts++
		c.metrics.RecordCASConflict(string(t))
		if conflicts >= c.maxRetries {
			return nil, &ExhaustionError{
				Tier:       t,
				RetryAfter: time.Second,
				Reason:     fmt.Sprintf("lost %d reservation races", conflicts),
			}
		}
	}
}

// reclaim restarts stale windows of active credentials and persists them.
// When another writer got there first the credential is re-read and
// reclaimed in memory; the reservation CAS then persists it.
func (c *Controller) reclaim(ctx context.Context, creds []*vault.Credential, now time.Time) ([]*vault.Credential, error) {
	policy := c.vault.RetryPolicy()
	out := make([]*vault.Credential, 0, len(creds))

	for _, cred := range creds {
		if cred.Status != vault.StatusActive || !window.Stale(cred.Usage, now) {
			out = append(out, cred)
			continue
		}

		next := cred.Clone()
		next.Usage, _ = window.Reclaim(next.Usage, now)
		next.UpdatedAt = now

		ok, err := vault.Retry(ctx, policy, func() (bool, error) {
			return c.store.CompareAndSwap(ctx, next, cred.Version)
		})
		if errors.Is(err, vault.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reclaim credential %s: %w", cred.ID, err)
		}
		if ok {
			out = append(out, next)
			continue
		}

		fresh, err := vault.Retry(ctx, policy, func() (*vault.Credential, error) {
			return c.store.Get(ctx, cred.ID)
		})
		if errors.Is(err, vault.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reload credential %s: %w", cred.ID, err)
		}
		fresh.Usage, _ = window.Reclaim(fresh.Usage, now)
		out = append(out, fresh)
	}

	return out, nil
}

func (c *Controller) grant(ctx context.Context, cred *vault.Credential, est int64, now time.Time, material []byte) (*Grant, error) {
	res := &vault.Reservation{
		ID:              uuid.NewString(),
		CredentialID:    cred.ID,
		Tier:            cred.Tier,
		EstimatedTokens: est,
		AdmittedAt:      now,
	}
	_, err := vault.Retry(ctx, c.vault.RetryPolicy(), func() (struct{}, error) {
		return struct{}{}, c.store.PutReservation(ctx, res)
	})
	if err != nil {
		// The charge stays on the credential until its minute window closes.
		c.logger.ErrorContext(ctx, "failed to persist reservation",
			"credential_id", cred.ID,
			"estimated_tokens", est,
			"error", err,
		)
		return nil, fmt.Errorf("persist reservation: %w", err)
	}

	return &Grant{
		CredentialID:    cred.ID,
		Tier:            cred.Tier,
		RequestedTier:   cred.Tier,
		Material:        material,
		ReservationID:   res.ID,
		EstimatedTokens: est,
		AdmittedAt:      now,
	}, nil
}

// disable takes a credential with unreadable material out of rotation.
func (c *Controller) disable(ctx context.Context, cred *vault.Credential, cause error) {
	c.logger.ErrorContext(ctx, "sealed material failed integrity check, disabling credential",
		"credential_id", cred.ID,
		"tier", cred.Tier,
		"error", cause,
	)

	if _, err := c.vault.SetStatus(ctx, cred.ID, vault.StatusDisabled); err != nil {
		c.logger.ErrorContext(ctx, "failed to disable credential", "credential_id", cred.ID, "error", err)
		return
	}

	c.metrics.RecordCredentialTransition(string(cred.Tier), string(vault.StatusDisabled))
	c.record(ctx, &ledger.Event{
		Kind:         ledger.KindCredentialDisabled,
		Tier:         string(cred.Tier),
		CredentialID: cred.ID,
		Detail:       "seal integrity failure",
	})
}

func (c *Controller) observe(ctx context.Context, requested tier.Tier, est int64, g *Grant, err error, d time.Duration) {
	event := &ledger.Event{
		RequestID:       logging.GetRequestID(ctx),
		RequestedTier:   string(requested),
		EstimatedTokens: est,
	}
	span := tracing.SpanFromContext(ctx)

	var ex *ExhaustionError
	switch {
	case err == nil:
		result := metrics.ResultAdmitted
		event.Kind = ledger.KindAdmitted
		if g.FallbackCount > 0 {
			result = metrics.ResultFallback
			event.Kind = ledger.KindFallback
			c.metrics.RecordFallback(string(requested), string(g.Tier))
		}
		c.metrics.RecordAdmission(string(requested), result, d)
		c.metrics.RecordReservedTokens(string(g.Tier), est)

		event.Tier = string(g.Tier)
		event.CredentialID = g.CredentialID
		event.ReservationID = g.ReservationID
		event.FallbackCount = g.FallbackCount
		event.Time = g.AdmittedAt
		tracing.SetGrant(span, event.Tier, g.CredentialID, g.ReservationID, g.FallbackCount)
		tracing.SetStatus(span, nil)
		c.logger.DebugContext(ctx, "admitted", "grant", g)

	case errors.As(err, &ex):
		c.metrics.RecordAdmission(string(requested), metrics.ResultExhausted, d)
		event.Kind = ledger.KindExhausted
		event.Tier = string(ex.Tier)
		event.RetryAfter = ex.RetryAfter
		event.Detail = ex.Reason
		tracing.SetExhausted(span, event.Tier, int(ex.RetryAfterSeconds()))
		c.logger.InfoContext(ctx, "admission exhausted",
			"tier", requested,
			"retry_after_seconds", ex.RetryAfterSeconds(),
			"reason", ex.Reason,
		)

	default:
		c.metrics.RecordAdmission(string(requested), metrics.ResultError, d)
		tracing.SetStatus(span, err)
		c.logger.WarnContext(ctx, "admission failed", "tier", requested, "error", err)
		return
	}

	c.record(ctx, event)
}

func (c *Controller) record(ctx context.Context, e *ledger.Event) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Record(ctx, e); err != nil {
		c.logger.WarnContext(ctx, "failed to record ledger event", "kind", e.Kind, "error", err)
	}
}

// eligible returns the credentials that can take est tokens now, best first.
func eligible(creds []*vault.Credential, limits tier.Limits, est int64, now time.Time) []*vault.Credential {
	var out []*vault.Credential
	for _, cred := range creds {
		if cred.Status != vault.StatusActive || cred.CoolingDown(now) {
			continue
		}
		u := cred.Usage
		if !limits.TPMAllows(u.TPMUsed, est) || !limits.RPMAllows(u.RPMUsed) || !limits.RPDAllows(u.RPDUsed) {
			continue
		}
		out = append(out, cred)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Usage.TPMUsed != b.Usage.TPMUsed {
			return a.Usage.TPMUsed < b.Usage.TPMUsed
		}
		return a.ID < b.ID
	})
	return out
}

// reserve returns a copy of cred charged with one request of est tokens.
// Request counters only move on bounded axes.
func reserve(cred *vault.Credential, limits tier.Limits, est int64) *vault.Credential {
	next := cred.Clone()
	if limits.RPM != nil {
		next.Usage.RPMUsed++
	}
	if limits.RPD != nil {
		next.Usage.RPDUsed++
	}
	next.Usage.TPMUsed += est
	return next
}

// exhaustion builds the error for a tier with no eligible credential.
// RetryAfter is the soonest moment any active credential regains capacity.
func exhaustion(t tier.Tier, creds []*vault.Credential, limits tier.Limits, est int64, now time.Time) *ExhaustionError {
	var (
		best   time.Duration
		found  bool
		reason string
	)

	for _, cred := range creds {
		if cred.Status != vault.StatusActive {
			continue
		}
		u := cred.Usage

		var wait time.Duration
		var why string
		if !limits.RPDAllows(u.RPDUsed) {
			wait = window.DayRemaining(u, now)
			why = "daily request limit reached"
		}
		if !limits.RPMAllows(u.RPMUsed) || !limits.TPMAllows(u.TPMUsed, est) {
			if d := window.MinuteRemaining(u, now); d > wait {
				wait = d
			}
			if why == "" {
				why = "minute limit reached"
			}
		}
		if cred.CoolingDown(now) {
			if d := cred.CooldownUntil.Sub(now); d > wait {
				wait = d
			}
			if why == "" {
				why = "provider cooldown"
			}
		}

		if !found || wait < best {
			best, reason, found = wait, why, true
		}
	}

	if !found {
		return &ExhaustionError{Tier: t, RetryAfter: window.Minute, Reason: "no active credentials"}
	}
	return &ExhaustionError{Tier: t, RetryAfter: best, Reason: reason}
}
