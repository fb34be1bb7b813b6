package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campuscore/keygate/pkg/tier"
)

// Sealer opens and closes credential material.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Unseal(sealed string) ([]byte, error)
}

// Vault couples a Store with the Sealer protecting the stored material.
type Vault struct {
	store  Store
	sealer Sealer
	retry  RetryPolicy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithRetryPolicy sets the transient error retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(v *Vault) { v.retry = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New creates a Vault.
func New(store Store, sealer Sealer, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		sealer: sealer,
		retry:  DefaultRetryPolicy,
		now:    time.Now,
		logger: slog.Default().With("component", "vault"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store returns the underlying store.
func (v *Vault) Store() Store {
	return v.store
}

// RetryPolicy returns the transient error retry policy.
func (v *Vault) RetryPolicy() RetryPolicy {
	return v.retry
}

// Unseal opens the material of c. Failures are reported as *SealError.
func (v *Vault) Unseal(c *Credential) ([]byte, error) {
	material, err := v.sealer.Unseal(c.SealedMaterial)
	if err != nil {
		return nil, &SealError{CredentialID: c.ID, Err: err}
	}
	return material, nil
}

// ProvisionRequest describes a credential to add to the pool.
type ProvisionRequest struct {
	ID       string
	Tier     tier.Tier
	Material []byte
	Priority int
	Label    string
}

// Provision seals the material and stores a new active credential.
func (v *Vault) Provision(ctx context.Context, req ProvisionRequest) (*Credential, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("credential id cannot be empty")
	}
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", tier.ErrUnknownTier, req.Tier)
	}
	if len(req.Material) == 0 {
		return nil, fmt.Errorf("credential material cannot be empty")
	}

	sealed, err := v.sealer.Seal(req.Material)
	if err != nil {
		return nil, fmt.Errorf("seal material: %w", err)
	}

	now := v.now()
	c := &Credential{
		ID:             req.ID,
		Tier:           req.Tier,
		SealedMaterial: sealed,
		Priority:       req.Priority,
		Status:         StatusActive,
		Usage: Usage{
			MinuteWindowStart: now,
			DayWindowStart:    now,
		},
		Label:     req.Label,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = Retry(ctx, v.retry, func() (struct{}, error) {
		return struct{}{}, v.store.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	v.logger.Info("credential provisioned", "credential", c.ID, "tier", c.Tier, "priority", c.Priority)
	return c, nil
}

// Update applies mutate to the credential with the given ID and persists the
// result with compare-and-swap, re-reading on conflict. mutate may be called
// several times and must only depend on its argument. Returning false from
// mutate skips the write.
func (v *Vault) Update(ctx context.Context, id string, mutate func(c *Credential) bool) (*Credential, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, err := Retry(ctx, v.retry, func() (*Credential, error) {
			return v.store.Get(ctx, id)
		})
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if !mutate(next) {
			return current, nil
		}
		next.UpdatedAt = v.now()

		ok, err := Retry(ctx, v.retry, func() (bool, error) {
			return v.store.CompareAndSwap(ctx, next, current.Version)
		})
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
}

// SetStatus moves a credential to the given status.
func (v *Vault) SetStatus(ctx context.Context, id string, status Status) (*Credential, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid credential status %q", status)
	}
	c, err := v.Update(ctx, id, func(c *Credential) bool {
		if c.Status == status {
			return false
		}
		c.Status = status
		if status == StatusActive {
			c.ConsecutiveFailures = 0
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("credential status changed", "credential", id, "status", status)
	return c, nil
}

// Rotate replaces the sealed material of a credential and reactivates it.
func (v *Vault) Rotate(ctx context.Context, id string, material []byte) (*Credential, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("credential material cannot be empty")
	}
	sealed, err := v.sealer.Seal(material)
	if err != nil {
		return nil, fmt.Errorf("seal material: %w", err)
	}
	c, err := v.Update(ctx, id, func(c *Credential) bool {
		c.SealedMaterial = sealed
		c.Status = StatusActive
		c.ConsecutiveFailures = 0
		c.CooldownUntil = time.Time{}
		return true
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("credential material rotated", "credential", id)
	return c, nil
}
