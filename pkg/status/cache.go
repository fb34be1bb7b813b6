package status

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"campuscore/keygate/pkg/telemetry/metrics"
)

const cacheName = "status"

// Config configures a Cache.
type Config struct {
	// TTL is how long a snapshot is served without a new identity check.
	// Default: 60s
	TTL time.Duration

	// MaxEntries triggers eviction of expired entries once exceeded.
	// Default: 1000
	MaxEntries int

	// MaxAttempts bounds identity check attempts per miss.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt. It doubles on
	// every further attempt.
	// Default: 500ms
	BaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 60 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	} else if c.BaseDelay == 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	return c
}

type entry struct {
	snapshot *Snapshot
	// digest is the sha256 of the token that was verified for snapshot.
	digest   string
	cachedAt time.Time
}

// Cache serves quota snapshots keyed by caller id. A cached snapshot is only
// served to the token it was verified with.
type Cache struct {
	config   Config
	verifier Verifier
	source   Source
	metrics  *metrics.Collector
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSleep overrides the wait between identity attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Cache) { c.sleep = sleep }
}

// NewCache creates a Cache.
func NewCache(cfg Config, verifier Verifier, source Source, opts ...Option) *Cache {
	c := &Cache{
		config:   cfg.withDefaults(),
		verifier: verifier,
		source:   source,
		now:      time.Now,
		sleep:    sleepContext,
		logger:   slog.Default().With("component", "status.cache"),
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetStatus returns the snapshot of callerID. A fresh snapshot cached for the
// same token is returned as is. Otherwise token is verified and must belong
// to callerID.
func (c *Cache) GetStatus(ctx context.Context, callerID, token string) (*Snapshot, error) {
	if callerID == "" {
		return nil, fmt.Errorf("%w: missing caller id", ErrInvalidIdentity)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidIdentity)
	}

	digest := tokenDigest(token)
	if s := c.lookup(callerID, digest); s != nil {
		c.metrics.RecordCacheHit(cacheName)
		return s, nil
	}
	c.metrics.RecordCacheMiss(cacheName)

	// Only requests carrying the same token share a flight. The load runs
	// detached from any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(callerID+"/"+digest, func() (interface{}, error) {
		if s := c.lookup(callerID, digest); s != nil {
			return s, nil
		}
		return c.load(loadCtx, callerID, token, digest)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Snapshot), nil
	}
}

// Invalidate drops the cached snapshot of callerID.
func (c *Cache) Invalidate(callerID string) {
	c.mu.Lock()
	delete(c.entries, callerID)
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.UpdateCacheSize(cacheName, size)
}

// Len returns the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(callerID, digest string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[callerID]
	if !ok || e.digest != digest || c.now().Sub(e.cachedAt) >= c.config.TTL {
		return nil
	}
	return e.snapshot
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) load(ctx context.Context, callerID, token, digest string) (*Snapshot, error) {
	id, err := c.verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if id.CallerID != callerID {
		c.metrics.RecordIdentityFailure("invalid")
		return nil, fmt.Errorf("%w: token belongs to another caller", ErrInvalidIdentity)
	}

	tiers, err := c.source.TierStatus(ctx, id.Tiers)
	if err != nil {
		return nil, fmt.Errorf("build status snapshot: %w", err)
	}

	now := c.now()
	s := &Snapshot{CallerID: callerID, GeneratedAt: now, Tiers: tiers}
	if s.Tiers == nil {
		s.Tiers = []TierStatus{}
	}
	s.encoded, err = json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode status snapshot: %w", err)
	}

	c.store(callerID, digest, s, now)
	return s, nil
}

// verify runs the identity check with up to MaxAttempts attempts, waiting
// BaseDelay*2^n after the n-th failure. Rejected identities stop at once.
func (c *Cache) verify(ctx context.Context, token string) (*Identity, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.config.BaseDelay << (attempt - 1)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		id, err := c.verifier.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrInvalidIdentity) {
			c.metrics.RecordIdentityFailure("invalid")
			return nil, err
		}

		lastErr = err
		c.logger.WarnContext(ctx, "identity check failed",
			"attempt", attempt+1,
			"max_attempts", c.config.MaxAttempts,
			"error", err,
		)
	}

	c.metrics.RecordIdentityFailure("unavailable")
	return nil, &UnavailableError{
		Attempts:   c.config.MaxAttempts,
		RetryAfter: c.config.BaseDelay << (c.config.MaxAttempts - 1),
		Err:        lastErr,
	}
}

func (c *Cache) store(callerID, digest string, s *Snapshot, now time.Time) {
	c.mu.Lock()
	c.entries[callerID] = &entry{snapshot: s, digest: digest, cachedAt: now}

	evicted := 0
	if len(c.entries) > c.config.MaxEntries {
		for k, e := range c.entries {
			if now.Sub(e.cachedAt) >= c.config.TTL {
				delete(c.entries, k)
				evicted++
			}
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if evicted > 0 {
		c.metrics.RecordCacheEvictions(cacheName, evicted)
		c.logger.Debug("evicted expired status entries", "evicted", evicted, "size", size)
	}
	c.metrics.UpdateCacheSize(cacheName, size)
}
