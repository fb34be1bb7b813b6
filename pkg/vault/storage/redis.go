package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

const redisBackend = "redis"

// RedisStore implements vault.Store on Redis.
//
// Each credential is a hash holding its version and a JSON document. Writes
// run as Lua scripts that check the version field before replacing the
// document, so concurrent writers across hosts never overwrite each other.
type RedisStore struct {
	client    goredis.Cmdable
	keyPrefix string
	closer    io.Closer
}

var _ vault.Store = (*RedisStore)(nil)

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "keygate:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// NewRedisStore wraps a connected client. Close closes the client when it
// implements io.Closer.
func NewRedisStore(client goredis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "keygate:",
	}
	if c, ok := client.(io.Closer); ok {
		s.closer = c
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) credKey(id string) string   { return s.keyPrefix + "cred:" + id }
func (s *RedisStore) idsKey() string             { return s.keyPrefix + "ids" }
func (s *RedisStore) tierKey(t tier.Tier) string { return s.keyPrefix + "tier:" + string(t) }
func (s *RedisStore) resKey(id string) string    { return s.keyPrefix + "res:" + id }
func (s *RedisStore) resIndexKey() string        { return s.keyPrefix + "res:index" }

// createScript inserts a credential if absent.
// KEYS[1] = credential hash, KEYS[2] = id set, KEYS[3] = tier set
// ARGV[1] = id, ARGV[2] = document
// Returns 1 on insert, 0 if the id exists.
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "version", "1", "data", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`)

// casScript replaces the document if the version matches.
// KEYS[1] = credential hash
// ARGV[1] = expected version, ARGV[2] = document
// Returns 1 on success, 0 on version mismatch, -1 if the credential is missing.
var casScript = goredis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if not current then
    return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
    return 0
end
redis.call("HSET", KEYS[1], "version", tostring(tonumber(ARGV[1]) + 1), "data", ARGV[2])
return 1
`)

// takeScript removes a reservation and returns its document.
// KEYS[1] = reservation key, KEYS[2] = reservation index
// ARGV[1] = reservation id
var takeScript = goredis.NewScript(`
local doc = redis.call("GET", KEYS[1])
if not doc then
    return false
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return doc
`)

type credentialDoc struct {
	ID                  string `json:"id"`
	Tier                string `json:"tier"`
	SealedMaterial      string `json:"sealed_material"`
	Priority            int    `json:"priority"`
	Status              string `json:"status"`
	RPMUsed             int64  `json:"rpm_used"`
	TPMUsed             int64  `json:"tpm_used"`
	RPDUsed             int64  `json:"rpd_used"`
	MinuteWindowStart   int64  `json:"minute_window_start"`
	DayWindowStart      int64  `json:"day_window_start"`
	TotalRequests       int64  `json:"total_requests"`
	TotalTokens         int64  `json:"total_tokens"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	CooldownUntil       int64  `json:"cooldown_until"`
	Label               string `json:"label"`
	CreatedAt           int64  `json:"created_at"`
	UpdatedAt           int64  `json:"updated_at"`
}

type reservationDoc struct {
	ID              string `json:"id"`
	CredentialID    string `json:"credential_id"`
	Tier            string `json:"tier"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	AdmittedAt      int64  `json:"admitted_at"`
}

func encodeCredential(c *vault.Credential) (string, error) {
	b, err := json.Marshal(credentialDoc{
		ID:                  c.ID,
		Tier:                string(c.Tier),
		SealedMaterial:      c.SealedMaterial,
		Priority:            c.Priority,
		Status:              string(c.Status),
		RPMUsed:             c.Usage.RPMUsed,
		TPMUsed:             c.Usage.TPMUsed,
		RPDUsed:             c.Usage.RPDUsed,
		MinuteWindowStart:   toNanos(c.Usage.MinuteWindowStart),
		DayWindowStart:      toNanos(c.Usage.DayWindowStart),
		TotalRequests:       c.Usage.TotalRequests,
		TotalTokens:         c.Usage.TotalTokens,
		ConsecutiveFailures: c.ConsecutiveFailures,
		CooldownUntil:       toNanos(c.CooldownUntil),
		Label:               c.Label,
		CreatedAt:           toNanos(c.CreatedAt),
		UpdatedAt:           toNanos(c.UpdatedAt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential %s: %w", c.ID, err)
	}
	return string(b), nil
}

func decodeCredential(data string, version int64) (*vault.Credential, error) {
	var d credentialDoc
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &vault.Credential{
		ID:             d.ID,
		Tier:           tier.Tier(d.Tier),
		SealedMaterial: d.SealedMaterial,
		Priority:       d.Priority,
		Status:         vault.Status(d.Status),
		Usage: vault.Usage{
			RPMUsed:           d.RPMUsed,
			TPMUsed:           d.TPMUsed,
			RPDUsed:           d.RPDUsed,
			MinuteWindowStart: fromNanos(d.MinuteWindowStart),
			DayWindowStart:    fromNanos(d.DayWindowStart),
			TotalRequests:     d.TotalRequests,
			TotalTokens:       d.TotalTokens,
		},
		ConsecutiveFailures: d.ConsecutiveFailures,
		CooldownUntil:       fromNanos(d.CooldownUntil),
		Version:             version,
		Label:               d.Label,
		CreatedAt:           fromNanos(d.CreatedAt),
		UpdatedAt:           fromNanos(d.UpdatedAt),
	}, nil
}

// Create inserts a credential.
func (s *RedisStore) Create(ctx context.Context, c *vault.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	doc, err := encodeCredential(c)
	if err != nil {
		return err
	}
	res, err := createScript.Run(ctx, s.client,
		[]string{s.credKey(c.ID), s.idsKey(), s.tierKey(c.Tier)},
		c.ID, doc,
	).Int64()
	if err != nil {
		return s.wrap("create", err)
	}
	if res == 0 {
		return vault.ErrAlreadyExists
	}
	c.Version = 1
	return nil
}

// Get returns one credential.
func (s *RedisStore) Get(ctx context.Context, id string) (*vault.Credential, error) {
	vals, err := s.client.HMGet(ctx, s.credKey(id), "version", "data").Result()
	if err != nil {
		return nil, s.wrap("get", err)
	}
	c, err := credentialFromFields(vals)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, vault.ErrNotFound
	}
	return c, nil
}

func credentialFromFields(vals []any) (*vault.Credential, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	versionStr, _ := vals[0].(string)
	data, _ := vals[1].(string)
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stored version %q: %w", versionStr, err)
	}
	return decodeCredential(data, version)
}

// List returns all credentials.
func (s *RedisStore) List(ctx context.Context) ([]*vault.Credential, error) {
	return s.listSet(ctx, "list", s.idsKey())
}

// ListByTier returns the credentials of t.
func (s *RedisStore) ListByTier(ctx context.Context, t tier.Tier) ([]*vault.Credential, error) {
	return s.listSet(ctx, "list by tier", s.tierKey(t))
}

func (s *RedisStore) listSet(ctx context.Context, op, setKey string) ([]*vault.Credential, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, s.wrap(op, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.credKey(id), "version", "data")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, s.wrap(op, err)
	}

	out := make([]*vault.Credential, 0, len(ids))
	for _, cmd := range cmds {
		c, err := credentialFromFields(cmd.Val())
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// CompareAndSwap writes next if the stored version equals expectedVersion.
func (s *RedisStore) CompareAndSwap(ctx context.Context, next *vault.Credential, expectedVersion int64) (bool, error) {
	if err := validateCredential(next); err != nil {
		return false, err
	}
	doc, err := encodeCredential(next)
	if err != nil {
		return false, err
	}
	res, err := casScript.Run(ctx, s.client, []string{s.credKey(next.ID)}, expectedVersion, doc).Int64()
	if err != nil {
		return false, s.wrap("compare and swap", err)
	}
	switch res {
	case 1:
		next.Version = expectedVersion + 1
		return true, nil
	case 0:
		return false, nil
	case -1:
		return false, vault.ErrNotFound
	default:
		return false, fmt.Errorf("unexpected compare and swap result: %d", res)
	}
}

// PutReservation stores a reservation.
func (s *RedisStore) PutReservation(ctx context.Context, r *vault.Reservation) error {
	if err := validateReservation(r); err != nil {
		return err
	}
	b, err := json.Marshal(reservationDoc{
		ID:              r.ID,
		CredentialID:    r.CredentialID,
		Tier:            string(r.Tier),
		EstimatedTokens: r.EstimatedTokens,
		AdmittedAt:      toNanos(r.AdmittedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reservation %s: %w", r.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.resKey(r.ID), b, 0)
	pipe.ZAdd(ctx, s.resIndexKey(), goredis.Z{Score: float64(r.AdmittedAt.UnixMilli()), Member: r.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrap("put reservation", err)
	}
	return nil
}

// TakeReservation deletes and returns a reservation.
func (s *RedisStore) TakeReservation(ctx context.Context, id string) (*vault.Reservation, error) {
	doc, err := takeScript.Run(ctx, s.client, []string{s.resKey(id), s.resIndexKey()}, id).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, vault.ErrReservationNotFound
	}
	if err != nil {
		return nil, s.wrap("take reservation", err)
	}
	return decodeReservation(doc)
}

func decodeReservation(doc string) (*vault.Reservation, error) {
	var d reservationDoc
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reservation: %w", err)
	}
	return &vault.Reservation{
		ID:              d.ID,
		CredentialID:    d.CredentialID,
		Tier:            tier.Tier(d.Tier),
		EstimatedTokens: d.EstimatedTokens,
		AdmittedAt:      fromNanos(d.AdmittedAt),
	}, nil
}

// ExpiredReservations lists reservations admitted before the cutoff.
func (s *RedisStore) ExpiredReservations(ctx context.Context, before time.Time) ([]*vault.Reservation, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.resIndexKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, s.wrap("expired reservations", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.resKey(id)
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.wrap("expired reservations", err)
	}

	out := make([]*vault.Reservation, 0, len(docs))
	for _, d := range docs {
		doc, ok := d.(string)
		if !ok {
			// Taken between the index read and the fetch.
			continue
		}
		r, err := decodeReservation(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Close closes the client if it is closable.
func (s *RedisStore) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *RedisStore) wrap(op string, err error) error {
	return vault.NewStoreError(redisBackend, op, err, isRedisTransient(err))
}

func isRedisTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "TRYAGAIN", "CLUSTERDOWN", "BUSY", "MASTERDOWN"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
