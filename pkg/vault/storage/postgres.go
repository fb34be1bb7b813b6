package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

const postgresBackend = "postgres"

// PostgresStore implements vault.Store on PostgreSQL.
type PostgresStore struct {
	pool        *pgxpool.Pool
	tablePrefix string
	ownsPool    bool
}

var _ vault.Store = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTablePrefix sets the table name prefix (default "keygate_").
func WithTablePrefix(prefix string) PostgresOption {
	return func(s *PostgresStore) { s.tablePrefix = prefix }
}

// NewPostgresStore wraps an existing pool. The caller keeps ownership of it.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		pool:        pool,
		tablePrefix: "keygate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenPostgresStore connects to dsn, ensures the schema and returns a store
// that closes the pool on Close.
func OpenPostgresStore(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := NewPostgresStore(pool, opts...)
	s.ownsPool = true
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) credentialsTable() string  { return s.tablePrefix + "credentials" }
func (s *PostgresStore) reservationsTable() string { return s.tablePrefix + "reservations" }

// EnsureSchema creates the required tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			sealed_material TEXT NOT NULL,
			priority BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			rpm_used BIGINT NOT NULL DEFAULT 0,
			tpm_used BIGINT NOT NULL DEFAULT 0,
			rpd_used BIGINT NOT NULL DEFAULT 0,
			minute_window_start BIGINT NOT NULL DEFAULT 0,
			day_window_start BIGINT NOT NULL DEFAULT 0,
			total_requests BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			consecutive_failures BIGINT NOT NULL DEFAULT 0,
			cooldown_until BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_tier_idx ON %[1]s (tier);
		CREATE TABLE IF NOT EXISTS %[2]s (
			id TEXT PRIMARY KEY,
			credential_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			estimated_tokens BIGINT NOT NULL,
			admitted_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[2]s_admitted_at_idx ON %[2]s (admitted_at);
	`, s.credentialsTable(), s.reservationsTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return s.wrap("ensure schema", err)
	}
	return nil
}

// Create inserts a credential.
func (s *PostgresStore) Create(ctx context.Context, c *vault.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.credentialsTable(), credentialColumns)
	if _, err := s.pool.Exec(ctx, q, credentialValues(c, 1)...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return vault.ErrAlreadyExists
		}
		return s.wrap("create", err)
	}
	c.Version = 1
	return nil
}

// Get returns one credential.
func (s *PostgresStore) Get(ctx context.Context, id string) (*vault.Credential, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, credentialColumns, s.credentialsTable())
	c, err := scanCredential(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return c, nil
}

// List returns all credentials.
func (s *PostgresStore) List(ctx context.Context) ([]*vault.Credential, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, credentialColumns, s.credentialsTable())
	return s.query(ctx, "list", q)
}

// ListByTier returns the credentials of t.
func (s *PostgresStore) ListByTier(ctx context.Context, t tier.Tier) ([]*vault.Credential, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE tier = $1 ORDER BY id`, credentialColumns, s.credentialsTable())
	return s.query(ctx, "list by tier", q, string(t))
}

func (s *PostgresStore) query(ctx context.Context, op, q string, args ...any) ([]*vault.Credential, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var out []*vault.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, s.wrap(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(op, err)
	}
	return out, nil
}

// CompareAndSwap writes next if the stored version equals expectedVersion.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, next *vault.Credential, expectedVersion int64) (bool, error) {
	if err := validateCredential(next); err != nil {
		return false, err
	}

	q := fmt.Sprintf(`UPDATE %s SET
		tier = $1, sealed_material = $2, priority = $3, status = $4,
		rpm_used = $5, tpm_used = $6, rpd_used = $7, minute_window_start = $8, day_window_start = $9,
		total_requests = $10, total_tokens = $11, consecutive_failures = $12, cooldown_until = $13,
		version = $14, label = $15, updated_at = $16
		WHERE id = $17 AND version = $18`, s.credentialsTable())

	tag, err := s.pool.Exec(ctx, q,
		string(next.Tier), next.SealedMaterial, next.Priority, string(next.Status),
		next.Usage.RPMUsed, next.Usage.TPMUsed, next.Usage.RPDUsed,
		toNanos(next.Usage.MinuteWindowStart), toNanos(next.Usage.DayWindowStart),
		next.Usage.TotalRequests, next.Usage.TotalTokens, next.ConsecutiveFailures,
		toNanos(next.CooldownUntil), expectedVersion+1, next.Label, toNanos(next.UpdatedAt),
		next.ID, expectedVersion,
	)
	if err != nil {
		return false, s.wrap("compare and swap", err)
	}
	if tag.RowsAffected() == 1 {
		next.Version = expectedVersion + 1
		return true, nil
	}

	var exists bool
	q = fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.credentialsTable())
	if err := s.pool.QueryRow(ctx, q, next.ID).Scan(&exists); err != nil {
		return false, s.wrap("compare and swap", err)
	}
	if !exists {
		return false, vault.ErrNotFound
	}
	return false, nil
}

// PutReservation stores a reservation.
func (s *PostgresStore) PutReservation(ctx context.Context, r *vault.Reservation) error {
	if err := validateReservation(r); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			credential_id = EXCLUDED.credential_id,
			tier = EXCLUDED.tier,
			estimated_tokens = EXCLUDED.estimated_tokens,
			admitted_at = EXCLUDED.admitted_at`, s.reservationsTable(), reservationColumns)
	_, err := s.pool.Exec(ctx, q, r.ID, r.CredentialID, string(r.Tier), r.EstimatedTokens, toNanos(r.AdmittedAt))
	if err != nil {
		return s.wrap("put reservation", err)
	}
	return nil
}

// TakeReservation deletes and returns a reservation.
func (s *PostgresStore) TakeReservation(ctx context.Context, id string) (*vault.Reservation, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING %s`, s.reservationsTable(), reservationColumns)
	r, err := scanReservation(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vault.ErrReservationNotFound
	}
	if err != nil {
		return nil, s.wrap("take reservation", err)
	}
	return r, nil
}

// ExpiredReservations lists reservations admitted before the cutoff.
func (s *PostgresStore) ExpiredReservations(ctx context.Context, before time.Time) ([]*vault.Reservation, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE admitted_at < $1 ORDER BY admitted_at`,
		reservationColumns, s.reservationsTable())
	rows, err := s.pool.Query(ctx, q, before.UnixNano())
	if err != nil {
		return nil, s.wrap("expired reservations", err)
	}
	defer rows.Close()

	var out []*vault.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, s.wrap("expired reservations", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("expired reservations", err)
	}
	return out, nil
}

// Close closes the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) wrap(op string, err error) error {
	return vault.NewStoreError(postgresBackend, op, err, isPostgresTransient(err))
}

func isPostgresTransient(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P03", "08000", "08003", "08006":
			return true
		}
	}
	return false
}
