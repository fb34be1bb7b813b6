package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

const sqliteBackend = "sqlite"

// SQLiteStore implements vault.Store on a SQLite database file.
// The database runs in WAL mode; the WAL is checkpointed periodically.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once
	logger             *slog.Logger

	createStmt     *sql.Stmt
	getStmt        *sql.Stmt
	listStmt       *sql.Stmt
	listByTierStmt *sql.Stmt
	casStmt        *sql.Stmt
	existsStmt     *sql.Stmt
	putResStmt     *sql.Stmt
	takeResStmt    *sql.Stmt
	expiredResStmt *sql.Stmt
}

var _ vault.Store = (*SQLiteStore)(nil)

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens a SQLite store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig opens a SQLite store.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
		logger:             slog.Default().With("component", "vault.sqlite"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		sealed_material TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		rpm_used INTEGER NOT NULL DEFAULT 0,
		tpm_used INTEGER NOT NULL DEFAULT 0,
		rpd_used INTEGER NOT NULL DEFAULT 0,
		minute_window_start INTEGER NOT NULL DEFAULT 0,
		day_window_start INTEGER NOT NULL DEFAULT 0,
		total_requests INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		cooldown_until INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credentials_tier ON credentials(tier);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		credential_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		estimated_tokens INTEGER NOT NULL,
		admitted_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_admitted_at ON reservations(admitted_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	statements := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&s.createStmt, "create", `INSERT INTO credentials (` + credentialColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.getStmt, "get", `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`},
		{&s.listStmt, "list", `SELECT ` + credentialColumns + ` FROM credentials ORDER BY id`},
		{&s.listByTierStmt, "list by tier", `SELECT ` + credentialColumns + ` FROM credentials WHERE tier = ? ORDER BY id`},
		{&s.casStmt, "compare and swap", `UPDATE credentials SET
			tier = ?, sealed_material = ?, priority = ?, status = ?,
			rpm_used = ?, tpm_used = ?, rpd_used = ?, minute_window_start = ?, day_window_start = ?,
			total_requests = ?, total_tokens = ?, consecutive_failures = ?, cooldown_until = ?,
			version = ?, label = ?, updated_at = ?
			WHERE id = ? AND version = ?`},
		{&s.existsStmt, "exists", `SELECT 1 FROM credentials WHERE id = ?`},
		{&s.putResStmt, "put reservation", `INSERT INTO reservations (` + reservationColumns + `)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				credential_id = excluded.credential_id,
				tier = excluded.tier,
				estimated_tokens = excluded.estimated_tokens,
				admitted_at = excluded.admitted_at`},
		{&s.takeResStmt, "take reservation", `DELETE FROM reservations WHERE id = ? RETURNING ` + reservationColumns},
		{&s.expiredResStmt, "expired reservations", `SELECT ` + reservationColumns + `
			FROM reservations WHERE admitted_at < ? ORDER BY admitted_at`},
	}

	for _, st := range statements {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", st.name, err)
		}
		*st.dst = stmt
	}
	return nil
}

// Create inserts a credential.
func (s *SQLiteStore) Create(ctx context.Context, c *vault.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	if _, err := s.createStmt.ExecContext(ctx, credentialValues(c, 1)...); err != nil {
		if isSQLiteConstraint(err) {
			return vault.ErrAlreadyExists
		}
		return s.wrap("create", err)
	}
	c.Version = 1
	return nil
}

// Get returns one credential.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*vault.Credential, error) {
	c, err := scanCredential(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return c, nil
}

// List returns all credentials.
func (s *SQLiteStore) List(ctx context.Context) ([]*vault.Credential, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, s.wrap("list", err)
	}
	return s.collect("list", rows)
}

// ListByTier returns the credentials of t.
func (s *SQLiteStore) ListByTier(ctx context.Context, t tier.Tier) ([]*vault.Credential, error) {
	rows, err := s.listByTierStmt.QueryContext(ctx, string(t))
	if err != nil {
		return nil, s.wrap("list by tier", err)
	}
	return s.collect("list by tier", rows)
}

func (s *SQLiteStore) collect(op string, rows *sql.Rows) ([]*vault.Credential, error) {
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
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, next *vault.Credential, expectedVersion int64) (bool, error) {
	if err := validateCredential(next); err != nil {
		return false, err
	}

	res, err := s.casStmt.ExecContext(ctx,
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

	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("compare and swap", err)
	}
	if n == 1 {
		next.Version = expectedVersion + 1
		return true, nil
	}

	var one int
	err = s.existsStmt.QueryRowContext(ctx, next.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, vault.ErrNotFound
	}
	if err != nil {
		return false, s.wrap("compare and swap", err)
	}
	return false, nil
}

// PutReservation stores a reservation.
func (s *SQLiteStore) PutReservation(ctx context.Context, r *vault.Reservation) error {
	if err := validateReservation(r); err != nil {
		return err
	}
	_, err := s.putResStmt.ExecContext(ctx, r.ID, r.CredentialID, string(r.Tier), r.EstimatedTokens, toNanos(r.AdmittedAt))
	if err != nil {
		return s.wrap("put reservation", err)
	}
	return nil
}

// TakeReservation deletes and returns a reservation.
func (s *SQLiteStore) TakeReservation(ctx context.Context, id string) (*vault.Reservation, error) {
	r, err := scanReservation(s.takeResStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrReservationNotFound
	}
	if err != nil {
		return nil, s.wrap("take reservation", err)
	}
	return r, nil
}

// ExpiredReservations lists reservations admitted before the cutoff.
func (s *SQLiteStore) ExpiredReservations(ctx context.Context, before time.Time) ([]*vault.Reservation, error) {
	rows, err := s.expiredResStmt.QueryContext(ctx, before.UnixNano())
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

// Close stops the checkpoint loop and closes the database.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.createStmt, s.getStmt, s.listStmt, s.listByTierStmt, s.casStmt,
			s.existsStmt, s.putResStmt, s.takeResStmt, s.expiredResStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("final checkpoint failed", "error", err)
		}
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				s.logger.Warn("checkpoint failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *SQLiteStore) wrap(op string, err error) error {
	return vault.NewStoreError(sqliteBackend, op, err, isSQLiteBusy(err))
}

func isSQLiteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

func isSQLiteConstraint(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLITE_CONSTRAINT")
}
