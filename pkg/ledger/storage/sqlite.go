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

	_ "github.com/mattn/go-sqlite3"

	"campuscore/keygate/pkg/ledger"
)

const backendSQLite = "sqlite"

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 4
	MaxOpenConns int

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStorage implements ledger.Storage using SQLite.
type SQLiteStorage struct {
	db         *sql.DB
	config     SQLiteConfig
	insertStmt *sql.Stmt
	closeOnce  sync.Once
	logger     *slog.Logger
}

// NewSQLiteStorage opens (and if needed creates) a ledger database.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil || config.Path == "" {
		return nil, ledger.NewStorageError(backendSQLite, "open", errors.New("database path is required"))
	}
	cfg := *config
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "ledger.storage.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ledger.NewStorageError(backendSQLite, "mkdir", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, ledger.NewStorageError(backendSQLite, "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	s := &SQLiteStorage{db: db, config: cfg, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger storage initialized", "path", cfg.Path)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return ledger.NewStorageError(backendSQLite, "enable_wal", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return ledger.NewStorageError(backendSQLite, "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return ledger.NewStorageError(backendSQLite, "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return ledger.NewStorageError(backendSQLite, "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return ledger.NewStorageError(backendSQLite, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return ledger.NewStorageError(backendSQLite, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	stmt, err := s.db.Prepare(`INSERT INTO ledger_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ledger.NewStorageError(backendSQLite, "prepare", err)
	}
	s.insertStmt = stmt
	return nil
}

// Store persists an event.
func (s *SQLiteStorage) Store(ctx context.Context, e *ledger.Event) error {
	_, err := s.insertStmt.ExecContext(ctx,
		e.ID, string(e.Kind), e.Time.UnixNano(),
		nullString(e.RequestID), nullString(e.RequestedTier), nullString(e.Tier),
		nullString(e.CredentialID), nullString(e.ReservationID),
		e.EstimatedTokens, e.ActualTokens, e.FallbackCount, int64(e.RetryAfter), e.Succeeded,
		nullString(e.Detail),
	)
	if err != nil {
		return ledger.NewStorageError(backendSQLite, "store", err)
	}
	return nil
}

// Query retrieves events matching the query filters.
func (s *SQLiteStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Event, error) {
	where, args := buildWhereClause(q)

	sqlQuery := "SELECT " + eventColumns + " FROM ledger_events"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	order := "DESC"
	if q.SortOrder == "asc" {
		order = "ASC"
	}
	sqlQuery += fmt.Sprintf(" ORDER BY event_time %s, id %s", order, order)

	limit := q.Limit
	if limit <= 0 {
		limit = ledger.DefaultLimit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, ledger.NewStorageError(backendSQLite, "query", err)
	}
	defer rows.Close()

	events := []*ledger.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, ledger.NewStorageError(backendSQLite, "scan", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError(backendSQLite, "query", err)
	}
	return events, nil
}

// Count returns the number of events matching the query filters.
func (s *SQLiteStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	where, args := buildWhereClause(q)
	sqlQuery := "SELECT COUNT(*) FROM ledger_events"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, ledger.NewStorageError(backendSQLite, "count", err)
	}
	return count, nil
}

// Delete removes events matching the query filters.
func (s *SQLiteStorage) Delete(ctx context.Context, q *ledger.Query) (int64, error) {
	where, args := buildWhereClause(q)
	sqlQuery := "DELETE FROM ledger_events"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, ledger.NewStorageError(backendSQLite, "delete", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, ledger.NewStorageError(backendSQLite, "delete", err)
	}
	return n, nil
}

// Close releases resources held by the storage backend. It is safe to call
// more than once.
func (s *SQLiteStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.insertStmt != nil {
			s.insertStmt.Close()
		}
		if cerr := s.db.Close(); cerr != nil {
			err = ledger.NewStorageError(backendSQLite, "close", cerr)
			return
		}
		s.logger.Info("ledger storage closed")
	})
	return err
}

// buildWhereClause builds a WHERE clause (without the keyword) and its args.
func buildWhereClause(q *ledger.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.StartTime != nil {
		conditions = append(conditions, "event_time >= ?")
		args = append(args, q.StartTime.UnixNano())
	}
	if q.EndTime != nil {
		conditions = append(conditions, "event_time <= ?")
		args = append(args, q.EndTime.UnixNano())
	}
	if q.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Tier != "" {
		conditions = append(conditions, "tier = ?")
		args = append(args, q.Tier)
	}
	if q.CredentialID != "" {
		conditions = append(conditions, "credential_id = ?")
		args = append(args, q.CredentialID)
	}
	if q.ReservationID != "" {
		conditions = append(conditions, "reservation_id = ?")
		args = append(args, q.ReservationID)
	}

	return strings.Join(conditions, " AND "), args
}

func scanEvent(rows *sql.Rows) (*ledger.Event, error) {
	var (
		e                                   ledger.Event
		kind                                string
		eventTime, retryAfter               int64
		requestID, requestedTier, tier      sql.NullString
		credentialID, reservationID, detail sql.NullString
	)

	err := rows.Scan(
		&e.ID, &kind, &eventTime,
		&requestID, &requestedTier, &tier, &credentialID, &reservationID,
		&e.EstimatedTokens, &e.ActualTokens, &e.FallbackCount, &retryAfter, &e.Succeeded,
		&detail,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = ledger.EventKind(kind)
	e.Time = time.Unix(0, eventTime).UTC()
	e.RetryAfter = time.Duration(retryAfter)
	e.RequestID = requestID.String
	e.RequestedTier = requestedTier.String
	e.Tier = tier.String
	e.CredentialID = credentialID.String
	e.ReservationID = reservationID.String
	e.Detail = detail.String
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
