package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the ledger schema.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    event_time INTEGER NOT NULL,

    request_id TEXT,
    requested_tier TEXT,
    tier TEXT,
    credential_id TEXT,
    reservation_id TEXT,

    estimated_tokens INTEGER NOT NULL DEFAULT 0,
    actual_tokens INTEGER NOT NULL DEFAULT 0,
    fallback_count INTEGER NOT NULL DEFAULT 0,
    retry_after_ns INTEGER NOT NULL DEFAULT 0,
    succeeded BOOLEAN NOT NULL DEFAULT 0,
    detail TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_event_time ON ledger_events(event_time);
CREATE INDEX IF NOT EXISTS idx_ledger_kind ON ledger_events(kind);
CREATE INDEX IF NOT EXISTS idx_ledger_tier ON ledger_events(tier);
CREATE INDEX IF NOT EXISTS idx_ledger_credential_id ON ledger_events(credential_id);
CREATE INDEX IF NOT EXISTS idx_ledger_reservation_id ON ledger_events(reservation_id);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const eventColumns = `id, kind, event_time, request_id, requested_tier, tier, credential_id, reservation_id,
    estimated_tokens, actual_tokens, fallback_count, retry_after_ns, succeeded, detail`
