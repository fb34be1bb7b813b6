// Package storage provides ledger storage backends.
//
// SQLiteStorage (github.com/mattn/go-sqlite3) is the production backend; it
// runs in WAL mode with a small connection pool and stores event times as
// Unix nanoseconds so range filters and ordering stay index friendly.
// MemoryStorage keeps events in a slice and is used by tests and by
// deployments that run with the ledger backend set to "memory".
package storage
