// Package storage provides vault.Store implementations.
//
// # Backends
//
//   - MemoryStore: process-local maps, for tests and single-process runs.
//   - SQLiteStore: a single SQLite file in WAL mode. Safe across processes
//     sharing the file.
//   - PostgresStore: a pgx connection pool. Safe across hosts.
//   - RedisStore: Redis hashes updated by Lua compare-and-set scripts.
//     Safe across hosts.
//
// Every backend implements CompareAndSwap as a single conditional write on
// the version column (or field), and TakeReservation as a single atomic
// delete-and-return, so no backend needs a lock held across calls.
package storage
