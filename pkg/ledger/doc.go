// Package ledger records usage events for audit and observability.
//
// Every admission decision and every reconciled reservation produces an
// Event: which tier was asked for, which credential served it, how many
// tokens were reserved and how many were actually used. The ledger is
// append-only and is never read by admission.
//
// # Components
//
//   - storage: memory and SQLite backends implementing Storage
//   - recorder: an asynchronous Sink that buffers events and writes them in
//     the background so the admission path never waits on disk
//   - retention: age-based pruning, scheduled by the usage scheduler
//   - export: JSON and CSV output for the ledger query command
//
// # Usage
//
//	store, _ := storage.NewSQLiteStorage(&storage.SQLiteConfig{Path: "data/ledger.db"})
//	rec := recorder.New(store, recorder.Config{BufferSize: 1000})
//	defer rec.Close()
//
//	controller := admission.NewController(v, registry, admission.WithLedger(rec))
package ledger
