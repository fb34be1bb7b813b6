// Package vault holds the pool of upstream provider credentials and the
// persistence contract every backend must honour.
//
// # Overview
//
// A Credential carries its sealed key material, its tier, a selection
// priority and the live usage counters for the three rate limit axes. The
// counters are shared by every process that admits requests against the
// pool, so all writes go through Store.CompareAndSwap: a write succeeds only
// if the stored Version still equals the version the writer read. Losing a
// race is not an error; the caller re-reads and decides again.
//
// Reservations record the token estimate charged at admission so that the
// completion (or the periodic sweep) can reconcile it exactly once.
//
// # Backends
//
// Implementations live in package vault/storage: an in-process memory store,
// SQLite, PostgreSQL and Redis.
//
// # Errors
//
// Stores report infrastructure failures as *StoreError. Transient failures
// (busy database, dropped connection) are retried with Retry; everything else
// is returned to the caller. Seal failures on stored material surface as
// *SealError.
package vault
