// Package status serves per-caller quota snapshots from a process-local
// cache.
//
// A cache miss verifies the caller's identity (HS256 JWT or a remote
// identity endpoint), builds a snapshot of the tiers the caller may see and
// keeps its encoded form for the configured TTL. Fresh entries are served
// without another identity check. Concurrent misses for one caller share a
// single verification.
//
// Identity failures are split into ErrInvalidIdentity (the caller is not
// who it claims, never retried) and *UnavailableError (the identity service
// could not answer within the attempt budget).
package status
