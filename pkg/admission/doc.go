// Package admission decides which credential serves a request.
//
// Admit reclaims stale windows, filters the tier's credentials down to those
// with headroom on every axis, and reserves the request on the best one with
// a single compare-and-swap. No process-local lock is held across store I/O;
// concurrent callers, in this process or another, race on the credential
// version and the loser re-reads and reselects. After MaxRetries lost races
// the caller gets an *ExhaustionError, the same as when nothing has headroom.
//
// AdmitWithFallback walks the tier fallback chain (flagship, standard, fast,
// lite by default) and returns the first grant.
//
// Selection order among eligible credentials is priority ascending, then
// tokens used in the current minute ascending, then ID.
package admission
