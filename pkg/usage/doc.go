// Package usage settles admitted requests against the credential vault and
// keeps the pool healthy between requests.
//
// The Recorder reconciles a reservation with the provider's actual token
// count, tracks consecutive failures and applies provider cooldowns. The
// Sweeper reclaims stale windows of every credential, closes reservations
// whose callers never reported back and recomputes the per-tier summaries
// published as metrics. The Scheduler runs the sweep and the ledger
// retention prune on cron schedules.
//
// Every credential write goes through the vault's compare-and-swap loop, so
// recorders and sweeps running in several processes never lose an update.
package usage
