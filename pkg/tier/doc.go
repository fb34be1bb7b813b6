// Package tier defines the closed set of upstream capability tiers and the
// rate limits attached to each of them.
//
// # Overview
//
// A tier is a class of upstream model capability (for example the flagship
// model family or a cheaper fast family). Every credential in the vault
// belongs to exactly one tier and is limited along three axes:
//
//   - requests per minute (RPM, optional)
//   - requests per day (RPD, optional)
//   - tokens per minute (TPM, mandatory)
//
// Limits are configuration, not persisted state. They live in a Registry
// that can be swapped atomically when the configuration file changes.
//
// # Usage
//
//	reg, err := tier.NewRegistry([]tier.Entry{
//	    {Tier: tier.Flagship, Limits: tier.Limits{RPM: tier.Int(15), RPD: tier.Int(200), TPM: 1_000_000}},
//	    {Tier: tier.Fast, Limits: tier.Limits{RPM: tier.Int(20), TPM: 1_000_000}},
//	})
//
//	limits, err := reg.Limits(tier.Flagship)
//	chain := reg.FallbackChain(tier.Flagship) // flagship, fast
//
// # Thread Safety
//
// Registry is safe for concurrent use. Replace swaps the whole table at once,
// so readers never observe a partially updated set of limits.
package tier
