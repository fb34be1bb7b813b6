// Keygate governs a pool of AI provider credentials and admits requests
// against their per-tier rate limits.
//
// It sits between application code and upstream AI providers:
//   - Admission control against RPM, RPD and TPM limits per credential
//   - Usage accounting with exactly-once completion reconciliation
//   - Sealed credential material at rest
//   - Cached quota status for authenticated callers
//   - An append-only usage ledger with scheduled retention
//
// Usage:
//
//	# Start the admission service
//	keygate run --config keygate.yaml
//
//	# Generate a sealing key
//	keygate seal keygen
//
//	# Add a credential (material read from stdin)
//	keygate credentials add --id fast-1 --tier fast < key.txt
//
//	# Run one reclamation sweep
//	keygate sweep
//
//	# Export the ledger
//	keygate ledger query --since 24h --format csv
package main

func main() {
	Execute()
}
