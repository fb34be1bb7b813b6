// Package logging configures structured logging for keygate.
//
// # Overview
//
// The package builds a log/slog handler from configuration and installs it as
// the process default, so components simply use
//
//	logger := slog.Default().With("component", "admission")
//
// The handler:
//   - writes JSON, text or console output
//   - optionally tees output to a rotating file (lumberjack)
//   - redacts key material before it reaches any sink
//   - adds request scoped fields (request id, caller, tier, credential)
//     stored in the context by the HTTP layer
//
// # Redaction
//
// Values under sensitive attribute keys (material, authorization, token,
// secret, api_key, ...) are masked entirely. String values anywhere are
// scanned for provider key shapes (sk-..., AIza...), bearer tokens and long
// base64 blobs such as sealed material.
package logging
