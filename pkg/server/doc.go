// Package server exposes keygate over HTTP.
//
// Routes:
//
//	POST /v1/admit         reserve capacity and receive credential material (service token)
//	POST /v1/completions   settle a reservation with the actual token count (service token)
//	POST /v1/abandon       settle a reservation the caller gave up on (service token)
//	GET  /v1/status        per-caller quota snapshot (bearer token)
//	POST /v1/sweep         run a sweep now (operator token)
//	GET  /v1/summaries     latest tier summaries (operator token)
//	GET  /v1/ledger        query usage events (operator token)
//	GET  /health           liveness
//	GET  /ready            readiness (vault and ledger checks)
//	GET  /metrics          Prometheus metrics
//
// Exhausted admissions answer 429 with a Retry-After header. Identity
// failures on /v1/status answer 401, an unreachable identity service 503.
// Service and operator routes are only mounted when their token is
// configured.
package server
