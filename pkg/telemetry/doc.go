// Package telemetry groups keygate's observability packages.
//
// # Components
//
//   - logging: slog setup with secret redaction and optional file rotation
//   - metrics: Prometheus collectors for admissions, usage and the vault
//   - tracing: OpenTelemetry spans for HTTP requests and admissions
//   - health: liveness and readiness checks behind /health and /ready
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(context.Background())
//
// Key material, bearer tokens and sealed values are redacted from logs by
// default. Metrics and spans carry credential ids, never key material.
package telemetry
