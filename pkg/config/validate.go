package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"campuscore/keygate/pkg/tier"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration. All validation errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTiers(cfg.Tiers, &cfg.Fallback)...)
	errs = append(errs, validateVault(&cfg.Vault)...)
	errs = append(errs, validateSeal(&cfg.Seal)...)
	errs = append(errs, validateAccounting(cfg)...)
	errs = append(errs, validateStatus(&cfg.Status)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateEstimate(&cfg.Estimate)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "field is required"})
	} else if !strings.Contains(cfg.ListenAddress, ":") {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "must be in host:port format"})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must be non-negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must be non-negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "must be non-negative"})
	}

	switch cfg.Mode {
	case "release", "debug", "test":
	default:
		errs = append(errs, FieldError{Field: "server.mode", Message: fmt.Sprintf("must be one of release, debug, test (got %q)", cfg.Mode)})
	}

	errs = append(errs, validateTLS(&cfg.TLS)...)
	return errs
}

func validateTLS(cfg *TLSConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError
	if cfg.CertFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "field is required when TLS is enabled"})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "field is required when TLS is enabled"})
	}
	switch cfg.MinVersion {
	case "1.2", "1.3":
	default:
		errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("must be 1.2 or 1.3 (got %q)", cfg.MinVersion)})
	}
	if cfg.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "must be non-negative"})
	}

	if cfg.MTLS.Enabled {
		if cfg.MTLS.ClientCAFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.mtls.client_ca_file", Message: "field is required when mTLS is enabled"})
		}
		switch cfg.MTLS.ClientAuthType {
		case "require", "request", "verify_if_given":
		default:
			errs = append(errs, FieldError{Field: "server.tls.mtls.client_auth_type", Message: fmt.Sprintf("must be require, request or verify_if_given (got %q)", cfg.MTLS.ClientAuthType)})
		}
		switch cfg.MTLS.IdentitySource {
		case "subject.CN", "subject.OU", "subject.O", "SAN":
		default:
			errs = append(errs, FieldError{Field: "server.tls.mtls.identity_source", Message: fmt.Sprintf("unknown identity source %q", cfg.MTLS.IdentitySource)})
		}
	}
	return errs
}

func validateTiers(tiers map[string]TierConfig, fallback *FallbackConfig) []FieldError {
	var errs []FieldError

	if len(tiers) == 0 {
		errs = append(errs, FieldError{Field: "tiers", Message: "at least one tier is required"})
	}

	for name, tc := range tiers {
		field := "tiers." + name
		if _, err := tier.Parse(name); err != nil {
			errs = append(errs, FieldError{Field: field, Message: "unknown tier (expected flagship, standard, fast or lite)"})
			continue
		}
		limits := tier.Limits{RPM: tc.RPM, RPD: tc.RPD, TPM: tc.TPM}
		if err := limits.Validate(); err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
		}
	}

	seen := make(map[string]bool)
	for i, name := range fallback.Order {
		field := fmt.Sprintf("fallback.order[%d]", i)
		if _, ok := tiers[name]; !ok {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("tier %q is not configured", name)})
		}
		if seen[name] {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("tier %q listed twice", name)})
		}
		seen[name] = true
	}

	return errs
}

func validateVault(cfg *VaultConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "vault.sqlite.path", Message: "field is required for sqlite backend"})
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, FieldError{Field: "vault.postgres.dsn", Message: "field is required for postgres backend"})
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{Field: "vault.redis.addr", Message: "field is required for redis backend"})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "vault.redis.db", Message: "must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{Field: "vault.backend", Message: fmt.Sprintf("must be one of memory, sqlite, postgres, redis (got %q)", cfg.Backend)})
	}

	if cfg.Retry.MaxTries < 1 {
		errs = append(errs, FieldError{Field: "vault.retry.max_tries", Message: "must be at least 1"})
	}
	if cfg.Retry.InitialInterval < 0 || cfg.Retry.MaxInterval < 0 {
		errs = append(errs, FieldError{Field: "vault.retry", Message: "intervals must be non-negative"})
	}

	return errs
}

func validateSeal(cfg *SealConfig) []FieldError {
	var errs []FieldError

	switch cfg.Algorithm {
	case "aes-256-gcm", "xchacha20-poly1305":
	default:
		errs = append(errs, FieldError{Field: "seal.algorithm", Message: fmt.Sprintf("must be aes-256-gcm or xchacha20-poly1305 (got %q)", cfg.Algorithm)})
	}
	if cfg.KeyEnv == "" && cfg.KeyFile == "" {
		errs = append(errs, FieldError{Field: "seal", Message: "either key_env or key_file is required"})
	}

	return errs
}

func validateAccounting(cfg *Config) []FieldError {
	var errs []FieldError

	if cfg.Admission.MaxRetries < 1 {
		errs = append(errs, FieldError{Field: "admission.max_retries", Message: "must be at least 1"})
	}
	if cfg.Recorder.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "recorder.failure_threshold", Message: "must be at least 1"})
	}
	if cfg.Recorder.RateLimitCooldown < 0 {
		errs = append(errs, FieldError{Field: "recorder.rate_limit_cooldown", Message: "must be non-negative"})
	}

	if cfg.Sweep.IsEnabled() {
		if _, err := cron.ParseStandard(cfg.Sweep.Schedule); err != nil {
			errs = append(errs, FieldError{Field: "sweep.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	if cfg.Sweep.ReservationGrace <= 0 {
		errs = append(errs, FieldError{Field: "sweep.reservation_grace", Message: "must be positive"})
	}
	if cfg.Sweep.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "sweep.timeout", Message: "must be positive"})
	}

	return errs
}

func validateStatus(cfg *StatusConfig) []FieldError {
	var errs []FieldError

	if cfg.TTL <= 0 {
		errs = append(errs, FieldError{Field: "status.ttl", Message: "must be positive"})
	}
	if cfg.MaxEntries < 1 {
		errs = append(errs, FieldError{Field: "status.max_entries", Message: "must be at least 1"})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "status.max_attempts", Message: "must be at least 1"})
	}
	if cfg.BaseDelay < 0 {
		errs = append(errs, FieldError{Field: "status.base_delay", Message: "must be non-negative"})
	}

	switch cfg.Identity.Mode {
	case "jwt":
		// An empty secret is allowed; the status endpoint then rejects every caller.
	case "remote":
		if cfg.Identity.RemoteURL == "" {
			errs = append(errs, FieldError{Field: "status.identity.remote_url", Message: "field is required for remote mode"})
		} else if u, err := url.Parse(cfg.Identity.RemoteURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{Field: "status.identity.remote_url", Message: "must be an absolute URL"})
		}
	default:
		errs = append(errs, FieldError{Field: "status.identity.mode", Message: fmt.Sprintf("must be jwt or remote (got %q)", cfg.Identity.Mode)})
	}

	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	if !cfg.IsEnabled() {
		return nil
	}

	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, FieldError{Field: "ledger.sqlite_path", Message: "field is required for sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{Field: "ledger.backend", Message: fmt.Sprintf("must be memory or sqlite (got %q)", cfg.Backend)})
	}

	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{Field: "ledger.buffer_size", Message: "must be at least 1"})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{Field: "ledger.prune_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}
	if cfg.QueryDefaultLimit > cfg.QueryMaxLimit {
		errs = append(errs, FieldError{Field: "ledger.query_default_limit", Message: "must not exceed query_max_limit"})
	}

	return errs
}

func validateEstimate(cfg *EstimateConfig) []FieldError {
	var errs []FieldError

	if cfg.CharsPerToken < 1 {
		errs = append(errs, FieldError{Field: "estimate.chars_per_token", Message: "must be at least 1"})
	}
	if cfg.DefaultTokens < 1 {
		errs = append(errs, FieldError{Field: "estimate.default_tokens", Message: "must be at least 1"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("unknown level %q", cfg.Logging.Level)})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("unknown format %q", cfg.Logging.Format)})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Name == "" || p.Pattern == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("telemetry.logging.redact_patterns[%d]", i), Message: "name and pattern are required"})
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
			}
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("must be always, never or ratio (got %q)", cfg.Tracing.Sampler)})
		}
		if cfg.Tracing.Exporter != "otlp" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.exporter", Message: fmt.Sprintf("must be otlp (got %q)", cfg.Tracing.Exporter)})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "field is required when tracing is enabled"})
		}
	}

	return errs
}
