package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "KEYGATE_"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention KEYGATE_SECTION_FIELD (e.g., KEYGATE_SERVER_LISTEN_ADDRESS) and
// always take precedence over the file. An empty path starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envString("SERVER_MODE", &cfg.Server.Mode)
	envString("SERVER_OPERATOR_TOKEN", &cfg.Server.OperatorToken)
	envString("SERVER_SERVICE_TOKEN", &cfg.Server.ServiceToken)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Tiers: KEYGATE_TIERS_<TIER>_TPM and friends adjust configured tiers.
	for name, tc := range cfg.Tiers {
		prefix := "TIERS_" + strings.ToUpper(name) + "_"
		envInt64(prefix+"TPM", &tc.TPM)
		envOptionalInt64(prefix+"RPM", &tc.RPM)
		envOptionalInt64(prefix+"RPD", &tc.RPD)
		cfg.Tiers[name] = tc
	}
	if val := os.Getenv(EnvPrefix + "FALLBACK_ORDER"); val != "" {
		cfg.Fallback.Order = splitList(val)
	}
	envBoolPtr("FALLBACK_ENABLED", &cfg.Fallback.Enabled)

	// Vault
	envString("VAULT_BACKEND", &cfg.Vault.Backend)
	envString("VAULT_SQLITE_PATH", &cfg.Vault.SQLite.Path)
	envString("VAULT_POSTGRES_DSN", &cfg.Vault.Postgres.DSN)
	envString("VAULT_REDIS_ADDR", &cfg.Vault.Redis.Addr)
	envString("VAULT_REDIS_PASSWORD", &cfg.Vault.Redis.Password)
	envInt("VAULT_REDIS_DB", &cfg.Vault.Redis.DB)

	// Seal
	envString("SEAL_ALGORITHM", &cfg.Seal.Algorithm)
	envString("SEAL_KEY_FILE", &cfg.Seal.KeyFile)

	// Accounting
	envInt("ADMISSION_MAX_RETRIES", &cfg.Admission.MaxRetries)
	envInt("RECORDER_FAILURE_THRESHOLD", &cfg.Recorder.FailureThreshold)
	envDuration("RECORDER_RATE_LIMIT_COOLDOWN", &cfg.Recorder.RateLimitCooldown)
	envBoolPtr("SWEEP_ENABLED", &cfg.Sweep.Enabled)
	envString("SWEEP_SCHEDULE", &cfg.Sweep.Schedule)
	envDuration("SWEEP_RESERVATION_GRACE", &cfg.Sweep.ReservationGrace)

	// Status
	envDuration("STATUS_TTL", &cfg.Status.TTL)
	envInt("STATUS_MAX_ENTRIES", &cfg.Status.MaxEntries)
	envString("STATUS_IDENTITY_MODE", &cfg.Status.Identity.Mode)
	envString("STATUS_IDENTITY_JWT_SECRET", &cfg.Status.Identity.JWTSecret)
	envString("STATUS_IDENTITY_REMOTE_URL", &cfg.Status.Identity.RemoteURL)

	// Ledger
	envBoolPtr("LEDGER_ENABLED", &cfg.Ledger.Enabled)
	envString("LEDGER_BACKEND", &cfg.Ledger.Backend)
	envString("LEDGER_SQLITE_PATH", &cfg.Ledger.SQLitePath)
	envInt("LEDGER_RETENTION_DAYS", &cfg.Ledger.RetentionDays)

	// Estimate
	envString("ESTIMATE_ENCODING", &cfg.Estimate.Encoding)

	// Telemetry
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envString("TELEMETRY_LOGGING_FILE_PATH", &cfg.Telemetry.Logging.File.Path)
	envBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

// envOptionalInt64 sets an optional limit. "none" or "unbounded" clears it.
func envOptionalInt64(name string, dst **int64) {
	val := os.Getenv(EnvPrefix + name)
	switch strings.ToLower(val) {
	case "":
		return
	case "none", "unbounded":
		*dst = nil
		return
	}
	if i, err := strconv.ParseInt(val, 10, 64); err == nil {
		*dst = &i
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(name string, dst **bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
