package config

import "time"

// Config is the root configuration structure for keygate.
// It contains all configuration sections for the admission server, the
// credential vault, the background sweep, and telemetry.
type Config struct {
	// Server contains HTTP API settings.
	Server ServerConfig `yaml:"server"`

	// Tiers maps tier names (flagship, standard, fast, lite) to their
	// per-credential rate limits.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// Fallback controls cross-tier fallback when a tier is exhausted.
	Fallback FallbackConfig `yaml:"fallback"`

	// Vault contains credential store settings.
	Vault VaultConfig `yaml:"vault"`

	// Seal contains credential material encryption settings.
	Seal SealConfig `yaml:"seal"`

	// Admission contains admission controller settings.
	Admission AdmissionConfig `yaml:"admission"`

	// Recorder contains completion accounting settings.
	Recorder RecorderConfig `yaml:"recorder"`

	// Sweep contains the periodic reclamation settings.
	Sweep SweepConfig `yaml:"sweep"`

	// Status contains quota status cache settings.
	Status StatusConfig `yaml:"status"`

	// Ledger contains usage event log settings.
	Ledger LedgerConfig `yaml:"ledger"`

	// Estimate contains token estimation settings.
	Estimate EstimateConfig `yaml:"estimate"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Mode is the gin engine mode.
	// Options: "release", "debug", "test"
	// Default: "release"
	Mode string `yaml:"mode"`

	// OperatorToken guards operator endpoints (/v1/sweep, /v1/summaries).
	// Empty disables those endpoints.
	OperatorToken string `yaml:"operator_token"`

	// ServiceToken guards the admission endpoints (/v1/admit,
	// /v1/completions, /v1/abandon). Grants carry unsealed key material.
	// Empty disables those endpoints.
	ServiceToken string `yaml:"service_token"`

	// TLS serves the API over HTTPS. Grants carry key material, so plain
	// HTTP should stay on loopback.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures HTTPS for the API listener.
type TLSConfig struct {
	// Enabled serves HTTPS instead of HTTP.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the PEM certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the lowest accepted protocol version.
	// Options: "1.2", "1.3"
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 cipher suites. Empty uses Go's defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often the certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// MTLS requires client certificates.
	MTLS MTLSConfig `yaml:"mtls"`
}

// MTLSConfig configures client certificate authentication.
type MTLSConfig struct {
	// Enabled turns on client certificate verification.
	Enabled bool `yaml:"enabled"`

	// ClientCAFile is the PEM bundle client certificates must chain to.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuthType is "require", "request" or "verify_if_given".
	// Default: "require"
	ClientAuthType string `yaml:"client_auth_type"`

	// IdentitySource selects the certificate field logged as the client
	// identity: "subject.CN", "subject.OU", "subject.O" or "SAN".
	// Default: "subject.CN"
	IdentitySource string `yaml:"identity_source"`
}

// TierConfig holds the limits of one tier.
// Nil RPM or RPD means the axis is unbounded.
type TierConfig struct {
	// RPM is the requests-per-minute limit per credential.
	RPM *int64 `yaml:"rpm"`

	// RPD is the requests-per-day limit per credential.
	RPD *int64 `yaml:"rpd"`

	// TPM is the tokens-per-minute limit per credential. Required.
	TPM int64 `yaml:"tpm"`
}

// FallbackConfig controls cross-tier fallback.
type FallbackConfig struct {
	// Enabled allows callers to request fallback to lower tiers.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Order lists tiers in fallback order. Tiers not listed follow in their
	// natural order (flagship, standard, fast, lite).
	Order []string `yaml:"order"`
}

// IsEnabled reports whether fallback is enabled.
func (f FallbackConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// VaultConfig contains credential store settings.
type VaultConfig struct {
	// Backend selects the store implementation.
	// Options: "memory", "sqlite", "postgres", "redis"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite store settings.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres contains PostgreSQL store settings.
	Postgres PostgresConfig `yaml:"postgres"`

	// Redis contains Redis store settings.
	Redis RedisConfig `yaml:"redis"`

	// Retry bounds retries of transient store failures.
	Retry RetryConfig `yaml:"retry"`
}

// SQLiteConfig contains SQLite store settings.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/keygate.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PostgresConfig contains PostgreSQL store settings.
type PostgresConfig struct {
	// DSN is the connection string.
	DSN string `yaml:"dsn"`

	// TablePrefix prefixes every table name.
	// Default: "keygate_"
	TablePrefix string `yaml:"table_prefix"`
}

// RedisConfig contains Redis store settings.
type RedisConfig struct {
	// Addr is the host:port of the server.
	// Default: "127.0.0.1:6379"
	Addr string `yaml:"addr"`

	// Password authenticates to the server.
	Password string `yaml:"password"`

	// DB selects the logical database.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix prefixes every key.
	// Default: "keygate:"
	KeyPrefix string `yaml:"key_prefix"`
}

// RetryConfig bounds retries of transient store failures.
type RetryConfig struct {
	// MaxTries is the total number of attempts.
	// Default: 4
	MaxTries int `yaml:"max_tries"`

	// InitialInterval is the first backoff delay.
	// Default: 50ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps a single backoff delay.
	// Default: 1s
	MaxInterval time.Duration `yaml:"max_interval"`
}

// SealConfig contains credential material encryption settings.
type SealConfig struct {
	// Algorithm is the AEAD construction.
	// Options: "aes-256-gcm", "xchacha20-poly1305"
	// Default: "aes-256-gcm"
	Algorithm string `yaml:"algorithm"`

	// KeyEnv names the environment variable holding the master key.
	// Default: "KEYGATE_SEAL_KEY"
	KeyEnv string `yaml:"key_env"`

	// KeyFile is read when the environment variable is empty.
	KeyFile string `yaml:"key_file"`
}

// AdmissionConfig contains admission controller settings.
type AdmissionConfig struct {
	// MaxRetries bounds compare-and-swap conflicts per admission.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`
}

// RecorderConfig contains completion accounting settings.
type RecorderConfig struct {
	// FailureThreshold is the number of consecutive failures after which a
	// credential is marked rotated.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// RateLimitCooldown excludes a credential from selection after the
	// provider rejected it with a rate limit error.
	// Default: 60s
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
}

// SweepConfig contains the periodic reclamation settings.
type SweepConfig struct {
	// Enabled turns the scheduled sweep on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Schedule is the cron expression of the sweep.
	// Default: "@every 30s"
	Schedule string `yaml:"schedule"`

	// ReservationGrace is how long a reservation may stay open before the
	// sweep reconciles it as used.
	// Default: 5m
	ReservationGrace time.Duration `yaml:"reservation_grace"`

	// Timeout bounds a single sweep run.
	// Default: 2m
	Timeout time.Duration `yaml:"timeout"`
}

// IsEnabled reports whether the scheduled sweep is enabled.
func (s SweepConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// StatusConfig contains quota status cache settings.
type StatusConfig struct {
	// TTL is how long a cached snapshot is served.
	// Default: 60s
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries triggers eviction of expired entries when exceeded.
	// Default: 1000
	MaxEntries int `yaml:"max_entries"`

	// MaxAttempts bounds identity check attempts.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the first retry delay; it doubles on each attempt.
	// Default: 500ms
	BaseDelay time.Duration `yaml:"base_delay"`

	// Identity selects and configures the identity verifier.
	Identity IdentityConfig `yaml:"identity"`
}

// IdentityConfig configures caller identity verification.
type IdentityConfig struct {
	// Mode selects the verifier.
	// Options: "jwt", "remote"
	// Default: "jwt"
	Mode string `yaml:"mode"`

	// JWTSecret is the HS256 signing secret.
	JWTSecret string `yaml:"jwt_secret"`

	// Issuer, when set, must match the token issuer.
	Issuer string `yaml:"issuer"`

	// Audience, when set, must be present in the token audience.
	Audience string `yaml:"audience"`

	// TiersClaim names the claim listing the tiers a caller may see.
	// Default: "tiers"
	TiersClaim string `yaml:"tiers_claim"`

	// RemoteURL is the identity endpoint for the remote verifier.
	RemoteURL string `yaml:"remote_url"`

	// RemoteTimeout bounds one identity call.
	// Default: 5s
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
}

// LedgerConfig contains usage event log settings.
type LedgerConfig struct {
	// Enabled turns the ledger on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Backend selects the storage.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLitePath is the ledger database file.
	// Default: "data/ledger.db"
	SQLitePath string `yaml:"sqlite_path"`

	// BufferSize is the async write queue length.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds one event write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays is how long events are kept. A negative value keeps
	// them forever.
	// Default: 30
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression of the retention job.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// QueryDefaultLimit applies when a query has no limit.
	// Default: 100
	QueryDefaultLimit int `yaml:"query_default_limit"`

	// QueryMaxLimit caps the limit of any query.
	// Default: 10000
	QueryMaxLimit int `yaml:"query_max_limit"`
}

// IsEnabled reports whether the ledger is enabled.
func (l LedgerConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// EstimateConfig contains token estimation settings.
type EstimateConfig struct {
	// Encoding is the tokenizer encoding ("cl100k_base", "o200k_base", ...).
	// "none" disables the tokenizer and uses the character heuristic.
	// Default: "cl100k_base"
	Encoding string `yaml:"encoding"`

	// CharsPerToken is the divisor of the character heuristic.
	// Default: 4
	CharsPerToken int `yaml:"chars_per_token"`

	// DefaultTokens is charged when neither an estimate nor a prompt is given.
	// Default: 1000
	DefaultTokens int64 `yaml:"default_tokens"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging contains structured logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics settings.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing settings.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks key material, bearer tokens and sealed values.
	// Default: true
	RedactSecrets *bool `yaml:"redact_secrets"`

	// RedactPatterns contains custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`

	// File, when its path is set, also writes logs to a rotating file.
	File LogFileConfig `yaml:"file"`
}

// ShouldRedact reports whether secret redaction is enabled.
func (l LoggingConfig) ShouldRedact() bool {
	return l.RedactSecrets == nil || *l.RedactSecrets
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// LogFileConfig configures rotating file output.
type LogFileConfig struct {
	// Path is the log file. Empty disables file output.
	Path string `yaml:"path"`

	// MaxSizeMB rotates the file when it grows past this size.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	// Default: 5
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays removes rotated files older than this.
	// Default: 28
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	// Default: false
	Compress bool `yaml:"compress"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "keygate"
	Namespace string `yaml:"namespace"`

	// AdmissionLatencyBuckets defines histogram buckets for admission latency (seconds).
	// Default: [0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1]
	AdmissionLatencyBuckets []float64 `yaml:"admission_latency_buckets"`

	// TokenCountBuckets defines histogram buckets for token counts.
	// Default: [100, 500, 1000, 5000, 10000, 50000, 100000]
	TokenCountBuckets []float64 `yaml:"token_count_buckets"`
}

// IsEnabled reports whether metrics are enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	// Enabled controls whether spans are recorded and exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Exporter selects the span exporter. Only "otlp" is supported.
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service.name resource attribute.
	// Default: "keygate"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter settings.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter settings.
type OTLPConfig struct {
	// Insecure disables TLS on the collector connection.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds a single export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
