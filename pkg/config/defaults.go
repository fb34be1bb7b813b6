package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultServerMode      = "release"
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute
	DefaultClientAuthType  = "require"
	DefaultIdentitySource  = "subject.CN"

	// Vault defaults
	DefaultVaultBackend             = "sqlite"
	DefaultSQLitePath               = "data/keygate.db"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute
	DefaultPostgresTablePrefix      = "keygate_"
	DefaultRedisAddr                = "127.0.0.1:6379"
	DefaultRedisKeyPrefix           = "keygate:"
	DefaultRetryMaxTries            = 4
	DefaultRetryInitialInterval     = 50 * time.Millisecond
	DefaultRetryMaxInterval         = time.Second

	// Seal defaults
	DefaultSealAlgorithm = "aes-256-gcm"
	DefaultSealKeyEnv    = "KEYGATE_SEAL_KEY"

	// Admission defaults
	DefaultAdmissionMaxRetries = 3

	// Recorder defaults
	DefaultFailureThreshold  = 5
	DefaultRateLimitCooldown = 60 * time.Second

	// Sweep defaults
	DefaultSweepSchedule    = "@every 30s"
	DefaultReservationGrace = 5 * time.Minute
	DefaultSweepTimeout     = 2 * time.Minute

	// Status defaults
	DefaultStatusTTL             = 60 * time.Second
	DefaultStatusMaxEntries      = 1000
	DefaultStatusMaxAttempts     = 3
	DefaultStatusBaseDelay       = 500 * time.Millisecond
	DefaultIdentityMode          = "jwt"
	DefaultIdentityTiersClaim    = "tiers"
	DefaultIdentityRemoteTimeout = 5 * time.Second

	// Ledger defaults
	DefaultLedgerBackend           = "sqlite"
	DefaultLedgerSQLitePath        = "data/ledger.db"
	DefaultLedgerBufferSize        = 1000
	DefaultLedgerWriteTimeout      = 5 * time.Second
	DefaultLedgerRetentionDays     = 30
	DefaultLedgerPruneSchedule     = "0 3 * * *"
	DefaultLedgerQueryDefaultLimit = 100
	DefaultLedgerQueryMaxLimit     = 10000

	// Estimate defaults
	DefaultEstimateEncoding      = "cl100k_base"
	DefaultEstimateCharsPerToken = 4
	DefaultEstimateTokens        = int64(1000)

	// Telemetry defaults
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultLogFileMaxSizeMB  = 100
	DefaultLogFileMaxBackups = 5
	DefaultLogFileMaxAgeDays = 28
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "keygate"
	DefaultTracingSampler    = "ratio"
	DefaultTracingRatio      = 0.1
	DefaultTracingExporter   = "otlp"
	DefaultTracingEndpoint   = "localhost:4317"
	DefaultTracingService    = "keygate"
	DefaultOTLPTimeout       = 10 * time.Second
)

// DefaultAdmissionLatencyBuckets are the admission latency histogram buckets (seconds).
var DefaultAdmissionLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// DefaultTokenCountBuckets are the token count histogram buckets.
var DefaultTokenCountBuckets = []float64{100, 500, 1000, 5000, 10000, 50000, 100000}

// DefaultTiers returns the tier table used when the configuration has none.
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"flagship": {RPM: int64Ptr(15), RPD: int64Ptr(200), TPM: 1_000_000},
		"standard": {RPM: int64Ptr(10), RPD: int64Ptr(100), TPM: 500_000},
		"fast":     {RPM: int64Ptr(15), RPD: int64Ptr(150), TPM: 750_000},
		"lite":     {RPM: int64Ptr(20), RPD: int64Ptr(200), TPM: 1_000_000},
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)

	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}

	applyVaultDefaults(&cfg.Vault)

	if cfg.Seal.Algorithm == "" {
		cfg.Seal.Algorithm = DefaultSealAlgorithm
	}
	if cfg.Seal.KeyEnv == "" {
		cfg.Seal.KeyEnv = DefaultSealKeyEnv
	}

	if cfg.Admission.MaxRetries == 0 {
		cfg.Admission.MaxRetries = DefaultAdmissionMaxRetries
	}

	if cfg.Recorder.FailureThreshold == 0 {
		cfg.Recorder.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Recorder.RateLimitCooldown == 0 {
		cfg.Recorder.RateLimitCooldown = DefaultRateLimitCooldown
	}

	if cfg.Sweep.Schedule == "" {
		cfg.Sweep.Schedule = DefaultSweepSchedule
	}
	if cfg.Sweep.ReservationGrace == 0 {
		cfg.Sweep.ReservationGrace = DefaultReservationGrace
	}
	if cfg.Sweep.Timeout == 0 {
		cfg.Sweep.Timeout = DefaultSweepTimeout
	}

	applyStatusDefaults(&cfg.Status)
	applyLedgerDefaults(&cfg.Ledger)

	if cfg.Estimate.Encoding == "" {
		cfg.Estimate.Encoding = DefaultEstimateEncoding
	}
	if cfg.Estimate.CharsPerToken == 0 {
		cfg.Estimate.CharsPerToken = DefaultEstimateCharsPerToken
	}
	if cfg.Estimate.DefaultTokens == 0 {
		cfg.Estimate.DefaultTokens = DefaultEstimateTokens
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.Mode == "" {
		s.Mode = DefaultServerMode
	}
	if s.TLS.MinVersion == "" {
		s.TLS.MinVersion = DefaultTLSMinVersion
	}
	if s.TLS.ReloadInterval == 0 {
		s.TLS.ReloadInterval = DefaultTLSReload
	}
	if s.TLS.MTLS.ClientAuthType == "" {
		s.TLS.MTLS.ClientAuthType = DefaultClientAuthType
	}
	if s.TLS.MTLS.IdentitySource == "" {
		s.TLS.MTLS.IdentitySource = DefaultIdentitySource
	}
}

func applyVaultDefaults(v *VaultConfig) {
	if v.Backend == "" {
		v.Backend = DefaultVaultBackend
	}
	if v.SQLite.Path == "" {
		v.SQLite.Path = DefaultSQLitePath
	}
	if v.SQLite.BusyTimeout == 0 {
		v.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if v.SQLite.CheckpointInterval == 0 {
		v.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}
	if v.Postgres.TablePrefix == "" {
		v.Postgres.TablePrefix = DefaultPostgresTablePrefix
	}
	if v.Redis.Addr == "" {
		v.Redis.Addr = DefaultRedisAddr
	}
	if v.Redis.KeyPrefix == "" {
		v.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if v.Retry.MaxTries == 0 {
		v.Retry.MaxTries = DefaultRetryMaxTries
	}
	if v.Retry.InitialInterval == 0 {
		v.Retry.InitialInterval = DefaultRetryInitialInterval
	}
	if v.Retry.MaxInterval == 0 {
		v.Retry.MaxInterval = DefaultRetryMaxInterval
	}
}

func applyStatusDefaults(s *StatusConfig) {
	if s.TTL == 0 {
		s.TTL = DefaultStatusTTL
	}
	if s.MaxEntries == 0 {
		s.MaxEntries = DefaultStatusMaxEntries
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultStatusMaxAttempts
	}
	if s.BaseDelay == 0 {
		s.BaseDelay = DefaultStatusBaseDelay
	}
	if s.Identity.Mode == "" {
		s.Identity.Mode = DefaultIdentityMode
	}
	if s.Identity.TiersClaim == "" {
		s.Identity.TiersClaim = DefaultIdentityTiersClaim
	}
	if s.Identity.RemoteTimeout == 0 {
		s.Identity.RemoteTimeout = DefaultIdentityRemoteTimeout
	}
}

func applyLedgerDefaults(l *LedgerConfig) {
	if l.Backend == "" {
		l.Backend = DefaultLedgerBackend
	}
	if l.SQLitePath == "" {
		l.SQLitePath = DefaultLedgerSQLitePath
	}
	if l.BufferSize == 0 {
		l.BufferSize = DefaultLedgerBufferSize
	}
	if l.WriteTimeout == 0 {
		l.WriteTimeout = DefaultLedgerWriteTimeout
	}
	if l.RetentionDays == 0 {
		l.RetentionDays = DefaultLedgerRetentionDays
	}
	if l.PruneSchedule == "" {
		l.PruneSchedule = DefaultLedgerPruneSchedule
	}
	if l.QueryDefaultLimit == 0 {
		l.QueryDefaultLimit = DefaultLedgerQueryDefaultLimit
	}
	if l.QueryMaxLimit == 0 {
		l.QueryMaxLimit = DefaultLedgerQueryMaxLimit
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Logging.File.MaxSizeMB == 0 {
		t.Logging.File.MaxSizeMB = DefaultLogFileMaxSizeMB
	}
	if t.Logging.File.MaxBackups == 0 {
		t.Logging.File.MaxBackups = DefaultLogFileMaxBackups
	}
	if t.Logging.File.MaxAgeDays == 0 {
		t.Logging.File.MaxAgeDays = DefaultLogFileMaxAgeDays
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(t.Metrics.AdmissionLatencyBuckets) == 0 {
		t.Metrics.AdmissionLatencyBuckets = append([]float64(nil), DefaultAdmissionLatencyBuckets...)
	}
	if len(t.Metrics.TokenCountBuckets) == 0 {
		t.Metrics.TokenCountBuckets = append([]float64(nil), DefaultTokenCountBuckets...)
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.Sampler == DefaultTracingSampler && t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingRatio
	}
	if t.Tracing.Exporter == "" {
		t.Tracing.Exporter = DefaultTracingExporter
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingService
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
}
