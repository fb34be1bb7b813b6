package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"campuscore/keygate/pkg/cli"
	"campuscore/keygate/pkg/config"
	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/ledger/recorder"
	"campuscore/keygate/pkg/ledger/retention"
	ledgerstorage "campuscore/keygate/pkg/ledger/storage"
	"campuscore/keygate/pkg/seal"
	"campuscore/keygate/pkg/telemetry/metrics"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/usage"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/vault/storage"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	store    vault.Store
	vault    *vault.Vault
	registry *tier.Registry
	metrics  *metrics.Collector

	ledgerStorage ledger.Storage
	ledgerSink    *recorder.Recorder
	pruner        *retention.Pruner

	recorder   *usage.Recorder
	aggregator *usage.Aggregator
	sweeper    *usage.Sweeper

	closers []func() error
}

type appOptions struct {
	// needSeal fails startup when no seal key is configured.
	needSeal bool
	// ledger opens the ledger when it is enabled in the configuration.
	ledger bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	entries, err := cfg.TierEntries()
	if err != nil {
		return nil, cli.NewConfigError("tiers", err.Error())
	}
	if a.registry, err = tier.NewRegistry(entries); err != nil {
		return nil, cli.NewConfigError("tiers", err.Error())
	}

	var sealer vault.Sealer
	s, err := openSealer(cfg.Seal)
	switch {
	case err == nil:
		sealer = s
	case opts.needSeal:
		return nil, err
	default:
		slog.Debug("seal key unavailable, material operations disabled", "error", err)
	}

	if a.store, err = openStore(ctx, cfg.Vault); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.vault = vault.New(a.store, sealer, vault.WithRetryPolicy(vault.RetryPolicy{
		MaxTries:        uint(cfg.Vault.Retry.MaxTries),
		InitialInterval: cfg.Vault.Retry.InitialInterval,
		MaxInterval:     cfg.Vault.Retry.MaxInterval,
	}))

	if cfg.Telemetry.Metrics.IsEnabled() {
		a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}

	usageOpts := []usage.Option{usage.WithMetrics(a.metrics)}
	if opts.ledger && cfg.Ledger.IsEnabled() {
		if err := a.openLedger(); err != nil {
			return nil, err
		}
		usageOpts = append(usageOpts, usage.WithLedger(a.ledgerSink))
	}

	a.recorder = usage.NewRecorder(a.vault, usage.RecorderConfig{
		FailureThreshold:  cfg.Recorder.FailureThreshold,
		RateLimitCooldown: cfg.Recorder.RateLimitCooldown,
	}, usageOpts...)
	a.aggregator = usage.NewAggregator(a.store, a.registry, usageOpts...)
	a.sweeper = usage.NewSweeper(a.vault, a.recorder, a.aggregator, cfg.Sweep.ReservationGrace, usageOpts...)

	return a, nil
}

func (a *app) openLedger() error {
	st, err := ledgerstorage.Open(a.cfg.Ledger.Backend, a.cfg.Ledger.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	a.ledgerStorage = st
	a.closers = append(a.closers, st.Close)

	a.ledgerSink = recorder.New(st, recorder.Config{
		BufferSize:   a.cfg.Ledger.BufferSize,
		WriteTimeout: a.cfg.Ledger.WriteTimeout,
	})
	// Drains before the storage closes.
	a.closers = append(a.closers, a.ledgerSink.Close)

	a.pruner = retention.NewPruner(st, a.cfg.Ledger.RetentionDays)
	return nil
}

// ledgerLimits returns the query limits of the ledger configuration.
func (a *app) ledgerLimits() ledger.Limits {
	return ledger.Limits{
		Default: a.cfg.Ledger.QueryDefaultLimit,
		Max:     a.cfg.Ledger.QueryMaxLimit,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openSealer(cfg config.SealConfig) (*seal.Sealer, error) {
	key, err := seal.LoadKey(cfg.KeyEnv, cfg.KeyFile)
	if err != nil {
		return nil, cli.NewConfigError("seal", err.Error())
	}
	s, err := seal.New(seal.Algorithm(cfg.Algorithm), key)
	if err != nil {
		return nil, cli.NewConfigError("seal", err.Error())
	}
	return s, nil
}

// openStore opens the vault backend named by the configuration.
func openStore(ctx context.Context, cfg config.VaultConfig) (vault.Store, error) {
	switch cfg.Backend {
	case "memory":
		slog.Warn("using in-memory vault, credentials are lost on exit")
		return storage.NewMemoryStore(), nil
	case "sqlite":
		st, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			DBPath:             cfg.SQLite.Path,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite vault: %w", err)
		}
		return st, nil
	case "postgres":
		return storage.OpenPostgresStore(ctx, cfg.Postgres.DSN, storage.WithTablePrefix(cfg.Postgres.TablePrefix))
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return storage.NewRedisStore(client, storage.WithKeyPrefix(cfg.Redis.KeyPrefix)), nil
	default:
		return nil, cli.NewConfigError("vault.backend", fmt.Sprintf("unsupported backend %q", cfg.Backend))
	}
}
