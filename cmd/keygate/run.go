package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"campuscore/keygate/pkg/admission"
	"campuscore/keygate/pkg/cli"
	"campuscore/keygate/pkg/config"
	"campuscore/keygate/pkg/estimate"
	"campuscore/keygate/pkg/ledger"
	servertls "campuscore/keygate/pkg/security/tls"
	"campuscore/keygate/pkg/server"
	"campuscore/keygate/pkg/status"
	"campuscore/keygate/pkg/telemetry/health"
	"campuscore/keygate/pkg/telemetry/logging"
	"campuscore/keygate/pkg/telemetry/tracing"
	"campuscore/keygate/pkg/usage"
	"campuscore/keygate/pkg/vault"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the keygate admission service",
	Long: `Start the keygate HTTP service with the specified configuration.

The service admits requests against the credential pool, records completions,
serves caller quota status and runs the scheduled sweep and ledger prune.

Examples:
  # Start with defaults and KEYGATE_* environment overrides
  keygate run

  # Start with a config file, reloading tier limits when it changes
  keygate run --config /etc/keygate/keygate.yaml

  # Validate config without starting the service
  keygate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the service")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload tier limits when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		if err := logger.SetLevel(runFlags.logLevel); err != nil {
			return cli.NewConfigError("log-level", err.Error())
		}
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{needSeal: true, ledger: true})
	if err != nil {
		return err
	}
	defer a.Close()

	printBanner(out, cfg)

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.OTLP.Timeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	serve := serveOptions{tracer: tracer}
	if cfg.Server.TLS.Enabled {
		serve.certs = servertls.NewCertificateReloader(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, cfg.Server.TLS.ReloadInterval)
		if err := serve.certs.Start(ctx); err != nil {
			return cli.NewConfigError("server.tls", err.Error())
		}
		if serve.tls, err = servertls.Build(cfg.Server.TLS, serve.certs); err != nil {
			return cli.NewConfigError("server.tls", err.Error())
		}
	}

	srv, err := buildServer(a, serve)
	if err != nil {
		return err
	}

	var pruner usage.Pruner
	if a.pruner != nil {
		pruner = a.pruner
	}
	schedCfg := usage.SchedulerConfig{SweepTimeout: cfg.Sweep.Timeout}
	if cfg.Sweep.IsEnabled() {
		schedCfg.SweepSchedule = cfg.Sweep.Schedule
	}
	if pruner != nil {
		schedCfg.PruneSchedule = cfg.Ledger.PruneSchedule
	}
	scheduler := usage.NewScheduler(a.sweeper, pruner, schedCfg)

	config.OnReload(func(next *config.Config) {
		applyReload(a, logger, next)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if next := scheduler.NextRun("sweep"); next != nil {
			slog.Debug("sweep scheduled", "next_run", next)
		}
		return nil
	})

	if runFlags.watch && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, 0, nil)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	scheme := "http"
	if serve.tls != nil {
		scheme = "https"
	}
	fmt.Fprintf(out, "✓ Listening on %s://%s\n", scheme, cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoints: %s://%s/health, /ready\n", scheme, cfg.Server.ListenAddress)
	if a.metrics != nil {
		fmt.Fprintf(out, "✓ Metrics endpoint: %s://%s%s\n", scheme, cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	err = g.Wait()
	scheduler.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// serveOptions are the listener concerns built outside the app.
type serveOptions struct {
	tracer *tracing.Tracer
	tls    *tls.Config
	certs  *servertls.CertificateReloader
}

// buildServer wires the request path components into the HTTP server.
func buildServer(a *app, opts serveOptions) (*server.Server, error) {
	cfg := a.cfg
	tracer := opts.tracer

	admissionOpts := []admission.Option{
		admission.WithMaxRetries(cfg.Admission.MaxRetries),
		admission.WithMetrics(a.metrics),
		admission.WithTracer(tracer),
	}
	if a.ledgerSink != nil {
		admissionOpts = append(admissionOpts, admission.WithLedger(a.ledgerSink))
	}
	controller := admission.NewController(a.vault, a.registry, admissionOpts...)

	estimator, err := estimate.New(cfg.Estimate)
	if err != nil {
		return nil, cli.NewConfigError("estimate", err.Error())
	}

	verifier, err := status.NewVerifier(cfg.Status.Identity)
	if err != nil {
		return nil, cli.NewConfigError("status.identity", err.Error())
	}
	cache := status.NewCache(status.Config{
		TTL:         cfg.Status.TTL,
		MaxEntries:  cfg.Status.MaxEntries,
		MaxAttempts: cfg.Status.MaxAttempts,
		BaseDelay:   cfg.Status.BaseDelay,
	}, verifier, status.NewVaultSource(a.store, a.registry, nil), status.WithMetrics(a.metrics))

	deps := server.Deps{
		Admission:    controller,
		Recorder:     a.recorder,
		Sweeper:      a.sweeper,
		Aggregator:   a.aggregator,
		Status:       cache,
		Estimator:    estimator,
		Metrics:      a.metrics,
		MetricsPath:  cfg.Telemetry.Metrics.Path,
		Ledger:       a.ledgerStorage,
		LedgerLimits: a.ledgerLimits(),
		Health:       healthChecks(a, opts.certs),
		Tracer:       tracer,

		TLS:                  opts.tls,
		ClientIdentitySource: cfg.Server.TLS.MTLS.IdentitySource,
	}
	return server.New(cfg.Server, deps), nil
}

const healthProbeID = "__keygate_health_probe__"

// healthChecks registers the readiness probes for the vault store, the
// ledger and the served certificate.
func healthChecks(a *app, certs *servertls.CertificateReloader) *health.Checker {
	checker := health.New(health.DefaultCheckTimeout)
	checker.RegisterCheck("vault", func(ctx context.Context) error {
		_, err := a.store.Get(ctx, healthProbeID)
		if err != nil && !errors.Is(err, vault.ErrNotFound) {
			return err
		}
		return nil
	})
	if a.ledgerStorage != nil {
		checker.RegisterCheck("ledger", func(ctx context.Context) error {
			now := time.Now()
			_, err := a.ledgerStorage.Count(ctx, &ledger.Query{StartTime: &now})
			return err
		})
	}
	if certs != nil {
		checker.RegisterCheck("tls_certificate", certs.Check)
	}
	return checker
}

// applyReload swaps the reloadable parts of a new configuration into the
// running service. Other sections take effect on restart.
func applyReload(a *app, logger *logging.Logger, next *config.Config) {
	entries, err := next.TierEntries()
	if err == nil {
		err = a.registry.Replace(entries)
	}
	if err != nil {
		slog.Error("tier reload rejected, keeping previous limits", "error", err)
	} else {
		slog.Info("tier limits reloaded", "tiers", len(entries))
	}

	if runFlags.logLevel == "" && !verbose {
		if err := logger.SetLevel(next.Telemetry.Logging.Level); err != nil {
			slog.Warn("log level reload rejected", "error", err)
		}
	}
}

func printBanner(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "keygate v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	}
	fmt.Fprintln(out, "✓ Configuration loaded")
	fmt.Fprintf(out, "✓ Vault backend: %s\n", cfg.Vault.Backend)
	fmt.Fprintf(out, "✓ Tiers configured: %d\n", len(cfg.Tiers))
	if cfg.Telemetry.Tracing.Enabled {
		fmt.Fprintf(out, "✓ Tracing: %s (%s sampler)\n", cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.Sampler)
	}

	if cfg.Ledger.IsEnabled() {
		slog.Debug("ledger enabled", "backend", cfg.Ledger.Backend, "retention_days", cfg.Ledger.RetentionDays)
	}
	if cfg.Server.ServiceToken == "" {
		slog.Warn("no service token configured, admission routes are disabled")
	}
	if cfg.Server.OperatorToken == "" {
		slog.Warn("no operator token configured, operator routes are disabled")
	}
}
