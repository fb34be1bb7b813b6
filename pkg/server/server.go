package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"campuscore/keygate/pkg/admission"
	"campuscore/keygate/pkg/config"
	"campuscore/keygate/pkg/estimate"
	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/status"
	"campuscore/keygate/pkg/telemetry/health"
	"campuscore/keygate/pkg/telemetry/metrics"
	"campuscore/keygate/pkg/telemetry/tracing"
	"campuscore/keygate/pkg/usage"
)

// Deps are the components served over HTTP. Ledger may be nil, which
// leaves /v1/ledger unmounted.
type Deps struct {
	Admission   *admission.Controller
	Recorder    *usage.Recorder
	Sweeper     *usage.Sweeper
	Aggregator  *usage.Aggregator
	Status      *status.Cache
	Estimator   *estimate.Estimator
	Metrics     *metrics.Collector
	MetricsPath string
	Health      *health.Checker
	Tracer      *tracing.Tracer

	// TLS, when set, serves HTTPS. Its GetCertificate supplies the pair.
	TLS *tls.Config
	// ClientIdentitySource names the client certificate field logged
	// for mTLS callers.
	ClientIdentitySource string
	Ledger               ledger.Storage
	LedgerLimits         ledger.Limits
}

// Server is the keygate HTTP server.
type Server struct {
	config       config.ServerConfig
	deps         Deps
	engine       *gin.Engine
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	logger       *slog.Logger
}

// New creates a Server and mounts its routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = config.DefaultMetricsPath
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		engine: gin.New(),
		logger: slog.Default().With("component", "server"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		TLSConfig:    s.deps.TLS,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting keygate server",
			"address", s.config.ListenAddress,
			"tls", s.deps.TLS != nil,
			"service_routes", s.config.ServiceToken != "",
			"operator_routes", s.config.OperatorToken != "",
		)
		var err error
		if s.deps.TLS != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.mu.Unlock()
		if !running {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("keygate server stopped")
	})

	return shutdownErr
}

func (s *Server) setupMiddleware() {
	s.engine.Use(recovery())
	s.engine.Use(requestID())
	if s.deps.Tracer.Enabled() {
		s.engine.Use(traced(s.deps.Tracer))
	}
	s.engine.Use(accessLog(s.deps.ClientIdentitySource))
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.liveness)
	s.engine.GET("/ready", s.readiness)
	if s.deps.Metrics != nil {
		s.engine.GET(s.deps.MetricsPath, gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.engine.Group("/v1")
	v1.GET("/status", s.status)

	if s.config.ServiceToken != "" {
		service := v1.Group("", serviceAuth(s.config.ServiceToken))
		{
			service.POST("/admit", s.admit)
			service.POST("/completions", s.complete)
			service.POST("/abandon", s.abandon)
		}
	}

	if s.config.OperatorToken == "" {
		return
	}
	operator := v1.Group("", operatorAuth(s.config.OperatorToken))
	{
		operator.POST("/sweep", s.sweep)
		operator.GET("/summaries", s.summaries)
		if s.deps.Ledger != nil {
			operator.GET("/ledger", s.queryLedger)
		}
	}
}
