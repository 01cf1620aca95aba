package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/scriptbox/internal/api/http"
	"github.com/GriffinCanCode/scriptbox/internal/api/middleware"
	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
	"github.com/GriffinCanCode/scriptbox/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	handler http.Handler
	httpSrv *http.Server
	pool    *worker.Pool
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
	runner  worker.Runner
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger overrides the logger derived from the logging config.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRunner replaces the runner selected by WORKER_ISOLATION.
func WithRunner(r worker.Runner) Option {
	return func(s *Server) { s.runner = r }
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		logger, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		s.logger = logger
	}

	s.logger.Info("Initializing scriptbox server",
		zap.String("port", cfg.Server.Port),
		zap.String("isolation", cfg.Worker.Isolation),
		zap.Int("pool_size", cfg.Worker.PoolSize),
	)

	s.metrics = monitoring.NewMetrics()

	sandboxCfg := cfg.Sandbox.ToSandbox()
	if s.runner == nil {
		runner, err := newRunner(cfg, sandboxCfg, s.metrics, s.logger.Logger)
		if err != nil {
			return nil, err
		}
		s.runner = runner
	}
	poolCfg := cfg.Worker.ToPool(sandboxCfg.Limits)
	if s.runner.Name() == worker.IsolationInProcess && poolCfg.Size > 1 {
		// The memory ceiling reads the process heap, so in-process runs are single-tenant.
		s.logger.Warn("Clamping pool size for in-process isolation",
			zap.Int("requested", poolCfg.Size))
		poolCfg.Size = 1
	}
	s.pool = worker.NewPool(s.runner, poolCfg, s.metrics, s.logger.Logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = s.routes()
	s.handler = gzhttp.GzipHandler(s.router)

	s.logger.Info("Server initialized successfully", zap.String("isolation", s.runner.Name()))
	return s, nil
}

func newRunner(cfg *config.Config, sandboxCfg sandbox.Config, metrics *monitoring.Metrics, logger *zap.Logger) (worker.Runner, error) {
	if cfg.Worker.Isolation == worker.IsolationInProcess {
		exec := sandbox.NewExecutor(sandboxCfg,
			sandbox.WithLogger(logger),
			sandbox.WithObserver(metrics),
		)
		return worker.NewInProcessRunner(exec), nil
	}

	runner, err := worker.NewProcessRunner(worker.ProcessConfig{
		Sandbox:   sandboxCfg,
		KillGrace: cfg.Worker.KillGrace(),
		MaxProcs:  cfg.Worker.MaxProcs,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create process runner: %w", err)
	}
	return runner, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger.Logger))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	handlers := apihttp.NewHandlers(s.pool, s.metrics, s.logger.Logger, s.config.Server.MaxBodyBytes)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Only execution is rate limited; probes and scrapes are not.
	execute := []gin.HandlerFunc{handlers.Execute}
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		limit := middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		})
		execute = append([]gin.HandlerFunc{limit}, execute...)
	}
	router.POST("/execute", execute...)

	return router
}

// Handler returns the root HTTP handler, compression included.
func (s *Server) Handler() http.Handler { return s.handler }

// Pool returns the worker pool behind /execute
func (s *Server) Pool() *worker.Pool { return s.pool }

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP shutdown did not complete", zap.Error(err))
	}
	return s.Close()
}

// Close drains the pool and flushes the logger.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if err := s.pool.Close(); err != nil {
		s.logger.Error("Failed to close worker pool", zap.Error(err))
		return fmt.Errorf("failed to close worker pool: %w", err)
	}
	s.logger.Info("Worker pool drained")

	_ = s.logger.Sync()
	return nil
}
