// Package server provides the HTTP server for the wirecrest review pipeline.
//
// The server exposes a REST API to trigger pipeline runs, follow task
// progress, inspect run history and manage the retry queue. Tenants with a
// schedule are refreshed by cron, and due retry entries are processed on
// their own schedule.
//
// # Endpoints
//
//   - GET /health - Pings the database and Redis, returns "ok" or 503
//   - GET /metrics - Prometheus metrics
//   - GET /api/status - Active runs, last run and scheduled jobs
//   - POST /api/run - Starts a pipeline run
//   - GET /api/tasks/{tenant}/{platform} - Task progress and recent messages
//   - GET /api/business/{tenant}/{platform} - Stored profile with its task
//   - GET /api/history - Finished runs, most recent first
//   - GET /api/history/{id}/logs - Logs captured during a run
//   - GET /api/retry/stats - Retry entries per status
//   - POST /api/retry - Enqueues a failure
//   - POST /api/retry/process - Processes due retry entries
//   - DELETE /api/retry/{entity}/{platform} - Removes a retry entry
//   - GET /api/version - Build information
//
// # Example
//
//	srv, err := server.New(ctx, srvCfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/config"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/metrics"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/cron"
	serverconfig "github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/config"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/handlers"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/runner"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/workflows/pipeline"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second

	retryJobName   = "retry:process"
	cleanupJobName = "retry:cleanup"
)

// Server is the HTTP server for the wirecrest pipeline.
type Server struct {
	cfg        *serverconfig.ServerConfig
	pipeCfg    config.Config
	logger     *logging.Logger
	metrics    *metrics.ScrapeRegistry
	pipeline   *pipeline.Pipeline
	runner     *runner.Runner
	scheduler  *cron.Scheduler
	httpServer *http.Server

	pipelineOpts []pipeline.Option
	runnerOpts   []runner.Option
}

// Option configures a Server.
type Option func(*Server)

// WithPipelineOptions passes extra options to pipeline construction.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(s *Server) {
		s.pipelineOpts = append(s.pipelineOpts, opts...)
	}
}

// WithRunnerOptions passes extra options to the runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *Server) {
		s.runnerOpts = append(s.runnerOpts, opts...)
	}
}

// New loads the pipeline config named by cfg and assembles the server.
func New(ctx context.Context, cfg *serverconfig.ServerConfig, opts ...Option) (*Server, error) {
	pipeCfg, err := config.LoadConfig(cfg.PipelineConfig)
	if err != nil {
		return nil, fmt.Errorf("loading pipeline config: %w", err)
	}
	return NewWithConfig(ctx, cfg, pipeCfg, opts...)
}

// NewWithConfig assembles the server from an already loaded pipeline config.
func NewWithConfig(ctx context.Context, cfg *serverconfig.ServerConfig, pipeCfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		pipeCfg: pipeCfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger, err := logging.New(pipeCfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	s.logger = logger

	if s.metrics, err = metrics.NewScrapeRegistry(); err != nil {
		logger.Close()
		return nil, err
	}

	runLogs := logging.NewRunLogs(0)

	// The queue retries through the runner so retries show up in history.
	// The closure is bound before the runner exists.
	retry := func(ctx context.Context, e retryqueue.Entry) error {
		return s.runner.Retry(ctx, e)
	}

	pipelineOpts := append([]pipeline.Option{
		pipeline.WithMetricsRegistry(s.metrics),
		pipeline.WithLoggerHook(logging.NewCapturingHook(runLogs, cfg.CaptureLevel())),
		pipeline.WithRetryFunc(retry),
	}, s.pipelineOpts...)

	s.pipeline, err = pipeline.New(ctx, &s.pipeCfg, logger.Logger, pipelineOpts...)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("assembling pipeline: %w", err)
	}

	store, err := s.stateStore()
	if err != nil {
		s.pipeline.Close()
		logger.Close()
		return nil, err
	}

	runnerOpts := append([]runner.Option{
		runner.WithStateStore(store),
		runner.WithRunLogs(runLogs),
		runner.WithMaxItems(pipeCfg.Pipeline.MaxItems),
	}, s.runnerOpts...)
	s.runner = runner.New(logger.Logger, s.pipeline.Orchestrator, s.pipeline.Queue, runnerOpts...)

	if err := s.schedule(); err != nil {
		s.pipeline.Close()
		logger.Close()
		return nil, err
	}

	return s, nil
}

func (s *Server) stateStore() (runner.StateStore, error) {
	if s.cfg.StateDir == "" {
		return runner.NewMemoryStore(s.cfg.MaxHistory), nil
	}
	store, err := runner.NewDiskStore(s.cfg.StateDir, s.cfg.MaxHistory, s.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating run store: %w", err)
	}
	return store, nil
}

func (s *Server) schedule() error {
	s.scheduler = cron.NewScheduler(s.logger.Logger)

	refresh := func(ctx context.Context, tenantID string, platforms []platform.Platform) error {
		s.runner.RefreshTenant(tenantID, platforms)
		return nil
	}
	for _, t := range s.cfg.Tenants {
		if err := s.scheduler.AddTenant(t.ID, t.Schedule, s.pipeline.Registry, refresh); err != nil {
			return fmt.Errorf("scheduling tenant %q: %w", t.ID, err)
		}
	}

	if err := s.scheduler.Add(retryJobName, s.cfg.RetryPoll, s.processRetries); err != nil {
		return err
	}
	return s.scheduler.Add(cleanupJobName, s.cfg.Cleanup, s.cleanupRetries)
}

func (s *Server) processRetries(ctx context.Context) error {
	res, err := s.pipeline.Queue.ProcessQueue(ctx, s.pipeCfg.Retry.BatchSize)
	if err != nil {
		return err
	}
	if res.Selected > 0 {
		s.logger.Info("processed retry queue",
			"selected", res.Selected,
			"resolved", res.Resolved,
			"requeued", res.Requeued,
			"deferred", res.Deferred,
			"failed", res.Failed,
		)
	}
	return nil
}

func (s *Server) cleanupRetries(ctx context.Context) error {
	n, err := s.pipeline.Queue.CleanupOldEntries(ctx, s.pipeCfg.Retry.RetentionDays)
	if err != nil {
		return err
	}
	s.logger.Info("cleaned up retry queue", "deleted", n, "retention_days", s.pipeCfg.Retry.RetentionDays)
	return nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger.Logger
}

// Runner returns the server's runner.
func (s *Server) Runner() *runner.Runner {
	return s.runner
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Run starts the scheduler and the HTTP server and blocks until the context
// is cancelled. It then drains active runs and releases the pipeline.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Listener.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	s.scheduler.Start(ctx)
	s.logger.Info("next scheduled job", "next_run", s.scheduler.NextRun())

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"addr", s.cfg.Listener.Addr,
			"pipeline_config", s.cfg.PipelineConfig,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.shutdown(shutdownCtx))
}

func (s *Server) shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	select {
	case <-s.scheduler.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduled jobs still running at shutdown")
	}

	if err := s.runner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("runner: %w", err))
	}
	if err := s.pipeline.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	s.logger.Info("server stopped")
	if err := s.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	reg := s.pipeline.Registry
	retryHandler := handlers.NewRetryHandler(s.pipeline.Queue, reg, s.pipeCfg.Retry.BatchSize)

	mux.Handle("GET /health", handlers.NewHealthHandler(s.pipeline.HealthChecks()))
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s.runner, s.scheduler))
	mux.Handle("POST /api/run", handlers.NewRunHandler(s.runner, reg))
	mux.Handle("GET /api/tasks/{tenant}/{platform}", handlers.NewTaskHandler(s.pipeline.Tracker, reg))
	mux.Handle("GET /api/business/{tenant}/{platform}", handlers.NewBusinessHandler(s.pipeline.Orchestrator, reg))
	mux.Handle("GET /api/history", handlers.NewHistoryHandler(s.runner))
	mux.Handle("GET /api/history/{id}/logs", handlers.NewHistoryLogsHandler(s.runner))

	mux.HandleFunc("GET /api/retry/stats", retryHandler.Stats)
	mux.HandleFunc("POST /api/retry", retryHandler.Enqueue)
	mux.HandleFunc("POST /api/retry/process", retryHandler.Process)
	mux.HandleFunc("DELETE /api/retry/{entity}/{platform}", retryHandler.Remove)

	mux.HandleFunc("GET /api/version", handlers.HandleVersion)
}
