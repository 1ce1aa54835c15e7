// Package pipeline assembles the review pipeline from configuration.
//
// New builds every dependency the orchestrator and the retry queue need:
// storage (SQLite through gorm, optionally Redis), the data provider client,
// the platform locator, notification sinks and metrics. The server and the
// CLI both start from here so they run the same pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/clients/profilestore"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/clients/providerclient"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/config"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/keylock"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/metrics"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/notify"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

// Collaborators overrides the provider-backed step implementations.
type Collaborators struct {
	Profiles  orchestrator.ProfileService
	Collector orchestrator.ReviewCollector
	Analytics orchestrator.AnalyticsService
}

// Option configures pipeline construction.
type Option func(*options)

type options struct {
	registry      metrics.Registry
	loggerHook    logging.LoggerHook
	retryFunc     retryqueue.RetryFunc
	db            *gorm.DB
	redis         *redis.Client
	collaborators *Collaborators
	notifier      notify.Notifier
}

// WithMetricsRegistry records pipeline and retry metrics in registry.
// Without it no metrics are recorded.
func WithMetricsRegistry(registry metrics.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithLoggerHook wraps the logger of every pipeline run.
func WithLoggerHook(hook logging.LoggerHook) Option {
	return func(o *options) {
		o.loggerHook = hook
	}
}

// WithRetryFunc replaces the default retry action, which re-runs the
// pipeline directly with force refresh.
func WithRetryFunc(fn retryqueue.RetryFunc) Option {
	return func(o *options) {
		o.retryFunc = fn
	}
}

// WithDB uses db instead of opening cfg.Database.Path.
func WithDB(db *gorm.DB) Option {
	return func(o *options) {
		o.db = db
	}
}

// WithRedisClient uses client instead of dialing cfg.Redis.Addr.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithCollaborators binds c on every platform instead of the profile store
// and provider client. Nil fields keep the defaults.
func WithCollaborators(c Collaborators) Option {
	return func(o *options) {
		o.collaborators = &c
	}
}

// WithNotifier replaces the notification sinks built from cfg.Notify.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// Pipeline holds the assembled components.
type Pipeline struct {
	Orchestrator *orchestrator.Orchestrator
	Tracker      *tracker.Tracker
	Queue        *retryqueue.Queue
	Profiles     *profilestore.Store
	Registry     *platform.Registry

	checks  map[string]func(context.Context) error
	closers []func() error
}

// New builds a Pipeline from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	p := &Pipeline{checks: make(map[string]func(context.Context) error)}
	built := false
	defer func() {
		if !built {
			p.Close()
		}
	}()

	var err error
	db := o.db
	if db == nil {
		db, err = gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("opening database %s: %w", cfg.Database.Path, err)
		}
		p.onClose(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}

	p.checks["database"] = func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	rdb := o.redis
	if rdb == nil && cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		p.onClose(rdb.Close)
	}
	if rdb != nil {
		p.checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}

	// Locks follow the tracker store: shared task state needs shared locks.
	var locker keylock.Locker = keylock.NewLocal()
	trackerStore := tracker.Store(tracker.NewMemoryStore())
	if cfg.Tracker.Store == config.StoreRedis {
		if rdb == nil {
			return nil, errors.New("redis tracker store configured without a redis address")
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = keylock.NewRedis(rdb, keylock.WithLogger(logger))
		trackerStore = tracker.NewRedisStore(rdb,
			tracker.WithKeyPrefix(cfg.Redis.KeyPrefix),
			tracker.WithMessageTTL(cfg.Tracker.MessageTTL))
	}

	p.Tracker = tracker.New(
		tracker.WithStore(trackerStore),
		tracker.WithLocker(locker),
		tracker.WithLogger(logger),
		tracker.WithMaxRetries(cfg.Retry.MaxRetries),
		tracker.WithMaxMessages(cfg.Tracker.MaxMessages),
	)

	p.Profiles, err = profilestore.New(db,
		profilestore.WithCacheTTL(cfg.Database.ProfileCache),
		profilestore.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	collab, err := p.collaborators(cfg, logger, o.collaborators)
	if err != nil {
		return nil, err
	}

	p.Registry = platform.DefaultRegistry()
	locator := platform.NewLocator(p.Registry)
	for _, pl := range p.Registry.Platforms() {
		if err := locator.BindPlatform(pl, collab.Profiles, collab.Collector, collab.Analytics); err != nil {
			return nil, fmt.Errorf("binding %s: %w", pl, err)
		}
	}
	locator.Freeze()

	var pipelineMetrics *metrics.PipelineMetrics
	var retryMetrics *metrics.RetryMetrics
	if o.registry != nil {
		if pipelineMetrics, err = metrics.NewPipelineMetrics(o.registry); err != nil {
			return nil, err
		}
		if retryMetrics, err = metrics.NewRetryMetrics(o.registry); err != nil {
			return nil, err
		}
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(pipelineMetrics),
		orchestrator.WithRunLocker(locker),
		orchestrator.WithTimeouts(cfg.Pipeline.ProfileTimeout, cfg.Pipeline.CollectTimeout, cfg.Pipeline.AnalyticsTimeout),
		orchestrator.WithBatchConcurrency(cfg.Pipeline.BatchConcurrency),
		orchestrator.WithMessageLimit(cfg.Pipeline.MessageLimit),
	}
	if o.loggerHook != nil {
		orchOpts = append(orchOpts, orchestrator.WithLoggerHook(o.loggerHook))
	}
	p.Orchestrator = orchestrator.New(locator, p.Tracker, orchOpts...)

	notifier := o.notifier
	if notifier == nil {
		if notifier, err = p.notifiers(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	var retryStore retryqueue.Store = retryqueue.NewMemoryStore()
	if cfg.Retry.Store == config.StoreSQLite {
		if retryStore, err = retryqueue.NewGormStore(db); err != nil {
			return nil, err
		}
	}

	retryFunc := o.retryFunc
	if retryFunc == nil {
		retryFunc = RetryWith(p.Orchestrator, cfg.Pipeline.MaxItems)
	}

	p.Queue, err = retryqueue.New(
		retryqueue.WithStore(retryStore),
		retryqueue.WithLocker(locker),
		retryqueue.WithNotifier(notifier),
		retryqueue.WithRetryFunc(retryFunc),
		retryqueue.WithBackoff(retryqueue.Backoff{Base: cfg.Retry.BaseDelay, Ratio: cfg.Retry.Ratio}),
		retryqueue.WithMaxRetries(cfg.Retry.MaxRetries),
		retryqueue.WithConcurrency(cfg.Retry.Concurrency),
		retryqueue.WithAttemptTimeout(cfg.Retry.AttemptTimeout),
		retryqueue.WithMetrics(retryMetrics),
		retryqueue.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retry queue: %w", err)
	}

	logger.Info("pipeline assembled",
		"platforms", p.Registry.Platforms(),
		"tracker_store", cfg.Tracker.Store,
		"retry_store", cfg.Retry.Store,
	)
	built = true
	return p, nil
}

func (p *Pipeline) collaborators(cfg *config.Config, logger *slog.Logger, override *Collaborators) (Collaborators, error) {
	c := Collaborators{Profiles: p.Profiles}
	if override != nil {
		if override.Profiles != nil {
			c.Profiles = override.Profiles
		}
		c.Collector = override.Collector
		c.Analytics = override.Analytics
	}
	if c.Collector != nil && c.Analytics != nil {
		return c, nil
	}

	client, err := providerclient.New(cfg.Provider.BaseURL,
		providerclient.WithToken(cfg.Provider.Token),
		providerclient.WithRequestTimeout(cfg.Provider.RequestTimeout),
		providerclient.WithPollInterval(cfg.Provider.PollInterval),
		providerclient.WithLogger(logger))
	if err != nil {
		return c, err
	}
	p.onClose(client.Close)

	if c.Collector == nil {
		c.Collector = client
	}
	if c.Analytics == nil {
		c.Analytics = client
	}
	return c, nil
}

func (p *Pipeline) notifiers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	sinks := notify.Multi{notify.NewLogNotifier(logger)}

	if cfg.Notify.Kafka.Brokers != "" {
		k, err := notify.NewKafkaNotifier(cfg.Notify.Kafka.Brokers, cfg.Notify.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		p.onClose(k.Close)
		sinks = append(sinks, k)
	}

	if cfg.Notify.Email.From != "" {
		e, err := notify.NewEmailNotifier(ctx, cfg.Notify.Email.Region, cfg.Notify.Email.From, cfg.Notify.Email.Recipients)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, e)
	}
	return sinks, nil
}

// HealthChecks returns a ping per external dependency, keyed by name.
func (p *Pipeline) HealthChecks() map[string]func(context.Context) error {
	return p.checks
}

func (p *Pipeline) onClose(fn func() error) {
	p.closers = append(p.closers, fn)
}

// Close releases connections in reverse order of creation.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// RetryWith returns a retry action that re-runs the pipeline for an entry
// with force refresh. An unsuccessful run is an error so the queue backs off.
func RetryWith(o *orchestrator.Orchestrator, maxItems int) retryqueue.RetryFunc {
	return func(ctx context.Context, e retryqueue.Entry) error {
		res, err := o.ProcessBusinessData(ctx, RetryRequest(e, maxItems))
		if err != nil {
			return err
		}
		return ResultError(ctx, res)
	}
}

// RetryRequest converts a retry entry into a force-refresh pipeline request.
func RetryRequest(e retryqueue.Entry, maxItems int) orchestrator.Request {
	return orchestrator.Request{
		TenantID:   e.TenantID,
		Platform:   e.Platform,
		Identifier: e.Identifier,
		Options:    orchestrator.Options{ForceRefresh: true, MaxItems: maxItems},
	}
}

// ResultError turns an unsuccessful Result into an error. Cancelled runs
// report the context error so callers can tell shutdown from failure.
func ResultError(ctx context.Context, res orchestrator.Result) error {
	if res.Success {
		return nil
	}
	if res.Cancelled && ctx.Err() != nil {
		return ctx.Err()
	}
	if res.Error == "" {
		return errors.New("pipeline run failed")
	}
	return errors.New(res.Error)
}
