// Package service wires the roll engine to its storage, index, dispatch and
// HTTP collaborators and runs the day and week boundary scheduler.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/rollboard/internal/adapters/dispatch/kafka"
	"github.com/okian/rollboard/internal/adapters/dispatch/redis"
	"github.com/okian/rollboard/internal/adapters/http/api"
	"github.com/okian/rollboard/internal/adapters/mq/queue"
	"github.com/okian/rollboard/internal/adapters/mq/worker"
	"github.com/okian/rollboard/internal/adapters/repository"
	"github.com/okian/rollboard/internal/adapters/storage/sqlite"
	"github.com/okian/rollboard/internal/config"
	"github.com/okian/rollboard/internal/domain/allowance"
	"github.com/okian/rollboard/internal/domain/clock"
	"github.com/okian/rollboard/internal/domain/dedupe"
	"github.com/okian/rollboard/internal/domain/engine"
	"github.com/okian/rollboard/internal/domain/entitlement"
	"github.com/okian/rollboard/pkg/logger"
)

const (
	dialTimeout  = 5 * time.Second
	drainTimeout = 30 * time.Second
)

// ErrNotStarted is returned by accessors used before Start.
var ErrNotStarted = errors.New("service not started")

// Service owns the lifecycle of every runtime component.
type Service struct {
	mu sync.RWMutex

	cfg         *config.Config
	clock       clock.Clock
	dispatchers []engine.Dispatcher

	index    *repository.TreapStore
	journal  *sqlite.Store
	engine   *engine.Engine
	queue    *queue.InMemoryQueue
	pool     *worker.Pool
	replayer *dedupe.Cache
	skins    *entitlement.Selector
	closers  []func() error

	started       bool
	stopScheduler context.CancelFunc
	stopWorkers   context.CancelFunc
	schedulerDone chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithClock overrides the system clock built from the configured timezone.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDispatchers adds dispatchers next to the configured Kafka and Redis ones.
func WithDispatchers(ds ...engine.Dispatcher) Option {
	return func(s *Service) {
		s.dispatchers = append(s.dispatchers, ds...)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service; nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New(context.Background())}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components, restores state, catches up on missed
// boundaries and starts the dispatch workers and the boundary scheduler.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	log := s.logger.Named("service")
	log.Info(ctx, "starting rollboard service...")

	defer func() {
		if err != nil {
			s.closeAll(ctx)
		}
	}()

	if s.clock == nil {
		sys, err := clock.NewSystem(s.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("clock: %w", err)
		}
		s.clock = sys
	}

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	s.stopWorkers = stopWorkers

	s.index = repository.NewTreapStore(workerCtx)
	s.closers = append(s.closers, s.index.Close)

	engineOpts := []engine.Option{
		engine.WithClock(s.clock),
		engine.WithIndex(s.index),
		engine.WithTracker(allowance.New(
			allowance.WithQuota(s.cfg.DailyQuota),
			allowance.WithCooldown(s.cfg.Cooldown),
		)),
		engine.WithLogger(s.logger),
		engine.WithRetentionDays(s.cfg.RetentionDays),
	}

	if s.cfg.DatabasePath != "" {
		s.journal, err = sqlite.Open(ctx, s.cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		s.closers = append(s.closers, s.journal.Close)
		engineOpts = append(engineOpts, engine.WithJournal(s.journal))
		log.Info(ctx, "journal opened", logger.String("path", s.cfg.DatabasePath))
	}

	dispatchers, err := s.dialDispatchers(ctx)
	if err != nil {
		return err
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.DispatchQueueSize))
	engineOpts = append(engineOpts, engine.WithPublisher(s.queue))

	oracle := entitlement.NewStatic(entitlement.ParseGrants(s.cfg.Entitlements))
	s.skins = entitlement.NewSelector(oracle, entitlement.Skin(s.cfg.SkinDefault),
		s.cfg.SkinPriority, entitlement.ParseSkins(s.cfg.SkinTags))

	s.engine, err = engine.New(engineOpts...)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	// Keys the cache has evicted or never saw, e.g. before a restart, are
	// found through the journal.
	s.replayer, err = dedupe.New(
		dedupe.WithMaxSize(s.cfg.IdempotencyCacheSize),
		dedupe.WithLookup(s.engine),
	)
	if err != nil {
		return fmt.Errorf("idempotency cache: %w", err)
	}

	s.pool = worker.NewPool(s.cfg.DispatchWorkers, s.queue, dispatchers,
		worker.WithLogger(s.logger),
		worker.WithRetries(s.cfg.DispatchRetries, 0),
		worker.WithOnDelivered(s.engine.Delivered),
	)

	// Restore republishes undelivered closures into the queue before the
	// workers start.
	if err := s.engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	s.pool.Start(workerCtx)

	// Close whatever ended while the process was down before taking traffic.
	if err := s.engine.Advance(ctx); err != nil {
		log.Error(ctx, "boundary catch-up incomplete", logger.Error(err))
	}

	schedCtx, stopScheduler := context.WithCancel(context.WithoutCancel(ctx))
	s.stopScheduler = stopScheduler
	s.schedulerDone = make(chan struct{})
	go s.runScheduler(schedCtx, s.cfg.BoundaryCheckInterval)

	s.started = true
	log.Info(ctx, "rollboard service started",
		logger.Int("quota", s.cfg.DailyQuota),
		logger.Duration("cooldown", s.cfg.Cooldown),
		logger.String("timezone", s.clock.Location().String()),
		logger.Int("dispatchers", len(dispatchers)),
		logger.Int("dispatch_workers", s.cfg.DispatchWorkers),
	)
	return nil
}

func (s *Service) dialDispatchers(ctx context.Context) ([]engine.Dispatcher, error) {
	out := append([]engine.Dispatcher(nil), s.dispatchers...)

	if s.cfg.KafkaEnabled {
		k, err := kafka.Dial(s.cfg.KafkaBrokers,
			kafka.WithTopic(s.cfg.KafkaTopic),
			kafka.WithLogger(s.logger.Named("kafka")),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka dispatcher: %w", err)
		}
		s.closers = append(s.closers, k.Close)
		out = append(out, k)
	}

	if s.cfg.RedisEnabled {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		r, err := redis.Dial(dctx, redis.Config{
			Addr:        s.cfg.RedisAddr,
			Password:    s.cfg.RedisPassword,
			DB:          s.cfg.RedisDB,
			DialTimeout: dialTimeout,
		}, redis.WithTTL(s.cfg.RedisTTL), redis.WithLogger(s.logger.Named("redis")))
		if err != nil {
			return nil, fmt.Errorf("redis dispatcher: %w", err)
		}
		s.closers = append(s.closers, r.Close)
		out = append(out, r)
	}
	return out, nil
}

// runScheduler closes finished days and weeks as the clock passes them.
func (s *Service) runScheduler(ctx context.Context, interval time.Duration) {
	defer close(s.schedulerDone)
	log := s.logger.Named("scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.engine.Advance(ctx); err != nil && ctx.Err() == nil {
				log.Error(ctx, "boundary advance failed", logger.Error(err))
			}
		}
	}
}

// Stop halts the scheduler, drains pending closures to the dispatchers and
// releases storage.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	log := s.logger.Named("service")
	log.Info(ctx, "stopping rollboard service...")

	s.stopScheduler()
	<-s.schedulerDone

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	err := s.pool.Shutdown(drainCtx)
	s.closeAll(ctx)

	s.started = false
	log.Info(ctx, "rollboard service stopped")
	return err
}

func (s *Service) closeAll(ctx context.Context) {
	if s.stopWorkers != nil {
		s.stopWorkers()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn(ctx, "close failed", logger.Error(err))
		}
	}
	s.closers = nil
}

// Engine returns the running engine.
func (s *Service) Engine() (*engine.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.engine, nil
}

// API builds the HTTP handler set over the running engine.
func (s *Service) API() (*api.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return api.NewServer(s.engine,
		api.WithReplayer(s.replayer),
		api.WithSkins(s.skins),
		api.WithLimits(s.cfg.DefaultLeaderboardLimit, s.cfg.MaxLeaderboardLimit),
		api.WithLogger(s.logger.Named("api")),
	), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"dispatchWorkers": s.cfg.DispatchWorkers,
		"queueCapacity":   s.cfg.DispatchQueueSize,
		"dailyQuota":      s.cfg.DailyQuota,
	}
	if s.started {
		ctx := context.Background()
		stats["queueLength"] = s.queue.Len(ctx)
		stats["idempotencyKeys"] = s.replayer.Size()
		stats["journal"] = s.journal != nil
		stats["engine"] = s.engine.Stats(ctx)
	}
	return stats
}
