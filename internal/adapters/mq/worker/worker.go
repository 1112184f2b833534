// Package worker delivers finalized standings to dispatchers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/rollboard/internal/domain/engine"
	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/logger"
	"github.com/okian/rollboard/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount     = 2
	defaultRetries         = 3
	defaultBackoff         = 200 * time.Millisecond
	defaultDispatchTimeout = 10 * time.Second
	poolShutdownTimeout    = 30 * time.Second
)

// Queue defines how workers receive closures.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Closure
}

// Worker delivers closures until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker fans each closure out to every dispatcher.
type InMemoryWorker struct {
	queue       Queue
	dispatchers []engine.Dispatcher
	name        string
	retries     int
	backoff     time.Duration
	timeout     time.Duration
	onDelivered func(context.Context, model.Closure) error

	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, dispatchers []engine.Dispatcher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       queue,
		dispatchers: dispatchers,
		name:        "worker",
		retries:     defaultRetries,
		backoff:     defaultBackoff,
		timeout:     defaultDispatchTimeout,
		done:        make(chan struct{}),
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run consumes closures until the queue is closed and drained, or ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	closures := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-closures:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.process(ctx, c); err != nil {
				w.logger.Error(ctx, "closure delivery incomplete",
					logger.String("scope", string(c.Scope)),
					logger.String("period", c.Period),
					logger.Error(err),
				)
				continue
			}
			if w.onDelivered == nil {
				continue
			}
			if err := w.onDelivered(ctx, c); err != nil {
				w.logger.Error(ctx, "recording delivery failed",
					logger.String("scope", string(c.Scope)),
					logger.String("period", c.Period),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown waits for the worker loop to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, c model.Closure) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	var errs []error
	for _, d := range w.dispatchers {
		err := w.deliver(ctx, d, c)
		metrics.RecordDispatch(d.Name(), string(c.Scope), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (w *InMemoryWorker) deliver(ctx context.Context, d engine.Dispatcher, c model.Closure) error {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			wait := w.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(wait):
			}
		}
		actx, cancel := context.WithTimeout(ctx, w.timeout)
		err = d.Dispatch(actx, c)
		cancel()
		if err == nil {
			return nil
		}
		w.logger.Warn(ctx, "dispatch attempt failed",
			logger.String("dispatcher", d.Name()),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	return err
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing queue and dispatchers.
func NewPool(workerCount int, queue Queue, dispatchers []engine.Dispatcher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Nop(),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("dispatch-worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(queue, dispatchers, wopts...)
	}
	// Worker options also carry the pool logger.
	cfg := &InMemoryWorker{logger: p.logger}
	for _, opt := range opts {
		opt(cfg)
	}
	p.logger = cfg.logger.Named("dispatch-pool")

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, lets workers drain it and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}
