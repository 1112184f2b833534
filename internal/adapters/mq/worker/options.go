// Package worker delivers finalized standings to dispatchers.
package worker

import (
	"context"
	"time"

	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRetries sets how many extra attempts a failed dispatch gets and the
// base backoff between them, doubled per attempt.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(w *InMemoryWorker) {
		if retries >= 0 {
			w.retries = retries
		}
		if backoff > 0 {
			w.backoff = backoff
		}
	}
}

// WithDispatchTimeout bounds one dispatch attempt.
func WithDispatchTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithOnDelivered sets a hook run after every dispatcher accepted a closure.
func WithOnDelivered(fn func(context.Context, model.Closure) error) Option {
	return func(w *InMemoryWorker) {
		w.onDelivered = fn
	}
}
