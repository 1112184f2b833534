// Package queue buffers finalized standings between the engine and the
// dispatch workers.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Publish adds a closure, failing with ErrFull or ErrClosed.
	Publish(ctx context.Context, c model.Closure) error

	// Dequeue returns the channel workers receive closures from.
	// It is closed, after draining, once the queue is closed.
	Dequeue(ctx context.Context) <-chan model.Closure

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	closures chan model.Closure
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.closures = make(chan model.Closure, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Publish implements engine.Publisher.
func (q *InMemoryQueue) Publish(ctx context.Context, c model.Closure) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return ErrClosed
	}

	select {
	case q.closures <- c:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.closures))
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		return fmt.Errorf("publish %s %s: %w", c.Scope, c.Period, ctx.Err())
	default:
		metrics.RecordQueueEnqueueError()
		return fmt.Errorf("publish %s %s: %w", c.Scope, c.Period, ErrFull)
	}
}

// Dequeue returns the receive side of the buffer.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Closure {
	return q.closures
}

// Len returns the current number of queued closures.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	size := len(q.closures)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops new publishes; queued closures remain readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.closures)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
