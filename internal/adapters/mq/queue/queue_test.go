package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/rollboard/internal/domain/model"
)

func closure(period string) model.Closure {
	return model.Closure{Scope: model.ScopeDaily, Period: period}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if err := q.Publish(ctx, closure("2024-03-11")); err != nil {
		t.Fatalf("expected publish to succeed: %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	c := <-q.Dequeue(ctx)
	if c.Period != "2024-03-11" {
		t.Errorf("expected 2024-03-11, got %v", c.Period)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	_ = q.Publish(ctx, closure("a"))
	_ = q.Publish(ctx, closure("b"))
	if err := q.Publish(ctx, closure("c")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
}

func TestInMemoryQueue_CloseDrains(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	_ = q.Publish(ctx, closure("a"))
	_ = q.Publish(ctx, closure("b"))
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected closed queue")
	}
	if err := q.Publish(ctx, closure("c")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	var got []string
	for c := range q.Dequeue(ctx) {
		got = append(got, c.Period)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected queued closures to drain in order, got %v", got)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	_ = q.Publish(context.Background(), closure("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, closure("b")); err == nil {
		t.Error("expected publish to fail")
	}
}
