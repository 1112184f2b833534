// Package redis mirrors finalized standings into Redis sorted sets so the
// prize service can read them without calling back into rollboard.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/logger"
)

const defaultTTL = 30 * 24 * time.Hour

// Config holds connection settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Dispatcher writes each closure to leaderboard:<scope>:<period>:final.
type Dispatcher struct {
	client redis.Cmdable
	closer func() error
	ttl    time.Duration
	logger logger.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTTL sets how long a mirrored board is kept. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl >= 0 {
			d.ttl = ttl
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Dispatcher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	d := New(client, opts...)
	d.closer = client.Close
	return d, nil
}

// New wraps an existing client.
func New(client redis.Cmdable, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client: client,
		closer: func() error { return nil },
		ttl:    defaultTTL,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Key returns the sorted-set key for a finalized board.
func Key(scope model.Scope, period string) string {
	return fmt.Sprintf("leaderboard:%s:%s:final", scope, period)
}

// Name identifies the dispatcher in logs and metrics.
func (d *Dispatcher) Name() string { return "redis" }

// Dispatch replaces the mirrored board atomically.
func (d *Dispatcher) Dispatch(ctx context.Context, c model.Closure) error {
	key := Key(c.Scope, c.Period)
	members := make([]redis.Z, len(c.Standings))
	for i, e := range c.Standings {
		members[i] = redis.Z{Score: float64(e.Score), Member: e.Player}
	}

	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		pipe.HSet(ctx, key+":meta",
			"closed_at", c.ClosedAt.UTC().Format(time.RFC3339),
			"players", len(members),
		)
		if d.ttl > 0 {
			pipe.Expire(ctx, key, d.ttl)
			pipe.Expire(ctx, key+":meta", d.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirroring %s: %w", key, err)
	}
	d.logger.Debug(ctx, "closure mirrored", logger.String("key", key), logger.Int("players", len(members)))
	return nil
}

// Close releases the client when the dispatcher owns it.
func (d *Dispatcher) Close() error {
	return d.closer()
}
