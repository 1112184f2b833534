// Package dedupe replays results for repeated idempotency keys.
package dedupe

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/okian/rollboard/internal/domain/model"
)

const defaultMaxSize = 50000

// Replayer runs fn at most once per (player, key) and returns the stored
// roll for later calls with the same pair.
type Replayer interface {
	// Do returns the cached roll for (player, key), or runs fn and caches a
	// successful result. Concurrent callers with one pair share a single fn
	// call. replayed is true when the roll was not produced by this call.
	Do(ctx context.Context, player, key string, fn func(context.Context) (model.Roll, error)) (roll model.Roll, replayed bool, err error)

	// Forget removes the pair so a later call runs fn again.
	Forget(player, key string)

	Size() int
}

// Lookup finds a roll recorded under (player, key) outside the cache.
type Lookup interface {
	ReplayRoll(ctx context.Context, player, key string) (model.Roll, bool, error)
}

// Cache implements Replayer with a bounded LRU in front of an optional Lookup.
type Cache struct {
	maxSize int
	lookup  Lookup
	entries *lru.Cache
	group   singleflight.Group
}

// New creates a cache with configuration options.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(c)
	}
	entries, err := lru.New(c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("create idempotency cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Keys are scoped to the player so two players cannot collide.
func cacheKey(player, key string) string {
	return player + "|" + key
}

// Do implements Replayer.
func (c *Cache) Do(ctx context.Context, player, key string, fn func(context.Context) (model.Roll, error)) (model.Roll, bool, error) {
	ck := cacheKey(player, key)
	if v, ok := c.entries.Get(ck); ok {
		return v.(model.Roll), true, nil
	}

	owner := false
	v, err, _ := c.group.Do(ck, func() (any, error) {
		// A call that finished between Get and Do already stored its result.
		if v, ok := c.entries.Get(ck); ok {
			return v, nil
		}
		if c.lookup != nil {
			roll, found, err := c.lookup.ReplayRoll(ctx, player, key)
			if err != nil {
				return nil, fmt.Errorf("look up request %q: %w", key, err)
			}
			if found {
				c.entries.Add(ck, roll)
				return roll, nil
			}
		}
		owner = true
		roll, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(ck, roll)
		return roll, nil
	})
	if err != nil {
		return model.Roll{}, false, err
	}
	return v.(model.Roll), !owner, nil
}

// Forget implements Replayer. A pair kept by the Lookup still replays.
func (c *Cache) Forget(player, key string) {
	c.entries.Remove(cacheKey(player, key))
}

// Size returns the number of cached keys.
func (c *Cache) Size() int {
	return c.entries.Len()
}
