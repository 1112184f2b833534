// Package dedupe replays results for repeated idempotency keys.
package dedupe

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithMaxSize sets the maximum number of keys kept in memory.
// Values <= 0 keep the default.
func WithMaxSize(maxSize int) Option {
	return func(c *Cache) {
		if maxSize > 0 {
			c.maxSize = maxSize
		}
	}
}

// WithLookup consults l on a cache miss before running the roll, so keys
// survive eviction and restarts.
func WithLookup(l Lookup) Option {
	return func(c *Cache) {
		c.lookup = l
	}
}
