package allowance

import "time"

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithQuota sets the number of rolls per player per date.
func WithQuota(quota int) Option {
	return func(t *Tracker) {
		if quota > 0 {
			t.quota = quota
		}
	}
}

// WithCooldown sets the minimum spacing between two rolls of one player on
// one date. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.cooldown = d
		}
	}
}
