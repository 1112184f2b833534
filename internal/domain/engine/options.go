package engine

import (
	"github.com/okian/rollboard/internal/domain/allowance"
	"github.com/okian/rollboard/internal/domain/clock"
	"github.com/okian/rollboard/internal/domain/dice"
	"github.com/okian/rollboard/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithTracker sets the allowance tracker, carrying quota and cooldown.
func WithTracker(t *allowance.Tracker) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracker = t
		}
	}
}

// WithRoller sets the dice roller.
func WithRoller(r *dice.Roller) Option {
	return func(e *Engine) {
		if r != nil {
			e.dice = r
		}
	}
}

// WithIndex sets the leaderboard index.
func WithIndex(idx Index) Option {
	return func(e *Engine) {
		e.index = idx
	}
}

// WithJournal sets the durable journal.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithPublisher sets where closures go once a period is finalized.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRetentionDays sets how many closed days stay queryable. Zero keeps all.
func WithRetentionDays(days int) Option {
	return func(e *Engine) {
		if days >= 0 {
			e.retentionDays = days
		}
	}
}

// WithIDGenerator sets the roll id source.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}
