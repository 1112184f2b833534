// Package dice draws two-die outcomes.
package dice

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/rollboard/internal/domain/model"
)

// Faces is the number of faces on each die.
const Faces = 6

// Source yields uniform integers in [0, n).
type Source interface {
	IntN(n int) int
}

// Option applies a configuration option to the Roller.
type Option func(*Roller)

// WithSeed makes draws reproducible.
func WithSeed(seed uint64) Option {
	return func(r *Roller) {
		r.src = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // dice need uniformity, not secrecy
	}
}

// WithSource replaces the random source, e.g. with a scripted one in tests.
func WithSource(src Source) Option {
	return func(r *Roller) {
		if src != nil {
			r.src = src
		}
	}
}

// Roller throws two independent fair dice. Safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	src Source
}

// NewRoller creates a roller seeded from the current time.
func NewRoller(opts ...Option) *Roller {
	seed := uint64(time.Now().UnixNano()) //nolint:gosec // seed only
	r := &Roller{}
	WithSeed(seed)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Roll returns two faces in [1,6] and their sum.
func (r *Roller) Roll() model.Outcome {
	r.mu.Lock()
	d1 := r.src.IntN(Faces) + 1
	d2 := r.src.IntN(Faces) + 1
	r.mu.Unlock()
	return model.Outcome{Die1: d1, Die2: d2, Total: d1 + d2}
}
