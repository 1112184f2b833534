// Package allowance tracks how many rolls each player has used per date.
package allowance

import (
	"sync"
	"time"

	"github.com/okian/rollboard/internal/domain/model"
)

// DefaultQuota is the number of rolls a player gets per day.
const DefaultQuota = 50

// Grant describes a consumed roll.
type Grant struct {
	Index     int // 1-based position of the roll within the date
	Remaining int
}

type slot struct {
	mu       sync.Mutex
	consumed int
	last     time.Time
}

// Tracker holds one counter per (player, date). Counters for different
// players never share a lock beyond the map lookup.
type Tracker struct {
	quota    int
	cooldown time.Duration

	mu   sync.RWMutex
	days map[model.Date]map[string]*slot
}

// New creates a tracker with the default quota and no cooldown.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		quota: DefaultQuota,
		days:  make(map[model.Date]map[string]*slot),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Quota returns the per-date roll limit.
func (t *Tracker) Quota() int { return t.quota }

// Cooldown returns the configured minimum spacing between rolls.
func (t *Tracker) Cooldown() time.Duration { return t.cooldown }

func (t *Tracker) lookup(player string, date model.Date) *slot {
	t.mu.RLock()
	s := t.days[date][player]
	t.mu.RUnlock()
	return s
}

func (t *Tracker) slotFor(player string, date model.Date) *slot {
	if s := t.lookup(player, date); s != nil {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	players, ok := t.days[date]
	if !ok {
		players = make(map[string]*slot)
		t.days[date] = players
	}
	s, ok := players[player]
	if !ok {
		s = &slot{}
		players[player] = s
	}
	return s
}

func (t *Tracker) admit(s *slot, now time.Time) error {
	if s.consumed >= t.quota {
		return ErrQuotaExceeded
	}
	if t.cooldown > 0 && !s.last.IsZero() {
		if wait := s.last.Add(t.cooldown).Sub(now); wait > 0 {
			return &CooldownError{Remaining: wait}
		}
	}
	return nil
}

// Check reports whether a roll would be granted now without consuming it.
func (t *Tracker) Check(player string, date model.Date, now time.Time) error {
	s := t.lookup(player, date)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.admit(s, now)
}

// TryConsume grants a roll if the player is below quota and outside the
// cooldown, incrementing the counter atomically with the check.
func (t *Tracker) TryConsume(player string, date model.Date, now time.Time) (Grant, error) {
	s := t.slotFor(player, date)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := t.admit(s, now); err != nil {
		return Grant{}, err
	}
	s.consumed++
	s.last = now
	return Grant{Index: s.consumed, Remaining: t.quota - s.consumed}, nil
}

// Consumed returns the rolls used by player on date.
func (t *Tracker) Consumed(player string, date model.Date) int {
	s := t.lookup(player, date)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}

// Remaining returns the rolls left for player on date.
func (t *Tracker) Remaining(player string, date model.Date) int {
	return t.quota - t.Consumed(player, date)
}

// NextAllowed returns the earliest instant the next roll may be granted,
// or the zero time when no cooldown applies.
func (t *Tracker) NextAllowed(player string, date model.Date) time.Time {
	if t.cooldown <= 0 {
		return time.Time{}
	}
	s := t.lookup(player, date)
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.IsZero() {
		return time.Time{}
	}
	return s.last.Add(t.cooldown)
}

// Restore seeds a counter from durable state. Values above quota are clamped.
func (t *Tracker) Restore(player string, date model.Date, consumed int, last time.Time) {
	s := t.slotFor(player, date)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed = min(max(consumed, 0), t.quota)
	s.last = last
}

// Forget drops every counter for date.
func (t *Tracker) Forget(date model.Date) {
	t.mu.Lock()
	delete(t.days, date)
	t.mu.Unlock()
}

// Dates returns the number of dates currently tracked.
func (t *Tracker) Dates() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.days)
}
