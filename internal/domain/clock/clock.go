// Package clock supplies the current instant and maps instants onto the
// day and week periods that scoring is bucketed by.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/okian/rollboard/internal/domain/model"
)

// Clock is the only source of time for business logic.
type Clock interface {
	Now() time.Time
	// DayOf returns the civil date of t in the reference timezone.
	// Midnight belongs to the day that starts at it.
	DayOf(t time.Time) model.Date
	// WeekOf returns the ISO week of t's civil date; weeks end Sunday night.
	WeekOf(t time.Time) model.WeekID
	// EndOfDay returns the first instant of the day after d.
	EndOfDay(d model.Date) time.Time
	Location() *time.Location
}

type calendar struct {
	loc *time.Location
}

func (c calendar) DayOf(t time.Time) model.Date {
	return model.Date(t.In(c.loc).Format(model.DateLayout))
}

func (c calendar) WeekOf(t time.Time) model.WeekID {
	return model.WeekOf(t.In(c.loc))
}

func (c calendar) EndOfDay(d model.Date) time.Time {
	return d.Time(c.loc).AddDate(0, 0, 1)
}

func (c calendar) Location() *time.Location { return c.loc }

// System reads the wall clock.
type System struct {
	calendar
}

// NewSystem returns a wall clock for the named IANA timezone ("" means UTC).
func NewSystem(tz string) (*System, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}
	return &System{calendar{loc: loc}}, nil
}

// Now returns the current wall-clock time.
func (s *System) Now() time.Time { return time.Now().In(s.loc) }

// Manual is a Clock that only moves when told to.
type Manual struct {
	calendar
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a manual clock frozen at start.
func NewManual(start time.Time, loc *time.Location) *Manual {
	if loc == nil {
		loc = time.UTC
	}
	return &Manual{calendar: calendar{loc: loc}, now: start}
}

// Now returns the frozen instant.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}
