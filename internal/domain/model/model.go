// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Date is a civil date in the reference timezone, formatted YYYY-MM-DD.
type Date string

// WeekID is an ISO-8601 week, formatted YYYY-Www.
type WeekID string

// Layouts for Date and WeekID.
const (
	DateLayout = "2006-01-02"
	weekLayout = "%04d-W%02d"
)

// ParseDate validates s as a Date.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Week returns the ISO week containing d.
func (d Date) Week() WeekID {
	return WeekOf(d.Time(time.UTC))
}

// WeekOf returns the ISO week id of t's civil date.
func WeekOf(t time.Time) WeekID {
	y, w := t.ISOWeek()
	return WeekID(fmt.Sprintf(weekLayout, y, w))
}

// ParseWeek validates s as a WeekID.
func ParseWeek(s string) (WeekID, error) {
	var y, w int
	if n, err := fmt.Sscanf(s, weekLayout, &y, &w); err != nil || n != 2 {
		return "", fmt.Errorf("invalid week %q", s)
	}
	if w < 1 || w > 53 {
		return "", fmt.Errorf("invalid week %q", s)
	}
	id := WeekID(fmt.Sprintf(weekLayout, y, w))
	if id != WeekID(s) {
		return "", fmt.Errorf("invalid week %q", s)
	}
	// Reject week 53 in years that have only 52.
	if WeekOf(id.Monday()) != id {
		return "", fmt.Errorf("invalid week %q", s)
	}
	return id, nil
}

// Monday returns the first civil day of the week at UTC midnight.
func (w WeekID) Monday() time.Time {
	var y, n int
	if _, err := fmt.Sscanf(string(w), weekLayout, &y, &n); err != nil {
		return time.Time{}
	}
	// January 4th is always in week 1.
	jan4 := time.Date(y, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset+(n-1)*7)
}

// Dates returns the seven dates of w, Monday first.
func (w WeekID) Dates() []Date {
	mon := w.Monday()
	out := make([]Date, 0, 7)
	for i := range 7 {
		out = append(out, Date(mon.AddDate(0, 0, i).Format(DateLayout)))
	}
	return out
}

// Outcome is the result of throwing two dice.
type Outcome struct {
	Die1  int `json:"die1"`
	Die2  int `json:"die2"`
	Total int `json:"total"`
}

// Roll is one granted throw, recorded in per-roll history.
type Roll struct {
	ID        string    `json:"id"`
	Player    string    `json:"player"`
	Date      Date      `json:"date"`
	Index     int       `json:"index"`
	Remaining int       `json:"remaining"`
	Outcome   Outcome   `json:"outcome"`
	RolledAt  time.Time `json:"rolled_at"`
	// RequestKey is the client's idempotency key, empty when none was sent.
	RequestKey string `json:"-"`
}

// DailyRecord is a player's tally for one date.
type DailyRecord struct {
	Player        string `json:"player"`
	Date          Date   `json:"date"`
	RollsConsumed int    `json:"rolls_consumed"`
	DailySum      int64  `json:"daily_sum"`
	Closed        bool   `json:"closed"`
}

// WeeklyRecord is a player's folded total for one week.
type WeeklyRecord struct {
	Player     string `json:"player"`
	Week       WeekID `json:"week"`
	WeeklySum  int64  `json:"weekly_sum"`
	DaysPlayed int    `json:"days_played"`
	Closed     bool   `json:"closed"`
}

// Scope selects a leaderboard family.
type Scope string

// Leaderboard scopes.
const (
	ScopeDaily  Scope = "daily"
	ScopeWeekly Scope = "weekly"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeDaily || s == ScopeWeekly
}

// Board returns the index key for the given period of s.
func (s Scope) Board(period string) string {
	return string(s) + ":" + period
}

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank   int    `json:"rank"`
	Player string `json:"player"`
	Score  int64  `json:"score"`
}

// Closure is a finalized ranked list emitted at a day or week boundary.
type Closure struct {
	Scope     Scope     `json:"scope"`
	Period    string    `json:"period"`
	ClosedAt  time.Time `json:"closed_at"`
	Standings []Entry   `json:"standings"`
}

// ErrUnranked marks a player with no row in the requested board.
var ErrUnranked = errors.New("unranked")
