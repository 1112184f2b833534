// Package ledger keeps each player's cumulative daily sum and freezes a
// date's records at its day boundary.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/okian/rollboard/internal/domain/model"
)

// DayClose is the result of closing a date.
type DayClose struct {
	Date model.Date
	// Totals holds every record of the date, sorted by player.
	Totals []model.DailyRecord
	// Fresh holds only the records this call transitioned to closed.
	// Folding Fresh, never Totals, keeps repeated closes from double counting.
	Fresh []model.DailyRecord
	// Transitioned reports whether this call closed the date.
	Transitioned bool
}

type day struct {
	closed  bool
	records map[string]*model.DailyRecord
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu   sync.RWMutex
	days map[model.Date]*day
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{days: make(map[model.Date]*day)}
}

func (l *Ledger) dayFor(date model.Date) *day {
	d, ok := l.days[date]
	if !ok {
		d = &day{records: make(map[string]*model.DailyRecord)}
		l.days[date] = d
	}
	return d
}

// AddToDaily adds amount to the player's sum for date and counts one roll,
// creating the record if absent.
func (l *Ledger) AddToDaily(player string, date model.Date, amount int64) (model.DailyRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.dayFor(date)
	if d.closed {
		return model.DailyRecord{}, fmt.Errorf("add to %s for %s: %w", date, player, ErrDayClosed)
	}
	r, ok := d.records[player]
	if !ok {
		r = &model.DailyRecord{Player: player, Date: date}
		d.records[player] = r
	}
	r.RollsConsumed++
	r.DailySum += amount
	return *r, nil
}

// Restore installs a record loaded from durable state.
func (l *Ledger) Restore(rec model.DailyRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.dayFor(rec.Date)
	r := rec
	d.records[rec.Player] = &r
	if rec.Closed {
		d.closed = true
	}
}

// MarkClosed flags date as closed without reporting fresh records. Restore
// calls it for recorded day closures, including dates with no rolls.
func (l *Ledger) MarkClosed(date model.Date) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.dayFor(date)
	d.closed = true
	for _, r := range d.records {
		r.Closed = true
	}
}

// CloseDay transitions every record of date to closed. Calling it again
// returns the same Totals with an empty Fresh.
func (l *Ledger) CloseDay(date model.Date) DayClose {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.dayFor(date)
	out := DayClose{Date: date, Transitioned: !d.closed}
	d.closed = true

	for _, r := range d.records {
		if !r.Closed {
			r.Closed = true
			out.Fresh = append(out.Fresh, *r)
		}
		out.Totals = append(out.Totals, *r)
	}
	sortRecords(out.Totals)
	sortRecords(out.Fresh)
	return out
}

// Record returns the player's record for date.
func (l *Ledger) Record(player string, date model.Date) (model.DailyRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.days[date]
	if !ok {
		return model.DailyRecord{}, false
	}
	r, ok := d.records[player]
	if !ok {
		return model.DailyRecord{}, false
	}
	return *r, true
}

// Records returns every record of date sorted by player.
func (l *Ledger) Records(date model.Date) []model.DailyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.days[date]
	if !ok {
		return nil
	}
	out := make([]model.DailyRecord, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, *r)
	}
	sortRecords(out)
	return out
}

// IsClosed reports whether date has been closed.
func (l *Ledger) IsClosed(date model.Date) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.days[date]
	return ok && d.closed
}

// OpenDates returns every date that has records but is not closed, oldest first.
func (l *Ledger) OpenDates() []model.Date {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Date
	for date, d := range l.days {
		if !d.closed && len(d.records) > 0 {
			out = append(out, date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Prune drops closed dates older than before and returns them.
func (l *Ledger) Prune(before model.Date) []model.Date {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.Date
	for date, d := range l.days {
		if d.closed && date < before {
			delete(l.days, date)
			out = append(out, date)
		}
	}
	return out
}

func sortRecords(rs []model.DailyRecord) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Player < rs[j].Player })
}
