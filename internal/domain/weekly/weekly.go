// Package weekly sums closed daily totals into per-player weekly totals.
package weekly

import (
	"fmt"
	"sort"
	"sync"

	"github.com/okian/rollboard/internal/domain/model"
)

// WeekClose is the result of closing a week.
type WeekClose struct {
	Week   model.WeekID
	Totals []model.WeeklyRecord
	// Fresh reports whether this call closed the week.
	Fresh bool
}

type foldKey struct {
	player string
	date   model.Date
}

type week struct {
	closed  bool
	records map[string]*model.WeeklyRecord
	folded  map[foldKey]struct{}
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu    sync.RWMutex
	weeks map[model.WeekID]*week
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{weeks: make(map[model.WeekID]*week)}
}

func (a *Aggregator) weekFor(id model.WeekID) *week {
	w, ok := a.weeks[id]
	if !ok {
		w = &week{
			records: make(map[string]*model.WeeklyRecord),
			folded:  make(map[foldKey]struct{}),
		}
		a.weeks[id] = w
	}
	return w
}

// FoldDailyClose adds a closed daily sum into the player's weekly total.
// Each (player, date) is accepted once.
func (a *Aggregator) FoldDailyClose(player string, id model.WeekID, date model.Date, dailySum int64) (model.WeeklyRecord, error) {
	if date.Week() != id {
		return model.WeeklyRecord{}, fmt.Errorf("fold %s into %s: %w", date, id, ErrWrongWeek)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.weekFor(id)
	if w.closed {
		return model.WeeklyRecord{}, fmt.Errorf("fold %s/%s into %s: %w", player, date, id, ErrWeekClosed)
	}
	k := foldKey{player: player, date: date}
	if _, dup := w.folded[k]; dup {
		return model.WeeklyRecord{}, fmt.Errorf("fold %s/%s into %s: %w", player, date, id, ErrDuplicateFold)
	}
	w.folded[k] = struct{}{}

	r, ok := w.records[player]
	if !ok {
		r = &model.WeeklyRecord{Player: player, Week: id}
		w.records[player] = r
	}
	r.WeeklySum += dailySum
	r.DaysPlayed++
	return *r, nil
}

// CloseWeek finalizes every record of the week. Later folds fail with
// ErrWeekClosed. Repeated calls return the same totals.
func (a *Aggregator) CloseWeek(id model.WeekID) WeekClose {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.weekFor(id)
	out := WeekClose{Week: id, Fresh: !w.closed}
	w.closed = true
	for _, r := range w.records {
		r.Closed = true
		out.Totals = append(out.Totals, *r)
	}
	sortRecords(out.Totals)
	return out
}

// Restore installs a record and its folded dates from durable state.
func (a *Aggregator) Restore(rec model.WeeklyRecord, dates []model.Date) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.weekFor(rec.Week)
	r := rec
	w.records[rec.Player] = &r
	for _, d := range dates {
		w.folded[foldKey{player: rec.Player, date: d}] = struct{}{}
	}
	if rec.Closed {
		w.closed = true
	}
}

// MarkClosed flags a week as closed. Restore calls it for recorded week closures.
func (a *Aggregator) MarkClosed(id model.WeekID) {
	a.CloseWeek(id)
}

// Record returns the player's record for the week.
func (a *Aggregator) Record(player string, id model.WeekID) (model.WeeklyRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	w, ok := a.weeks[id]
	if !ok {
		return model.WeeklyRecord{}, false
	}
	r, ok := w.records[player]
	if !ok {
		return model.WeeklyRecord{}, false
	}
	return *r, true
}

// Records returns every record of the week sorted by player.
func (a *Aggregator) Records(id model.WeekID) []model.WeeklyRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	w, ok := a.weeks[id]
	if !ok {
		return nil
	}
	out := make([]model.WeeklyRecord, 0, len(w.records))
	for _, r := range w.records {
		out = append(out, *r)
	}
	sortRecords(out)
	return out
}

// IsClosed reports whether the week has been closed.
func (a *Aggregator) IsClosed(id model.WeekID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	w, ok := a.weeks[id]
	return ok && w.closed
}

// OpenWeeks returns every week that is not closed, oldest first.
func (a *Aggregator) OpenWeeks() []model.WeekID {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []model.WeekID
	for id, w := range a.weeks {
		if !w.closed {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Prune drops closed weeks older than before and returns them.
func (a *Aggregator) Prune(before model.WeekID) []model.WeekID {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.WeekID
	for id, w := range a.weeks {
		if w.closed && id < before {
			delete(a.weeks, id)
			out = append(out, id)
		}
	}
	return out
}

func sortRecords(rs []model.WeeklyRecord) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Player < rs[j].Player })
}
