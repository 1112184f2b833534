// Package engine runs rolls against the daily quota and drives the day and
// week boundaries that freeze and fold scores.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rollboard/internal/domain/allowance"
	"github.com/okian/rollboard/internal/domain/clock"
	"github.com/okian/rollboard/internal/domain/dice"
	"github.com/okian/rollboard/internal/domain/ledger"
	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/internal/domain/weekly"
	"github.com/okian/rollboard/pkg/logger"
	"github.com/okian/rollboard/pkg/metrics"
)

// maxResolveAttempts bounds how often a roll re-reads the clock after
// landing on a day that closed underneath it.
const maxResolveAttempts = 3

// Allowance is a player's roll budget for the current day.
type Allowance struct {
	Player     string     `json:"player"`
	Date       model.Date `json:"date"`
	Quota      int        `json:"quota"`
	Used       int        `json:"used"`
	Remaining  int        `json:"remaining"`
	Cooldown   float64    `json:"cooldown_seconds"`
	NextRollAt time.Time  `json:"next_roll_at,omitzero"`
	ResetsAt   time.Time  `json:"resets_at"`
}

// Engine is safe for concurrent use.
type Engine struct {
	clock     clock.Clock
	tracker   *allowance.Tracker
	dice      *dice.Roller
	ledger    *ledger.Ledger
	weekly    *weekly.Aggregator
	index     Index
	journal   Journal
	publisher Publisher
	log       logger.Logger
	newID     func() string

	retentionDays int

	gatesMu sync.Mutex
	gates   map[model.Date]*sync.RWMutex
	keys    *keyedMutex

	// closeMu serializes day and week closures with each other.
	closeMu sync.Mutex
}

// New creates an engine. An Index is required.
func New(opts ...Option) (*Engine, error) {
	sys, err := clock.NewSystem("")
	if err != nil {
		return nil, err
	}
	e := &Engine{
		clock:         sys,
		tracker:       allowance.New(),
		dice:          dice.NewRoller(),
		ledger:        ledger.New(),
		weekly:        weekly.New(),
		journal:       NopJournal{},
		publisher:     nopPublisher{},
		log:           logger.Nop(),
		newID:         func() string { return uuid.NewString() },
		retentionDays: 35,
		gates:         make(map[model.Date]*sync.RWMutex),
		keys:          newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.index == nil {
		return nil, ErrNoIndex
	}
	return e, nil
}

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock { return e.clock }

// Quota returns the per-day roll limit.
func (e *Engine) Quota() int { return e.tracker.Quota() }

func (e *Engine) gate(date model.Date) *sync.RWMutex {
	e.gatesMu.Lock()
	defer e.gatesMu.Unlock()
	g, ok := e.gates[date]
	if !ok {
		g = &sync.RWMutex{}
		e.gates[date] = g
	}
	return g
}

// Roll throws two dice for player and credits the total to the current day.
//
// The day is the clock's date when the roll takes the day gate; midnight
// belongs to the new day. A roll that finds its day already closed re-reads
// the clock and moves to the new day, or fails with ErrDayClosed if the
// clock still reports the closed day.
func (e *Engine) Roll(ctx context.Context, player string) (model.Roll, error) {
	return e.RollWithKey(ctx, player, "")
}

// RollWithKey is Roll with the client's idempotency key journaled in the
// same commit as the roll, so ReplayRoll finds it after a restart.
func (e *Engine) RollWithKey(ctx context.Context, player, key string) (model.Roll, error) {
	start := time.Now()
	if strings.TrimSpace(player) == "" {
		return model.Roll{}, ErrInvalidPlayer
	}

	for range maxResolveAttempts {
		if err := ctx.Err(); err != nil {
			return model.Roll{}, err
		}
		now := e.clock.Now()
		date := e.clock.DayOf(now)
		g := e.gate(date)

		g.RLock()
		if e.ledger.IsClosed(date) {
			g.RUnlock()
			if e.clock.DayOf(e.clock.Now()) != date {
				continue
			}
			err := fmt.Errorf("roll for %s on %s: %w", player, date, ErrDayClosed)
			e.alert(ctx, err)
			metrics.RecordRollRejected(rejectReason(err))
			return model.Roll{}, err
		}
		roll, err := e.rollLocked(ctx, player, key, date, now)
		g.RUnlock()

		if err != nil {
			metrics.RecordRollRejected(rejectReason(err))
			return model.Roll{}, err
		}
		metrics.RecordRollGranted(strconv.Itoa(roll.Outcome.Total))
		metrics.RecordRollLatency(float64(time.Since(start).Microseconds()) / 1000)
		return roll, nil
	}

	err := fmt.Errorf("roll for %s: %w", player, ErrDayClosed)
	e.alert(ctx, err)
	metrics.RecordRollRejected(rejectReason(err))
	return model.Roll{}, err
}

// rollLocked runs with the day gate held shared.
func (e *Engine) rollLocked(ctx context.Context, player, key string, date model.Date, now time.Time) (model.Roll, error) {
	unlock := e.keys.Lock(player + "|" + string(date))
	defer unlock()

	if err := ctx.Err(); err != nil {
		return model.Roll{}, err
	}
	if err := e.tracker.Check(player, date, now); err != nil {
		return model.Roll{}, err
	}

	used := e.tracker.Consumed(player, date)
	roll := model.Roll{
		ID:         e.newID(),
		Player:     player,
		Date:       date,
		Index:      used + 1,
		Remaining:  e.tracker.Quota() - used - 1,
		Outcome:    e.dice.Roll(),
		RolledAt:   now,
		RequestKey: key,
	}

	// The journal write commits the roll; cancellation no longer applies.
	commitCtx := context.WithoutCancel(ctx)
	jStart := time.Now()
	err := e.journal.AppendRoll(commitCtx, roll)
	metrics.RecordJournalWrite(float64(time.Since(jStart).Microseconds())/1000, err)
	if err != nil {
		return model.Roll{}, fmt.Errorf("journal roll %s: %w", roll.ID, err)
	}

	grant, err := e.tracker.TryConsume(player, date, now)
	if err != nil {
		// Unreachable while the player-day key is held; the journal already has the roll.
		e.log.Error(ctx, "allowance refused a journaled roll", logger.String("roll_id", roll.ID), logger.Error(err))
		return model.Roll{}, err
	}
	roll.Index, roll.Remaining = grant.Index, grant.Remaining

	rec, err := e.ledger.AddToDaily(player, date, int64(roll.Outcome.Total))
	if err != nil {
		e.alert(ctx, err)
		return model.Roll{}, err
	}
	if err := e.index.Set(commitCtx, model.ScopeDaily.Board(string(date)), player, rec.DailySum); err != nil {
		e.log.Error(ctx, "daily board update failed", logger.String("player", player), logger.Error(err))
	}
	return roll, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrCooldownActive):
		return "cooldown_active"
	case errors.Is(err, ErrDayClosed):
		return "day_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (e *Engine) alert(ctx context.Context, err error) {
	kind := alertKind(err)
	metrics.RecordIntegrityAlert(kind)
	e.log.Error(ctx, "integrity alert", logger.String("kind", kind), logger.Error(err))
}

// Allowance reports the player's budget for today.
func (e *Engine) Allowance(ctx context.Context, player string) (Allowance, error) {
	if strings.TrimSpace(player) == "" {
		return Allowance{}, ErrInvalidPlayer
	}
	if err := ctx.Err(); err != nil {
		return Allowance{}, err
	}
	now := e.clock.Now()
	date := e.clock.DayOf(now)
	a := Allowance{
		Player:    player,
		Date:      date,
		Quota:     e.tracker.Quota(),
		Used:      e.tracker.Consumed(player, date),
		Remaining: e.tracker.Remaining(player, date),
		Cooldown:  e.tracker.Cooldown().Seconds(),
		ResetsAt:  e.clock.EndOfDay(date),
	}
	if e.ledger.IsClosed(date) {
		a.Remaining = 0
	}
	if next := e.tracker.NextAllowed(player, date); next.After(now) {
		a.NextRollAt = next
	}
	return a, nil
}

// CloseDay freezes every record of date, folds the newly frozen ones into
// their week and publishes the final daily standings. Repeated calls fold
// and publish nothing.
func (e *Engine) CloseDay(ctx context.Context, date model.Date) (ledger.DayClose, error) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closeDayLocked(ctx, date)
}

func (e *Engine) closeDayLocked(ctx context.Context, date model.Date) (ledger.DayClose, error) {
	start := time.Now()

	g := e.gate(date)
	g.Lock()
	dc := e.ledger.CloseDay(date)
	g.Unlock()

	if !dc.Transitioned {
		return dc, nil
	}
	// Counters of a day closed early stay until pruning so /allowance keeps reporting them.
	if date < e.clock.DayOf(e.clock.Now()) {
		e.tracker.Forget(date)
	}

	week := date.Week()
	var errs []error
	folds := make([]Fold, 0, len(dc.Fresh))
	for _, r := range dc.Fresh {
		wr, err := e.weekly.FoldDailyClose(r.Player, week, date, r.DailySum)
		if err != nil {
			e.alert(ctx, err)
			errs = append(errs, err)
			continue
		}
		folds = append(folds, Fold{Player: r.Player, Week: week, Date: date, DailySum: r.DailySum})
		if err := e.index.Set(ctx, model.ScopeWeekly.Board(string(week)), r.Player, wr.WeeklySum); err != nil {
			e.log.Error(ctx, "weekly board update failed", logger.String("player", r.Player), logger.Error(err))
		}
	}
	metrics.RecordFolds(len(folds))

	closedAt := e.clock.Now()
	if err := e.journal.CloseDay(ctx, date, closedAt, folds); err != nil {
		e.log.Error(ctx, "journal day close failed", logger.String("date", string(date)), logger.Error(err))
		errs = append(errs, fmt.Errorf("journal close %s: %w", date, err))
	}

	e.publish(ctx, model.Closure{
		Scope:     model.ScopeDaily,
		Period:    string(date),
		ClosedAt:  closedAt,
		Standings: e.index.Snapshot(ctx, model.ScopeDaily.Board(string(date))),
	})

	metrics.RecordDayClosed(float64(time.Since(start).Microseconds()) / 1000)
	e.log.Info(ctx, "day closed",
		logger.String("date", string(date)),
		logger.Int("players", len(dc.Totals)),
		logger.Int("folded", len(folds)),
	)
	return dc, errors.Join(errs...)
}

// CloseWeek finalizes the week and publishes its standings once.
func (e *Engine) CloseWeek(ctx context.Context, week model.WeekID) (weekly.WeekClose, error) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closeWeekLocked(ctx, week)
}

func (e *Engine) closeWeekLocked(ctx context.Context, week model.WeekID) (weekly.WeekClose, error) {
	start := time.Now()
	wc := e.weekly.CloseWeek(week)
	if !wc.Fresh {
		return wc, nil
	}

	closedAt := e.clock.Now()
	var err error
	if jerr := e.journal.CloseWeek(ctx, week, closedAt); jerr != nil {
		e.log.Error(ctx, "journal week close failed", logger.String("week", string(week)), logger.Error(jerr))
		err = fmt.Errorf("journal close %s: %w", week, jerr)
	}

	e.publish(ctx, model.Closure{
		Scope:     model.ScopeWeekly,
		Period:    string(week),
		ClosedAt:  closedAt,
		Standings: e.index.Snapshot(ctx, model.ScopeWeekly.Board(string(week))),
	})

	metrics.RecordWeekClosed(float64(time.Since(start).Microseconds()) / 1000)
	e.log.Info(ctx, "week closed", logger.String("week", string(week)), logger.Int("players", len(wc.Totals)))
	return wc, err
}

func (e *Engine) publish(ctx context.Context, c model.Closure) {
	if err := e.publisher.Publish(ctx, c); err != nil {
		e.log.Error(ctx, "closure publish failed",
			logger.String("scope", string(c.Scope)),
			logger.String("period", c.Period),
			logger.Error(err),
		)
	}
}

// Advance closes every open day before today, then every open week before
// the current one, then prunes periods past retention.
func (e *Engine) Advance(ctx context.Context) error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	now := e.clock.Now()
	today := e.clock.DayOf(now)
	thisWeek := e.clock.WeekOf(now)

	var errs []error
	for _, d := range e.ledger.OpenDates() {
		if d >= today {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.closeDayLocked(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range e.weekly.OpenWeeks() {
		if w >= thisWeek {
			continue
		}
		if _, err := e.closeWeekLocked(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	e.prune(ctx, today)
	metrics.UpdateOpenPeriods(len(e.ledger.OpenDates()), len(e.weekly.OpenWeeks()))
	return errors.Join(errs...)
}

func (e *Engine) prune(ctx context.Context, today model.Date) {
	if e.retentionDays == 0 {
		return
	}
	cutoff := today.Time(time.UTC).AddDate(0, 0, -e.retentionDays)
	for _, d := range e.ledger.Prune(model.Date(cutoff.Format(model.DateLayout))) {
		e.tracker.Forget(d)
		e.index.Drop(ctx, model.ScopeDaily.Board(string(d)))
		e.gatesMu.Lock()
		delete(e.gates, d)
		e.gatesMu.Unlock()
	}
	for _, w := range e.weekly.Prune(model.WeekOf(cutoff)) {
		e.index.Drop(ctx, model.ScopeWeekly.Board(string(w)))
	}
}

// Restore rebuilds in-memory state from the journal. Call before serving.
func (e *Engine) Restore(ctx context.Context) error {
	st, err := e.journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	today := e.clock.DayOf(e.clock.Now())
	for _, ds := range st.Daily {
		r := ds.Record
		e.ledger.Restore(r)
		if !r.Closed || r.Date >= today {
			e.tracker.Restore(r.Player, r.Date, r.RollsConsumed, ds.LastRollAt)
		}
		if err := e.index.Set(ctx, model.ScopeDaily.Board(string(r.Date)), r.Player, r.DailySum); err != nil {
			return fmt.Errorf("restore daily board: %w", err)
		}
	}
	for _, ws := range st.Weekly {
		r := ws.Record
		e.weekly.Restore(r, ws.Dates)
		if err := e.index.Set(ctx, model.ScopeWeekly.Board(string(r.Week)), r.Player, r.WeeklySum); err != nil {
			return fmt.Errorf("restore weekly board: %w", err)
		}
	}

	// Closures come days first, so a week is marked after its days.
	var pending []ClosureState
	for _, c := range st.Closures {
		switch c.Scope {
		case model.ScopeDaily:
			e.ledger.MarkClosed(model.Date(c.Period))
		case model.ScopeWeekly:
			e.weekly.MarkClosed(model.WeekID(c.Period))
		}
		if !c.Dispatched {
			pending = append(pending, c)
		}
	}
	if _, ok := e.journal.(DeliveryRecorder); ok {
		for _, c := range pending {
			e.log.Warn(ctx, "republishing undelivered closure",
				logger.String("scope", string(c.Scope)),
				logger.String("period", c.Period),
			)
			e.publish(ctx, model.Closure{
				Scope:     c.Scope,
				Period:    c.Period,
				ClosedAt:  c.ClosedAt,
				Standings: e.index.Snapshot(ctx, c.Scope.Board(c.Period)),
			})
		}
	}

	e.log.Info(ctx, "state restored",
		logger.Int("daily", len(st.Daily)),
		logger.Int("weekly", len(st.Weekly)),
		logger.Int("closures", len(st.Closures)),
		logger.Int("undelivered", len(pending)),
	)
	return nil
}

// Delivered records that every dispatcher accepted c, so a restart does not
// publish it again.
func (e *Engine) Delivered(ctx context.Context, c model.Closure) error {
	dr, ok := e.journal.(DeliveryRecorder)
	if !ok {
		return nil
	}
	return dr.MarkDispatched(context.WithoutCancel(ctx), c.Scope, c.Period, e.clock.Now())
}

// Period resolves an empty period to the current day or week and validates
// an explicit one.
func (e *Engine) Period(scope model.Scope, period string) (string, error) {
	now := e.clock.Now()
	switch scope {
	case model.ScopeDaily:
		if period == "" {
			return string(e.clock.DayOf(now)), nil
		}
		d, err := model.ParseDate(period)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidPeriod, err)
		}
		return string(d), nil
	case model.ScopeWeekly:
		if period == "" {
			return string(e.clock.WeekOf(now)), nil
		}
		w, err := model.ParseWeek(period)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidPeriod, err)
		}
		return string(w), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

// TopN returns the first n rows of the scope's board for period.
func (e *Engine) TopN(ctx context.Context, scope model.Scope, period string, n int) ([]model.Entry, error) {
	p, err := e.Period(scope, period)
	if err != nil {
		return nil, err
	}
	return e.index.TopN(ctx, scope.Board(p), n)
}

// Rank returns the full ranked view for period.
func (e *Engine) Rank(ctx context.Context, scope model.Scope, period string) ([]model.Entry, error) {
	p, err := e.Period(scope, period)
	if err != nil {
		return nil, err
	}
	return e.index.Snapshot(ctx, scope.Board(p)), nil
}

// RankOf returns the player's row; ranked is false when the player has no
// record in that scope.
func (e *Engine) RankOf(ctx context.Context, scope model.Scope, period, player string) (entry model.Entry, ranked bool, err error) {
	p, err := e.Period(scope, period)
	if err != nil {
		return model.Entry{}, false, err
	}
	entry, err = e.index.Rank(ctx, scope.Board(p), player)
	if errors.Is(err, model.ErrUnranked) {
		return model.Entry{Player: player}, false, nil
	}
	if err != nil {
		return model.Entry{}, false, err
	}
	return entry, true, nil
}

// Count returns how many players are on the scope's board for period.
func (e *Engine) Count(ctx context.Context, scope model.Scope, period string) (int, error) {
	p, err := e.Period(scope, period)
	if err != nil {
		return 0, err
	}
	return e.index.Count(ctx, scope.Board(p)), nil
}

// DailyRecord returns the ledger record for (player, date).
func (e *Engine) DailyRecord(player string, date model.Date) (model.DailyRecord, bool) {
	return e.ledger.Record(player, date)
}

// WeeklyRecord returns the aggregator record for (player, week).
func (e *Engine) WeeklyRecord(player string, week model.WeekID) (model.WeeklyRecord, bool) {
	return e.weekly.Record(player, week)
}

// Stats summarizes engine state for operators.
type Stats struct {
	Today       model.Date     `json:"today"`
	Week        model.WeekID   `json:"week"`
	OpenDays    []model.Date   `json:"open_days"`
	OpenWeeks   []model.WeekID `json:"open_weeks"`
	DailyCount  int            `json:"daily_players"`
	WeeklyCount int            `json:"weekly_players"`
	Boards      int            `json:"boards"`
	TrackedDays int            `json:"tracked_days"`
	Quota       int            `json:"quota"`
}

// Stats returns a point-in-time summary.
func (e *Engine) Stats(ctx context.Context) Stats {
	now := e.clock.Now()
	today, week := e.clock.DayOf(now), e.clock.WeekOf(now)
	return Stats{
		Today:       today,
		Week:        week,
		OpenDays:    e.ledger.OpenDates(),
		OpenWeeks:   e.weekly.OpenWeeks(),
		DailyCount:  e.index.Count(ctx, model.ScopeDaily.Board(string(today))),
		WeeklyCount: e.index.Count(ctx, model.ScopeWeekly.Board(string(week))),
		Boards:      len(e.index.Boards(ctx)),
		TrackedDays: e.tracker.Dates(),
		Quota:       e.tracker.Quota(),
	}
}

// ReplayRoll returns the journaled roll made by player under key. found is
// false when the journal keeps no request keys or never saw this one.
func (e *Engine) ReplayRoll(ctx context.Context, player, key string) (roll model.Roll, found bool, err error) {
	rr, ok := e.journal.(RequestReader)
	if !ok || key == "" {
		return model.Roll{}, false, nil
	}
	return rr.ReplayRoll(ctx, player, key)
}

// History returns the player's rolls for date, or today when date is empty.
func (e *Engine) History(ctx context.Context, player, date string) ([]model.Roll, error) {
	if strings.TrimSpace(player) == "" {
		return nil, ErrInvalidPlayer
	}
	hr, ok := e.journal.(HistoryReader)
	if !ok {
		return nil, ErrNoHistory
	}
	p, err := e.Period(model.ScopeDaily, date)
	if err != nil {
		return nil, err
	}
	return hr.Rolls(ctx, player, model.Date(p))
}
