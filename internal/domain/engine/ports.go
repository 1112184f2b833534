package engine

import (
	"context"
	"time"

	"github.com/okian/rollboard/internal/domain/model"
)

// Index is the ranked view the engine keeps current.
type Index interface {
	Set(ctx context.Context, board, player string, score int64) error
	Rank(ctx context.Context, board, player string) (model.Entry, error)
	TopN(ctx context.Context, board string, n int) ([]model.Entry, error)
	Snapshot(ctx context.Context, board string) []model.Entry
	Count(ctx context.Context, board string) int
	Drop(ctx context.Context, board string)
	Boards(ctx context.Context) []string
}

// Fold records one closed daily total added into its week.
type Fold struct {
	Player   string
	Week     model.WeekID
	Date     model.Date
	DailySum int64
}

// DailyState is a persisted daily record plus the time of its last roll.
type DailyState struct {
	Record     model.DailyRecord
	LastRollAt time.Time
}

// WeeklyState is a persisted weekly record plus the dates folded into it.
type WeeklyState struct {
	Record model.WeeklyRecord
	Dates  []model.Date
}

// ClosureState is a recorded day or week closure. Dispatched is false until
// every dispatcher has accepted its standings.
type ClosureState struct {
	Scope      model.Scope
	Period     string
	ClosedAt   time.Time
	Dispatched bool
}

// State is everything Restore needs to rebuild memory.
type State struct {
	Daily    []DailyState
	Weekly   []WeeklyState
	Closures []ClosureState
}

// Journal is the durable record of rolls and closures. AppendRoll is the
// commit point of a roll.
type Journal interface {
	AppendRoll(ctx context.Context, roll model.Roll) error
	CloseDay(ctx context.Context, date model.Date, closedAt time.Time, folds []Fold) error
	CloseWeek(ctx context.Context, week model.WeekID, closedAt time.Time) error
	Load(ctx context.Context) (State, error)
}

// Publisher accepts finalized standings for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, c model.Closure) error
}

// Dispatcher delivers finalized standings to a prize or announcement system.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, c model.Closure) error
}

// NopJournal keeps nothing.
type NopJournal struct{}

func (NopJournal) AppendRoll(context.Context, model.Roll) error { return nil }
func (NopJournal) CloseDay(context.Context, model.Date, time.Time, []Fold) error {
	return nil
}
func (NopJournal) CloseWeek(context.Context, model.WeekID, time.Time) error { return nil }
func (NopJournal) Load(context.Context) (State, error)                      { return State{}, nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Closure) error { return nil }

// HistoryReader lists a player's recorded rolls for a date. Journals that
// keep per-roll history implement it.
type HistoryReader interface {
	Rolls(ctx context.Context, player string, date model.Date) ([]model.Roll, error)
}

// RequestReader finds a roll by the idempotency key it was made under.
type RequestReader interface {
	ReplayRoll(ctx context.Context, player, key string) (model.Roll, bool, error)
}

// DeliveryRecorder remembers which closures reached every dispatcher.
// Journals that implement it get undelivered closures republished on restore.
type DeliveryRecorder interface {
	MarkDispatched(ctx context.Context, scope model.Scope, period string, at time.Time) error
}
