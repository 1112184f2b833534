// Package sqlite is the durable journal of rolls, daily and weekly totals
// and period closures.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/rollboard/internal/adapters/storage/sqlite/migrations"
	"github.com/okian/rollboard/internal/domain/engine"
	"github.com/okian/rollboard/internal/domain/model"
)

var (
	_ engine.Journal          = (*Store)(nil)
	_ engine.HistoryReader    = (*Store)(nil)
	_ engine.RequestReader    = (*Store)(nil)
	_ engine.DeliveryRecorder = (*Store)(nil)
)

// ErrNotConfigured is returned by a nil or closed store.
var ErrNotConfigured = errors.New("storage is not configured")

// Store implements engine.Journal on SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent rolls.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// AppendRoll stores the roll and adds it to the player's daily total.
func (s *Store) AppendRoll(ctx context.Context, roll model.Roll) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if roll.ID == "" || roll.Player == "" || roll.Date == "" {
		return fmt.Errorf("roll id, player and date are required")
	}
	at := roll.RolledAt.UTC().UnixMilli()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO rolls (id, player, day, roll_index, die1, die2, total, rolled_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
			roll.ID, roll.Player, string(roll.Date), roll.Index,
			roll.Outcome.Die1, roll.Outcome.Die2, roll.Outcome.Total, at,
		); err != nil {
			return fmt.Errorf("insert roll: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO daily_totals (player, day, rolls_consumed, daily_sum, last_roll_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (player, day) DO UPDATE SET
	rolls_consumed = rolls_consumed + 1,
	daily_sum = daily_sum + excluded.daily_sum,
	last_roll_at = excluded.last_roll_at
`,
			roll.Player, string(roll.Date), roll.Outcome.Total, at,
		); err != nil {
			return fmt.Errorf("upsert daily total: %w", err)
		}
		if roll.RequestKey == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO roll_requests (player, request_key, roll_id, remaining)
VALUES (?, ?, ?, ?)
`,
			roll.Player, roll.RequestKey, roll.ID, roll.Remaining,
		); err != nil {
			return fmt.Errorf("insert roll request: %w", err)
		}
		return nil
	})
}

// ReplayRoll returns the roll player made under key.
func (s *Store) ReplayRoll(ctx context.Context, player, key string) (model.Roll, bool, error) {
	if err := s.ready(ctx); err != nil {
		return model.Roll{}, false, err
	}
	r := model.Roll{Player: player, RequestKey: key}
	var (
		day string
		at  int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT r.id, r.day, r.roll_index, q.remaining, r.die1, r.die2, r.total, r.rolled_at
FROM roll_requests q
JOIN rolls r ON r.id = q.roll_id
WHERE q.player = ? AND q.request_key = ?
`, player, key).Scan(&r.ID, &day, &r.Index, &r.Remaining, &r.Outcome.Die1, &r.Outcome.Die2, &r.Outcome.Total, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Roll{}, false, nil
	}
	if err != nil {
		return model.Roll{}, false, fmt.Errorf("find roll request: %w", err)
	}
	r.Date = model.Date(day)
	r.RolledAt = time.UnixMilli(at).UTC()
	return r, true, nil
}

// MarkDispatched records that the closure of period reached every dispatcher.
func (s *Store) MarkDispatched(ctx context.Context, scope model.Scope, period string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var q string
	switch scope {
	case model.ScopeDaily:
		q = `UPDATE day_closures SET dispatched_at = ? WHERE day = ?`
	case model.ScopeWeekly:
		q = `UPDATE week_closures SET dispatched_at = ? WHERE week = ?`
	default:
		return fmt.Errorf("mark dispatched: unknown scope %q", scope)
	}
	if _, err := s.sqlDB.ExecContext(ctx, q, at.UTC().UnixMilli(), period); err != nil {
		return fmt.Errorf("mark %s %s dispatched: %w", scope, period, err)
	}
	return nil
}

// CloseDay marks the date's totals closed and applies the folds, each at most once.
func (s *Store) CloseDay(ctx context.Context, date model.Date, closedAt time.Time, folds []engine.Fold) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE daily_totals SET closed = 1 WHERE day = ?`, string(date)); err != nil {
			return fmt.Errorf("close daily totals: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO day_closures (day, closed_at) VALUES (?, ?)`,
			string(date), closedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("record day closure: %w", err)
		}
		for _, f := range folds {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO weekly_folds (player, day, week, daily_sum) VALUES (?, ?, ?, ?)`,
				f.Player, string(f.Date), string(f.Week), f.DailySum,
			)
			if err != nil {
				return fmt.Errorf("record fold: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO weekly_totals (player, week, weekly_sum, days_played)
VALUES (?, ?, ?, 1)
ON CONFLICT (player, week) DO UPDATE SET
	weekly_sum = weekly_sum + excluded.weekly_sum,
	days_played = days_played + 1
`,
				f.Player, string(f.Week), f.DailySum,
			); err != nil {
				return fmt.Errorf("upsert weekly total: %w", err)
			}
		}
		return nil
	})
}

// CloseWeek marks the week's totals closed.
func (s *Store) CloseWeek(ctx context.Context, week model.WeekID, closedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE weekly_totals SET closed = 1 WHERE week = ?`, string(week)); err != nil {
			return fmt.Errorf("close weekly totals: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO week_closures (week, closed_at) VALUES (?, ?)`,
			string(week), closedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("record week closure: %w", err)
		}
		return nil
	})
}

// Load reads every daily and weekly total with its folded dates.
func (s *Store) Load(ctx context.Context) (engine.State, error) {
	if err := s.ready(ctx); err != nil {
		return engine.State{}, err
	}
	var st engine.State

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT player, day, rolls_consumed, daily_sum, last_roll_at, closed
FROM daily_totals
ORDER BY day, player
`)
	if err != nil {
		return engine.State{}, fmt.Errorf("load daily totals: %w", err)
	}
	for rows.Next() {
		var (
			ds     engine.DailyState
			day    string
			lastMs int64
		)
		if err := rows.Scan(&ds.Record.Player, &day, &ds.Record.RollsConsumed, &ds.Record.DailySum, &lastMs, &ds.Record.Closed); err != nil {
			_ = rows.Close()
			return engine.State{}, fmt.Errorf("scan daily total: %w", err)
		}
		ds.Record.Date = model.Date(day)
		ds.LastRollAt = time.UnixMilli(lastMs).UTC()
		st.Daily = append(st.Daily, ds)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return engine.State{}, fmt.Errorf("iterate daily totals: %w", err)
	}
	_ = rows.Close()

	folded, err := s.foldedDates(ctx)
	if err != nil {
		return engine.State{}, err
	}

	rows, err = s.sqlDB.QueryContext(ctx, `
SELECT player, week, weekly_sum, days_played, closed
FROM weekly_totals
ORDER BY week, player
`)
	if err != nil {
		return engine.State{}, fmt.Errorf("load weekly totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ws   engine.WeeklyState
			week string
		)
		if err := rows.Scan(&ws.Record.Player, &week, &ws.Record.WeeklySum, &ws.Record.DaysPlayed, &ws.Record.Closed); err != nil {
			return engine.State{}, fmt.Errorf("scan weekly total: %w", err)
		}
		ws.Record.Week = model.WeekID(week)
		ws.Dates = folded[foldKey{player: ws.Record.Player, week: ws.Record.Week}]
		st.Weekly = append(st.Weekly, ws)
	}
	if err := rows.Err(); err != nil {
		return engine.State{}, fmt.Errorf("iterate weekly totals: %w", err)
	}

	st.Closures, err = s.closures(ctx)
	if err != nil {
		return engine.State{}, err
	}
	return st, nil
}

// closures lists day closures then week closures, each in period order.
func (s *Store) closures(ctx context.Context) ([]engine.ClosureState, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT 'daily', day, closed_at, dispatched_at FROM day_closures
UNION ALL
SELECT 'weekly', week, closed_at, dispatched_at FROM week_closures
ORDER BY 1, 2
`)
	if err != nil {
		return nil, fmt.Errorf("load closures: %w", err)
	}
	defer rows.Close()

	var out []engine.ClosureState
	for rows.Next() {
		var (
			c          engine.ClosureState
			scope      string
			closedMs   int64
			dispatched sql.NullInt64
		)
		if err := rows.Scan(&scope, &c.Period, &closedMs, &dispatched); err != nil {
			return nil, fmt.Errorf("scan closure: %w", err)
		}
		c.Scope = model.Scope(scope)
		c.ClosedAt = time.UnixMilli(closedMs).UTC()
		c.Dispatched = dispatched.Valid
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closures: %w", err)
	}
	return out, nil
}

type foldKey struct {
	player string
	week   model.WeekID
}

func (s *Store) foldedDates(ctx context.Context) (map[foldKey][]model.Date, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT player, week, day FROM weekly_folds ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("load folds: %w", err)
	}
	defer rows.Close()

	out := make(map[foldKey][]model.Date)
	for rows.Next() {
		var player, week, day string
		if err := rows.Scan(&player, &week, &day); err != nil {
			return nil, fmt.Errorf("scan fold: %w", err)
		}
		k := foldKey{player: player, week: model.WeekID(week)}
		out[k] = append(out[k], model.Date(day))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folds: %w", err)
	}
	return out, nil
}

// Rolls returns the player's rolls for date in order.
func (s *Store) Rolls(ctx context.Context, player string, date model.Date) ([]model.Roll, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, roll_index, die1, die2, total, rolled_at
FROM rolls
WHERE player = ? AND day = ?
ORDER BY roll_index
`, player, string(date))
	if err != nil {
		return nil, fmt.Errorf("list rolls: %w", err)
	}
	defer rows.Close()

	out := []model.Roll{}
	for rows.Next() {
		r := model.Roll{Player: player, Date: date}
		var at int64
		if err := rows.Scan(&r.ID, &r.Index, &r.Outcome.Die1, &r.Outcome.Die2, &r.Outcome.Total, &at); err != nil {
			return nil, fmt.Errorf("scan roll: %w", err)
		}
		r.RolledAt = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rolls: %w", err)
	}
	return out, nil
}
