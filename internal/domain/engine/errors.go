package engine

import (
	"errors"

	"github.com/okian/rollboard/internal/domain/allowance"
	"github.com/okian/rollboard/internal/domain/ledger"
	"github.com/okian/rollboard/internal/domain/weekly"
)

// Errors surfaced by the engine. Quota and cooldown are ordinary outcomes;
// the closed and duplicate kinds are integrity alerts.
var (
	ErrQuotaExceeded  = allowance.ErrQuotaExceeded
	ErrCooldownActive = allowance.ErrCooldownActive
	ErrDayClosed      = ledger.ErrDayClosed
	ErrWeekClosed     = weekly.ErrWeekClosed
	ErrDuplicateFold  = weekly.ErrDuplicateFold

	ErrInvalidPlayer = errors.New("invalid player id")
	ErrInvalidScope  = errors.New("invalid leaderboard scope")
	ErrInvalidPeriod = errors.New("invalid leaderboard period")
	ErrNoIndex       = errors.New("leaderboard index is required")
	ErrNoHistory     = errors.New("roll history is not kept")
)

// alertKind names an integrity violation for logs and metrics.
func alertKind(err error) string {
	switch {
	case errors.Is(err, ErrWeekClosed):
		return "week_closed"
	case errors.Is(err, ErrDuplicateFold):
		return "duplicate_fold"
	case errors.Is(err, ErrDayClosed):
		return "day_closed"
	case errors.Is(err, weekly.ErrWrongWeek):
		return "wrong_week"
	default:
		return "other"
	}
}
