package weekly

import "errors"

var (
	// ErrWeekClosed is returned for a fold into a week that has been closed.
	ErrWeekClosed = errors.New("week already closed")
	// ErrDuplicateFold is returned when a (player, date) is folded twice.
	ErrDuplicateFold = errors.New("daily total already folded")
	// ErrWrongWeek is returned when a date is folded into a week that does not contain it.
	ErrWrongWeek = errors.New("date outside week")
)
