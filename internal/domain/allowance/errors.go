package allowance

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded is returned once a player has used every roll for the date.
	ErrQuotaExceeded = errors.New("daily roll quota exceeded")
	// ErrCooldownActive is returned when a roll follows the previous one too closely.
	ErrCooldownActive = errors.New("roll cooldown active")
)

// CooldownError carries the wait left before the next roll is allowed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrCooldownActive, e.Remaining)
}

// Unwrap lets errors.Is match ErrCooldownActive.
func (e *CooldownError) Unwrap() error { return ErrCooldownActive }
