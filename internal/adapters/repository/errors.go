package repository

import (
	"errors"
	"fmt"

	"github.com/okian/rollboard/internal/domain/model"
)

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound     = fmt.Errorf("player not on board: %w", model.ErrUnranked)
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrInvalidBoard = errors.New("invalid board key")
)
