// Package repository defines the leaderboard store interface and errors.
package repository

import (
	"context"

	"github.com/okian/rollboard/internal/domain/model"
)

// Store keeps ranked boards keyed "<scope>:<period>", e.g. "daily:2024-03-11".
// Rows are ordered by score desc, then player id asc, so ranks never tie.
type Store interface {
	// Set records player's score on board, creating either if absent.
	Set(ctx context.Context, board, player string, score int64) error

	// Rank returns the player's 1-based position and score.
	// Returns ErrNotFound if the player has no row on board.
	Rank(ctx context.Context, board, player string) (model.Entry, error)

	// TopN returns the first n rows of board.
	TopN(ctx context.Context, board string, n int) ([]model.Entry, error)

	// Snapshot returns every row of board in rank order.
	Snapshot(ctx context.Context, board string) []model.Entry

	// Count returns the number of players on board.
	Count(ctx context.Context, board string) int

	// Drop discards board.
	Drop(ctx context.Context, board string)

	// Boards lists every board key held.
	Boards(ctx context.Context) []string
}
