// Package rollcheck drives a running rollboard over HTTP and verifies the
// quota, idempotency and ranking guarantees from the outside.
package rollcheck

import "time"

// Config holds configuration for a check run.
type Config struct {
	BaseURL string        // Base URL of the service
	Players int           // Number of synthetic players
	Prefix  string        // Player id prefix, keeps runs apart
	Workers int           // Number of concurrent workers
	Timeout time.Duration // HTTP request timeout
	Replays int           // Requests re-sent with the same idempotency key
}

// Entry represents a leaderboard row.
type Entry struct {
	Rank   int    `json:"rank"`
	Player string `json:"player"`
	Score  int64  `json:"score"`
}

// Leaderboard is the GET /leaderboard/* response.
type Leaderboard struct {
	Period       string  `json:"period"`
	TotalPlayers int     `json:"total_players"`
	Entries      []Entry `json:"entries"`
}

// Allowance is the GET /allowance response.
type Allowance struct {
	Quota     int `json:"quota"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// RollResult is the POST /roll response.
type RollResult struct {
	RollID    string `json:"roll_id"`
	Total     int    `json:"total"`
	RollIndex int    `json:"roll_index"`
	Remaining int    `json:"remaining"`
	DailySum  int64  `json:"daily_sum"`
	Replayed  bool   `json:"replayed"`
}

// Stats holds run statistics.
type Stats struct {
	Granted   int64
	Limited   int64
	Replayed  int64
	Failed    int64
	Players   int
	StartTime time.Time
	Duration  time.Duration
}
