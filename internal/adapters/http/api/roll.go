package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/logger"
	"github.com/okian/rollboard/pkg/metrics"
)

type rollResponse struct {
	RollID    string     `json:"roll_id"`
	Player    string     `json:"player"`
	Date      model.Date `json:"date"`
	Dice      [2]int     `json:"dice"`
	Total     int        `json:"total"`
	RollIndex int        `json:"roll_index"`
	Remaining int        `json:"remaining"`
	DailySum  int64      `json:"daily_sum"`
	Skin      string     `json:"skin,omitempty"`
	Replayed  bool       `json:"replayed"`
	RolledAt  time.Time  `json:"rolled_at"`
}

// handleRoll handles POST /roll.
func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_roll"
	player, err := requirePlayer(op, r)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}

	roll, replayed, err := s.roll(r.Context(), player, strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	if replayed {
		metrics.RecordIdempotentReplay()
		s.logger.Debug(r.Context(), "roll replayed", logger.String("player", player), logger.String("roll_id", roll.ID))
	}

	resp := rollResponse{
		RollID:    roll.ID,
		Player:    roll.Player,
		Date:      roll.Date,
		Dice:      [2]int{roll.Outcome.Die1, roll.Outcome.Die2},
		Total:     roll.Outcome.Total,
		RollIndex: roll.Index,
		Remaining: roll.Remaining,
		Replayed:  replayed,
		RolledAt:  roll.RolledAt,
	}
	if rec, ok := s.deps.DailyRecord(player, roll.Date); ok {
		resp.DailySum = rec.DailySum
	}
	if s.skins != nil {
		resp.Skin = string(s.skins.Select(r.Context(), player))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) roll(ctx context.Context, player, key string) (model.Roll, bool, error) {
	if key == "" || s.replayer == nil {
		roll, err := s.deps.Roll(ctx, player)
		return roll, false, err
	}
	return s.replayer.Do(ctx, player, key, func(ctx context.Context) (model.Roll, error) {
		return s.deps.RollWithKey(ctx, player, key)
	})
}
