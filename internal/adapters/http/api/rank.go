package api

import (
	"net/http"
	"strings"

	"github.com/okian/rollboard/internal/domain/model"
)

type rankResponse struct {
	Scope  model.Scope `json:"scope"`
	Period string      `json:"period"`
	Player string      `json:"player"`
	Ranked bool        `json:"ranked"`
	Rank   int         `json:"rank,omitempty"`
	Score  int64       `json:"score"`
}

// handleRank handles GET /rank/{scope}/{player}?period=.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	scope := model.Scope(r.PathValue("scope"))
	player := strings.TrimSpace(r.PathValue("player"))
	if !scope.Valid() || player == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	period, err := s.deps.Period(scope, r.URL.Query().Get("period"))
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	e, ranked, err := s.deps.RankOf(r.Context(), scope, period, player)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{
		Scope:  scope,
		Period: period,
		Player: player,
		Ranked: ranked,
		Rank:   e.Rank,
		Score:  e.Score,
	})
}
