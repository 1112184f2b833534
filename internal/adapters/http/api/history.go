package api

import (
	"net/http"

	"github.com/okian/rollboard/internal/domain/model"
)

type historyResponse struct {
	Player string       `json:"player"`
	Date   string       `json:"date"`
	Rolls  []model.Roll `json:"rolls"`
}

// handleHistory handles GET /history?date=YYYY-MM-DD.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	player, err := requirePlayer(op, r)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	date, err := s.deps.Period(model.ScopeDaily, r.URL.Query().Get("date"))
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	rolls, err := s.deps.History(r.Context(), player, date)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	if rolls == nil {
		rolls = []model.Roll{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Player: player, Date: date, Rolls: rolls})
}
