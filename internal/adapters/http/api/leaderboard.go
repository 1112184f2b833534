package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/rollboard/internal/domain/model"
)

type leaderboardResponse struct {
	Scope        model.Scope   `json:"scope"`
	Period       string        `json:"period"`
	TotalPlayers int           `json:"total_players"`
	Entries      []model.Entry `json:"entries"`
	YourRank     *int          `json:"your_rank,omitempty"`
	YourScore    *int64        `json:"your_score,omitempty"`
}

// leaderboard handles GET /leaderboard/{daily,weekly}?<param>=&limit=N.
func (s *Server) leaderboard(scope model.Scope, param string) http.HandlerFunc {
	op := "api.get_leaderboard_" + string(scope)
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		n := s.defaultLimit
		if raw := q.Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 {
				writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
				return
			}
			if v > s.maxLimit {
				writeError(w, http.StatusBadRequest, "limit_exceeded",
					WrapKind(op, ErrBadRequest, fmt.Errorf("limit must be at most %d", s.maxLimit)))
				return
			}
			n = v
		}

		period, err := s.deps.Period(scope, q.Get(param))
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		entries, err := s.deps.TopN(r.Context(), scope, period, n)
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		total, err := s.deps.Count(r.Context(), scope, period)
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		if entries == nil {
			entries = []model.Entry{}
		}
		resp := leaderboardResponse{Scope: scope, Period: period, TotalPlayers: total, Entries: entries}

		if viewer := playerID(r); viewer != "" {
			e, ranked, err := s.deps.RankOf(r.Context(), scope, period, viewer)
			if err != nil {
				writeDomainError(w, op, err)
				return
			}
			if ranked {
				resp.YourRank, resp.YourScore = &e.Rank, &e.Score
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
