package api

import "net/http"

// handleAllowance handles GET /allowance.
func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_allowance"
	player, err := requirePlayer(op, r)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	a, err := s.deps.Allowance(r.Context(), player)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
