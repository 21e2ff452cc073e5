package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByFramework   map[string]int `json:"by_framework"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	OpenSessions  int            `json:"open_sessions"`
	Contexts      int            `json:"contexts"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByFramework:   stats.CountByFramework,
		AvgDurationMS: stats.AvgDurationMS,
		OpenSessions:  len(s.sessions.list()),
		Contexts:      len(s.loader.Loaded()),
	})
}
