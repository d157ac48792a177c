package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Stages.Snapshot())
}

func (s *Server) handlePerfLatencyReset(w http.ResponseWriter, _ *http.Request) {
	s.deps.Stages.Reset()
	s.logger.Info().Msg("stage latency window reset")
	respondJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}
