package api

import "net/http"

// RelayStats reports the relay's live state for readiness checks.
type RelayStats interface {
	Connections() int
	Buffered() int
}

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type readyzResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Buffered    int    `json:"buffered"`
}

// ReadyzHandler handles GET /readyz.
// The relay has no external dependencies, so it is ready once it serves
// requests; the body reports connected pharmacies and buffered notifications.
func ReadyzHandler(stats RelayStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, readyzResponse{
			Status:      "ok",
			Connections: stats.Connections(),
			Buffered:    stats.Buffered(),
		})
	}
}
