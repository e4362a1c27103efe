package server

import (
	"encoding/json"
	"net/http"

	"github.com/TheQwirl/qwirl-session/sessions"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

// meResponse is the body of GET /api/me.
type meResponse struct {
	User            *sessions.UserSummary `json:"user"`
	IsAuthenticated bool                  `json:"isAuthenticated"`
	Error           string                `json:"error,omitempty"`
}

type successResponse struct {
	Success bool                  `json:"success"`
	User    *sessions.UserSummary `json:"user,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	App    string `json:"app"`
	API    bool   `json:"apiConfigured"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response body")
	}
}

// HealthHandler reports liveness. It does not call the Qwirl API.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			App:    s.config.GetAppName(),
			API:    s.identity != nil,
		})
	}
}
