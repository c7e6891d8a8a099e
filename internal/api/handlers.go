/**
 * @description
 * HTTP handlers for the ops surface.
 */
package api

import (
	"encoding/json"
	"net/http"

	"github.com/clubgate/membership-bot/internal/app"
)

// StatusSource exposes the enforcement loop's run state.
type StatusSource interface {
	Status() app.EnforcementStatus
}

// Handler holds the dependencies the handlers interact with.
type Handler struct {
	enforcer StatusSource
}

// NewHandler creates a new Handler.
func NewHandler(enforcer StatusSource) *Handler {
	return &Handler{enforcer: enforcer}
}

// handleGetStatus reports the enforcement loop's current run state.
func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.enforcer.Status())
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
