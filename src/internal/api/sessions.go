package api

import (
	"net/http"

	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
)

// GetSessions lists DNS exchanges and TCP sessions in flight.
// GET /api/v1/sessions
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.ctrl.Sessions()
	if sessions == nil {
		sessions = []domain.SessionInfo{}
	}
	writeJSONData(w, SessionsResponse{
		Sessions: sessions,
		Total:    h.ctrl.Status().TotalSessions,
	})
}
