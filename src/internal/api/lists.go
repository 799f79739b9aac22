package api

import (
	"net/http"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// DownloadLists fetches remote lists and reloads the rules if any changed.
// POST /api/v1/lists/download
func (h *Handler) DownloadLists(w http.ResponseWriter, r *http.Request) {
	result, err := h.ctrl.DownloadLists()
	if err != nil {
		log.Errorf("Reload after list download failed: %v", err)
		WriteDomainError(w, err)
		return
	}

	for _, failure := range result.Failed {
		log.Warnf("%s", failure)
	}
	writeJSONData(w, result)
}
