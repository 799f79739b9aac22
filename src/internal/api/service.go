package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

var validate = validator.New()

// ControlService starts, stops or restarts the interceptor.
// Start and stop are persisted as the enabled flag.
// POST /api/v1/service
func (h *Handler) ControlService(w http.ResponseWriter, r *http.Request) {
	var req ServiceControlRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteInvalidRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		WriteValidationError(w, "state must be one of: started, stopped, restarted", map[string]interface{}{
			"state": req.State,
		})
		return
	}

	var err error
	switch req.State {
	case "started":
		err = h.ctrl.SetEnabled(true)
	case "stopped":
		err = h.ctrl.SetEnabled(false)
	case "restarted":
		err = h.ctrl.Restart()
	}
	if err != nil {
		log.Errorf("Service %s request failed: %v", req.State, err)
		WriteDomainError(w, err)
		return
	}

	writeJSONData(w, ServiceControlResponse{
		Status:  "success",
		Message: "Service " + req.State + " successfully",
		Service: h.ctrl.Status(),
	})
}
