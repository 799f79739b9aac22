package api

import (
	"encoding/json"
	"net/http"

	"github.com/maksimkurb/hosts-redirect/src/internal/dnsproxy"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/lifecycle"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

// Controller is the part of the lifecycle controller the API drives.
type Controller interface {
	Status() lifecycle.Status
	SetEnabled(enabled bool) error
	Restart() error
	Reload() (*rules.LoadReport, error)
	SetRulesPath(path string) (*rules.LoadReport, error)
	DownloadLists() (*lifecycle.ListsDownload, error)
	Rules() *rules.RuleSet
	Lookup(host string) domain.Decision
	Sessions() []domain.SessionInfo
	DNSProxy() *dnsproxy.DNSProxy
}

var _ Controller = (*lifecycle.Controller)(nil)

// DNSCheckSubscriber delivers the names of DNS check queries seen by the proxy.
type DNSCheckSubscriber interface {
	Subscribe() chan string
	Unsubscribe(ch chan string)
}

// Handler manages all API endpoints and dependencies.
type Handler struct {
	configPath string
	ctrl       Controller
}

// NewHandler creates a new API handler.
func NewHandler(configPath string, ctrl Controller) *Handler {
	return &Handler{
		configPath: configPath,
		ctrl:       ctrl,
	}
}

// dnsCheckSubscriber returns the running proxy, or nil while stopped.
func (h *Handler) dnsCheckSubscriber() DNSCheckSubscriber {
	proxy := h.ctrl.DNSProxy()
	if proxy == nil {
		return nil
	}
	return proxy
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

// writeJSONData writes a successful JSON response with data.
func writeJSONData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

// decodeJSON decodes JSON from the request body.
func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
