package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

// maxRulesPage bounds one page of GET /rules.
const maxRulesPage = 1000

// GetRules lists the rules of the active snapshot in load order.
// GET /api/v1/rules?offset=0&limit=100
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteInvalidRequest(w, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", maxRulesPage)
	if err != nil {
		WriteInvalidRequest(w, err.Error())
		return
	}
	if limit <= 0 || limit > maxRulesPage {
		limit = maxRulesPage
	}

	set := h.ctrl.Rules()
	all := set.Rules()
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	writeJSONData(w, RulesResponse{
		Rules:       all[offset:end],
		Total:       len(all),
		FilterRules: set.FilterRules(),
		Sources:     set.Sources(),
		Checksum:    set.Checksum(),
		LoadedAt:    set.LoadedAt(),
		Report:      set.Report(),
	})
}

// ReloadRules re-reads the rule sources. A rules_path in the body switches
// the service to another rules file. On failure the old snapshot stays active.
// POST /api/v1/rules/reload
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	var req ReloadRequest
	if r.Body != nil && r.Body != http.NoBody {
		// an empty body, chunked or not, is a plain reload
		if err := decodeJSON(r, &req); err != nil && err != io.EOF {
			WriteInvalidRequest(w, "Invalid JSON: "+err.Error())
			return
		}
	}

	var (
		report *rules.LoadReport
		err    error
	)
	if req.RulesPath != "" {
		report, err = h.ctrl.SetRulesPath(req.RulesPath)
	} else {
		report, err = h.ctrl.Reload()
	}
	if err != nil {
		log.Errorf("Rules reload failed: %v", err)
		WriteDomainError(w, err)
		return
	}

	writeJSONData(w, ReloadResponse{Report: report, Rules: h.ctrl.Rules().Len()})
}

// LookupHost shows what the active snapshot decides for a host.
// GET /api/v1/rules/lookup?host=api.foo.com
func (h *Handler) LookupHost(w http.ResponseWriter, r *http.Request) {
	host := utils.NormalizeHost(r.URL.Query().Get("host"))
	if host == "" {
		WriteInvalidRequest(w, "Host parameter is required")
		return
	}

	decision := h.ctrl.Lookup(host)
	writeJSONData(w, LookupResponse{
		Host:     host,
		Decision: decision,
		Summary:  decision.String(),
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s parameter: %q", name, raw)
	}
	return v, nil
}
