package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/maksimkurb/hosts-redirect/src/internal/dnsproxy"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
	"github.com/maksimkurb/hosts-redirect/src/internal/interceptor"
	"github.com/maksimkurb/hosts-redirect/src/internal/lifecycle"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

type fakeController struct {
	mu sync.Mutex

	set       *rules.RuleSet
	enabled   bool
	restarts  int
	reloads   int
	rulesPath string
	err       error
	sessions  []domain.SessionInfo
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	set, report := rules.Parse(strings.NewReader(
		"api.foo.com 127.0.0.1\n" +
			"mail.foo.com 127.0.0.2\n" +
			"*.ads.foo.com block\n" +
			"broken line here\n"))
	if report.Loaded != 3 {
		t.Fatalf("expected 3 rules, got %d", report.Loaded)
	}
	return &fakeController{set: set}
}

func (f *fakeController) Status() lifecycle.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := interceptor.Stopped
	if f.enabled {
		state = interceptor.Running
	}
	return lifecycle.Status{
		State:         state,
		Enabled:       f.enabled,
		CaptureActive: f.enabled,
		Rules:         f.set.Len(),
		LoadReport:    f.set.Report(),
		TotalSessions: 7,
	}
}

func (f *fakeController) SetEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enabled = enabled
	return nil
}

func (f *fakeController) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.restarts++
	return nil
}

func (f *fakeController) Reload() (*rules.LoadReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reloads++
	return f.set.Report(), nil
}

func (f *fakeController) SetRulesPath(path string) (*rules.LoadReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.rulesPath = path
	return f.set.Report(), nil
}

func (f *fakeController) DownloadLists() (*lifecycle.ListsDownload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return &lifecycle.ListsDownload{Changed: 1}, f.err
	}
	f.reloads++
	return &lifecycle.ListsDownload{
		Changed: 1,
		Failed:  []string{`failed to download list "offline": connection refused`},
		Report:  f.set.Report(),
	}, nil
}

func (f *fakeController) Rules() *rules.RuleSet { return f.set }

func (f *fakeController) Lookup(host string) domain.Decision { return domain.Decide(f.set, host) }

func (f *fakeController) Sessions() []domain.SessionInfo { return f.sessions }

func (f *fakeController) DNSProxy() *dnsproxy.DNSProxy { return nil }

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	resp := DataResponse{Data: v}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	return resp.Error
}

func TestGetStatus(t *testing.T) {
	ctrl := newFakeController(t)
	ctrl.enabled = true
	h := NewRouter("/nonexistent.toml", ctrl)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var status StatusResponse
	decodeData(t, rec, &status)
	if status.Version.Version != Version {
		t.Errorf("expected version %q, got %q", Version, status.Version.Version)
	}
	if status.Service.State != interceptor.Running {
		t.Errorf("expected running, got %s", status.Service.State)
	}
	if status.Service.Rules != 3 {
		t.Errorf("expected 3 rules, got %d", status.Service.Rules)
	}
	if status.Process == nil || status.Process.PID == 0 {
		t.Errorf("expected process info, got %+v", status.Process)
	}
}

func TestControlService(t *testing.T) {
	ctrl := newFakeController(t)
	h := NewRouter("/nonexistent.toml", ctrl)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/service", `{"state":"started"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !ctrl.enabled {
		t.Error("expected service to be enabled")
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/service", `{"state":"restarted"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ctrl.restarts != 1 {
		t.Errorf("expected 1 restart, got %d", ctrl.restarts)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/service", `{"state":"stopped"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ctrl.enabled {
		t.Error("expected service to be disabled")
	}
}

func TestControlService_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		code ErrorCode
	}{
		{"malformed json", `{"state":`, ErrCodeInvalidRequest},
		{"unknown state", `{"state":"paused"}`, ErrCodeValidationFailed},
		{"missing state", `{}`, ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter("/nonexistent.toml", newFakeController(t))
			rec := doRequest(t, h, http.MethodPost, "/api/v1/service", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := decodeError(t, rec); got.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, got.Code)
			}
		})
	}
}

func TestControlService_DomainErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"state", errors.NewStateError("cannot start: interceptor is stopping"), http.StatusConflict, ErrCodeConflict},
		{"capture", errors.NewCaptureError("failed to install capture rules", nil), http.StatusInternalServerError, ErrCodeServiceError},
		{"config", errors.NewConfigError("bad listen address", nil), http.StatusBadRequest, ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController(t)
			ctrl.err = tt.err
			h := NewRouter("/nonexistent.toml", ctrl)

			rec := doRequest(t, h, http.MethodPost, "/api/v1/service", `{"state":"started"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			apiErr := decodeError(t, rec)
			if apiErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, apiErr.Code)
			}
			if _, ok := apiErr.Details["code"]; !ok {
				t.Error("expected domain code in details")
			}
		})
	}
}

func TestGetRules_Paging(t *testing.T) {
	h := NewRouter("/nonexistent.toml", newFakeController(t))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/rules?offset=1&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp RulesResponse
	decodeData(t, rec, &resp)
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}
	if len(resp.Rules) != 1 || resp.Rules[0].Pattern != "mail.foo.com" {
		t.Errorf("expected mail.foo.com, got %+v", resp.Rules)
	}
	if resp.Report == nil || resp.Report.Skipped != 1 {
		t.Errorf("expected one skipped line in report, got %+v", resp.Report)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/rules?offset=10", "")
	decodeData(t, rec, &resp)
	if len(resp.Rules) != 0 {
		t.Errorf("expected empty page, got %d rules", len(resp.Rules))
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/rules?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestReloadRules(t *testing.T) {
	ctrl := newFakeController(t)
	h := NewRouter("/nonexistent.toml", ctrl)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/rules/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ctrl.reloads != 1 {
		t.Errorf("expected 1 reload, got %d", ctrl.reloads)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/rules/reload", `{"rules_path":"/tmp/other.rules"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ctrl.rulesPath != "/tmp/other.rules" {
		t.Errorf("expected rules path to be switched, got %q", ctrl.rulesPath)
	}
	if ctrl.reloads != 1 {
		t.Errorf("rules_path must not trigger a plain reload")
	}

	ctrl.err = errors.NewParseError("failed to read rules", nil)
	rec = doRequest(t, h, http.MethodPost, "/api/v1/rules/reload", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on parse failure, got %d", rec.Code)
	}
}

func TestReloadRules_ChunkedBody(t *testing.T) {
	ctrl := newFakeController(t)
	h := NewRouter("/nonexistent.toml", ctrl)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/reload", strings.NewReader(body))
		req.ContentLength = -1
		req.TransferEncoding = []string{"chunked"}
		req.RemoteAddr = "127.0.0.1:40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send(`{"rules_path":"/tmp/chunked.rules"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ctrl.rulesPath != "/tmp/chunked.rules" || ctrl.reloads != 0 {
		t.Errorf("expected rules path switch, got path %q and %d reloads", ctrl.rulesPath, ctrl.reloads)
	}

	rec = send("")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an empty chunked body, got %d: %s", rec.Code, rec.Body.String())
	}
	if ctrl.reloads != 1 {
		t.Errorf("expected a plain reload, got %d", ctrl.reloads)
	}

	rec = send("{broken")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rec.Code)
	}
}

func TestUnknownEndpoint(t *testing.T) {
	h := NewRouter("/nonexistent.toml", newFakeController(t))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound || !strings.Contains(resp.Error.Message, "/api/v1/nope") {
		t.Errorf("unexpected error %+v", resp.Error)
	}
}

func TestDownloadLists(t *testing.T) {
	ctrl := newFakeController(t)
	h := NewRouter("/nonexistent.toml", ctrl)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/lists/download", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result lifecycle.ListsDownload
	decodeData(t, rec, &result)
	if result.Changed != 1 || len(result.Failed) != 1 {
		t.Errorf("unexpected download result: %+v", result)
	}
	if result.Report == nil || result.Report.Loaded != 3 {
		t.Errorf("expected reload report with 3 rules, got %+v", result.Report)
	}

	ctrl.err = errors.NewParseError("failed to compile filter lists", nil)
	rec = doRequest(t, h, http.MethodPost, "/api/v1/lists/download", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when the reload fails, got %d", rec.Code)
	}
}

func TestLookupHost(t *testing.T) {
	h := NewRouter("/nonexistent.toml", newFakeController(t))

	tests := []struct {
		host string
		kind domain.DecisionKind
	}{
		{"API.foo.com.", domain.Redirect},
		{"x.ads.foo.com", domain.Block},
		{"ads.foo.com", domain.Passthrough},
		{"example.org", domain.Passthrough},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/api/v1/rules/lookup?host="+tt.host, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var raw struct {
				Host     string `json:"host"`
				Decision struct {
					Kind string `json:"kind"`
				} `json:"decision"`
			}
			decodeData(t, rec, &raw)
			if raw.Decision.Kind != tt.kind.String() {
				t.Errorf("expected %s, got %s", tt.kind, raw.Decision.Kind)
			}
		})
	}

	rec := doRequest(t, h, http.MethodGet, "/api/v1/rules/lookup", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without host, got %d", rec.Code)
	}
}

func TestGetSessions_Empty(t *testing.T) {
	h := NewRouter("/nonexistent.toml", newFakeController(t))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"sessions":[]`) {
		t.Errorf("expected empty sessions array, got %s", rec.Body.String())
	}
}

func TestCheckHealth_MissingConfig(t *testing.T) {
	h := NewRouter("/nonexistent/hosts-redirect.toml", newFakeController(t))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp HealthCheckResponse
	decodeData(t, rec, &resp)
	if resp.Healthy {
		t.Error("expected unhealthy")
	}
	if resp.Checks["config"].Passed {
		t.Error("expected config check to fail")
	}
	if !resp.Checks["rules"].Passed {
		t.Error("expected rules check to pass")
	}
	if !resp.Checks["interceptor"].Passed {
		t.Error("disabled interceptor must not be reported as a failure")
	}
}

func TestStreamDNSCheck_ProxyStopped(t *testing.T) {
	h := NewRouter("/nonexistent.toml", newFakeController(t))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/dns-check", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != ErrCodeUnavailable {
		t.Errorf("expected %s, got %s", ErrCodeUnavailable, got.Code)
	}
}

func TestPrivateSubnetOnly(t *testing.T) {
	h := NewRouter("/nonexistent.toml", newFakeController(t))

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:1000", http.StatusOK},
		{"192.168.1.20:1000", http.StatusOK},
		{"[fd00::1]:1000", http.StatusOK},
		{"203.0.113.7:1000", http.StatusForbidden},
		{"[2001:db8::1]:1000", http.StatusForbidden},
		{"[::ffff:192.168.1.20]:1000", http.StatusOK},
		{"[fe80::1%br0]:1000", http.StatusOK},
		{"garbage", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", "127.0.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestJSONContentType(t *testing.T) {
	h := NewRouter("/nonexistent.toml", newFakeController(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/service", strings.NewReader(`{"state":"started"}`))
	req.Header.Set("Content-Type", "text/plain")
	req.RemoteAddr = "127.0.0.1:1000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
