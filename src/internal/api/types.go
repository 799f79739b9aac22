package api

import (
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/lifecycle"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

// DataResponse wraps successful responses.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// VersionInfo contains build information.
type VersionInfo struct {
	Version string `json:"version"`
	Date    string `json:"date"`
	Commit  string `json:"commit"`
}

// ProcessInfo describes the resource usage of the service process and host.
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	RSSBytes      uint64  `json:"rss_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	MemTotalBytes uint64  `json:"mem_total_bytes,omitempty"`
	MemUsedPct    float64 `json:"mem_used_percent,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version VersionInfo      `json:"version"`
	Service lifecycle.Status `json:"service"`
	Process *ProcessInfo     `json:"process,omitempty"`
}

// ServiceControlRequest selects the desired service state.
type ServiceControlRequest struct {
	State string `json:"state" validate:"required,oneof=started stopped restarted"`
}

// ServiceControlResponse represents service control response.
type ServiceControlResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Service lifecycle.Status `json:"service"`
}

// ReloadRequest optionally points the service at another rules file.
type ReloadRequest struct {
	RulesPath string `json:"rules_path,omitempty"`
}

// ReloadResponse reports the outcome of a rule reload.
type ReloadResponse struct {
	Report *rules.LoadReport `json:"report"`
	Rules  int               `json:"rules"`
}

// RulesResponse lists the active rule snapshot.
type RulesResponse struct {
	Rules       []rules.Rule      `json:"rules"`
	Total       int               `json:"total"`
	FilterRules int               `json:"filter_rules"`
	Sources     []string          `json:"sources"`
	Checksum    string            `json:"checksum"`
	LoadedAt    time.Time         `json:"loaded_at"`
	Report      *rules.LoadReport `json:"report,omitempty"`
}

// LookupResponse shows the decision for one host.
type LookupResponse struct {
	Host     string          `json:"host"`
	Decision domain.Decision `json:"decision"`
	Summary  string          `json:"summary"`
}

// SessionsResponse lists the sessions in flight.
type SessionsResponse struct {
	Sessions []domain.SessionInfo `json:"sessions"`
	Total    uint64               `json:"total"`
}

// HealthCheckResponse represents health check results.
type HealthCheckResponse struct {
	Healthy bool                   `json:"healthy"`
	Checks  map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}
