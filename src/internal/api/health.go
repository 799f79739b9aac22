package api

import (
	"fmt"
	"net/http"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/interceptor"
)

// CheckHealth performs health checks on the service.
// GET /api/v1/health
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthCheckResponse{
		Healthy: true,
		Checks:  make(map[string]CheckResult),
	}

	fail := func(name, message string) {
		response.Checks[name] = CheckResult{Passed: false, Message: message}
		response.Healthy = false
	}
	pass := func(name, message string) {
		response.Checks[name] = CheckResult{Passed: true, Message: message}
	}

	if cfg, err := config.LoadConfig(h.configPath); err != nil {
		fail("config", "Failed to load configuration: "+err.Error())
	} else if err := cfg.ValidateConfig(); err != nil {
		fail("config", "Configuration validation failed: "+err.Error())
	} else {
		pass("config", "Configuration is valid")
	}

	status := h.ctrl.Status()

	if status.Rules+status.FilterRules == 0 {
		fail("rules", "No rules loaded")
	} else if status.LoadReport != nil && len(status.LoadReport.Errors) > 0 {
		pass("rules", fmt.Sprintf("%d rules loaded, %d lines skipped", status.Rules, len(status.LoadReport.Errors)))
	} else {
		pass("rules", fmt.Sprintf("%d rules loaded", status.Rules))
	}

	switch {
	case !status.Enabled:
		pass("interceptor", "Interceptor is disabled")
	case status.State != interceptor.Running:
		fail("interceptor", "Interceptor is enabled but "+status.State.String())
	case !status.CaptureActive:
		fail("interceptor", "Interceptor is running without capture")
	default:
		pass("interceptor", "Interceptor is running")
	}

	if status.ConfigChanged {
		pass("config_applied", "Configuration changed on disk, reload to apply")
	} else {
		pass("config_applied", "Running configuration is up to date")
	}

	statusCode := http.StatusOK
	if !response.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}
