package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

var (
	// Version information set via ldflags at build time
	Version = "dev"
	Date    = "n/a"
	Commit  = "n/a"
)

// GetStatus returns the service status.
// GET /api/v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version: VersionInfo{
			Version: Version,
			Date:    Date,
			Commit:  Commit,
		},
		Service: h.ctrl.Status(),
	}

	info, err := processInfo()
	if err != nil {
		log.Debugf("Failed to collect process info: %v", err)
	}
	response.Process = info

	writeJSONData(w, response)
}

// processInfo collects resource usage of the running process. Fields that
// cannot be read on the platform are left zero.
func processInfo() (*ProcessInfo, error) {
	info := &ProcessInfo{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemTotalBytes = vm.Total
		info.MemUsedPct = vm.UsedPercent
	}

	p, err := process.NewProcess(info.PID)
	if err != nil {
		return info, err
	}
	if m, err := p.MemoryInfo(); err == nil {
		info.RSSBytes = m.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if created, err := p.CreateTime(); err == nil {
		info.UptimeSeconds = int64(time.Since(time.UnixMilli(created)).Seconds())
	}

	return info, nil
}
