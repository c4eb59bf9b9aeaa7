package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
)

// systemInfo is the admin system snapshot. Fields a probe could not
// fill are omitted rather than failing the whole endpoint.
type systemInfo struct {
	Hostname      string    `json:"hostname,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	UptimeSeconds uint64    `json:"uptime_seconds,omitempty"`
	CPUPercent    *float64  `json:"cpu_percent,omitempty"`
	MemoryPercent *float64  `json:"memory_percent,omitempty"`
	MemoryUsed    uint64    `json:"memory_used_bytes,omitempty"`
	MemoryTotal   uint64    `json:"memory_total_bytes,omitempty"`
	Load1         *float64  `json:"load1,omitempty"`
	Goroutines    int       `json:"goroutines"`
	GoVersion     string    `json:"go_version"`
	Timestamp     time.Time `json:"timestamp"`
}

func (a *API) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := systemInfo{
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
		Timestamp:  time.Now().UTC(),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.UptimeSeconds = hi.Uptime
	} else {
		logger.Warn(ctx, "Failed to read host info", tag.Error(err))
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = &percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryPercent = &vm.UsedPercent
		info.MemoryUsed = vm.Used
		info.MemoryTotal = vm.Total
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load1 = &avg.Load1
	}

	writeJSON(w, http.StatusOK, info)
}
