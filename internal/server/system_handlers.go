package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/taxoracle/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves process and journal diagnostics.
type SystemHandlers struct {
	journalDB *database.DB // nil when running without a journal
	version   string
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, journalDB *database.DB, version string) *SystemHandlers {
	return &SystemHandlers{
		journalDB: journalDB,
		version:   version,
		startedAt: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// SystemStatusResponse is the payload of GET /api/system/status.
type SystemStatusResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	NumCPU        int             `json:"num_cpu"`
	Goroutines    int             `json:"goroutines"`
	CPUPercent    float64         `json:"cpu_percent"`
	RAMPercent    float64         `json:"ram_percent"`
	HeapAllocMB   float64         `json:"heap_alloc_mb"`
	Journal       *database.Stats `json:"journal,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response := h.snapshot(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *SystemHandlers) snapshot(ctx context.Context) SystemStatusResponse {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	resp := SystemStatusResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / 1024 / 1024,
	}
	resp.CPUPercent, resp.RAMPercent = h.getSystemStats(ctx)

	if h.journalDB != nil {
		if err := h.journalDB.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Journal integrity check failed")
			resp.Status = "degraded"
			resp.Warnings = append(resp.Warnings, "journal integrity check failed")
		}
		stats, err := h.journalDB.GetStats(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to get journal stats")
			resp.Warnings = append(resp.Warnings, "journal stats unavailable")
		} else {
			resp.Journal = stats
		}
	}
	return resp
}

// getSystemStats calculates CPU and RAM usage percentages.
// CPU is sampled over 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats(ctx context.Context) (float64, float64) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
