package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// Version is reported by the system info endpoint.
var Version = "dev"

// SystemHandler handles process health and info requests.
type SystemHandler struct {
	controller ControllerView
	startTime  time.Time
	logger     zerolog.Logger
}

// NewSystemHandler creates a new system handler. controller may be nil.
func NewSystemHandler(controller ControllerView, logger zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		controller: controller,
		startTime:  time.Now(),
		logger:     logger.With().Str("handler", "system").Logger(),
	}
}

// GetHealth returns the health status of the process.
func (h *SystemHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(uptime.Seconds()),
		"timestamp":      time.Now(),
	}
	if h.controller != nil {
		health["state"] = h.controller.Status().State.String()
	}

	writeJSON(w, http.StatusOK, health)
}

// GetSystemInfo returns general process information.
func (h *SystemHandler) GetSystemInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := map[string]interface{}{
		"version":        Version,
		"go_version":     runtime.Version(),
		"uptime":         uptime.String(),
		"uptime_seconds": int(uptime.Seconds()),
		"start_time":     h.startTime,
		"num_goroutine":  runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": memStats.Alloc / 1024 / 1024,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}

	writeJSON(w, http.StatusOK, info)
}
