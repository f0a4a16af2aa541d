package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/kburn/internal/controller"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/rs/zerolog"
)

// LedgerView exposes ledger snapshots.
type LedgerView interface {
	Snapshot() ledger.Snapshot
}

// ControllerView exposes the admission state.
type ControllerView interface {
	Status() controller.Status
}

// QuotaView exposes the settings the status projection needs.
type QuotaView interface {
	LimitBytes() uint64
	Concurrency() int
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	TotalSpeedMBps      float64            `json:"total_speed_mbps"`
	BytesTransferred    uint64             `json:"bytes_transferred"`
	TotalDownloadedGB   float64            `json:"total_downloaded_gb"`
	LimitGB             float64            `json:"limit_gb"`
	IsPaused            bool               `json:"is_paused"`
	State               string             `json:"state"`
	QuotaExceeded       bool               `json:"quota_exceeded"`
	OutsideWindow       bool               `json:"outside_window"`
	ResumeAt            *time.Time         `json:"resume_at,omitempty"`
	ActiveConnections   int                `json:"active_connections"`
	ConcurrentDownloads int                `json:"concurrent_downloads"`
	LastResetAt         time.Time          `json:"last_reset_at"`
	Workers             map[string]float64 `json:"workers"`
}

// StatusHandler serves the read-only status projection.
type StatusHandler struct {
	ledger     LedgerView
	controller ControllerView
	quota      QuotaView
	logger     zerolog.Logger
}

// NewStatusHandler creates a new status handler. controller may be nil.
func NewStatusHandler(l LedgerView, c ControllerView, q QuotaView, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		ledger:     l,
		controller: c,
		quota:      q,
		logger:     logger.With().Str("handler", "status").Logger(),
	}
}

// Build projects a ledger snapshot and the settings into a response.
func (h *StatusHandler) Build() StatusResponse {
	snap := h.ledger.Snapshot()

	workers := make(map[string]float64, len(snap.Speeds))
	for id, speed := range snap.Speeds {
		workers[strconv.Itoa(id)] = speed
	}

	resp := StatusResponse{
		TotalSpeedMBps:      snap.AggregateSpeed,
		BytesTransferred:    snap.Bytes,
		TotalDownloadedGB:   float64(snap.Bytes) / ledger.BytesPerGB,
		LimitGB:             float64(h.quota.LimitBytes()) / ledger.BytesPerGB,
		IsPaused:            snap.Paused,
		State:               controller.Running.String(),
		ActiveConnections:   snap.ActiveWorkers,
		ConcurrentDownloads: h.quota.Concurrency(),
		LastResetAt:         snap.LastResetAt,
		Workers:             workers,
	}
	if snap.Paused {
		resp.State = controller.Paused.String()
	}

	if h.controller != nil {
		st := h.controller.Status()
		resp.State = st.State.String()
		resp.QuotaExceeded = st.QuotaExceeded
		resp.OutsideWindow = st.OutsideWindow
		if !st.ResumeAt.IsZero() {
			resumeAt := st.ResumeAt
			resp.ResumeAt = &resumeAt
		}
	}

	return resp
}

// Get returns the current status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Build())
}
