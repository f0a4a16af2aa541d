package api

import (
	"net/http"
	"strconv"

	"github.com/goodtune/kburn/internal/history"
	"github.com/rs/zerolog"
)

// TransferHistory lists recent transfer outcomes.
type TransferHistory interface {
	Entries() []history.Entry
}

// TransfersHandler serves the per-target transfer history.
type TransfersHandler struct {
	history TransferHistory
	logger  zerolog.Logger
}

// NewTransfersHandler creates a new transfers handler.
func NewTransfersHandler(h TransferHistory, logger zerolog.Logger) *TransfersHandler {
	return &TransfersHandler{
		history: h,
		logger:  logger.With().Str("handler", "transfers").Logger(),
	}
}

// List returns recent outcomes, most recent first. An optional limit query
// parameter caps the number of entries.
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.history.Entries()

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		if limit < len(entries) {
			entries = entries[:limit]
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfers": entries,
		"count":     len(entries),
	})
}
