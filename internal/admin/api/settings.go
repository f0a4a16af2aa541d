package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/kburn/internal/settings"
	"github.com/rs/zerolog"
)

// SettingsStore is the editable settings backend.
type SettingsStore interface {
	Get() settings.Document
	Update(doc settings.Document) (bool, error)
	Reload() error
}

// UpdateResponse is returned after a settings change.
type UpdateResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	RestartRequired bool   `json:"restart_required"`
}

// SettingsHandler handles settings API requests.
type SettingsHandler struct {
	store  SettingsStore
	logger zerolog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(store SettingsStore, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		logger: logger.With().Str("handler", "settings").Logger(),
	}
}

// Get returns the current settings document.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Get())
}

// Update applies a full or partial settings document. Fields absent from the
// request keep their current value.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	doc := h.store.Get()
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data format: "+err.Error())
		return
	}

	restart, err := h.store.Update(doc)
	if err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to save settings")
		writeJSON(w, http.StatusInternalServerError, UpdateResponse{
			Success: false,
			Message: "Failed to save settings.",
		})
		return
	}

	message := "Settings updated successfully."
	if restart {
		message = "Settings updated successfully. Restart required for concurrency and target changes."
	}
	writeJSON(w, http.StatusOK, UpdateResponse{
		Success:         true,
		Message:         message,
		RestartRequired: restart,
	})
}

// Reload re-reads the settings file from disk.
func (h *SettingsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("Manual settings reload requested")

	if err := h.store.Reload(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to reload settings")
		writeError(w, http.StatusInternalServerError, "Failed to reload settings: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, UpdateResponse{
		Success: true,
		Message: "Settings reloaded successfully.",
	})
}
