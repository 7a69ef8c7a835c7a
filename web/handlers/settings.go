package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deepthinks/deepthinks/internal/services"
	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// SettingsHandlers serves per-user chat preferences.
type SettingsHandlers struct {
	settings *services.SettingsService
}

// NewSettingsHandlers creates a new SettingsHandlers instance.
func NewSettingsHandlers(settings *services.SettingsService) *SettingsHandlers {
	return &SettingsHandlers{settings: settings}
}

// GetSettings handles GET /api/settings - returns stored settings, or the
// defaults for users who never saved any.
func (h *SettingsHandlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	s, err := h.settings.GetSettings(r.Context(), identity.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings", err)
		return
	}

	respondJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PUT /api/settings - replaces the caller's settings
// document. The user id always comes from the authenticated identity, never
// from the body.
func (h *SettingsHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	var settings types.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	settings.UserID = identity.UserID

	saved, err := h.settings.SaveSettings(r.Context(), settings)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid settings", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to save settings", err)
		return
	}

	respondJSON(w, http.StatusOK, saved)
}
