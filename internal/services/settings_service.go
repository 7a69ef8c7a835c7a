package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// SettingsService manages per-user chat preferences.
type SettingsService struct {
	store storage.SettingsStore
}

// NewSettingsService creates a new SettingsService instance.
func NewSettingsService(store storage.SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// GetSettings retrieves the settings for a user. A user who has never saved
// anything gets the system defaults.
func (s *SettingsService) GetSettings(ctx context.Context, userID string) (*types.UserSettings, error) {
	settings, err := s.store.GetSettings(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		defaults := types.DefaultUserSettings(userID)
		return &defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get %s: %w", userID, err)
	}
	return settings, nil
}

// SaveSettings validates and upserts the user's settings. Empty text fields
// fall back to the system defaults so a partial update cannot blank out the
// system prompt.
func (s *SettingsService) SaveSettings(ctx context.Context, settings types.UserSettings) (*types.UserSettings, error) {
	if settings.UserID == "" {
		return nil, fmt.Errorf("settings: %w: user id is empty", storage.ErrInvalidInput)
	}
	if settings.SystemPrompt == "" {
		settings.SystemPrompt = types.DefaultSystemPrompt
	}
	if settings.DisplayName == "" {
		settings.DisplayName = types.DefaultDisplayName
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w: %v", storage.ErrInvalidInput, err)
	}
	if err := s.store.PutSettings(ctx, &settings); err != nil {
		return nil, fmt.Errorf("settings: save %s: %w", settings.UserID, err)
	}
	return &settings, nil
}
