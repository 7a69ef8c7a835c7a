package types

import "fmt"

// Defaults applied when a user has no stored settings row.
const (
	DefaultTemperature  = 0.7
	DefaultTopP         = 1.0
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultDisplayName  = "User"
)

// UserSettings are the per-user chat preferences fed into provider calls.
type UserSettings struct {
	UserID       string  `json:"-"`
	Temperature  float64 `json:"temperature"` // Sampling temperature, [0, 2]
	TopP         float64 `json:"top_p"`       // Nucleus sampling parameter, (0, 1]
	SystemPrompt string  `json:"system_prompt"`
	DisplayName  string  `json:"display_name"`
	DefaultModel string  `json:"default_model,omitempty"` // Empty = server-configured model
}

// DefaultUserSettings returns the settings a user gets before storing any.
func DefaultUserSettings(userID string) UserSettings {
	return UserSettings{
		UserID:       userID,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		SystemPrompt: DefaultSystemPrompt,
		DisplayName:  DefaultDisplayName,
	}
}

// Validate checks the sampling parameter ranges.
func (s *UserSettings) Validate() error {
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %g", s.Temperature)
	}
	if s.TopP <= 0 || s.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %g", s.TopP)
	}
	return nil
}
