package types

import "time"

// SessionInfo is one row in a user's session list: the session number plus
// preview metadata derived from the permanent transcript.
type SessionInfo struct {
	SessionID        int       `json:"session_id"`
	Preview          string    `json:"preview"` // First prompt of the session, truncated
	InteractionCount int       `json:"interaction_count"`
	LastActivity     time.Time `json:"last_activity"`
}

// Share is a read-only link to one session's transcript.
type Share struct {
	ID           string     `json:"id"` // UUID v4
	UserID       string     `json:"-"`
	SessionID    int        `json:"session_id"`
	PasswordHash string     `json:"-"` // SHA-256 hex of the share password; empty = unprotected
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Revoked      bool       `json:"revoked"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Protected reports whether the share requires a password.
func (s *Share) Protected() bool {
	return s.PasswordHash != ""
}

// Expired reports whether the share's expiry has passed at t. Shares without
// an expiry never expire.
func (s *Share) Expired(t time.Time) bool {
	return s.ExpiresAt != nil && t.After(*s.ExpiresAt)
}

// UsageRecord is one token-accounting row: tokens consumed by a user with one
// model on one UTC day. Rows are additive; recording twice on the same day
// sums into the same row.
type UsageRecord struct {
	UserID           string `json:"user_id"`
	Model            string `json:"model"`
	Day              string `json:"day"` // YYYY-MM-DD, UTC
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// UsageSummary aggregates a user's token usage across models and days.
type UsageSummary struct {
	Records               []UsageRecord `json:"records"`
	TotalPromptTokens     int           `json:"total_prompt_tokens"`
	TotalCompletionTokens int           `json:"total_completion_tokens"`
}
