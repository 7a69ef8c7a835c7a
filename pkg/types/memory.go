package types

import (
	"encoding/json"
	"fmt"
)

// Interaction is one completed user/assistant exchange. Interactions are
// immutable once created; compression removes them from the working buffer but
// never rewrites them, and the permanent transcript keeps every one.
type Interaction struct {
	Prompt     string `json:"prompt"`      // User prompt text
	Response   string `json:"response"`    // Assistant response text
	Timestamp  string `json:"timestamp"`   // ISO-8601 instant, UTC
	TokenCount int    `json:"token_count"` // Token cost of Response; 0 when unknown
}

// Validate checks the fields that storage relies on.
func (i *Interaction) Validate() error {
	if i.Timestamp == "" {
		return fmt.Errorf("interaction timestamp is required")
	}
	if i.TokenCount < 0 {
		return fmt.Errorf("interaction token_count must be >= 0, got %d", i.TokenCount)
	}
	return nil
}

// SummaryEntry is one compressed interaction inside a ConversationSummary.
type SummaryEntry struct {
	// When the summarized interaction happened (ISO-8601)
	Timestamp string `json:"timestamp"`

	// One-line semantic summary of the exchange
	Summary string `json:"summary"`

	// Short verbatim snippet worth keeping, if any
	VerbatimContext string `json:"verbatim_context,omitempty"`

	// Importance score 0-10 assigned by the summarizer
	PriorityScore float64 `json:"priority_score,omitempty"`
}

// ConversationSummary is the structured compression of older interactions.
// A nil *ConversationSummary means the session has no summary yet.
type ConversationSummary struct {
	Interactions     []SummaryEntry `json:"interactions"`
	ImportantDetails []string       `json:"important_details"`
}

// ParseSummary decodes a persisted summary blob. A nil or empty blob is not an
// error and yields nil; callers treat a decode error as "no summary".
func ParseSummary(raw []byte) (*ConversationSummary, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s ConversationSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &s, nil
}

// MemoryStats is the read-only diagnostic snapshot exposed by the memory
// manager and the stats endpoints.
type MemoryStats struct {
	UserID                  string  `json:"user_id"`
	SessionID               int     `json:"session_id"`
	InteractionCount        int     `json:"interaction_count"`
	TotalTokens             int     `json:"total_tokens"`
	Threshold               float64 `json:"threshold"`                  // Adaptive trigger threshold in tokens
	HasSummary              bool    `json:"has_summary"`
	AvgTokensPerInteraction float64 `json:"avg_tokens_per_interaction"` // Plain average over the buffer
	DynamicK                int     `json:"dynamic_k"`                  // Retention size recomputed at snapshot time
}
