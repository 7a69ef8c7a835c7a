// Package storage provides composable storage interfaces for the Deepthinks
// backend.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Both engines (sqlite,
// postgres) implement the full Store bundle; consumers depend only on the
// slice they use.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deepthinks/deepthinks/pkg/types"
)

// ConversationStore persists per-session working memory and the permanent
// transcript. Working memory (summary + recent-interaction buffer) is a
// compressible checkpoint; the transcript is the append-only record of every
// completed exchange and is never compressed.
type ConversationStore interface {
	// LoadState returns the persisted summary blob and working buffer for a
	// session. A missing row is not an error: it returns (nil, empty, nil).
	// The summary blob is returned raw; callers own the "malformed means no
	// summary" decision.
	LoadState(ctx context.Context, userID string, sessionID int) (json.RawMessage, []types.Interaction, error)

	// SaveState creates or updates the session's working-memory row.
	// Upsert semantics keyed by (user, session); idempotent.
	SaveState(ctx context.Context, userID string, sessionID int, summary json.RawMessage, buffer []types.Interaction, updatedAt time.Time) error

	// AppendTranscript appends one interaction to the permanent transcript.
	// Nothing rewrites or removes transcript rows short of DeleteUserData.
	AppendTranscript(ctx context.Context, userID string, sessionID int, interaction types.Interaction) error

	// Transcript returns a session's permanent transcript, oldest first.
	// An unknown session returns an empty slice, not an error.
	Transcript(ctx context.Context, userID string, sessionID int) ([]types.Interaction, error)

	// ListSessions returns the user's sessions with preview metadata, newest
	// session first.
	ListSessions(ctx context.Context, userID string) ([]types.SessionInfo, error)

	// NextSessionNumber returns MAX(session_number)+1 for the user and
	// reserves it by inserting an empty working-memory row. The first session
	// is 1.
	NextSessionNumber(ctx context.Context, userID string) (int, error)

	// DeleteUserData removes every row owned by the user across all tables.
	DeleteUserData(ctx context.Context, userID string) error

	// Close releases any resources held by the store.
	Close() error
}

// SettingsStore persists per-user chat preferences.
type SettingsStore interface {
	// GetSettings returns the user's stored settings.
	// Returns ErrNotFound if the user has never saved any.
	GetSettings(ctx context.Context, userID string) (*types.UserSettings, error)

	// PutSettings creates or updates the user's settings (upsert semantics).
	PutSettings(ctx context.Context, settings *types.UserSettings) error
}

// ShareStore persists read-only conversation share links.
type ShareStore interface {
	// CreateShare stores a new share row.
	CreateShare(ctx context.Context, share *types.Share) error

	// GetShare returns a share by id.
	// Returns ErrNotFound if the share doesn't exist.
	GetShare(ctx context.Context, id string) (*types.Share, error)

	// RevokeShare marks the share revoked. Only the owning user may revoke.
	// Returns ErrNotFound if the share doesn't exist or belongs to someone
	// else.
	RevokeShare(ctx context.Context, id, userID string) error
}

// UsageStore records token consumption per user, model, and UTC day.
type UsageStore interface {
	// RecordUsage adds the record's token counts to the (user, model, day)
	// row. Additive upsert: recording twice on the same day sums.
	RecordUsage(ctx context.Context, rec types.UsageRecord) error

	// UsageSummary returns the user's usage rows plus totals, newest day
	// first.
	UsageSummary(ctx context.Context, userID string) (*types.UsageSummary, error)
}

// RequestCounter tracks lifetime request counts for anonymous sessions.
// Counters only grow; there is no reset.
type RequestCounter interface {
	// IncrementRequestCount adds one to the key's counter and returns the new
	// value.
	IncrementRequestCount(ctx context.Context, key string) (int, error)
}

// Store bundles every focused interface implemented by a storage engine.
type Store interface {
	ConversationStore
	SettingsStore
	ShareStore
	UsageStore
	RequestCounter
}
