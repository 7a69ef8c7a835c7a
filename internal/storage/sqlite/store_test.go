package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing. New initialises
// the full Schema, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleInteraction(prompt string, tokens int) types.Interaction {
	return types.Interaction{
		Prompt:     prompt,
		Response:   "response to " + prompt,
		Timestamp:  time.Now().UTC().Format(storage.TimestampLayout),
		TokenCount: tokens,
	}
}

func TestLoadState_MissingRowIsEmptyState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary, buffer, err := store.LoadState(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if summary != nil {
		t.Errorf("summary: got %s, want nil", summary)
	}
	if len(buffer) != 0 {
		t.Errorf("buffer: got %d interactions, want 0", len(buffer))
	}
}

func TestSaveAndLoadState_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	buffer := []types.Interaction{
		{Prompt: "what is a goroutine", Response: "a lightweight thread", Timestamp: "2025-08-29T10:00:00Z", TokenCount: 12},
		{Prompt: "and a channel", Response: "a typed conduit", Timestamp: "2025-08-29T10:01:00Z", TokenCount: 9},
	}
	summary := json.RawMessage(`{"interactions":[],"important_details":["user is learning Go"]}`)

	if err := store.SaveState(ctx, "alice", 1, summary, buffer, time.Now()); err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}

	gotSummary, gotBuffer, err := store.LoadState(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if string(gotSummary) != string(summary) {
		t.Errorf("summary: got %s, want %s", gotSummary, summary)
	}
	if len(gotBuffer) != 2 {
		t.Fatalf("buffer: got %d interactions, want 2", len(gotBuffer))
	}
	if gotBuffer[0].Prompt != "what is a goroutine" || gotBuffer[0].TokenCount != 12 {
		t.Errorf("first interaction mismatch: %+v", gotBuffer[0])
	}
	if gotBuffer[1].Timestamp != "2025-08-29T10:01:00Z" {
		t.Errorf("second timestamp: got %q", gotBuffer[1].Timestamp)
	}
}

func TestSaveState_UpsertReplacesPreviousCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := []types.Interaction{sampleInteraction("one", 5)}
	if err := store.SaveState(ctx, "alice", 1, nil, first, time.Now()); err != nil {
		t.Fatalf("first SaveState() failed: %v", err)
	}

	second := []types.Interaction{sampleInteraction("two", 6)}
	summary := json.RawMessage(`{"interactions":[],"important_details":[]}`)
	if err := store.SaveState(ctx, "alice", 1, summary, second, time.Now()); err != nil {
		t.Fatalf("second SaveState() failed: %v", err)
	}

	gotSummary, gotBuffer, err := store.LoadState(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if gotSummary == nil {
		t.Error("summary: got nil after upsert with summary")
	}
	if len(gotBuffer) != 1 || gotBuffer[0].Prompt != "two" {
		t.Errorf("buffer after upsert: %+v", gotBuffer)
	}
}

func TestSaveState_NilSummaryStoredAsNull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveState(ctx, "alice", 1, nil, nil, time.Now()); err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}

	summary, buffer, err := store.LoadState(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if summary != nil {
		t.Errorf("summary: got %s, want nil", summary)
	}
	if len(buffer) != 0 {
		t.Errorf("buffer: got %d, want 0", len(buffer))
	}
}

func TestLoadState_MalformedBufferStartsFresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetDB().Exec(
		`INSERT INTO conversation_memory (user_id, session_number, history_buffer, last_updated)
		 VALUES ('alice', 1, '{broken', '2025-08-29T10:00:00Z')`)
	if err != nil {
		t.Fatalf("failed to insert malformed row: %v", err)
	}

	summary, buffer, err := store.LoadState(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("LoadState() must not fail on malformed buffer: %v", err)
	}
	if summary != nil {
		t.Errorf("summary: got %s, want nil", summary)
	}
	if len(buffer) != 0 {
		t.Errorf("buffer: got %d interactions, want 0", len(buffer))
	}
}

func TestSaveState_RejectsInvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveState(ctx, "", 1, nil, nil, time.Now()); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty user: got %v, want ErrInvalidInput", err)
	}
	if err := store.SaveState(ctx, "alice", 0, nil, nil, time.Now()); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("session 0: got %v, want ErrInvalidInput", err)
	}
}

func TestAppendTranscript_OrderedReplay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []string{"2025-08-29T10:00:00Z", "2025-08-29T10:05:00Z", "2025-08-29T10:10:00Z"} {
		interaction := types.Interaction{
			Prompt:     "prompt",
			Response:   "response",
			Timestamp:  ts,
			TokenCount: i + 1,
		}
		if err := store.AppendTranscript(ctx, "alice", 1, interaction); err != nil {
			t.Fatalf("AppendTranscript() failed: %v", err)
		}
	}

	transcript, err := store.Transcript(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Transcript() failed: %v", err)
	}
	if len(transcript) != 3 {
		t.Fatalf("transcript length: got %d, want 3", len(transcript))
	}
	for i, interaction := range transcript {
		if interaction.TokenCount != i+1 {
			t.Errorf("row %d out of order: token_count %d", i, interaction.TokenCount)
		}
	}
}

func TestTranscript_UnknownSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)

	transcript, err := store.Transcript(context.Background(), "nobody", 42)
	if err != nil {
		t.Fatalf("Transcript() failed: %v", err)
	}
	if len(transcript) != 0 {
		t.Errorf("got %d rows, want 0", len(transcript))
	}
}

func TestAppendTranscript_RejectsInvalidInteraction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bad := types.Interaction{Prompt: "p", Response: "r", Timestamp: "", TokenCount: 1}
	if err := store.AppendTranscript(ctx, "alice", 1, bad); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing timestamp: got %v, want ErrInvalidInput", err)
	}
}

func TestNextSessionNumber_SequentialAndReserved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NextSessionNumber(ctx, "alice")
	if err != nil {
		t.Fatalf("NextSessionNumber() failed: %v", err)
	}
	if first != 1 {
		t.Errorf("first session: got %d, want 1", first)
	}

	second, err := store.NextSessionNumber(ctx, "alice")
	if err != nil {
		t.Fatalf("NextSessionNumber() failed: %v", err)
	}
	if second != 2 {
		t.Errorf("second session: got %d, want 2", second)
	}

	// The reserved row loads as a fresh empty state.
	summary, buffer, err := store.LoadState(ctx, "alice", first)
	if err != nil {
		t.Fatalf("LoadState() on reserved session failed: %v", err)
	}
	if summary != nil || len(buffer) != 0 {
		t.Errorf("reserved session not empty: summary=%s buffer=%d", summary, len(buffer))
	}

	// Other users have their own numbering.
	bobFirst, err := store.NextSessionNumber(ctx, "bob")
	if err != nil {
		t.Fatalf("NextSessionNumber() for bob failed: %v", err)
	}
	if bobFirst != 1 {
		t.Errorf("bob's first session: got %d, want 1", bobFirst)
	}
}

func TestListSessions_PreviewAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		session int
		prompt  string
		ts      string
	}{
		{1, "first question in session one", "2025-08-29T09:00:00Z"},
		{1, "second question in session one", "2025-08-29T09:05:00Z"},
		{2, "opening question of session two", "2025-08-29T11:00:00Z"},
	}
	for _, row := range seed {
		interaction := types.Interaction{Prompt: row.prompt, Response: "ok", Timestamp: row.ts, TokenCount: 1}
		if err := store.AppendTranscript(ctx, "alice", row.session, interaction); err != nil {
			t.Fatalf("AppendTranscript() failed: %v", err)
		}
	}

	sessions, err := store.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}

	// Newest session first.
	if sessions[0].SessionID != 2 || sessions[1].SessionID != 1 {
		t.Errorf("session order: got [%d, %d], want [2, 1]", sessions[0].SessionID, sessions[1].SessionID)
	}
	if sessions[1].Preview != "first question in session one" {
		t.Errorf("preview must be the first prompt, got %q", sessions[1].Preview)
	}
	if sessions[1].InteractionCount != 2 {
		t.Errorf("interaction count: got %d, want 2", sessions[1].InteractionCount)
	}
	want := time.Date(2025, 8, 29, 9, 5, 0, 0, time.UTC)
	if !sessions[1].LastActivity.Equal(want) {
		t.Errorf("last activity: got %v, want %v", sessions[1].LastActivity, want)
	}
}

func TestDeleteUserData_RemovesOnlyThatUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		if err := store.SaveState(ctx, user, 1, nil, []types.Interaction{sampleInteraction("q", 3)}, time.Now()); err != nil {
			t.Fatalf("SaveState() failed: %v", err)
		}
		if err := store.AppendTranscript(ctx, user, 1, sampleInteraction("q", 3)); err != nil {
			t.Fatalf("AppendTranscript() failed: %v", err)
		}
		settings := types.DefaultUserSettings(user)
		if err := store.PutSettings(ctx, &settings); err != nil {
			t.Fatalf("PutSettings() failed: %v", err)
		}
	}

	if err := store.DeleteUserData(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUserData() failed: %v", err)
	}

	_, buffer, err := store.LoadState(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if len(buffer) != 0 {
		t.Error("alice's memory state should be gone")
	}
	if _, err := store.GetSettings(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("alice's settings: got %v, want ErrNotFound", err)
	}

	// Bob is untouched.
	if _, err := store.GetSettings(ctx, "bob"); err != nil {
		t.Errorf("bob's settings should remain: %v", err)
	}
	transcript, err := store.Transcript(ctx, "bob", 1)
	if err != nil || len(transcript) != 1 {
		t.Errorf("bob's transcript should remain: err=%v len=%d", err, len(transcript))
	}
}

func TestSettings_RoundTripAndUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetSettings(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	settings := types.UserSettings{
		UserID:       "alice",
		Temperature:  0.4,
		TopP:         0.95,
		SystemPrompt: "Answer briefly.",
		DisplayName:  "Alice",
		DefaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
	}
	if err := store.PutSettings(ctx, &settings); err != nil {
		t.Fatalf("PutSettings() failed: %v", err)
	}

	got, err := store.GetSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if got.Temperature != 0.4 || got.TopP != 0.95 || got.DisplayName != "Alice" {
		t.Errorf("settings mismatch: %+v", got)
	}
	if got.DefaultModel != settings.DefaultModel {
		t.Errorf("default model: got %q", got.DefaultModel)
	}

	settings.Temperature = 1.2
	settings.DefaultModel = ""
	if err := store.PutSettings(ctx, &settings); err != nil {
		t.Fatalf("PutSettings() upsert failed: %v", err)
	}
	got, err = store.GetSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("GetSettings() after upsert failed: %v", err)
	}
	if got.Temperature != 1.2 {
		t.Errorf("temperature after upsert: got %g, want 1.2", got.Temperature)
	}
	if got.DefaultModel != "" {
		t.Errorf("default model after upsert: got %q, want empty", got.DefaultModel)
	}
}

func TestShares_LifecycleAndExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetShare(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing share: got %v, want ErrNotFound", err)
	}

	expires := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	share := &types.Share{
		ID:           "share-1",
		UserID:       "alice",
		SessionID:    3,
		PasswordHash: "cafe01",
		ExpiresAt:    &expires,
		CreatedAt:    time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC),
	}
	if err := store.CreateShare(ctx, share); err != nil {
		t.Fatalf("CreateShare() failed: %v", err)
	}

	got, err := store.GetShare(ctx, "share-1")
	if err != nil {
		t.Fatalf("GetShare() failed: %v", err)
	}
	if got.UserID != "alice" || got.SessionID != 3 || got.PasswordHash != "cafe01" {
		t.Errorf("share mismatch: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at: got %v, want %v", got.ExpiresAt, expires)
	}
	if got.Revoked {
		t.Error("new share must not be revoked")
	}

	// Revoking with the wrong owner changes nothing.
	if err := store.RevokeShare(ctx, "share-1", "mallory"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("wrong owner revoke: got %v, want ErrNotFound", err)
	}
	if err := store.RevokeShare(ctx, "share-1", "alice"); err != nil {
		t.Fatalf("RevokeShare() failed: %v", err)
	}
	got, err = store.GetShare(ctx, "share-1")
	if err != nil {
		t.Fatalf("GetShare() after revoke failed: %v", err)
	}
	if !got.Revoked {
		t.Error("share should be revoked")
	}
}

func TestUsage_AdditiveUpsertAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := types.UsageRecord{UserID: "alice", Model: "llama", Day: "2025-08-29", PromptTokens: 100, CompletionTokens: 50}
	if err := store.RecordUsage(ctx, rec); err != nil {
		t.Fatalf("RecordUsage() failed: %v", err)
	}
	rec.PromptTokens, rec.CompletionTokens = 20, 10
	if err := store.RecordUsage(ctx, rec); err != nil {
		t.Fatalf("RecordUsage() second call failed: %v", err)
	}
	other := types.UsageRecord{UserID: "alice", Model: "qwen", Day: "2025-08-30", PromptTokens: 5, CompletionTokens: 7}
	if err := store.RecordUsage(ctx, other); err != nil {
		t.Fatalf("RecordUsage() other model failed: %v", err)
	}

	summary, err := store.UsageSummary(ctx, "alice")
	if err != nil {
		t.Fatalf("UsageSummary() failed: %v", err)
	}
	if len(summary.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(summary.Records))
	}
	// Newest day first.
	if summary.Records[0].Day != "2025-08-30" {
		t.Errorf("record order: got day %q first", summary.Records[0].Day)
	}
	if summary.Records[1].PromptTokens != 120 || summary.Records[1].CompletionTokens != 60 {
		t.Errorf("same-day usage must sum: %+v", summary.Records[1])
	}
	if summary.TotalPromptTokens != 125 || summary.TotalCompletionTokens != 67 {
		t.Errorf("totals: got %d/%d, want 125/67", summary.TotalPromptTokens, summary.TotalCompletionTokens)
	}
}

func TestIncrementRequestCount_Monotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementRequestCount(ctx, "anon-sess-1")
		if err != nil {
			t.Fatalf("IncrementRequestCount() failed: %v", err)
		}
		if got != want {
			t.Errorf("count: got %d, want %d", got, want)
		}
	}

	got, err := store.IncrementRequestCount(ctx, "anon-sess-2")
	if err != nil {
		t.Fatalf("IncrementRequestCount() failed: %v", err)
	}
	if got != 1 {
		t.Errorf("independent key: got %d, want 1", got)
	}
}
