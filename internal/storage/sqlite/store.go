package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store with WAL self-healing. If the initial open
// fails due to stale WAL files (left behind by a crashed process), it verifies
// no other process holds them and retries once after removing the stale
// -shm/-wal files.
func New(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("[Storage] sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// open opens a SQLite database, configures WAL mode, and creates the schema.
func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load,
	// while WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing with SQLITE_BUSY when the connection is held by
	// another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// LoadState returns the persisted summary blob and working buffer for a
// session. A missing row yields (nil, empty, nil). A malformed buffer is
// logged and treated as empty rather than failing the request.
func (s *Store) LoadState(ctx context.Context, userID string, sessionID int) (json.RawMessage, []types.Interaction, error) {
	if userID == "" {
		return nil, nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	var summary, buffer sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_json, history_buffer FROM conversation_memory
		 WHERE user_id = ? AND session_number = ?`,
		userID, sessionID,
	).Scan(&summary, &buffer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, []types.Interaction{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: failed to load memory state: %w", err)
	}

	var interactions []types.Interaction
	if buffer.Valid && buffer.String != "" {
		if err := json.Unmarshal([]byte(buffer.String), &interactions); err != nil {
			log.Printf("[Storage] sqlite: malformed history buffer for user=%s session=%d, starting fresh: %v",
				userID, sessionID, err)
			interactions = nil
		}
	}
	if interactions == nil {
		interactions = []types.Interaction{}
	}

	var summaryRaw json.RawMessage
	if summary.Valid && summary.String != "" {
		summaryRaw = json.RawMessage(summary.String)
	}

	return summaryRaw, interactions, nil
}

// SaveState creates or updates the session's working-memory row.
func (s *Store) SaveState(ctx context.Context, userID string, sessionID int, summary json.RawMessage, buffer []types.Interaction, updatedAt time.Time) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if sessionID < 1 {
		return fmt.Errorf("%w: session number must be >= 1, got %d", storage.ErrInvalidInput, sessionID)
	}

	if buffer == nil {
		buffer = []types.Interaction{}
	}
	bufferJSON, err := json.Marshal(buffer)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal history buffer: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_memory (user_id, session_number, summary_json, history_buffer, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_number) DO UPDATE SET
			summary_json = excluded.summary_json,
			history_buffer = excluded.history_buffer,
			last_updated = excluded.last_updated
	`, userID, sessionID, nullableBytes(summary), string(bufferJSON), updatedAt.UTC().Format(storage.TimestampLayout))
	if err != nil {
		return fmt.Errorf("sqlite: failed to save memory state: %w", err)
	}
	return nil
}

// AppendTranscript appends one interaction to the permanent transcript.
func (s *Store) AppendTranscript(ctx context.Context, userID string, sessionID int, interaction types.Interaction) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if err := interaction.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (user_id, session_number, prompt, response, timestamp, token_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, sessionID, interaction.Prompt, interaction.Response, interaction.Timestamp, interaction.TokenCount)
	if err != nil {
		return fmt.Errorf("sqlite: failed to append transcript: %w", err)
	}
	return nil
}

// Transcript returns a session's permanent transcript, oldest first.
func (s *Store) Transcript(ctx context.Context, userID string, sessionID int) ([]types.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prompt, response, timestamp, token_count
		FROM chat_history
		WHERE user_id = ? AND session_number = ?
		ORDER BY timestamp ASC, id ASC
	`, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query transcript: %w", err)
	}
	defer rows.Close()

	transcript := []types.Interaction{}
	for rows.Next() {
		var i types.Interaction
		if err := rows.Scan(&i.Prompt, &i.Response, &i.Timestamp, &i.TokenCount); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan transcript row: %w", err)
		}
		transcript = append(transcript, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: transcript iteration failed: %w", err)
	}
	return transcript, nil
}

// ListSessions returns the user's sessions with preview metadata, newest
// session first. The preview is the first prompt of the session.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]types.SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ch.session_number, ch.prompt, firsts.interaction_count, firsts.last_activity
		FROM (
			SELECT session_number,
			       MIN(id) AS first_id,
			       COUNT(*) AS interaction_count,
			       MAX(timestamp) AS last_activity
			FROM chat_history
			WHERE user_id = ?
			GROUP BY session_number
		) AS firsts
		JOIN chat_history AS ch ON ch.id = firsts.first_id
		ORDER BY ch.session_number DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []types.SessionInfo{}
	for rows.Next() {
		var (
			info   types.SessionInfo
			lastTS string
		)
		if err := rows.Scan(&info.SessionID, &info.Preview, &info.InteractionCount, &lastTS); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan session row: %w", err)
		}
		if t, err := time.Parse(storage.TimestampLayout, lastTS); err == nil {
			info.LastActivity = t
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: session iteration failed: %w", err)
	}
	return sessions, nil
}

// NextSessionNumber returns MAX(session_number)+1 for the user and reserves it
// with an empty working-memory row.
func (s *Store) NextSessionNumber(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(session_number) FROM conversation_memory WHERE user_id = ?`, userID,
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("sqlite: failed to read max session number: %w", err)
	}

	next := int(current.Int64) + 1
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_memory (user_id, session_number, history_buffer, last_updated)
		VALUES (?, ?, '[]', ?)
	`, userID, next, time.Now().UTC().Format(storage.TimestampLayout))
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to reserve session number: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: failed to commit session number: %w", err)
	}
	return next, nil
}

// DeleteUserData removes every row owned by the user across all tables.
func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM conversation_memory WHERE user_id = ?`,
		`DELETE FROM chat_history WHERE user_id = ?`,
		`DELETE FROM user_settings WHERE user_id = ?`,
		`DELETE FROM conversation_shares WHERE user_id = ?`,
		`DELETE FROM token_usage WHERE user_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("sqlite: failed to delete user data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit user deletion: %w", err)
	}
	return nil
}

// GetSettings returns the user's stored settings.
func (s *Store) GetSettings(ctx context.Context, userID string) (*types.UserSettings, error) {
	var (
		settings     types.UserSettings
		defaultModel sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, temperature, top_p, system_prompt, display_name, default_model
		FROM user_settings WHERE user_id = ?
	`, userID).Scan(&settings.UserID, &settings.Temperature, &settings.TopP,
		&settings.SystemPrompt, &settings.DisplayName, &defaultModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load settings: %w", err)
	}
	settings.DefaultModel = defaultModel.String
	return &settings, nil
}

// PutSettings creates or updates the user's settings.
func (s *Store) PutSettings(ctx context.Context, settings *types.UserSettings) error {
	if settings == nil || settings.UserID == "" {
		return fmt.Errorf("%w: settings with a user id are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, temperature, top_p, system_prompt, display_name, default_model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			temperature = excluded.temperature,
			top_p = excluded.top_p,
			system_prompt = excluded.system_prompt,
			display_name = excluded.display_name,
			default_model = excluded.default_model,
			updated_at = excluded.updated_at
	`, settings.UserID, settings.Temperature, settings.TopP, settings.SystemPrompt,
		settings.DisplayName, nullableString(settings.DefaultModel),
		time.Now().UTC().Format(storage.TimestampLayout))
	if err != nil {
		return fmt.Errorf("sqlite: failed to save settings: %w", err)
	}
	return nil
}

// CreateShare stores a new share row.
func (s *Store) CreateShare(ctx context.Context, share *types.Share) error {
	if share == nil || share.ID == "" || share.UserID == "" {
		return fmt.Errorf("%w: share with id and user id is required", storage.ErrInvalidInput)
	}

	var expires sql.NullString
	if share.ExpiresAt != nil {
		expires = sql.NullString{String: share.ExpiresAt.UTC().Format(storage.TimestampLayout), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_shares (share_id, user_id, session_number, password_hash, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, share.ID, share.UserID, share.SessionID, nullableString(share.PasswordHash),
		expires, boolToInt(share.Revoked), share.CreatedAt.UTC().Format(storage.TimestampLayout))
	if err != nil {
		return fmt.Errorf("sqlite: failed to create share: %w", err)
	}
	return nil
}

// GetShare returns a share by id.
func (s *Store) GetShare(ctx context.Context, id string) (*types.Share, error) {
	var (
		share        types.Share
		passwordHash sql.NullString
		expiresAt    sql.NullString
		revoked      int
		createdAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT share_id, user_id, session_number, password_hash, expires_at, revoked, created_at
		FROM conversation_shares WHERE share_id = ?
	`, id).Scan(&share.ID, &share.UserID, &share.SessionID, &passwordHash, &expiresAt, &revoked, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load share: %w", err)
	}

	share.PasswordHash = passwordHash.String
	share.Revoked = revoked != 0
	if expiresAt.Valid && expiresAt.String != "" {
		if t, err := time.Parse(storage.TimestampLayout, expiresAt.String); err == nil {
			share.ExpiresAt = &t
		}
	}
	if t, err := time.Parse(storage.TimestampLayout, createdAt); err == nil {
		share.CreatedAt = t
	}
	return &share, nil
}

// RevokeShare marks the share revoked if it belongs to userID.
func (s *Store) RevokeShare(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversation_shares SET revoked = 1 WHERE share_id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to revoke share: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check revoke result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordUsage adds the record's token counts to the (user, model, day) row.
func (s *Store) RecordUsage(ctx context.Context, rec types.UsageRecord) error {
	if rec.UserID == "" || rec.Model == "" || rec.Day == "" {
		return fmt.Errorf("%w: usage record needs user, model, and day", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage (user_id, model, day, prompt_tokens, completion_tokens)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, model, day) DO UPDATE SET
			prompt_tokens = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens
	`, rec.UserID, rec.Model, rec.Day, rec.PromptTokens, rec.CompletionTokens)
	if err != nil {
		return fmt.Errorf("sqlite: failed to record usage: %w", err)
	}
	return nil
}

// UsageSummary returns the user's usage rows plus totals, newest day first.
func (s *Store) UsageSummary(ctx context.Context, userID string) (*types.UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, model, day, prompt_tokens, completion_tokens
		FROM token_usage WHERE user_id = ?
		ORDER BY day DESC, model ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query usage: %w", err)
	}
	defer rows.Close()

	summary := &types.UsageSummary{Records: []types.UsageRecord{}}
	for rows.Next() {
		var rec types.UsageRecord
		if err := rows.Scan(&rec.UserID, &rec.Model, &rec.Day, &rec.PromptTokens, &rec.CompletionTokens); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan usage row: %w", err)
		}
		summary.Records = append(summary.Records, rec)
		summary.TotalPromptTokens += rec.PromptTokens
		summary.TotalCompletionTokens += rec.CompletionTokens
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: usage iteration failed: %w", err)
	}
	return summary, nil
}

// IncrementRequestCount adds one to the key's counter and returns the new
// value.
func (s *Store) IncrementRequestCount(ctx context.Context, key string) (int, error) {
	if key == "" {
		return 0, fmt.Errorf("%w: counter key is required", storage.ErrInvalidInput)
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO request_counts (counter_key, request_count)
		VALUES (?, 1)
		ON CONFLICT(counter_key) DO UPDATE SET request_count = request_count + 1
		RETURNING request_count
	`, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to increment request count: %w", err)
	}
	return count, nil
}

// GetDB exposes the underlying connection for tooling that needs raw access.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// dbPathFromDSN extracts the filesystem path from a sqlite DSN so the WAL
// helpers can inspect sibling -shm/-wal files.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// AND no other process currently holds them open (via lsof). Returns false if
// lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	// lsof exits non-zero when no process has the files open — that means
	// stale.
	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[Storage] sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
