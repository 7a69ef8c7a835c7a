// Package sqlite provides the SQLite implementation of the storage interfaces.
package sqlite

// Schema contains the SQL statements to create the database schema for SQLite.
// Every timestamp column stores RFC 3339 UTC text, so ORDER BY is
// chronological without date functions.
const Schema = `
-- Working memory: one row per (user, session) holding the compressible
-- summary + recent-interaction buffer checkpoint
CREATE TABLE IF NOT EXISTS conversation_memory (
    user_id TEXT NOT NULL,
    session_number INTEGER NOT NULL,
    summary_json TEXT,
    history_buffer TEXT NOT NULL DEFAULT '[]',
    last_updated TEXT NOT NULL,
    PRIMARY KEY (user_id, session_number)
);

-- Permanent transcript: append-only, never compressed
CREATE TABLE IF NOT EXISTS chat_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    session_number INTEGER NOT NULL,
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chat_history_session
    ON chat_history (user_id, session_number, timestamp);

-- Per-user chat preferences fed into provider calls
CREATE TABLE IF NOT EXISTS user_settings (
    user_id TEXT PRIMARY KEY,
    temperature REAL NOT NULL,
    top_p REAL NOT NULL,
    system_prompt TEXT NOT NULL,
    display_name TEXT NOT NULL,
    default_model TEXT,
    updated_at TEXT NOT NULL
);

-- Read-only transcript share links
CREATE TABLE IF NOT EXISTS conversation_shares (
    share_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_number INTEGER NOT NULL,
    password_hash TEXT,
    expires_at TEXT,
    revoked INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shares_user_session
    ON conversation_shares (user_id, session_number);

-- Token accounting, additive per (user, model, UTC day)
CREATE TABLE IF NOT EXISTS token_usage (
    user_id TEXT NOT NULL,
    model TEXT NOT NULL,
    day TEXT NOT NULL,
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, model, day)
);

-- Lifetime request counters for anonymous sessions
CREATE TABLE IF NOT EXISTS request_counts (
    counter_key TEXT PRIMARY KEY,
    request_count INTEGER NOT NULL DEFAULT 0
);
`
