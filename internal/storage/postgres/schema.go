package postgres

// Schema defines the PostgreSQL database schema. All statements are
// idempotent (IF NOT EXISTS) so the schema can be applied on every startup.
//
// Timestamps are stored as RFC 3339 UTC text, matching the SQLite engine, so
// both engines share identical scan and ordering behaviour.
const Schema = `
-- Per-session working memory: the rolling summary plus the active buffer of
-- recent interactions, checkpointed as a single row.
CREATE TABLE IF NOT EXISTS conversation_memory (
    user_id        TEXT NOT NULL,
    session_number INTEGER NOT NULL,
    summary_json   TEXT,
    history_buffer TEXT NOT NULL DEFAULT '[]',
    last_updated   TEXT NOT NULL,
    PRIMARY KEY (user_id, session_number)
);

-- Append-only transcript of every completed exchange. Never pruned by the
-- memory manager; this is the permanent record.
CREATE TABLE IF NOT EXISTS chat_history (
    id             BIGSERIAL PRIMARY KEY,
    user_id        TEXT NOT NULL,
    session_number INTEGER NOT NULL,
    prompt         TEXT NOT NULL,
    response       TEXT NOT NULL,
    timestamp      TEXT NOT NULL,
    token_count    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chat_history_session
    ON chat_history (user_id, session_number, timestamp);

-- Per-user generation preferences.
CREATE TABLE IF NOT EXISTS user_settings (
    user_id       TEXT PRIMARY KEY,
    temperature   DOUBLE PRECISION NOT NULL,
    top_p         DOUBLE PRECISION NOT NULL,
    system_prompt TEXT NOT NULL,
    display_name  TEXT NOT NULL,
    default_model TEXT,
    updated_at    TEXT NOT NULL
);

-- Public share links for session transcripts.
CREATE TABLE IF NOT EXISTS conversation_shares (
    share_id       TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    session_number INTEGER NOT NULL,
    password_hash  TEXT,
    expires_at     TEXT,
    revoked        BOOLEAN NOT NULL DEFAULT FALSE,
    created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shares_user_session
    ON conversation_shares (user_id, session_number);

-- Daily token usage aggregates, one row per (user, model, UTC day).
CREATE TABLE IF NOT EXISTS token_usage (
    user_id           TEXT NOT NULL,
    model             TEXT NOT NULL,
    day               TEXT NOT NULL,
    prompt_tokens     BIGINT NOT NULL DEFAULT 0,
    completion_tokens BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, model, day)
);

-- Monotonic per-key request counters (anonymous usage caps).
CREATE TABLE IF NOT EXISTS request_counts (
    counter_key   TEXT PRIMARY KEY,
    request_count INTEGER NOT NULL DEFAULT 0
);
`
