package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/storage"
)

const (
	statsPushInterval = 5 * time.Second
	statsWriteTimeout = 10 * time.Second
)

// StatsFeed streams a session's live memory statistics over WebSocket. Each
// connection watches one session: a snapshot is pushed on connect and then on
// a fixed interval until the client goes away.
type StatsFeed struct {
	store      storage.Store
	memCfg     memory.Config
	summarizer memory.Summarizer
	interval   time.Duration
}

// NewStatsFeed creates a new StatsFeed instance.
func NewStatsFeed(store storage.Store, cfg *config.Config, summarizer memory.Summarizer) *StatsFeed {
	return &StatsFeed{
		store:      store,
		memCfg:     memoryConfig(cfg),
		summarizer: summarizer,
		interval:   statsPushInterval,
	}
}

// ServeHTTP handles GET /api/ws/memory?session_id=N.
func (f *StatsFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	sessionID := parseInt(r.URL.Query().Get("session_id"), 0)
	if sessionID < 1 {
		respondError(w, http.StatusBadRequest, "session_id query parameter is required", nil)
		return
	}

	// Accept rejects cross-origin requests by default.
	conn, err := websocket.Accept(w, r, nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	if err != nil {
		log.Printf("[StatsFeed] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stats feed aborted") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	// The feed never expects client messages; CloseRead drains them and
	// cancels the context when the connection dies.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.push(ctx, conn, identity.UserID, sessionID); err != nil {
			if ctx.Err() == nil {
				log.Printf("[StatsFeed] push failed for session %d: %v", sessionID, err)
			}
			return
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		case <-ticker.C:
		}
	}
}

// push loads the session's current state and writes one stats snapshot.
func (f *StatsFeed) push(ctx context.Context, conn *websocket.Conn, userID string, sessionID int) error {
	mgr := memory.NewManager(f.memCfg, f.store, f.summarizer, userID, sessionID)
	if err := mgr.Load(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(mgr.Stats())
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, statsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
}
