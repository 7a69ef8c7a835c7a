package handlers

import (
	"net/http"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/storage"
)

// MemoryHandlers exposes read-only diagnostics for a session's working
// memory.
type MemoryHandlers struct {
	store      storage.Store
	memCfg     memory.Config
	summarizer memory.Summarizer
}

// NewMemoryHandlers creates a new MemoryHandlers instance.
func NewMemoryHandlers(store storage.Store, cfg *config.Config, summarizer memory.Summarizer) *MemoryHandlers {
	return &MemoryHandlers{
		store:      store,
		memCfg:     memoryConfig(cfg),
		summarizer: summarizer,
	}
}

// GetMemoryStats handles GET /api/memory-stats/{session} - returns the
// session's current buffer size, token load, threshold, and retention target.
// Reading stats never mutates the session.
func (h *MemoryHandlers) GetMemoryStats(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	sessionID := sessionFromPath(r, "session")
	if sessionID < 1 {
		respondError(w, http.StatusBadRequest, "invalid session number", nil)
		return
	}

	mgr := memory.NewManager(h.memCfg, h.store, h.summarizer, identity.UserID, sessionID)
	if err := mgr.Load(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load memory state", err)
		return
	}

	respondJSON(w, http.StatusOK, mgr.Stats())
}
