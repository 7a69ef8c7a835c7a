package handlers

import (
	"net/http"

	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// SessionHandlers serves session lifecycle and transcript endpoints.
type SessionHandlers struct {
	store storage.Store
}

// NewSessionHandlers creates a new SessionHandlers instance.
func NewSessionHandlers(store storage.Store) *SessionHandlers {
	return &SessionHandlers{store: store}
}

// CreateSession handles POST /api/sessions - reserves the user's next session
// number.
func (h *SessionHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	n, err := h.store.NextSessionNumber(r.Context(), identity.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to start a new session", err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateSessionResponse{
		Message:       "New session started",
		SessionNumber: n,
	})
}

// ListSessions handles GET /api/sessions - returns the user's sessions with
// preview metadata, newest first.
func (h *SessionHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	sessions, err := h.store.ListSessions(r.Context(), identity.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []types.SessionInfo{}
	}

	respondJSON(w, http.StatusOK, sessions)
}

// GetHistory handles GET /api/sessions/{session}/history - returns the
// session's permanent transcript, oldest first. A session with no recorded
// exchanges is indistinguishable from an unknown one.
func (h *SessionHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	sessionID := sessionFromPath(r, "session")
	if sessionID < 1 {
		respondError(w, http.StatusBadRequest, "invalid session number", nil)
		return
	}

	history, err := h.store.Transcript(r.Context(), identity.UserID, sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load chat history", err)
		return
	}
	if len(history) == 0 {
		respondError(w, http.StatusNotFound, "chat session not found or is empty", nil)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// DeleteUser handles DELETE /api/user - removes every row the user owns
// across all tables. Irreversible.
func (h *SessionHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	if err := h.store.DeleteUserData(r.Context(), identity.UserID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete user data", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "User data deleted"})
}
