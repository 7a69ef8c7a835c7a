package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/deepthinks/deepthinks/internal/uploads"
)

// UploadHandlers stages extracted document text for a session's next chat
// request. Staging is in-process and best-effort: entries expire and are
// bounded, and a staged document is consumed by exactly one exchange.
type UploadHandlers struct {
	staged *uploads.Cache
}

// NewUploadHandlers creates a new UploadHandlers instance.
func NewUploadHandlers(staged *uploads.Cache) *UploadHandlers {
	return &UploadHandlers{staged: staged}
}

// StageUpload handles POST /api/uploads - stages a document's text for the
// session, replacing any previously staged one.
func (h *UploadHandlers) StageUpload(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	var req StageUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.SessionID < 1 || req.Filename == "" || strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "session_id, filename and text are required", nil)
		return
	}

	h.staged.Put(identity.UserID, req.SessionID, uploads.StagedDocument{
		Filename: req.Filename,
		Text:     req.Text,
		StagedAt: time.Now().UTC(),
	})

	respondJSON(w, http.StatusOK, StageUploadResponse{
		Message:  "File staged successfully",
		Filename: req.Filename,
		Size:     len(req.Text),
	})
}

// UploadStatus handles GET /api/uploads/status - reports whether the session
// has a staged document without consuming it.
func (h *UploadHandlers) UploadStatus(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	sessionID := parseInt(r.URL.Query().Get("session_id"), 0)
	if sessionID < 1 {
		respondError(w, http.StatusBadRequest, "session_id query parameter is required", nil)
		return
	}

	doc, ok := h.staged.Peek(identity.UserID, sessionID)
	if !ok {
		respondJSON(w, http.StatusOK, UploadStatusResponse{HasFile: false})
		return
	}

	respondJSON(w, http.StatusOK, UploadStatusResponse{
		HasFile:  true,
		Filename: doc.Filename,
		Size:     len(doc.Text),
	})
}

// ClearUpload handles DELETE /api/uploads - discards the session's staged
// document, if any.
func (h *UploadHandlers) ClearUpload(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	sessionID := parseInt(r.URL.Query().Get("session_id"), 0)
	if sessionID < 1 {
		respondError(w, http.StatusBadRequest, "session_id query parameter is required", nil)
		return
	}

	h.staged.Remove(identity.UserID, sessionID)

	respondJSON(w, http.StatusOK, map[string]string{"message": "Staged file cleared"})
}
