package handlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// shareAuthHeader carries the password for protected shares. A header keeps
// the password out of server access logs, which record query strings.
const shareAuthHeader = "X-Share-Password"

// ShareHandlers serves share-link creation, viewing, and revocation.
type ShareHandlers struct {
	store storage.Store
	now   func() time.Time
}

// NewShareHandlers creates a new ShareHandlers instance.
func NewShareHandlers(store storage.Store) *ShareHandlers {
	return &ShareHandlers{store: store, now: time.Now}
}

func hashSharePassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CreateShare handles POST /api/shares - creates a read-only link to one of
// the caller's sessions.
func (h *ShareHandlers) CreateShare(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	var req CreateShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.SessionID < 1 {
		respondError(w, http.StatusBadRequest, "session_id is required", nil)
		return
	}
	if req.ExpiresInMinutes < 0 {
		respondError(w, http.StatusBadRequest, "expires_in_minutes must be positive", nil)
		return
	}

	share := &types.Share{
		ID:        uuid.New().String(),
		UserID:    identity.UserID,
		SessionID: req.SessionID,
		CreatedAt: h.now().UTC(),
	}
	if req.Password != "" {
		share.PasswordHash = hashSharePassword(req.Password)
	}
	if req.ExpiresInMinutes > 0 {
		expires := share.CreatedAt.Add(time.Duration(req.ExpiresInMinutes) * time.Minute)
		share.ExpiresAt = &expires
	}

	if err := h.store.CreateShare(r.Context(), share); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create share", err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateShareResponse{
		ShareID:   share.ID,
		ExpiresAt: share.ExpiresAt,
	})
}

// ViewShare handles GET /api/shares/{id} - the public view of a shared
// session. Access checks run in a fixed order so a caller learns the least
// possible about a link they cannot open: existence, then revocation, then
// expiry, then password.
func (h *ShareHandlers) ViewShare(w http.ResponseWriter, r *http.Request) {
	share, err := h.store.GetShare(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "share not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load share", err)
		return
	}
	if share.Revoked {
		respondError(w, http.StatusForbidden, "this share has been revoked", nil)
		return
	}
	if share.Expired(h.now().UTC()) {
		respondError(w, http.StatusGone, "this share has expired", nil)
		return
	}
	if share.Protected() {
		supplied := r.Header.Get(shareAuthHeader)
		if supplied == "" || subtle.ConstantTimeCompare([]byte(hashSharePassword(supplied)), []byte(share.PasswordHash)) != 1 {
			respondError(w, http.StatusUnauthorized, "password required to view this share", nil)
			return
		}
	}

	history, err := h.store.Transcript(r.Context(), share.UserID, share.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load shared conversation", err)
		return
	}
	if len(history) == 0 {
		respondError(w, http.StatusNotFound, "chat session not found or is empty", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": share.SessionID,
		"created_at": share.CreatedAt,
		"history":    history,
	})
}

// RevokeShare handles DELETE /api/shares/{id} - permanently disables a share
// link. Only the owner may revoke; anyone else sees the same 404 as for an
// unknown id.
func (h *ShareHandlers) RevokeShare(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	if err := h.store.RevokeShare(r.Context(), r.PathValue("id"), identity.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "share not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to revoke share", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Share revoked"})
}
