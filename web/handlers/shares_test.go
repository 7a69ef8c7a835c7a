package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepthinks/deepthinks/internal/storage/sqlite"
)

func newShareFixture(t *testing.T) (*ShareHandlers, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewShareHandlers(store), store
}

func createShare(t *testing.T, h *ShareHandlers, id Identity, body CreateShareRequest) CreateShareResponse {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/shares", bytes.NewReader(payload)), id)
	w := httptest.NewRecorder()
	h.CreateShare(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp CreateShareResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func viewShare(h *ShareHandlers, shareID, password string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/shares/"+shareID, nil)
	req.SetPathValue("id", shareID)
	if password != "" {
		req.Header.Set(shareAuthHeader, password)
	}
	w := httptest.NewRecorder()
	h.ViewShare(w, req)
	return w
}

func revokeShare(h *ShareHandlers, id Identity, shareID string) *httptest.ResponseRecorder {
	req := withIdentity(httptest.NewRequest(http.MethodDelete, "/api/shares/"+shareID, nil), id)
	req.SetPathValue("id", shareID)
	w := httptest.NewRecorder()
	h.RevokeShare(w, req)
	return w
}

func TestCreateShare_ReturnsIDAndExpiry(t *testing.T) {
	h, _ := newShareFixture(t)

	resp := createShare(t, h, alice, CreateShareRequest{SessionID: 1, ExpiresInMinutes: 60})
	assert.Len(t, resp.ShareID, 36)
	require.NotNil(t, resp.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *resp.ExpiresAt, 5*time.Second)

	// No expiry requested means the link never expires.
	resp = createShare(t, h, alice, CreateShareRequest{SessionID: 1})
	assert.Nil(t, resp.ExpiresAt)
}

func TestCreateShare_RejectsBadRequests(t *testing.T) {
	h, _ := newShareFixture(t)

	for name, body := range map[string]string{
		"missing session":  `{}`,
		"negative expiry":  `{"session_id": 1, "expires_in_minutes": -5}`,
		"malformed syntax": `{"session_id": `,
	} {
		t.Run(name, func(t *testing.T) {
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/shares", bytes.NewReader([]byte(body))), alice)
			w := httptest.NewRecorder()
			h.CreateShare(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestViewShare_ReturnsHistory(t *testing.T) {
	h, store := newShareFixture(t)
	seedInteraction(t, store, "alice", 1, "shared question", "shared answer")
	seedInteraction(t, store, "alice", 1, "another", "reply")

	resp := createShare(t, h, alice, CreateShareRequest{SessionID: 1})

	w := viewShare(h, resp.ShareID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var view struct {
		SessionID int               `json:"session_id"`
		History   []json.RawMessage `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 1, view.SessionID)
	assert.Len(t, view.History, 2)
	assert.Contains(t, w.Body.String(), "shared question")

	// The owner's identity never appears in the public view.
	assert.NotContains(t, w.Body.String(), "alice")
}

func TestViewShare_UnknownIDIs404(t *testing.T) {
	h, _ := newShareFixture(t)

	w := viewShare(h, "3b6fbd6d-239d-44ca-af68-86e30e86b04a", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestViewShare_EmptySessionIs404(t *testing.T) {
	h, _ := newShareFixture(t)

	resp := createShare(t, h, alice, CreateShareRequest{SessionID: 7})

	w := viewShare(h, resp.ShareID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found or is empty")
}

func TestViewShare_RevokedIs403(t *testing.T) {
	h, store := newShareFixture(t)
	seedInteraction(t, store, "alice", 1, "q", "a")

	resp := createShare(t, h, alice, CreateShareRequest{SessionID: 1, ExpiresInMinutes: 1})
	w := revokeShare(h, alice, resp.ShareID)
	require.Equal(t, http.StatusOK, w.Code)

	// Revocation wins over expiry in the response.
	h.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	w = viewShare(h, resp.ShareID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "revoked")
}

func TestViewShare_ExpiredIs410(t *testing.T) {
	h, store := newShareFixture(t)
	seedInteraction(t, store, "alice", 1, "q", "a")

	resp := createShare(t, h, alice, CreateShareRequest{SessionID: 1, ExpiresInMinutes: 30})

	h.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	w := viewShare(h, resp.ShareID, "")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestViewShare_PasswordProtection(t *testing.T) {
	h, store := newShareFixture(t)
	seedInteraction(t, store, "alice", 1, "q", "a")

	resp := createShare(t, h, alice, CreateShareRequest{SessionID: 1, Password: "hunter2"})

	w := viewShare(h, resp.ShareID, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = viewShare(h, resp.ShareID, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = viewShare(h, resp.ShareID, "hunter2")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRevokeShare_OwnerOnly(t *testing.T) {
	h, store := newShareFixture(t)
	seedInteraction(t, store, "alice", 1, "q", "a")

	resp := createShare(t, h, alice, CreateShareRequest{SessionID: 1})

	// Someone else revoking sees the same 404 as for an unknown id, and the
	// share keeps working.
	w := revokeShare(h, Identity{UserID: "bob"}, resp.ShareID)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusOK, viewShare(h, resp.ShareID, "").Code)

	w = revokeShare(h, alice, resp.ShareID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusForbidden, viewShare(h, resp.ShareID, "").Code)
}
