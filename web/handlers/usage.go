package handlers

import (
	"net/http"

	"github.com/deepthinks/deepthinks/internal/storage"
)

// UsageHandlers serves the token-usage ledger.
type UsageHandlers struct {
	store storage.Store
}

// NewUsageHandlers creates a new UsageHandlers instance.
func NewUsageHandlers(store storage.Store) *UsageHandlers {
	return &UsageHandlers{store: store}
}

// GetUsage handles GET /api/usage - returns the caller's per-model, per-day
// token consumption with totals, newest day first.
func (h *UsageHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)

	summary, err := h.store.UsageSummary(r.Context(), identity.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load usage", err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
