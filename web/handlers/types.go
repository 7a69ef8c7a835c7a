// Package handlers provides the HTTP handlers and middleware for the
// Deepthinks API.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID int    `json:"session_id"`
	Model     string `json:"model,omitempty"`     // Empty = user default, then server default
	Mode      string `json:"mode,omitempty"`      // default, reason, or code
	ImageURL  string `json:"image_url,omitempty"` // Image to analyze alongside the query
}

// CreateSessionResponse is the response for POST /api/sessions.
type CreateSessionResponse struct {
	Message       string `json:"message"`
	SessionNumber int    `json:"session_number"`
}

// CreateShareRequest is the request body for POST /api/shares.
type CreateShareRequest struct {
	SessionID        int    `json:"session_id"`
	ExpiresInMinutes int    `json:"expires_in_minutes,omitempty"`
	Password         string `json:"password,omitempty"`
}

// CreateShareResponse is the response for POST /api/shares.
type CreateShareResponse struct {
	ShareID   string     `json:"share_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// StageUploadRequest is the request body for POST /api/uploads. The text is
// already extracted client-side; the server only stages it for the session's
// next chat request.
type StageUploadRequest struct {
	SessionID int    `json:"session_id"`
	Filename  string `json:"filename"`
	Text      string `json:"text"`
}

// StageUploadResponse is the response for POST /api/uploads.
type StageUploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

// UploadStatusResponse is the response for GET /api/uploads/status.
type UploadStatusResponse struct {
	HasFile  bool   `json:"has_file"`
	Filename string `json:"filename,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If encoding fails, log but don't try to write another response
		// (headers already sent)
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// sessionFromPath extracts the numeric session path segment, or 0 when it is
// missing or not a number.
func sessionFromPath(r *http.Request, key string) int {
	return parseInt(r.PathValue(key), 0)
}
