// Package types defines the shared data structures for the Deepthinks backend:
// interactions, conversation summaries, chat messages, and the rows persisted
// by the storage engines.
package types

// ChatRole identifies the author of a chat message.
type ChatRole string

// Chat message roles
const (
	// RoleSystem carries instructions and the rendered conversation summary
	RoleSystem ChatRole = "system"

	// RoleUser carries a user prompt
	RoleUser ChatRole = "user"

	// RoleAssistant carries a model response
	RoleAssistant ChatRole = "assistant"
)

// Chat modes accepted by the chat endpoint. The mode changes how a completed
// response is post-processed before it enters working memory; it never changes
// what lands in the permanent transcript.
const (
	// ModeDefault records the response as generated
	ModeDefault = "default"

	// ModeReason strips <think>...</think> blocks from the response before it
	// enters working memory; the raw text still goes to the transcript
	ModeReason = "reason"

	// ModeCode expects a JSON response; non-JSON output is recorded with a
	// parse-error marker prefix
	ModeCode = "code"
)

// ValidModes is a slice of all accepted chat modes for validation.
var ValidModes = []string{ModeDefault, ModeReason, ModeCode}

// IsValidMode reports whether mode is one of the accepted chat modes.
// An empty mode is valid and means ModeDefault.
func IsValidMode(mode string) bool {
	if mode == "" {
		return true
	}
	for _, m := range ValidModes {
		if mode == m {
			return true
		}
	}
	return false
}

// ChatMessage is one provider-bound message. Content carries the text;
// ImageURL, when set, attaches an image part alongside it.
type ChatMessage struct {
	Role     ChatRole `json:"role"`
	Content  string   `json:"content"`
	ImageURL string   `json:"image_url,omitempty"`
}
