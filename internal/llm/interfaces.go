// Package llm provides clients for OpenAI-compatible chat APIs plus the
// summarizer used by the memory manager. All calls go through a circuit
// breaker so a failing provider degrades service instead of hanging it.
package llm

import (
	"context"

	"github.com/deepthinks/deepthinks/pkg/types"
)

// ChatOptions carries per-request generation parameters. A zero Model falls
// back to the client's configured default.
type ChatOptions struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int

	// JSONResponse asks the provider to return a JSON object.
	JSONResponse bool
}

// Usage reports token counts as returned by the provider. Zero values mean
// the provider did not report usage and the caller should estimate.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatClient is the interface for chat completion against an
// OpenAI-compatible endpoint.
type ChatClient interface {
	// Complete sends the messages and returns the full response text.
	Complete(ctx context.Context, messages []types.ChatMessage, opts ChatOptions) (string, error)

	// Stream sends the messages and invokes onDelta for every content chunk
	// as it arrives. It returns the accumulated response text. A non-nil
	// error from onDelta aborts the stream and is returned unchanged.
	Stream(ctx context.Context, messages []types.ChatMessage, opts ChatOptions, onDelta func(delta string) error) (string, Usage, error)

	// Model returns the client's default model name.
	Model() string
}

// Summarizer condenses a batch of interactions, together with the previous
// summary, into a new structured summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous *types.ConversationSummary, batch []types.Interaction) (*types.ConversationSummary, error)
}
