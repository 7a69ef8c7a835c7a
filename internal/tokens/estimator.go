// Package tokens estimates token counts for provider-bound text and message
// lists. The estimates drive the adaptive memory thresholds, so they must be
// deterministic, cheap, and safe to call from concurrent sessions; exactness
// matters less than never failing.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/deepthinks/deepthinks/pkg/types"
)

// Accounting constants. Every message carries a fixed role-framing overhead;
// an image part is charged a flat approximation since provider-side image
// encoders are not modeled exactly.
const (
	messageOverhead = 4
	imageTokenCost  = 765
)

// Estimator maps text and structured message lists to approximate token
// counts for a model identifier. Implementations never return a negative
// count and never panic.
type Estimator interface {
	// EstimateText returns the token cost of a single text. Empty text costs 0.
	EstimateText(text, model string) int

	// EstimateMessages returns the total token cost of a message list,
	// including per-message overhead and image parts.
	EstimateMessages(messages []types.ChatMessage, model string) int
}

// TiktokenEstimator counts tokens with tiktoken BPE encodings. Encodings are
// resolved per model and cached; when an encoding cannot be loaded (offline
// environments without a BPE cache) it degrades to a deterministic character
// heuristic.
type TiktokenEstimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken // encoding name -> encoder; nil entry = load failed
}

var _ Estimator = (*TiktokenEstimator)(nil)

// NewEstimator returns an estimator with an empty encoding cache. Encodings
// load lazily on first use per encoding name.
func NewEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// EstimateText returns the token cost of text under the model's encoding,
// falling back to max(1, chars/4) when the encoding is unavailable or the
// encoder fails.
func (e *TiktokenEstimator) EstimateText(text, model string) (count int) {
	if text == "" {
		return 0
	}
	enc := e.encoderFor(modelEncoding(model))
	if enc == nil {
		return heuristicTokens(text)
	}
	defer func() {
		if r := recover(); r != nil {
			count = heuristicTokens(text)
		}
	}()
	return len(enc.Encode(text, nil, nil))
}

// EstimateMessages sums the cost of each message: the fixed framing overhead,
// the text content, and a flat charge per image part.
func (e *TiktokenEstimator) EstimateMessages(messages []types.ChatMessage, model string) int {
	total := 0
	for _, msg := range messages {
		total += messageOverhead
		total += e.EstimateText(msg.Content, model)
		if msg.ImageURL != "" {
			total += imageTokenCost
		}
	}
	return total
}

// encoderFor returns the cached encoder for an encoding name, loading it on
// first use. A failed load is cached as nil so offline processes do not retry
// on every call.
func (e *TiktokenEstimator) encoderFor(name string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		e.encoders[name] = nil
		return nil
	}
	e.encoders[name] = enc
	return enc
}

// heuristicTokens approximates roughly four characters per token.
func heuristicTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// modelEncoding maps a model identifier to a tiktoken encoding name. The
// hosted models served through the Together endpoint (llama, qwen, deepseek,
// mistral) have no registered tiktoken encoding, so they count under
// cl100k_base like the original service did.
func modelEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return "cl100k_base"
	}

	if strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") {
		return "o200k_base"
	}
	if strings.HasPrefix(m, "gpt-4o") || strings.HasPrefix(m, "chatgpt-4o") {
		return "o200k_base"
	}

	return "cl100k_base"
}
