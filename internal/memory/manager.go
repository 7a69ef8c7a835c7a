package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/deepthinks/deepthinks/pkg/types"
)

// Store is the slice of the conversation store the manager needs.
type Store interface {
	LoadState(ctx context.Context, userID string, sessionID int) (json.RawMessage, []types.Interaction, error)
	SaveState(ctx context.Context, userID string, sessionID int, summary json.RawMessage, buffer []types.Interaction, updatedAt time.Time) error
	AppendTranscript(ctx context.Context, userID string, sessionID int, interaction types.Interaction) error
}

// Summarizer condenses a batch of interactions, together with the previous
// summary, into a new one. A failure leaves the caller's state untouched.
type Summarizer interface {
	Summarize(ctx context.Context, previous *types.ConversationSummary, batch []types.Interaction) (*types.ConversationSummary, error)
}

// TextEstimator is the slice of the token estimator RecordExchange needs.
type TextEstimator interface {
	EstimateText(text, model string) int
}

// Manager holds one session's working memory: the rolling summary plus the
// buffer of recent interactions and their token costs. Managers are
// request-scoped: load, mutate, save. They are not safe for concurrent use;
// callers serialise access per session (see KeyedLock).
type Manager struct {
	cfg        Config
	store      Store
	summarizer Summarizer
	userID     string
	sessionID  int

	// summaryRaw is the persisted blob, carried through save untouched even
	// when it does not parse. summary is the parsed view used for rendering;
	// nil when absent or malformed.
	summaryRaw    json.RawMessage
	summary       *types.ConversationSummary
	historyBuffer []types.Interaction
	tokenBuffer   []int
}

// NewManager creates a manager for one (user, session) pair. Call Load before
// using it.
func NewManager(cfg Config, store Store, summarizer Summarizer, userID string, sessionID int) *Manager {
	return &Manager{
		cfg:           cfg,
		store:         store,
		summarizer:    summarizer,
		userID:        userID,
		sessionID:     sessionID,
		historyBuffer: []types.Interaction{},
		tokenBuffer:   []int{},
	}
}

// Load reads the session's persisted state. A missing row yields empty state.
// A summary blob that does not parse is kept for persistence but excluded
// from context rendering.
func (m *Manager) Load(ctx context.Context) error {
	raw, buffer, err := m.store.LoadState(ctx, m.userID, m.sessionID)
	if err != nil {
		return fmt.Errorf("memory: load state: %w", err)
	}

	m.summaryRaw = raw
	m.summary, err = types.ParseSummary(raw)
	if err != nil {
		log.Printf("[Memory] could not parse summary for user=%s session=%d: %v", m.userID, m.sessionID, err)
		m.summary = nil
	}

	m.historyBuffer = buffer
	// Rows persisted without a token count carry 0 here; missing counts are
	// not re-estimated, so such entries undercount the buffer total.
	m.tokenBuffer = make([]int, len(buffer))
	for i := range buffer {
		m.tokenBuffer[i] = buffer[i].TokenCount
	}

	if len(m.historyBuffer) > 0 {
		log.Printf("[Memory] loaded %d interactions, %d total tokens for user=%s session=%d",
			len(m.historyBuffer), m.totalTokens(), m.userID, m.sessionID)
	}
	return nil
}

// AddInteraction records one completed exchange. The transcript write is
// unconditional and uses fullResponseForHistory when non-empty (the raw
// response including reasoning); the working buffer always holds the clean
// response. The exchange is then appended to the buffers and, if the trigger
// predicate fires, the buffer is compressed.
//
// State is mutated in memory only; call Save to checkpoint it.
func (m *Manager) AddInteraction(ctx context.Context, prompt, response string, responseTokens int, fullResponseForHistory string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	transcriptResponse := fullResponseForHistory
	if transcriptResponse == "" {
		transcriptResponse = response
	}
	transcriptEntry := types.Interaction{
		Prompt:     prompt,
		Response:   transcriptResponse,
		Timestamp:  timestamp,
		TokenCount: responseTokens,
	}
	// Transcript completeness must not depend on working-memory state, and a
	// transcript write failure must not lose the exchange from the buffer.
	if err := m.store.AppendTranscript(ctx, m.userID, m.sessionID, transcriptEntry); err != nil {
		log.Printf("[Memory] failed to append transcript for user=%s session=%d: %v", m.userID, m.sessionID, err)
	}

	m.historyBuffer = append(m.historyBuffer, types.Interaction{
		Prompt:     prompt,
		Response:   response,
		Timestamp:  timestamp,
		TokenCount: responseTokens,
	})
	m.tokenBuffer = append(m.tokenBuffer, responseTokens)

	log.Printf("[Memory] added interaction: %d total, %d total tokens, new response: %d tokens",
		len(m.historyBuffer), m.totalTokens(), responseTokens)

	if m.shouldTriggerSummarization() {
		m.adaptivePrune(ctx)
	}
	return nil
}

// RecordExchange is the older call shape kept for callers that have no token
// count of their own: it estimates the response's cost under the given model
// and delegates to AddInteraction.
func (m *Manager) RecordExchange(ctx context.Context, estimator TextEstimator, model, prompt, response string) error {
	return m.AddInteraction(ctx, prompt, response, estimator.EstimateText(response, model), "")
}

// Save checkpoints the working-memory state.
func (m *Manager) Save(ctx context.Context) error {
	if err := m.store.SaveState(ctx, m.userID, m.sessionID, m.summaryRaw, m.historyBuffer, time.Now().UTC()); err != nil {
		return fmt.Errorf("memory: save state: %w", err)
	}
	return nil
}

// GetContext projects the current state into the message list for the next
// model call: one system message rendering the summary (when present and
// parseable), then the buffered turns in order. It never mutates state.
func (m *Manager) GetContext() []types.ChatMessage {
	messages := []types.ChatMessage{}

	if m.summary != nil {
		var b strings.Builder
		b.WriteString("Here is a summary of the conversation so far:\n")
		if len(m.summary.Interactions) > 0 {
			if topics, err := json.Marshal(m.summary.Interactions); err == nil {
				b.WriteString("- Key topics discussed: ")
				b.Write(topics)
				b.WriteString("\n")
			}
		}
		if len(m.summary.ImportantDetails) > 0 {
			b.WriteString("- Important details to remember: ")
			b.WriteString(strings.Join(m.summary.ImportantDetails, ", "))
			b.WriteString("\n")
		}
		messages = append(messages, types.ChatMessage{Role: types.RoleSystem, Content: b.String()})
	}

	for _, interaction := range m.historyBuffer {
		if interaction.Prompt != "" {
			messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: interaction.Prompt})
		}
		if interaction.Response != "" {
			messages = append(messages, types.ChatMessage{Role: types.RoleAssistant, Content: interaction.Response})
		}
	}

	log.Printf("[Memory] context generated: %d interactions, %d tokens, threshold: %.0f",
		len(m.historyBuffer), m.totalTokens(), m.cfg.AdaptiveThreshold())
	return messages
}

// Stats returns a read-only diagnostic snapshot. The retention size is
// recomputed live from the current buffer.
func (m *Manager) Stats() types.MemoryStats {
	total := m.totalTokens()
	avg := 0.0
	if len(m.tokenBuffer) > 0 {
		avg = float64(total) / float64(len(m.tokenBuffer))
	}
	return types.MemoryStats{
		UserID:                  m.userID,
		SessionID:               m.sessionID,
		InteractionCount:        len(m.historyBuffer),
		TotalTokens:             total,
		Threshold:               m.cfg.AdaptiveThreshold(),
		HasSummary:              len(m.summaryRaw) > 0,
		AvgTokensPerInteraction: avg,
		DynamicK:                m.dynamicRetention(),
	}
}

func (m *Manager) totalTokens() int {
	total := 0
	for _, t := range m.tokenBuffer {
		total += t
	}
	return total
}

// shouldTriggerSummarization decides whether the buffer needs compressing:
// never below the minimum interaction count, then either the token sum
// crosses the adaptive threshold or the hard interaction cap is hit.
func (m *Manager) shouldTriggerSummarization() bool {
	if len(m.historyBuffer) < m.cfg.MinInteractionsBeforeSummary {
		return false
	}

	total := m.totalTokens()
	threshold := m.cfg.AdaptiveThreshold()
	if float64(total) >= threshold {
		log.Printf("[Memory] summarization triggered: %d tokens >= %.0f threshold with %d interactions",
			total, threshold, len(m.historyBuffer))
		return true
	}

	// Safety net for pathological token accounting (e.g. many zero-token
	// interactions).
	if len(m.historyBuffer) >= m.cfg.MaxInteractionsLimit {
		log.Printf("[Memory] summarization triggered: max interactions limit (%d) reached", m.cfg.MaxInteractionsLimit)
		return true
	}

	return false
}

// dynamicRetention computes how many recent interactions to keep verbatim
// after compression. It exponentially smooths the per-interaction token cost
// (most recent interaction weighted 1, older ones decaying geometrically),
// asks how many average-sized interactions fit under the threshold, and
// clamps the answer to the configured bounds.
func (m *Manager) dynamicRetention() int {
	if len(m.tokenBuffer) == 0 {
		return m.cfg.MinInteractionsBeforeSummary
	}

	n := len(m.tokenBuffer)
	var weightedSum, weightSum float64
	for i, tokens := range m.tokenBuffer {
		weight := math.Pow(m.cfg.SmoothingFactor, float64(n-1-i))
		weightedSum += float64(tokens) * weight
		weightSum += weight
	}
	avg := weightedSum / weightSum
	if avg <= 0 {
		// All-zero token counts; fall back to the configured floor.
		return m.cfg.MinInteractionsBeforeSummary
	}

	optimalK := int(m.cfg.AdaptiveThreshold() / avg)
	if optimalK < 1 {
		optimalK = 1
	}

	dynamicK := optimalK
	if dynamicK < m.cfg.MinInteractionsBeforeSummary {
		dynamicK = m.cfg.MinInteractionsBeforeSummary
	}
	if dynamicK > m.cfg.MaxInteractionsLimit {
		dynamicK = m.cfg.MaxInteractionsLimit
	}

	log.Printf("[Memory] dynamic retention: avg_tokens=%.1f, optimal_k=%d, constrained_k=%d", avg, optimalK, dynamicK)
	return dynamicK
}

// adaptivePrune compresses the older part of the buffer into the summary.
// When the buffer is at or below the computed retention size it summarizes
// the older half (always at least one interaction, so compression makes
// progress); otherwise it summarizes everything except the most recent
// dynamicK interactions. A summarizer failure leaves all state untouched.
func (m *Manager) adaptivePrune(ctx context.Context) {
	log.Printf("[Memory] adaptive pruning for user=%s session=%d", m.userID, m.sessionID)

	dynamicK := m.dynamicRetention()

	var split int
	if len(m.historyBuffer) <= dynamicK {
		split = len(m.historyBuffer) / 2
		if split < 1 {
			split = 1
		}
	} else {
		split = len(m.historyBuffer) - dynamicK
	}

	toSummarize := m.historyBuffer[:split]
	retained := m.historyBuffer[split:]
	retainedTokens := m.tokenBuffer[split:]
	summarizedTokenSum := 0
	for _, t := range m.tokenBuffer[:split] {
		summarizedTokenSum += t
	}

	newSummary, err := m.summarizer.Summarize(ctx, m.summary, toSummarize)
	if err != nil || newSummary == nil {
		log.Printf("[Memory] summarization failed, buffer retained: %v", err)
		return
	}
	raw, err := json.Marshal(newSummary)
	if err != nil {
		log.Printf("[Memory] could not encode new summary, buffer retained: %v", err)
		return
	}

	m.summary = newSummary
	m.summaryRaw = raw
	m.historyBuffer = retained
	m.tokenBuffer = retainedTokens

	retainedTokenSum := 0
	for _, t := range retainedTokens {
		retainedTokenSum += t
	}
	log.Printf("[Memory] pruning complete: summarized %d interactions (%d tokens), retained %d interactions (%d tokens), dynamic k %d",
		len(toSummarize), summarizedTokenSum, len(retained), retainedTokenSum, dynamicK)
}
