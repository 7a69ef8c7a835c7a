package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/llm"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/services"
	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/internal/tokens"
	"github.com/deepthinks/deepthinks/internal/uploads"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// Generation bounds per mode. Reasoning responses carry their thinking text,
// so they get a larger budget.
const (
	defaultMaxTokens = 1200
	reasonMaxTokens  = 4096
)

// persistTimeout bounds the post-generation save, which runs detached from
// the request context so a client leaving right after the final token cannot
// abandon a completed exchange.
const persistTimeout = 90 * time.Second

// jsonParseErrorPrefix marks a code-mode response that did not parse as JSON.
const jsonParseErrorPrefix = "[JSON_PARSE_ERROR] "

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// baseSystemPrompt frames every non-vision conversation. The rendered summary
// and buffered turns follow it as separate messages.
const baseSystemPrompt = `# Core Instructions
You are Deepthinks, a context-aware AI assistant with a layered memory system.
## Memory System
- LONG-TERM MEMORY appears as "Here is a summary of the conversation so far:" with summarized past interactions (including verbatim context worth recalling and a 0-10 priority score) and a list of important details.
- SHORT-TERM MEMORY is the most recent user/assistant exchanges, provided as regular messages.
## Guidelines
1. Use both memory layers to inform your responses.
2. When recent messages contradict the long-term memory, the most recent information takes precedence.
3. Do not mention the memory system; use the context it provides naturally.
4. Timestamps in the memory are there for time-related questions.
# User Information
The user's preferred name is: %s
# User-Defined Persona
Shape your tone and behavior according to this persona:
%s`

// tokenFrame is one streamed SSE chunk.
type tokenFrame struct {
	Token string `json:"token"`
	Trace bool   `json:"trace"`
}

// ChatHandlers orchestrates the streaming chat endpoint.
type ChatHandlers struct {
	store      storage.Store
	cfg        *config.Config
	memCfg     memory.Config
	client     llm.ChatClient
	summarizer memory.Summarizer
	estimator  tokens.Estimator
	staged     *uploads.Cache
	locks      *memory.KeyedLock
	settings   *services.SettingsService
}

// NewChatHandlers creates a new ChatHandlers instance.
func NewChatHandlers(
	store storage.Store,
	cfg *config.Config,
	client llm.ChatClient,
	summarizer memory.Summarizer,
	estimator tokens.Estimator,
	staged *uploads.Cache,
	locks *memory.KeyedLock,
	settings *services.SettingsService,
) *ChatHandlers {
	return &ChatHandlers{
		store:      store,
		cfg:        cfg,
		memCfg:     memoryConfig(cfg),
		client:     client,
		summarizer: summarizer,
		estimator:  estimator,
		staged:     staged,
		locks:      locks,
		settings:   settings,
	}
}

// memoryConfig maps process configuration onto the memory manager's knobs.
func memoryConfig(cfg *config.Config) memory.Config {
	return memory.Config{
		MaxContextTokens:             cfg.Memory.MaxContextTokens,
		MinInteractionsBeforeSummary: cfg.Memory.MinInteractionsBeforeSummary,
		MaxInteractionsLimit:         cfg.Memory.MaxInteractionsLimit,
		SmoothingFactor:              cfg.Memory.SmoothingFactor,
		SafetyMargin:                 cfg.Memory.SafetyMargin,
	}
}

// Chat handles POST /api/chat - streams a model response over SSE and records
// the completed exchange in the session's memory.
//
// A client disconnect during generation abandons the exchange entirely:
// nothing is written to memory, the transcript, or the usage ledger.
func (h *ChatHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.SessionID < 1 || req.Query == "" {
		respondError(w, http.StatusBadRequest, "session_id and query are required", nil)
		return
	}
	if !types.IsValidMode(req.Mode) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode), nil)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = types.ModeDefault
	}
	isVision := req.ImageURL != ""
	if isVision {
		// Image requests are one-shot analyses; post-processing modes do not
		// apply to them.
		mode = types.ModeDefault
	}

	identity := IdentityFrom(r)
	userID := identity.UserID

	var chatSettings *types.UserSettings
	if identity.Anonymous {
		userID = "anon-" + strconv.Itoa(req.SessionID)
		count, err := h.store.IncrementRequestCount(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to check request limit", err)
			return
		}
		if count > h.cfg.Limits.AnonLimit {
			respondError(w, http.StatusTooManyRequests, "anonymous request limit reached, sign in to continue", nil)
			return
		}
		mode = types.ModeDefault
		defaults := types.DefaultUserSettings(userID)
		chatSettings = &defaults
	} else {
		s, err := h.settings.GetSettings(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load settings", err)
			return
		}
		chatSettings = s
	}

	// Consume any staged document: its text is prepended to the query for
	// this one exchange.
	query := req.Query
	if !identity.Anonymous && !isVision {
		if doc, ok := h.staged.Take(userID, req.SessionID); ok {
			query = fmt.Sprintf("%s\n\nThis is the content of %s. Use it as reference for the following request: %s",
				doc.Text, doc.Filename, query)
		}
	}

	var model string
	switch {
	case req.Model != "":
		model = req.Model
	case isVision:
		model = h.cfg.LLM.VisionModel
	case chatSettings.DefaultModel != "":
		model = chatSettings.DefaultModel
	default:
		model = h.cfg.LLM.Model
	}

	// Image requests go to the model as a single message without conversation
	// context; everything else gets the system prompt, the session's memory,
	// and the new query.
	var messages []types.ChatMessage
	if isVision {
		messages = []types.ChatMessage{{Role: types.RoleUser, Content: query, ImageURL: req.ImageURL}}
	} else {
		mgr := memory.NewManager(h.memCfg, h.store, h.summarizer, userID, req.SessionID)
		if err := mgr.Load(r.Context()); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load conversation memory", err)
			return
		}
		messages = append(messages, types.ChatMessage{
			Role:    types.RoleSystem,
			Content: fmt.Sprintf(baseSystemPrompt, chatSettings.DisplayName, chatSettings.SystemPrompt),
		})
		messages = append(messages, mgr.GetContext()...)
		messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: query})
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	isReason := mode == types.ModeReason
	opts := llm.ChatOptions{
		Model:       model,
		Temperature: chatSettings.Temperature,
		TopP:        chatSettings.TopP,
		MaxTokens:   defaultMaxTokens,
	}
	if isReason {
		opts.MaxTokens = reasonMaxTokens
	}

	fullAnswer, usage, err := h.client.Stream(r.Context(), messages, opts, func(delta string) error {
		return writeDataFrame(w, flusher, tokenFrame{Token: delta, Trace: isReason})
	})
	if err != nil {
		if r.Context().Err() != nil {
			log.Printf("[Chat] client disconnected, generation for session %d was interrupted", req.SessionID)
			return
		}
		log.Printf("[Chat] streaming error: %v", err)
		_ = writeDataFrame(w, flusher, map[string]string{"error": "streaming failed", "details": err.Error()})
		writeDone(w, flusher)
		return
	}

	fullAnswer = strings.TrimSpace(fullAnswer)
	if fullAnswer == "" {
		log.Printf("[Chat] empty response for session %d, nothing recorded", req.SessionID)
		writeDone(w, flusher)
		return
	}

	memoryQuery := query
	if isVision {
		memoryQuery = fmt.Sprintf("Analyzed an image with the prompt: %s", query)
	}

	// Post-process by mode. The working memory gets the cleaned response; the
	// permanent transcript keeps the raw one when they differ.
	cleanAnswer := fullAnswer
	fullForHistory := ""
	switch mode {
	case types.ModeReason:
		cleanAnswer = strings.TrimSpace(thinkTagRegex.ReplaceAllString(fullAnswer, ""))
		fullForHistory = fullAnswer
	case types.ModeCode:
		if !json.Valid([]byte(fullAnswer)) {
			cleanAnswer = jsonParseErrorPrefix + fullAnswer
			fullForHistory = fullAnswer
		}
	}

	respTokens := h.estimator.EstimateText(cleanAnswer, model)

	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	stats, err := h.persistExchange(persistCtx, userID, req.SessionID, memoryQuery, cleanAnswer, respTokens, fullForHistory)
	if err != nil {
		log.Printf("[Chat] failed to save session %d: %v", req.SessionID, err)
		_ = writeDataFrame(w, flusher, map[string]string{"error": "failed to save conversation", "details": err.Error()})
		writeDone(w, flusher)
		return
	}
	log.Printf("[Chat] saved full response for session %d", req.SessionID)

	h.recordUsage(persistCtx, userID, model, messages, fullAnswer, usage)

	_ = writeDataFrame(w, flusher, map[string]string{"status": "done"})
	_ = writeEventFrame(w, flusher, "memory_stats", stats)
	writeDone(w, flusher)
}

// persistExchange records one completed exchange under the session's keyed
// lock. State is reloaded inside the lock so concurrent requests on the same
// session cannot overwrite each other's saves.
func (h *ChatHandlers) persistExchange(ctx context.Context, userID string, sessionID int, prompt, response string, responseTokens int, fullResponseForHistory string) (types.MemoryStats, error) {
	release := h.locks.Acquire(memory.SessionKey(userID, sessionID))
	defer release()

	mgr := memory.NewManager(h.memCfg, h.store, h.summarizer, userID, sessionID)
	if err := mgr.Load(ctx); err != nil {
		return types.MemoryStats{}, err
	}
	if err := mgr.AddInteraction(ctx, prompt, response, responseTokens, fullResponseForHistory); err != nil {
		return types.MemoryStats{}, err
	}
	if err := mgr.Save(ctx); err != nil {
		return types.MemoryStats{}, err
	}
	return mgr.Stats(), nil
}

// recordUsage writes the exchange's token consumption to the usage ledger.
// Provider-reported counts are preferred; estimates fill in when the provider
// sent none. Failures are logged, never surfaced to the client.
func (h *ChatHandlers) recordUsage(ctx context.Context, userID, model string, messages []types.ChatMessage, rawResponse string, usage llm.Usage) {
	promptTokens := usage.PromptTokens
	if promptTokens == 0 {
		promptTokens = h.estimator.EstimateMessages(messages, model)
	}
	completionTokens := usage.CompletionTokens
	if completionTokens == 0 {
		completionTokens = h.estimator.EstimateText(rawResponse, model)
	}

	rec := types.UsageRecord{
		UserID:           userID,
		Model:            model,
		Day:              time.Now().UTC().Format("2006-01-02"),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	if err := h.store.RecordUsage(ctx, rec); err != nil {
		log.Printf("[Chat] failed to record usage for %s: %v", userID, err)
	}
}

// writeDataFrame writes one SSE data frame and flushes it.
func writeDataFrame(w io.Writer, flusher http.Flusher, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeEventFrame writes a named SSE event frame and flushes it.
func writeEventFrame(w io.Writer, flusher http.Flusher, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeDone terminates the SSE stream.
func writeDone(w io.Writer, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
