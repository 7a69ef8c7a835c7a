package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/deepthinks/deepthinks/pkg/types"
)

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // default model for requests that don't override it
	BaseURL string        // e.g. https://api.together.xyz/v1
	Timeout time.Duration // HTTP client timeout; 0 means no limit (streaming)
}

// OpenAIClient implements ChatClient against any OpenAI-compatible endpoint
// (OpenAI, Together, vLLM, Ollama's compat API).
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         *openai.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	// No overall HTTP timeout by default: streamed completions can run for
	// minutes. Callers bound individual requests through the context.
	httpClient := &http.Client{}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	config.HTTPClient = httpClient

	return &OpenAIClient{
		cfg:            cfg,
		client:         openai.NewClientWithConfig(config),
		circuitBreaker: NewCircuitBreaker(),
	}
}

// Model returns the configured default model name.
func (c *OpenAIClient) Model() string {
	return c.cfg.Model
}

// CircuitState returns the client's circuit breaker state for health
// reporting.
func (c *OpenAIClient) CircuitState() string {
	return c.circuitBreaker.State()
}

// Complete sends a non-streaming chat completion and returns the response
// text.
func (c *OpenAIClient) Complete(ctx context.Context, messages []types.ChatMessage, opts ChatOptions) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, opts, false))
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("model circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

// Stream sends a streaming chat completion, invoking onDelta for every
// content chunk. The circuit breaker guards stream creation; once the stream
// is established, read errors are returned to the caller without tripping it.
func (c *OpenAIClient) Stream(ctx context.Context, messages []types.ChatMessage, opts ChatOptions, onDelta func(delta string) error) (string, Usage, error) {
	created, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(messages, opts, true))
		if err != nil {
			return nil, fmt.Errorf("create stream: %w", err)
		}
		return stream, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", Usage{}, fmt.Errorf("model circuit breaker open: %w", err)
		}
		return "", Usage{}, err
	}

	stream := created.(*openai.ChatCompletionStream)
	defer stream.Close()

	var (
		content strings.Builder
		usage   Usage
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// If we already have partial content, return what we have so the
			// exchange can still be recorded.
			if content.Len() > 0 && !errors.Is(err, context.Canceled) {
				break
			}
			return content.String(), usage, fmt.Errorf("recv stream: %w", err)
		}

		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if onDelta != nil {
				if err := onDelta(choice.Delta.Content); err != nil {
					return content.String(), usage, err
				}
			}
		}

		// Some providers return usage in the final chunk.
		if resp.Usage != nil {
			usage.PromptTokens = resp.Usage.PromptTokens
			usage.CompletionTokens = resp.Usage.CompletionTokens
		}
	}

	return content.String(), usage, nil
}

func (c *OpenAIClient) buildRequest(messages []types.ChatMessage, opts ChatOptions, stream bool) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(messages),
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		Stream:      stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONResponse {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// convertMessages maps our message type onto the SDK's. Messages carrying an
// image become multi-part content (text plus image URL).
func convertMessages(messages []types.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if m.ImageURL != "" {
			msg.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: m.Content},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: m.ImageURL, Detail: openai.ImageURLDetailAuto},
				},
			}
		} else {
			msg.Content = m.Content
		}
		out = append(out, msg)
	}
	return out
}

// Compile-time assertion.
var _ ChatClient = (*OpenAIClient)(nil)
