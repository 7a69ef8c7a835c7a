package llm

import (
	"github.com/deepthinks/deepthinks/internal/config"
)

// NewChatClient creates the chat client from LLM configuration.
func NewChatClient(cfg config.LLMConfig) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	})
}

// NewSummarizer creates the production summarizer. It reuses the chat client
// (and therefore its circuit breaker) with the configured summary model,
// falling back to the default model when none is set.
func NewSummarizer(client ChatClient, cfg config.LLMConfig) (*ChatSummarizer, error) {
	model := cfg.SummaryModel
	if model == "" {
		model = cfg.Model
	}
	return NewChatSummarizer(client, model, cfg.SummaryTimeout)
}
