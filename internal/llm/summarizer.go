package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/deepthinks/deepthinks/pkg/types"
)

// summarizerSystemPrompt instructs the model to merge the previous summary
// with new interactions into a single JSON object.
const summarizerSystemPrompt = `You are an expert conversation summarizer and memory curator. Your sole job is to analyze a chronological log of user-assistant interactions and create a concise JSON summary. The log may contain a previous summary and new raw interactions. You must synthesize all the provided information into a new, single JSON object, consolidating all details. Retain exactly what must be retained for future conversations, not to retell or decorate.

The JSON object must have the following structure:
{
  "interactions": [
    {"timestamp": "ISO8601 string of the original interaction",
     "summary": "A contextual summary of the interaction.",
     "verbatim_context": "A short snippet of key narrative context linked to this interaction, preserving tone and detail remarkably well.",
     "priority_score": "A priority score between 0-10, stating priority of interaction to be recalled in future."},
    ...
  ],
  "important_details": ["A list of key facts, entities, or user preferences mentioned across all interactions, or anything else you prioritize that can be referenced or recalled later."]
}

Rules:
1.  Incorporate the Previous Summary into the new summary. Do not just append.
2.  Do not repeat any detail in interactions that also appears in important_details.
3.  Summarize each new user-assistant turn into a summary.
4.  Consolidate and retain all key facts, user preferences, and anything with higher priority to be recalled in future from both the previous summary and new interactions into the important_details array. Do not repeat details.
5.  Your output MUST be only the JSON object, with no other text or explanations.`

// ChatSummarizer implements Summarizer by prompting a chat model for
// structured JSON and validating the result against summarySchema.
type ChatSummarizer struct {
	client  ChatClient
	model   string
	timeout time.Duration
	schema  *jsonschema.Schema
}

// NewChatSummarizer creates a summarizer that calls the given client with the
// given model. Every call is bounded by timeout.
func NewChatSummarizer(client ChatClient, model string, timeout time.Duration) (*ChatSummarizer, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(summarySchema))
	if err != nil {
		return nil, fmt.Errorf("summarizer: parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("summary.json", doc); err != nil {
		return nil, fmt.Errorf("summarizer: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("summary.json")
	if err != nil {
		return nil, fmt.Errorf("summarizer: compile schema: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatSummarizer{
		client:  client,
		model:   model,
		timeout: timeout,
		schema:  schema,
	}, nil
}

// Summarize merges the previous summary and the batch into a new summary. An
// empty batch returns the previous summary unchanged. Any failure (transport,
// malformed JSON, schema violation) is returned to the caller, which keeps
// its existing state.
func (s *ChatSummarizer) Summarize(ctx context.Context, previous *types.ConversationSummary, batch []types.Interaction) (*types.ConversationSummary, error) {
	if len(batch) == 0 {
		return previous, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := []types.ChatMessage{
		{Role: types.RoleSystem, Content: summarizerSystemPrompt},
		{Role: types.RoleUser, Content: "Here is the conversation log to summarize:\n\n" + formatLog(previous, batch)},
	}

	raw, err := s.client.Complete(ctx, messages, ChatOptions{
		Model:        s.model,
		Temperature:  0.2,
		MaxTokens:    2048,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("summarizer: completion failed: %w", err)
	}

	cleaned := extractJSON(raw)
	if err := s.validate(cleaned); err != nil {
		return nil, fmt.Errorf("summarizer: invalid response: %w", err)
	}

	summary, err := types.ParseSummary([]byte(cleaned))
	if err != nil {
		return nil, fmt.Errorf("summarizer: %w", err)
	}
	return summary, nil
}

func (s *ChatSummarizer) validate(raw string) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return err
	}
	return s.schema.Validate(inst)
}

// formatLog renders the previous summary and the new interactions as the
// chronological log the prompt expects.
func formatLog(previous *types.ConversationSummary, batch []types.Interaction) string {
	var b strings.Builder

	if previous != nil {
		interactions, err := json.Marshal(previous.Interactions)
		if err == nil {
			b.WriteString("Previous Summary:\n")
			b.WriteString("- Interactions: ")
			b.Write(interactions)
			b.WriteString("\n- Important Details: ")
			b.WriteString(strings.Join(previous.ImportantDetails, ", "))
			b.WriteString("\n\n")
		}
	}

	for _, interaction := range batch {
		fmt.Fprintf(&b, "[%s] USER: %s\n", interaction.Timestamp, interaction.Prompt)
		fmt.Fprintf(&b, "[%s] ASSISTANT: %s\n\n", interaction.Timestamp, interaction.Response)
	}
	return b.String()
}

// extractJSON extracts the first valid JSON object from a string that may
// contain extra text. This handles cases where models add explanations or
// markdown fences around the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let validation fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON object found
}

// Compile-time assertion.
var _ Summarizer = (*ChatSummarizer)(nil)
