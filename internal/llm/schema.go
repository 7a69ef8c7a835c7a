package llm

// summarySchema is the JSON Schema the summarizer's output must satisfy.
// Model responses that fail validation are rejected so malformed JSON never
// reaches persisted memory state.
const summarySchema = `{
  "type": "object",
  "properties": {
    "interactions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "timestamp": {"type": "string"},
          "summary": {"type": "string"},
          "verbatim_context": {"type": "string"},
          "priority_score": {"type": "number"}
        },
        "required": ["timestamp", "summary"]
      }
    },
    "important_details": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["interactions", "important_details"]
}`
