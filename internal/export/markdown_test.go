package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/deepthinks/deepthinks/pkg/types"
)

func TestWriteTranscript(t *testing.T) {
	history := []types.Interaction{
		{
			Prompt:     "What is Go?",
			Response:   "A programming language from Google.",
			Timestamp:  "2026-08-20T09:00:00Z",
			TokenCount: 12,
		},
		{
			Prompt:     "Who designed it?",
			Response:   "Griesemer, Pike and Thompson.",
			Timestamp:  "2026-08-20T09:01:30Z",
			TokenCount: 18,
		},
	}
	meta := Meta{
		User:       "alice",
		Session:    3,
		ExportedAt: time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTranscript(&buf, meta, history))
	doc := buf.String()

	// Frontmatter must be a valid YAML block delimited by --- lines.
	require.True(t, strings.HasPrefix(doc, "---\n"))
	parts := strings.SplitN(doc, "---\n", 3)
	require.Len(t, parts, 3, "document should have an opening and closing frontmatter fence")

	var fm map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(parts[1]), &fm))
	assert.Equal(t, "alice", fm["user"])
	assert.Equal(t, 3, fm["session"])
	assert.Equal(t, 2, fm["interactions"])
	assert.Equal(t, 30, fm["total_tokens"])

	body := parts[2]
	assert.Contains(t, body, "# Conversation with alice (session 3)")
	assert.Contains(t, body, "## 2026-08-20T09:00:00Z")
	assert.Contains(t, body, "What is Go?")
	assert.Contains(t, body, "A programming language from Google.")
	assert.Contains(t, body, "Who designed it?")

	// Chronological order preserved.
	assert.Less(t, strings.Index(body, "What is Go?"), strings.Index(body, "Who designed it?"))
}

func TestWriteTranscript_EmptyHistoryIsAnError(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTranscript(&buf, Meta{User: "alice", Session: 1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
	assert.Zero(t, buf.Len(), "nothing should be written on error")
}
