// Package export renders permanent conversation transcripts as Markdown
// documents with YAML frontmatter, suitable for archiving or feeding into
// note-taking tools.
package export

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deepthinks/deepthinks/pkg/types"
)

// Meta describes the conversation being exported. It becomes the YAML
// frontmatter of the document.
type Meta struct {
	User       string    `yaml:"user"`
	Session    int       `yaml:"session"`
	ExportedAt time.Time `yaml:"exported_at"`
}

// frontmatter is Meta plus the counts derived from the transcript itself.
type frontmatter struct {
	Meta         `yaml:",inline"`
	Interactions int `yaml:"interactions"`
	TotalTokens  int `yaml:"total_tokens"`
}

// WriteTranscript writes the transcript as a Markdown document: YAML
// frontmatter, a title, then one section per interaction in chronological
// order. An empty transcript is an error rather than an empty file.
func WriteTranscript(w io.Writer, meta Meta, history []types.Interaction) error {
	if len(history) == 0 {
		return fmt.Errorf("transcript for %s session %d is empty", meta.User, meta.Session)
	}

	fm := frontmatter{Meta: meta, Interactions: len(history)}
	for _, interaction := range history {
		fm.TotalTokens += interaction.TokenCount
	}

	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	if _, err := fmt.Fprintf(w, "---\n%s---\n\n", fmBytes); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# Conversation with %s (session %d)\n", meta.User, meta.Session); err != nil {
		return err
	}

	for _, interaction := range history {
		if _, err := fmt.Fprintf(w, "\n## %s\n\n**User:**\n\n%s\n\n**Assistant:**\n\n%s\n",
			interaction.Timestamp, interaction.Prompt, interaction.Response); err != nil {
			return err
		}
	}
	return nil
}
