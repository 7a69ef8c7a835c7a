// Command deepthinks-export writes a conversation's permanent transcript to a
// Markdown file with YAML frontmatter.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/deepthinks/deepthinks/internal/export"
	"github.com/deepthinks/deepthinks/internal/storage/sqlite"
)

var (
	dbPath  = flag.String("db", "./deepthinks.db", "Path to the SQLite database file")
	userID  = flag.String("user", "", "User ID whose conversation to export")
	session = flag.Int("session", 0, "Session number to export")
	outPath = flag.String("out", "", "Output file path (default: stdout)")
)

func main() {
	flag.Parse()

	if *userID == "" || *session < 1 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	history, err := store.Transcript(ctx, *userID, *session)
	if err != nil {
		log.Fatalf("Failed to load transcript: %v", err)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	meta := export.Meta{
		User:       *userID,
		Session:    *session,
		ExportedAt: time.Now().UTC(),
	}
	if err := export.WriteTranscript(out, meta, history); err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	if *outPath != "" {
		log.Printf("Exported %d interactions to %s", len(history), *outPath)
	}
}
