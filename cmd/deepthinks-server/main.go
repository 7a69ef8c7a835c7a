package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/llm"
	"github.com/deepthinks/deepthinks/internal/server"
	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/internal/storage/postgres"
	"github.com/deepthinks/deepthinks/internal/storage/sqlite"
)

func main() {
	// Load configuration from DEEPTHINKS_* environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize storage
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize LLM client and the summarizer that shares its circuit breaker
	client := llm.NewChatClient(cfg.LLM)
	summarizer, err := llm.NewSummarizer(client, cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize summarizer: %v", err)
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := server.Start(ctx, cfg, store, client, summarizer)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Deepthinks API running at http://%s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// openStore selects the storage engine from configuration.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.New(cfg.Storage.PostgresURL)
	default:
		return sqlite.New(cfg.Storage.SQLitePath)
	}
}
