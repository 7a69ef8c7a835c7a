// Package server provides HTTP server initialization and lifecycle management
// for the Deepthinks API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/llm"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/services"
	"github.com/deepthinks/deepthinks/internal/storage"
	"github.com/deepthinks/deepthinks/internal/tokens"
	"github.com/deepthinks/deepthinks/internal/uploads"
	"github.com/deepthinks/deepthinks/web/handlers"
)

// circuitReporter is implemented by LLM clients that expose their circuit
// breaker state for the health endpoint.
type circuitReporter interface {
	CircuitState() string
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with port
// 0). The server shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, store storage.Store, client llm.ChatClient, summarizer memory.Summarizer) (string, error) {
	estimator := tokens.NewEstimator()
	staged := uploads.NewCache(cfg.Uploads.StagingTTL, cfg.Uploads.StagingMax)
	locks := memory.NewKeyedLock()
	settingsService := services.NewSettingsService(store)

	chatHandlers := handlers.NewChatHandlers(store, cfg, client, summarizer, estimator, staged, locks, settingsService)
	sessionHandlers := handlers.NewSessionHandlers(store)
	shareHandlers := handlers.NewShareHandlers(store)
	settingsHandlers := handlers.NewSettingsHandlers(settingsService)
	usageHandlers := handlers.NewUsageHandlers(store)
	uploadHandlers := handlers.NewUploadHandlers(staged)
	memoryHandlers := handlers.NewMemoryHandlers(store, cfg, summarizer)
	statsFeed := handlers.NewStatsFeed(store, cfg, summarizer)

	rateLimiter := handlers.NewRateLimiter(cfg.Limits.RatePerSecond, cfg.Limits.RateBurst)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			sessionHandlers.CreateSession(w, r)
		case http.MethodGet:
			sessionHandlers.ListSessions(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/sessions/{session}/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			sessionHandlers.GetHistory(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			sessionHandlers.DeleteUser(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			settingsHandlers.GetSettings(w, r)
		case http.MethodPut:
			settingsHandlers.UpdateSettings(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/usage", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			usageHandlers.GetUsage(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/uploads", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			uploadHandlers.StageUpload(w, r)
		case http.MethodDelete:
			uploadHandlers.ClearUpload(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/uploads/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			uploadHandlers.UploadStatus(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/memory-stats/{session}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			memoryHandlers.GetMemoryStats(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/shares", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			shareHandlers.CreateShare(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.Handle("/api/ws/memory", statsFeed)

	mux := http.NewServeMux()

	// Health endpoint — no auth required, used by monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload := map[string]string{
			"status": "healthy",
			"engine": cfg.Storage.StorageEngine,
		}
		if reporter, ok := client.(circuitReporter); ok {
			payload["llm_circuit"] = reporter.CircuitState()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(payload)
	})

	// Chat accepts anonymous requests when enabled; every other API route
	// requires auth.
	mux.Handle("/api/chat", handlers.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			chatHandlers.Chat(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}), cfg))

	// Share links are opened by people without accounts, so GET stays public.
	// Revocation still requires auth.
	mux.HandleFunc("/api/shares/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			shareHandlers.ViewShare(w, r)
		case http.MethodDelete:
			handlers.RequireAuth(http.HandlerFunc(shareHandlers.RevokeShare), cfg).ServeHTTP(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// Create server with security timeouts. WriteTimeout stays unset because
	// SSE and WebSocket responses are open-ended.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Deepthinks API listening on %s", actualAddr)
	return actualAddr, nil
}
