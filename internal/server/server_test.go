package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/llm"
	"github.com/deepthinks/deepthinks/internal/server"
	"github.com/deepthinks/deepthinks/internal/storage/sqlite"
	"github.com/deepthinks/deepthinks/pkg/types"
)

// stubClient satisfies llm.ChatClient without talking to a provider.
type stubClient struct{}

func (stubClient) Complete(ctx context.Context, messages []types.ChatMessage, opts llm.ChatOptions) (string, error) {
	return "stub response", nil
}

func (stubClient) Stream(ctx context.Context, messages []types.ChatMessage, opts llm.ChatOptions, onDelta func(delta string) error) (string, llm.Usage, error) {
	if err := onDelta("stub response"); err != nil {
		return "", llm.Usage{}, err
	}
	return "stub response", llm.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func (stubClient) Model() string { return "stub-model" }

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, previous *types.ConversationSummary, batch []types.Interaction) (*types.ConversationSummary, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0, // Request random port
		},
		Storage: config.StorageConfig{StorageEngine: "sqlite"},
		LLM: config.LLMConfig{
			Model:       "stub-model",
			VisionModel: "stub-vision-model",
		},
		Memory: config.MemoryConfig{
			MaxContextTokens:             3000,
			MinInteractionsBeforeSummary: 2,
			MaxInteractionsLimit:         50,
			SmoothingFactor:              0.8,
			SafetyMargin:                 0.9,
		},
		Security: config.SecurityConfig{SecurityMode: "development"},
		Limits: config.LimitsConfig{
			RatePerSecond: 100,
			RateBurst:     200,
			AnonEnabled:   true,
			AnonLimit:     2,
		},
		Uploads: config.UploadsConfig{
			StagingTTL: time.Minute,
			StagingMax: 16,
		},
		User: config.UserConfig{UserName: "tester"},
	}
}

// startTestServer starts a server on a random port backed by an in-memory
// SQLite store. It returns the base URL and registers cleanup with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err, "failed to create in-memory SQLite store")

	ctx, cancel := context.WithCancel(context.Background())

	addr, err := server.Start(ctx, cfg, store, stubClient{}, stubSummarizer{})
	if err != nil {
		cancel()
		_ = store.Close()
		t.Fatalf("server did not start: %v", err)
	}

	// Give server a moment to be fully ready for connections
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		time.Sleep(100 * time.Millisecond) // Give server time to shut down
		_ = store.Close()
	})

	return "http://" + addr
}

func TestServer_StartsOnRandomPort(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	require.True(t, strings.HasPrefix(baseURL, "http://"))
	addr := strings.TrimPrefix(baseURL, "http://")

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err, "address should be valid host:port format")
	assert.NotEmpty(t, host)
	assert.NotEqual(t, "0", port, "port should not be 0 in actual address")
}

func TestServer_HealthEndpoint(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "sqlite", health["engine"])
}

func TestServer_SecurityHeaders(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", resp.Header.Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", resp.Header.Get("Referrer-Policy"))
}

func TestServer_RequiresAuthInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = "secret"
	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/api/sessions")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/sessions", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestServer_ChatFlow drives a whole conversation through the public surface:
// session creation, a streamed chat exchange, history, stats, and usage.
func TestServer_ChatFlow(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp, err := http.Post(baseURL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		SessionNumber int `json:"session_number"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, 1, created.SessionNumber)

	resp, err = http.Post(baseURL+"/api/chat", "application/json",
		strings.NewReader(`{"session_id": 1, "query": "hello there"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	body := string(raw)
	assert.Contains(t, body, "stub response")
	assert.Contains(t, body, "memory_stats")
	assert.Contains(t, body, "[DONE]")

	resp, err = http.Get(baseURL + "/api/sessions/1/history")
	require.NoError(t, err)
	var history []types.Interaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	_ = resp.Body.Close()
	require.Len(t, history, 1)
	assert.Equal(t, "hello there", history[0].Prompt)
	assert.Equal(t, "stub response", history[0].Response)

	resp, err = http.Get(baseURL + "/api/memory-stats/1")
	require.NoError(t, err)
	var stats types.MemoryStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	_ = resp.Body.Close()
	assert.Equal(t, 1, stats.InteractionCount)
	assert.Equal(t, "tester", stats.UserID)

	resp, err = http.Get(baseURL + "/api/usage")
	require.NoError(t, err)
	var usage types.UsageSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&usage))
	_ = resp.Body.Close()
	assert.Equal(t, 10, usage.TotalPromptTokens)
	assert.Equal(t, 5, usage.TotalCompletionTokens)
}

// TestServer_ShareLinksArePublic verifies the one route that must work
// without credentials even in production mode.
func TestServer_ShareLinksArePublic(t *testing.T) {
	cfg := testConfig()
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = "secret"
	baseURL := startTestServer(t, cfg)

	authed := func(method, url, body string) *http.Response {
		req, err := http.NewRequest(method, url, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := authed(http.MethodPost, baseURL+"/api/chat", `{"session_id": 1, "query": "for sharing"}`)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = authed(http.MethodPost, baseURL+"/api/shares", `{"session_id": 1}`)
	var share struct {
		ShareID string `json:"share_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&share))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, share.ShareID)

	// View without any credentials.
	viewURL := baseURL + "/api/shares/" + share.ShareID
	plain, err := http.Get(viewURL)
	require.NoError(t, err)
	_ = plain.Body.Close()
	assert.Equal(t, http.StatusOK, plain.StatusCode)

	// Revocation is owner-only.
	req, err := http.NewRequest(http.MethodDelete, viewURL, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = authed(http.MethodDelete, viewURL, "")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	plain, err = http.Get(viewURL)
	require.NoError(t, err)
	_ = plain.Body.Close()
	assert.Equal(t, http.StatusForbidden, plain.StatusCode)
}

func TestServer_ShutsDownOnContextCancel(t *testing.T) {
	cfg := testConfig()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	addr, err := server.Start(ctx, cfg, store, stubClient{}, stubSummarizer{})
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	time.Sleep(200 * time.Millisecond)

	_, err = http.Get("http://" + addr + "/health")
	assert.Error(t, err, "server should refuse connections after shutdown")
}
