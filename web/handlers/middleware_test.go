package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/web/handlers"
)

func TestRequireAuth_SkipInDevelopmentMode(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "development",
			APIToken:     "secret",
		},
		User: config.UserConfig{UserName: "casey"},
	}

	var got handlers.Identity
	handler := handlers.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = handlers.IdentityFrom(r)
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "casey", got.UserID)
	assert.False(t, got.Anonymous)
}

func TestRequireAuth_RejectMissingToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret",
		},
	}

	handler := handlers.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestRequireAuth_AcceptValidToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret-token",
		},
		User: config.UserConfig{UserName: "casey"},
	}

	handler := handlers.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_RejectsWhenTokenUnconfigured(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "",
		},
	}

	handler := handlers.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth_AnonymousWithoutHeader(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret",
		},
		Limits: config.LimitsConfig{AnonEnabled: true},
	}

	var got handlers.Identity
	handler := handlers.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = handlers.IdentityFrom(r)
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest("POST", "/api/chat", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, got.Anonymous)
	assert.Empty(t, got.UserID)
}

func TestOptionalAuth_RejectsAnonymousWhenDisabled(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret",
		},
		Limits: config.LimitsConfig{AnonEnabled: false},
	}

	handler := handlers.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest("POST", "/api/chat", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth_RejectsBadToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret",
		},
		Limits: config.LimitsConfig{AnonEnabled: true},
	}

	handler := handlers.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	// A wrong token is rejected outright, not downgraded to anonymous.
	req := httptest.NewRequest("POST", "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth_AuthenticatesValidToken(t *testing.T) {
	cfg := &config.Config{
		Security: config.SecurityConfig{
			SecurityMode: "production",
			APIToken:     "secret",
		},
		Limits: config.LimitsConfig{AnonEnabled: true},
		User:   config.UserConfig{UserName: "casey"},
	}

	var got handlers.Identity
	handler := handlers.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = handlers.IdentityFrom(r)
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest("POST", "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "casey", got.UserID)
	assert.False(t, got.Anonymous)
}

func TestRateLimitMiddleware_AllowsNormalRate(t *testing.T) {
	limiter := handlers.NewRateLimiter(10, 20) // 10 req/s, burst 20
	handler := handlers.RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/api/sessions", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitMiddleware_RejectsExcessiveRate(t *testing.T) {
	limiter := handlers.NewRateLimiter(1, 2) // 1 req/s, burst 2
	handler := handlers.RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	// First 2 should succeed (burst)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/sessions", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// Third should be rate limited
	req := httptest.NewRequest("GET", "/api/sessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	limiter := handlers.NewRateLimiter(1, 1)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	// A different client has its own budget.
	assert.True(t, limiter.Allow("10.0.0.2"))
}
