package handlers

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/deepthinks/deepthinks/internal/config"
)

// Identity is the resolved principal for a request. Anonymous identities have
// no user id of their own; the chat handler derives one from the session so
// the request cap can be tracked durably.
type Identity struct {
	UserID    string
	Anonymous bool
}

type contextKey string

const identityContextKey contextKey = "identity"

// IdentityFrom returns the identity stored by the auth middleware. Requests
// that bypass the middleware resolve to an empty identity.
func IdentityFrom(r *http.Request) Identity {
	id, _ := r.Context().Value(identityContextKey).(Identity)
	return id
}

func withIdentity(r *http.Request, id Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityContextKey, id))
}

// RequireAuth is middleware that enforces API token authentication in
// production mode. In development mode, all requests run as the configured
// user.
func RequireAuth(next http.Handler, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Security.SecurityMode == "development" {
			next.ServeHTTP(w, withIdentity(r, Identity{UserID: cfg.User.UserName}))
			return
		}

		if !bearerTokenValid(r, cfg) {
			respondError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		next.ServeHTTP(w, withIdentity(r, Identity{UserID: cfg.User.UserName}))
	})
}

// OptionalAuth is middleware for endpoints that accept anonymous requests. A
// valid bearer token authenticates as the configured user; a request without
// an Authorization header passes through as anonymous when anonymous access is
// enabled. A wrong token is still rejected.
func OptionalAuth(next http.Handler, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Security.SecurityMode == "development" {
			next.ServeHTTP(w, withIdentity(r, Identity{UserID: cfg.User.UserName}))
			return
		}

		if r.Header.Get("Authorization") == "" {
			if !cfg.Limits.AnonEnabled {
				respondError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, withIdentity(r, Identity{Anonymous: true}))
			return
		}

		if !bearerTokenValid(r, cfg) {
			respondError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		next.ServeHTTP(w, withIdentity(r, Identity{UserID: cfg.User.UserName}))
	})
}

// bearerTokenValid checks the Authorization header against the configured API
// token using constant-time comparison. An unconfigured token rejects
// everything.
func bearerTokenValid(r *http.Request, cfg *config.Config) bool {
	expectedToken := cfg.Security.APIToken
	if expectedToken == "" {
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) == 1
}

// Rate limiter bookkeeping bounds. When the client map outgrows
// maxTrackedClients, entries idle longer than clientStaleAfter are dropped.
const (
	maxTrackedClients = 4096
	clientStaleAfter  = 3 * time.Minute
)

// RateLimiter enforces a per-client request rate. Clients are keyed by remote
// address.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter.
// reqPerSec is the sustained rate per client, burst is the maximum burst size.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(reqPerSec),
		burst:   burst,
	}
}

// Allow reports whether the client may proceed under its rate budget.
func (rl *RateLimiter) Allow(clientAddr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cl, ok := rl.clients[clientAddr]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			rl.sweepLocked(now)
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[clientAddr] = cl
	}
	cl.lastSeen = now
	return cl.limiter.Allow()
}

// sweepLocked drops limiters that have been idle past the staleness bound.
// Callers hold rl.mu.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for addr, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > clientStaleAfter {
			delete(rl.clients, addr)
		}
	}
}

// RateLimitMiddleware enforces rate limiting on HTTP requests.
func RateLimitMiddleware(next http.Handler, rl *RateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientAddr(r)) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr returns the client host without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
