// Package middleware provides HTTP middleware for the flowconsole host.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tcmartin/flowconsole/pkg/session"
)

// Key type for context values
type contextKey string

// Context keys
const (
	ClaimsKey contextKey = "claims"
)

// AuthMiddleware checks session bearer tokens
type AuthMiddleware struct {
	tokens      *session.TokenService
	rateLimiter *RateLimiter
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens *session.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:      tokens,
		rateLimiter: NewRateLimiter(100, time.Minute), // 100 failed attempts per minute
	}
}

// Authenticate is middleware that authenticates requests. The token comes
// from the Authorization header, or the token query parameter for websocket
// upgrades where browsers cannot set headers.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip authentication for OPTIONS requests (CORS preflight)
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unsupported authentication method", http.StatusUnauthorized)
				return
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		clientIP := clientAddr(r)
		if m.rateLimiter.IsLimited(clientIP) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			m.rateLimiter.Record(clientIP)
			http.Error(w, "Authentication failed", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims retrieves the session claims from the request context
func GetClaims(r *http.Request) (*session.Claims, bool) {
	claims, ok := r.Context().Value(ClaimsKey).(*session.Claims)
	return claims, ok
}

func clientAddr(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		addr = addr[:i]
	}
	return addr
}

// RateLimiter counts failed attempts per client in a sliding window
type RateLimiter struct {
	attempts   map[string][]time.Time
	limit      int
	window     time.Duration
	mu         sync.Mutex
	cleanupInt time.Duration
	lastClean  time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:   make(map[string][]time.Time),
		limit:      limit,
		window:     window,
		cleanupInt: time.Minute * 5,
		lastClean:  time.Now(),
	}
}

// IsLimited checks if a client is rate limited
func (r *RateLimiter) IsLimited(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastClean) > r.cleanupInt {
		r.cleanup()
		r.lastClean = time.Now()
	}

	cutoff := time.Now().Add(-r.window)
	count := 0
	for _, t := range r.attempts[clientID] {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= r.limit
}

// Record records a failed attempt
func (r *RateLimiter) Record(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[clientID] = append(r.attempts[clientID], time.Now())
}

func (r *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-r.window)
	for clientID, attempts := range r.attempts {
		var valid []time.Time
		for _, t := range attempts {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) > 0 {
			r.attempts[clientID] = valid
		} else {
			delete(r.attempts, clientID)
		}
	}
}
