package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const SessionCookieName = "session_id"

// TokenManager issues short-lived random tokens bound to a key. It backs both
// the CSRF tokens of the PIN form and the grants handed out after a correct
// PIN.
type TokenManager struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]token
}

type token struct {
	value     string
	createdAt time.Time
	expires   time.Time
}

func NewTokenManager(ttl time.Duration) *TokenManager {
	return &TokenManager{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]token),
	}
}

func NewCSRFTokenManager() *TokenManager {
	return NewTokenManager(15 * time.Minute)
}

func (c *TokenManager) GenerateToken(key string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	value := base64.URLEncoding.EncodeToString(tokenBytes)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.cleanupExpired(now)
	c.tokens[key] = token{
		value:     value,
		createdAt: now,
		expires:   now.Add(c.ttl),
	}
	return value, nil
}

func (c *TokenManager) ValidateToken(key, provided string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, exists := c.tokens[key]
	if !exists {
		return false
	}
	if c.now().After(stored.expires) {
		delete(c.tokens, key)
		return false
	}
	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(stored.value), []byte(provided)) == 1
}

func (c *TokenManager) InvalidateToken(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, key)
}

// cleanupExpired must be called with c.mu held.
func (c *TokenManager) cleanupExpired(now time.Time) {
	for key, t := range c.tokens {
		if now.After(t.expires) {
			delete(c.tokens, key)
		}
	}
}

// CSRFMiddleware rejects state-changing requests without a valid token for
// the caller's session.
func CSRFMiddleware(tokenManager *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete || r.Method == http.MethodPatch {
				sessionID := GetOrCreateSessionID(w, r)

				token := r.Header.Get("X-CSRF-Token")
				if token == "" {
					token = r.FormValue("csrf_token")
				}

				if !tokenManager.ValidateToken(sessionID, token) {
					http.Error(w, "Invalid CSRF token", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func GetOrCreateSessionID(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		sessionID := uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   86400, // 24 hours
		})
		// Later reads in the same request see the new session.
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
		return sessionID
	}
	return cookie.Value
}
