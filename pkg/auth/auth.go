// Package auth guards the dashboard with shared access tokens
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// CookieName carries the token for browsers once it was given as ?token=
const CookieName = "pulse_token"

// Tokens is the set of accepted access tokens
type Tokens struct {
	keys map[string]string // token -> description
	mu   sync.RWMutex
}

// NewTokens creates an empty token set
func NewTokens() *Tokens {
	return &Tokens{keys: make(map[string]string)}
}

// Generate creates and registers a random token
func (t *Tokens) Generate(description string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	t.Add(token, description)
	return token, nil
}

// Add registers an existing token. Empty tokens are ignored.
func (t *Tokens) Add(token, description string) {
	if token == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[token] = description
}

// Revoke removes a token
func (t *Tokens) Revoke(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.keys, token)
}

// Len returns the number of accepted tokens
func (t *Tokens) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// Validate reports whether token is accepted. Every registered token is
// compared so the time taken does not depend on which one matched.
func (t *Tokens) Validate(token string) bool {
	if token == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	ok := false
	for key := range t.keys {
		if SecureCompare(key, token) {
			ok = true
		}
	}
	return ok
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Middleware rejects requests without an accepted token. Paths in public
// are served without one. A valid ?token= query parameter is stored in a
// cookie so the page and its chart images keep working.
func Middleware(tokens *Tokens, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if tokens.Validate(bearerToken(r)) {
				next.ServeHTTP(w, r)
				return
			}
			if c, err := r.Cookie(CookieName); err == nil && tokens.Validate(c.Value) {
				next.ServeHTTP(w, r)
				return
			}
			if q := r.URL.Query().Get("token"); q != "" && tokens.Validate(q) {
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    q,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteStrictMode,
					Secure:   r.TLS != nil,
				})
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="pulse"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid access token"})
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
