// Package auth provides API key validation, HTTP authentication middleware
// and per-client rate limiting for the gateway.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ValidateKey performs timing-safe comparison of the provided key
// against the expected key. Returns true if they match.
func ValidateKey(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// KeyFromRequest returns the key from the X-API-Key header, or from a
// "Bearer" Authorization header. ok is false when neither is present or the
// Authorization header uses another scheme.
func KeyFromRequest(r *http.Request) (key string, ok bool) {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k, true
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}
