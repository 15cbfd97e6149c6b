package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Middleware returns an HTTP middleware that validates API key authentication.
// An empty apiKey rejects every request, which keeps the protected routes
// closed until a key is configured. If limiter is non-nil, failed attempts
// are tracked and IPs are blocked after exceeding the threshold
// (10 failures/min, 5-min block).
func Middleware(apiKey string, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ClientIP(r)
			if limiter != nil && limiter.IsAuthBlocked(clientIP) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.AuthBlockRetryAfter(clientIP)))
				writeAuthError(w, http.StatusTooManyRequests, "Too many failed authentication attempts. Try again later.")
				return
			}

			if apiKey == "" {
				writeAuthError(w, http.StatusUnauthorized, "API key not configured")
				return
			}

			key, ok := KeyFromRequest(r)
			if !ok {
				if limiter != nil {
					limiter.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "missing API key, expected 'X-API-Key' or 'Authorization: Bearer <key>'")
				return
			}
			if !ValidateKey(key, apiKey) {
				if limiter != nil {
					limiter.AuthFailure(clientIP)
				}
				writeAuthError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			if limiter != nil {
				limiter.AuthSuccess(clientIP)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
