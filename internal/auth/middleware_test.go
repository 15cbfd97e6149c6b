package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// okHandler is a simple handler that writes 200 OK with body "ok".
func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestMiddleware(t *testing.T) {
	const apiKey = "test-api-key"

	t.Run("valid Bearer token returns 200", func(t *testing.T) {
		handler := Middleware(apiKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/memory", nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if rec.Body.String() != "ok" {
			t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
		}
	})

	t.Run("valid X-API-Key returns 200", func(t *testing.T) {
		handler := Middleware(apiKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/memory", nil)
		req.Header.Set("X-API-Key", apiKey)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("invalid Bearer token returns 401", func(t *testing.T) {
		handler := Middleware(apiKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/memory", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("missing key returns 401", func(t *testing.T) {
		handler := Middleware(apiKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/memory", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("unconfigured key rejects everything", func(t *testing.T) {
		handler := Middleware("", nil)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/memory", nil)
		req.Header.Set("X-API-Key", "anything")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("repeated failures block the client", func(t *testing.T) {
		rl := NewRateLimiter(DefaultRateLimitConfig())
		handler := Middleware(apiKey, rl)(okHandler())

		for i := 0; i < authMaxFailures; i++ {
			req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/memory", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			req.Header.Set("X-API-Key", "wrong")
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/memory", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-API-Key", apiKey)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
	})
}

func TestClientIP(t *testing.T) {
	t.Run("with X-Forwarded-For returns first IP", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18, 150.172.238.178")

		got := ClientIP(req)
		if got != "203.0.113.50" {
			t.Errorf("ClientIP() = %q, want %q", got, "203.0.113.50")
		}
	})

	t.Run("without X-Forwarded-For returns remote host", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		got := ClientIP(req)
		if got != "192.168.1.1" {
			t.Errorf("ClientIP() = %q, want %q", got, "192.168.1.1")
		}
	})
}
