package auth

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	PerMinute float64
	Burst     int
}

// DefaultRateLimitConfig returns the default rate limit settings: four
// messages a minute with a burst of six.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerMinute: 4,
		Burst:     6,
	}
}

func (c RateLimitConfig) limit() rate.Limit {
	return rate.Limit(c.PerMinute / 60)
}

// RateLimiter implements per-client token bucket rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	config   RateLimitConfig
	visitors map[string]*visitor
	now      func() time.Time

	authMu       sync.Mutex
	authFailures map[string]*authBucket
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// authBucket tracks failed authentication attempts per IP.
type authBucket struct {
	failures     int
	windowStart  time.Time
	blockedUntil time.Time
}

const (
	authMaxFailures   = 10
	authWindowDur     = 1 * time.Minute
	authBlockDur      = 5 * time.Minute
	authEvictInterval = 10 * time.Minute
)

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:       config,
		visitors:     make(map[string]*visitor),
		now:          time.Now,
		authFailures: make(map[string]*authBucket),
	}
}

// Allow checks if a request from the given key is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.config.limit(), rl.config.Burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// SetLimits applies a new configuration to existing and future clients.
func (rl *RateLimiter) SetLimits(config RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.config = config
	now := rl.now()
	for _, v := range rl.visitors {
		v.limiter.SetLimitAt(now, config.limit())
		v.limiter.SetBurstAt(now, config.Burst)
	}
}

// Limits returns the current configuration.
func (rl *RateLimiter) Limits() RateLimitConfig {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.config
}

// Evict forgets clients not seen for idle. It returns the number removed.
func (rl *RateLimiter) Evict(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	n := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			n++
		}
	}
	return n
}

// RetryAfter returns the whole seconds until one token refills.
func (rl *RateLimiter) RetryAfter() int {
	cfg := rl.Limits()
	if cfg.PerMinute <= 0 {
		return 60
	}
	return int(60/cfg.PerMinute + 0.5)
}

// IsAuthBlocked checks if an IP is blocked due to too many auth failures.
func (rl *RateLimiter) IsAuthBlocked(ip string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	b, ok := rl.authFailures[ip]
	if !ok {
		return false
	}
	if rl.now().Before(b.blockedUntil) {
		return true
	}

	// Block expired, reset
	if !b.blockedUntil.IsZero() {
		delete(rl.authFailures, ip)
	}
	return false
}

// AuthBlockRetryAfter returns the number of seconds until the block expires.
func (rl *RateLimiter) AuthBlockRetryAfter(ip string) int {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	b, ok := rl.authFailures[ip]
	if !ok {
		return 0
	}
	remaining := b.blockedUntil.Sub(rl.now()).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(remaining) + 1
}

// AuthFailure records a failed authentication attempt from an IP.
// Returns true if the IP is now blocked.
func (rl *RateLimiter) AuthFailure(ip string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	now := rl.now()
	b, ok := rl.authFailures[ip]
	if !ok {
		b = &authBucket{windowStart: now}
		rl.authFailures[ip] = b
	}

	if now.Sub(b.windowStart) > authWindowDur {
		b.failures = 0
		b.windowStart = now
	}

	b.failures++
	if b.failures >= authMaxFailures {
		b.blockedUntil = now.Add(authBlockDur)
		return true
	}

	if len(rl.authFailures) > 1000 {
		rl.evictStaleAuthEntries(now)
	}
	return false
}

// AuthSuccess clears auth failure tracking for an IP.
func (rl *RateLimiter) AuthSuccess(ip string) {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()
	delete(rl.authFailures, ip)
}

func (rl *RateLimiter) evictStaleAuthEntries(now time.Time) {
	for ip, b := range rl.authFailures {
		if !b.blockedUntil.IsZero() && now.After(b.blockedUntil) {
			delete(rl.authFailures, ip)
		} else if now.Sub(b.windowStart) > authEvictInterval {
			delete(rl.authFailures, ip)
		}
	}
}

// Middleware returns HTTP middleware that applies rate limiting.
// The key function extracts a rate limit key from the request (e.g., client IP).
// onLimited, when non-nil, is called for each rejected request and returns the
// message for the response body.
func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string, onLimited func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.Allow(key) {
				message := "Rate limit exceeded. Try again later."
				if onLimited != nil {
					if m := onLimited(); m != "" {
						message = m
					}
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", rl.RetryAfter()))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limited",
					"message": message,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For entry, or the host part of the
// remote address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.SplitN(forwarded, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
