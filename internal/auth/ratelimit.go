package auth

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultRateLimitConfig returns the default rate limit settings:
// 10 requests per rolling 60-second window.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 10,
		Window:      time.Minute,
	}
}

// ParseRateLimit parses a "max:window_seconds" rate limit spec (e.g.
// "10:60" means 10 requests per 60 seconds). Empty or malformed parts
// keep their defaults.
func ParseRateLimit(spec string) RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	if spec == "" {
		return cfg
	}

	parts := strings.SplitN(spec, ":", 2)
	if max, err := strconv.Atoi(parts[0]); err == nil && max > 0 {
		cfg.MaxRequests = max
	}
	if len(parts) > 1 {
		if secs, err := strconv.Atoi(parts[1]); err == nil && secs > 0 {
			cfg.Window = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

// RateLimitConfigFromEnv reads rate limit config from the PARLEY_RATE_LIMIT env var.
func RateLimitConfigFromEnv() RateLimitConfig {
	return ParseRateLimit(os.Getenv("PARLEY_RATE_LIMIT"))
}

// RateLimiter implements per-client sliding window rate limiting.
// Each client key keeps the timestamps of its recent requests; a
// request is allowed while fewer than MaxRequests fall inside the
// window.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	windows map[string][]time.Time

	authMu       sync.Mutex
	authFailures map[string]*authBucket
}

// authBucket tracks failed export-key attempts per IP.
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
		windows:      make(map[string][]time.Time),
		authFailures: make(map[string]*authBucket),
	}
}

// Allow checks if a request from the given key is allowed and, when it
// is, counts it against the window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window := rl.prune(key, now)

	if len(window) >= rl.config.MaxRequests {
		rl.windows[key] = window
		return false
	}

	rl.windows[key] = append(window, now)

	if len(rl.windows) > 10000 {
		rl.evictStaleWindows(now)
	}
	return true
}

// RetryAfter returns the number of seconds until the oldest request in
// the client's window expires and a slot frees up. Returns 0 when the
// client is not at the limit.
func (rl *RateLimiter) RetryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window := rl.prune(key, now)
	rl.windows[key] = window

	if len(window) < rl.config.MaxRequests {
		return 0
	}
	remaining := window[0].Add(rl.config.Window).Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(remaining) + 1
}

// prune drops timestamps that have left the window. Caller holds mu.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	window := rl.windows[key]
	cutoff := now.Add(-rl.config.Window)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}

func (rl *RateLimiter) evictStaleWindows(now time.Time) {
	cutoff := now.Add(-rl.config.Window)
	for key, window := range rl.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(rl.windows, key)
		}
	}
}

// IsAuthBlocked checks if an IP is blocked due to too many failed
// export-key attempts.
func (rl *RateLimiter) IsAuthBlocked(ip string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	b, ok := rl.authFailures[ip]
	if !ok {
		return false
	}

	now := time.Now()
	if now.Before(b.blockedUntil) {
		return true
	}

	// Block expired, reset
	if !b.blockedUntil.IsZero() {
		delete(rl.authFailures, ip)
		return false
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
	remaining := time.Until(b.blockedUntil).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(remaining) + 1
}

// AuthFailure records a failed export-key attempt from an IP.
// Returns true if the IP is now blocked.
func (rl *RateLimiter) AuthFailure(ip string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	now := time.Now()
	b, ok := rl.authFailures[ip]
	if !ok {
		b = &authBucket{
			failures:    0,
			windowStart: now,
		}
		rl.authFailures[ip] = b
	}

	// Reset window if expired
	if now.Sub(b.windowStart) > authWindowDur {
		b.failures = 0
		b.windowStart = now
	}

	b.failures++

	if b.failures >= authMaxFailures {
		b.blockedUntil = now.Add(authBlockDur)
		return true
	}

	// Evict stale entries periodically
	if len(rl.authFailures) > 1000 {
		rl.evictStaleAuthEntries(now)
	}

	return false
}

// AuthSuccess clears failure tracking for an IP.
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
// The key function extracts a client key from the request (usually the
// client IP). onLimited, when given, runs once per rejected request so
// the caller can count rejections.
func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string, onLimited ...func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.Allow(key) {
				for _, fn := range onLimited {
					fn()
				}
				retry := rl.RetryAfter(key)
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":"Rate limit exceeded. Please try again later."}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKeyFunc extracts the client IP from the request for rate limiting.
func ClientIPKeyFunc(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.SplitN(forwarded, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
