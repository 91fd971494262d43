package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// RequireKey returns an HTTP middleware that guards an endpoint with the
// export key. The key is extracted via KeyFromRequest and compared in
// constant time. If rateLimiter is non-nil, failed attempts are tracked
// and IPs are blocked after exceeding the threshold (10 failures/min,
// 5-min block).
func RequireKey(expected string, rateLimiter ...*RateLimiter) func(http.Handler) http.Handler {
	var rl *RateLimiter
	if len(rateLimiter) > 0 {
		rl = rateLimiter[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check lockout before validation
			clientIP := ClientIPKeyFunc(r)
			if rl != nil && rl.IsAuthBlocked(clientIP) {
				w.Header().Set("Retry-After", strconv.Itoa(rl.AuthBlockRetryAfter(clientIP)))
				writeAuthError(w, http.StatusTooManyRequests, "Too many failed authentication attempts. Try again later.")
				return
			}

			// No export key configured means the endpoint is disabled,
			// not that a better credential would help.
			if expected == "" {
				writeAuthError(w, http.StatusForbidden, "Export key not configured")
				return
			}

			if !ValidateKey(KeyFromRequest(r), expected) {
				if rl != nil && rl.AuthFailure(clientIP) {
					w.Header().Set("Retry-After", strconv.Itoa(rl.AuthBlockRetryAfter(clientIP)))
					writeAuthError(w, http.StatusTooManyRequests, "Too many failed authentication attempts. Try again later.")
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "Invalid or missing export key")
				return
			}

			// Success, clear failure tracking
			if rl != nil {
				rl.AuthSuccess(clientIP)
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
