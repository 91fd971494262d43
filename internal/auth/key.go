// Package auth provides the access controls for the Parley HTTP API:
// export-key validation for the log export and admin endpoints, and
// per-client rate limiting with lockout on repeated bad keys.
package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
)

// DefaultEnvVar is the environment variable name for the export key.
const DefaultEnvVar = "EXPORT_KEY"

// ValidateKey performs timing-safe comparison of the provided key
// against the expected key. Returns true if they match.
func ValidateKey(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// KeyFromEnv reads the export key from the environment variable.
// Returns empty string if not set.
func KeyFromEnv() string {
	return os.Getenv(DefaultEnvVar)
}

// KeyFromRequest extracts the export key from an incoming request.
// The key travels in the X-API-KEY header, with a ?key= query
// parameter as a fallback for plain browser downloads.
func KeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-KEY"); key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}
