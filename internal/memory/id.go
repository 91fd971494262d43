package memory

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
)

// sessionIDPattern matches client-supplied session identifiers:
// letters, digits, underscore, and hyphen only.
var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NewSessionID creates a cryptographically random session id with at
// least 128 bits of entropy. The id is prefixed with "sess_" and uses
// URL-safe base64 encoding (no padding) for the random component.
func NewSessionID() string {
	b := make([]byte, 16) // 128 bits
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return "sess_" + base64.RawURLEncoding.EncodeToString(b)
}

// ValidateSessionID reports whether id is acceptable as a session key:
// 5 to 100 characters from the session id alphabet.
func ValidateSessionID(id string) bool {
	if len(id) < 5 || len(id) > 100 {
		return false
	}
	return sessionIDPattern.MatchString(id)
}
