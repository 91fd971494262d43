package runtime

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageChars caps user message length, counted in runes.
const MaxMessageChars = 10000

// Validation failures carry the exact client-facing message.
var (
	ErrMessageInvalid   = errors.New("Invalid message format")
	ErrMessageTooLong   = errors.New("Message too long (max 10,000 characters)")
	ErrMessageEmpty     = errors.New("Message cannot be empty")
	ErrMessageDangerous = errors.New("Message contains potentially dangerous content")
)

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	scriptBlocks  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	scriptProto   = regexp.MustCompile(`(?i)javascript:`)
	vbscriptProto = regexp.MustCompile(`(?i)vbscript:`)
	eventHandlers = regexp.MustCompile(`(?i)on\w+\s*=`)
)

// suspiciousPatterns flag content that should be rejected outright
// rather than cleaned. Checked against the raw message before
// sanitization.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)<iframe[^>]*>`),
	regexp.MustCompile(`(?i)<object[^>]*>`),
	regexp.MustCompile(`(?i)<embed[^>]*>`),
	regexp.MustCompile(`(?i)<link[^>]*>`),
	regexp.MustCompile(`(?i)<meta[^>]*>`),
	regexp.MustCompile(`(?i)<style[^>]*>`),
}

// ValidateMessage checks a raw user message before any cleanup. The
// returned error text is safe to send to the client.
func ValidateMessage(message string) error {
	if message == "" {
		return ErrMessageInvalid
	}
	if utf8.RuneCountInString(message) > MaxMessageChars {
		return ErrMessageTooLong
	}
	if strings.TrimSpace(message) == "" {
		return ErrMessageEmpty
	}
	for _, p := range suspiciousPatterns {
		if p.MatchString(message) {
			return ErrMessageDangerous
		}
	}
	return nil
}

// Sanitize neutralizes a user message for downstream use: control
// characters are dropped, HTML is escaped, and script fragments that
// survive escaping are stripped.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	text = controlChars.ReplaceAllString(text, "")
	text = html.EscapeString(text)
	text = scriptBlocks.ReplaceAllString(text, "")
	text = scriptProto.ReplaceAllString(text, "")
	text = vbscriptProto.ReplaceAllString(text, "")
	text = eventHandlers.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
