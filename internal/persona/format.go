package persona

import (
	"regexp"
	"strings"
)

// Format is the output style a session asks the assistant for.
type Format string

const (
	FormatMarkdown  Format = "markdown"
	FormatPlaintext Format = "plaintext"
	FormatJSON      Format = "json"
	FormatYAML      Format = "yaml"
)

// ParseFormat maps a request string to a Format, defaulting to
// markdown for anything unrecognized.
func ParseFormat(s string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPlaintext:
		return FormatPlaintext
	case FormatJSON:
		return FormatJSON
	case FormatYAML:
		return FormatYAML
	default:
		return FormatMarkdown
	}
}

// speakerLabel matches a leading self-narration label some models
// prepend to their replies.
var speakerLabel = regexp.MustCompile(`^(?i)(parley|nvidia nim|system|ai|assistant)\s*:\s*`)

// Enforce normalizes raw model output before it enters the
// conversation: strips a leading speaker label, unwraps a single pair
// of surrounding quotes, and trims whitespace. Reasoning traces in
// <think> blocks pass through untouched. The format is advisory for
// now; the same rules apply to every format.
func Enforce(content string, format Format) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	content = speakerLabel.ReplaceAllString(content, "")

	if len(content) > 1 {
		first, last := content[0], content[len(content)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			content = strings.TrimSpace(content[1 : len(content)-1])
		}
	}

	return content
}
