package memory

import (
	"fmt"
	"strings"
)

// Summarize condenses evicted messages into one line of context. It is
// pure text work: no model call, no stored state. System messages in
// the input are ignored; given only those it returns "".
func Summarize(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	var users, assistants []Message
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			users = append(users, m)
		case RoleAssistant:
			assistants = append(assistants, m)
		}
	}

	var parts []string

	switch {
	case len(users) == 1:
		parts = append(parts, "User asked: "+truncate(users[0].Content, 100))
	case len(users) > 1:
		n := min(len(users), 3)
		topics := make([]string, 0, n)
		for _, m := range users[:n] {
			topics = append(topics, truncate(m.Content, 100))
		}
		line := "User discussed: " + strings.Join(topics, "; ")
		if extra := len(users) - 3; extra > 0 {
			line += fmt.Sprintf(" and %d other topics", extra)
		}
		parts = append(parts, line)
	}

	switch {
	case len(assistants) == 1:
		parts = append(parts, "Assistant responded: "+truncate(assistants[0].Content, 150))
	case len(assistants) > 1:
		parts = append(parts, fmt.Sprintf("Assistant provided %d detailed responses", len(assistants)))
	}

	return strings.Join(parts, " | ")
}

// truncate clips s to max runes, appending an ellipsis when anything
// was cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
