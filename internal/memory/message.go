// Package memory maintains per-session conversation transcripts inside
// a model's token budget.
//
// A Manager owns one session: it prices messages with the token
// estimator, pins the persona and summaries, and when the window
// overflows either evicts the oldest turns or condenses them into a
// summary message. A Registry hands out managers by session id and
// caps how many sessions are live at once.
package memory

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the transcript accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one transcript entry. Messages are values: once stored
// they are never mutated, capacity management rebuilds the transcript
// instead.
type Message struct {
	Role       Role
	Content    string
	Timestamp  time.Time
	TokenCount int
	Pinned     bool
	Summary    bool
}

// BufferedMessage is the outward projection of a Message: what the
// model sees, plus the summary marker for logging.
type BufferedMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Summary bool   `json:"summary"`
}

// SnapshotMessage is the portable form of a Message. Timestamps are
// RFC 3339 strings.
type SnapshotMessage struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	TokenCount int    `json:"token_count"`
	Pinned     bool   `json:"is_pinned"`
	Summary    bool   `json:"is_summary"`
}

// Snapshot is a complete serializable view of one session.
type Snapshot struct {
	SessionID    string            `json:"session_id"`
	CurrentModel string            `json:"current_model,omitempty"`
	Messages     []SnapshotMessage `json:"messages"`
	Stats        Stats             `json:"stats"`
}
