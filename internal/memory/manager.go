package memory

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/persona"
	"github.com/parleyhq/parley/internal/tokens"
)

// summaryPrefix marks a condensed block of evicted history.
const summaryPrefix = "[CONVERSATION SUMMARY] "

// Manager owns one session's transcript and keeps it inside the active
// model's token budget. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	sessionID string
	format    persona.Format
	model     string
	messages  []Message
	estimator *tokens.Estimator
	profiles  *Profiles
}

// NewManager returns a manager seeded with the default persona pinned
// at the head of the transcript. A nil estimator gets the heuristic
// one; a nil profiles table gets a fresh one.
func NewManager(sessionID string, format persona.Format, est *tokens.Estimator, profiles *Profiles) *Manager {
	if est == nil {
		est = tokens.NewEstimator()
	}
	if profiles == nil {
		profiles = NewProfiles()
	}
	m := &Manager{
		sessionID: sessionID,
		format:    format,
		estimator: est,
		profiles:  profiles,
	}
	m.applyPersona(false, false)
	return m
}

// SessionID returns the session this manager serves.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Model returns the active model id, empty until SetModel is called.
func (m *Manager) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// SetModel switches the active model. Ids the profile table does not
// know are registered with default window economics.
func (m *Manager) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	m.profiles.Ensure(model)
}

// SetFormat updates the output format applied to assistant messages.
func (m *Manager) SetFormat(format persona.Format) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = format
}

// SetMode swaps the persona pinned at the head of the transcript.
// Reasoning outranks study when both are set. Summaries survive the
// swap.
func (m *Manager) SetMode(study, reasoning bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyPersona(study, reasoning)
}

// applyPersona replaces the pinned persona message and keeps every
// other message, including pinned summaries. Callers hold mu.
func (m *Manager) applyPersona(study, reasoning bool) {
	var content string
	switch {
	case reasoning:
		content = persona.Reasoning()
	case study:
		content = persona.Study()
	default:
		content = persona.Default()
	}
	head := Message{
		Role:       RoleSystem,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		TokenCount: m.estimator.Count(content),
		Pinned:     true,
	}
	rebuilt := make([]Message, 1, len(m.messages)+1)
	rebuilt[0] = head
	for _, msg := range m.messages {
		if msg.Role == RoleSystem && msg.Pinned && !msg.Summary {
			continue
		}
		rebuilt = append(rebuilt, msg)
	}
	m.messages = rebuilt
}

// AddMessage validates, prices, and appends one message, then trims
// the transcript to the active model's budget. Assistant content is
// normalized through the formatting rules first. The stored message is
// returned.
func (m *Manager) AddMessage(role Role, content string, pinned bool) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("memory: invalid role %q", role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == RoleAssistant {
		content = persona.Enforce(content, m.format)
	}
	msg := Message{
		Role:       role,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		TokenCount: m.estimator.Count(content),
		Pinned:     pinned,
	}
	m.messages = append(m.messages, msg)
	m.manageCapacity()
	return msg, nil
}

// Buffer returns the transcript as the model sees it, oldest first.
func (m *Manager) Buffer() []BufferedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BufferedMessage, len(m.messages))
	for i, msg := range m.messages {
		out[i] = BufferedMessage{Role: msg.Role, Content: msg.Content, Summary: msg.Summary}
	}
	return out
}

// Clear empties the transcript. With keepSystemPrompt the pinned
// system messages survive, persona and summaries alike; without it the
// session restarts on a fresh default persona.
func (m *Manager) Clear(keepSystemPrompt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !keepSystemPrompt {
		m.messages = nil
		m.applyPersona(false, false)
		return
	}
	kept := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if msg.Pinned && msg.Role == RoleSystem {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
}

// Stats is a point-in-time snapshot of session health. Utilization is
// measured against the full window, not the effective budget, so a
// healthy session under heavy use reads close to but below 100.
type Stats struct {
	SessionID          string  `json:"session_id"`
	CurrentModel       string  `json:"current_model,omitempty"`
	TotalMessages      int     `json:"total_messages"`
	TotalTokens        int     `json:"total_tokens"`
	DisplayedTokens    int     `json:"displayed_tokens"`
	MaxTokens          int     `json:"max_tokens"`
	UtilizationPercent float64 `json:"utilization_percent"`
	PinnedMessages     int     `json:"pinned_messages"`
	SummaryMessages    int     `json:"summary_messages"`
}

// Stats reports current usage for the session.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	profile := m.profiles.Lookup(m.model)
	var total, displayed, pinned, summaries int
	for _, msg := range m.messages {
		total += msg.TokenCount
		if msg.Role != RoleSystem {
			displayed += msg.TokenCount
		}
		if msg.Pinned {
			pinned++
		}
		if msg.Summary {
			summaries++
		}
	}
	var utilization float64
	if profile.MaxTokens > 0 {
		utilization = math.Round(float64(total)/float64(profile.MaxTokens)*100*100) / 100
	}
	return Stats{
		SessionID:          m.sessionID,
		CurrentModel:       m.model,
		TotalMessages:      len(m.messages),
		TotalTokens:        total,
		DisplayedTokens:    displayed,
		MaxTokens:          profile.MaxTokens,
		UtilizationPercent: utilization,
		PinnedMessages:     pinned,
		SummaryMessages:    summaries,
	}
}

// Export captures the full session state for persistence or debugging.
func (m *Manager) Export() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]SnapshotMessage, len(m.messages))
	for i, msg := range m.messages {
		msgs[i] = SnapshotMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Timestamp:  msg.Timestamp.Format(time.RFC3339Nano),
			TokenCount: msg.TokenCount,
			Pinned:     msg.Pinned,
			Summary:    msg.Summary,
		}
	}
	return Snapshot{
		SessionID:    m.sessionID,
		CurrentModel: m.model,
		Messages:     msgs,
		Stats:        m.statsLocked(),
	}
}

// Import replaces the session state with snap. Timestamps must be
// RFC 3339; the first bad one aborts the import with the transcript
// unchanged.
func (m *Manager) Import(snap Snapshot) error {
	msgs := make([]Message, len(snap.Messages))
	for i, sm := range snap.Messages {
		ts, err := time.Parse(time.RFC3339, sm.Timestamp)
		if err != nil {
			return fmt.Errorf("memory: message %d: parse timestamp %q: %w", i, sm.Timestamp, err)
		}
		msgs[i] = Message{
			Role:       sm.Role,
			Content:    sm.Content,
			Timestamp:  ts,
			TokenCount: sm.TokenCount,
			Pinned:     sm.Pinned,
			Summary:    sm.Summary,
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.SessionID != "" {
		m.sessionID = snap.SessionID
	}
	m.model = snap.CurrentModel
	m.messages = msgs
	return nil
}

// totalTokens sums stored counts. Callers hold mu.
func (m *Manager) totalTokens() int {
	total := 0
	for _, msg := range m.messages {
		total += msg.TokenCount
	}
	return total
}

// manageCapacity trims the transcript once it exceeds the effective
// budget. Past the summary threshold the dropped span is condensed
// into a pinned summary; below it the oldest turns are simply evicted.
// Callers hold mu.
func (m *Manager) manageCapacity() {
	profile := m.profiles.Lookup(m.model)
	budget := profile.EffectiveBudget()
	total := m.totalTokens()
	if total <= budget {
		return
	}
	trigger := int(float64(budget) * profile.SummaryThreshold)
	if total > trigger {
		m.evictWithSummary(budget)
	} else {
		m.evictOldest(budget)
	}
}

// evictOldest drops the oldest unpinned non-system messages until the
// transcript fits budget. Pinned and system messages always stay, even
// over budget. Callers hold mu.
func (m *Manager) evictOldest(budget int) {
	total := m.totalTokens()
	kept := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if total > budget && !msg.Pinned && msg.Role != RoleSystem {
			total -= msg.TokenCount
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
}

// evictWithSummary condenses the oldest evictable span into a single
// pinned summary message and keeps as much recent history as fits.
// With two or fewer evictable messages it falls back to plain
// eviction. Callers hold mu.
func (m *Manager) evictWithSummary(budget int) {
	var keepAlways, evictable []Message
	for _, msg := range m.messages {
		if msg.Pinned || msg.Role == RoleSystem {
			keepAlways = append(keepAlways, msg)
		} else {
			evictable = append(evictable, msg)
		}
	}
	if len(evictable) <= 2 {
		m.evictOldest(budget)
		return
	}

	pinnedTokens := 0
	for _, msg := range keepAlways {
		pinnedTokens += msg.TokenCount
	}
	// Budget left for recent history. Negative when pinned content
	// alone overflows; then the whole evictable span is condensed.
	target := budget - pinnedTokens

	recent := make([]Message, 0, len(evictable))
	var condensed []Message
	used := 0
	for i := len(evictable) - 1; i >= 0; i-- {
		msg := evictable[i]
		if used+msg.TokenCount <= target {
			recent = append(recent, msg)
			used += msg.TokenCount
		} else {
			condensed = append(condensed, msg)
		}
	}
	slices.Reverse(recent)
	slices.Reverse(condensed)
	if len(condensed) == 0 {
		return
	}

	text := Summarize(condensed)
	summary := Message{
		Role:       RoleSystem,
		Content:    summaryPrefix + text,
		Timestamp:  time.Now().UTC(),
		TokenCount: m.estimator.Count(text),
		Pinned:     true,
		Summary:    true,
	}
	rebuilt := make([]Message, 0, len(keepAlways)+1+len(recent))
	rebuilt = append(rebuilt, keepAlways...)
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, recent...)
	m.messages = rebuilt
}
