// Package chatlog appends structured chat transcripts to a JSONL file
// and renders them as a plain-text report for export.
package chatlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrNoLogs means no log file exists yet.
var ErrNoLogs = errors.New("chatlog: no logs found")

// DefaultPath is the log file used when the config names none.
const DefaultPath = "chat_logs.jsonl"

const (
	contextPreviewLen  = 100
	responsePreviewLen = 200
)

// Message is one conversation turn as seen by the logger.
type Message struct {
	Role      string
	Content   string
	IsSummary bool
}

// ContextMessage is the previewed form of a turn inside an entry.
type ContextMessage struct {
	Role           string `json:"role"`
	ContentPreview string `json:"content_preview"`
	ContentLength  int    `json:"content_length"`
	IsSummary      bool   `json:"is_summary"`
}

// ResponseInfo summarizes the outcome of the model call.
type ResponseInfo struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status"`
}

// Entry is one logged exchange.
type Entry struct {
	Timestamp           string           `json:"timestamp"`
	SessionID           string           `json:"session_id"`
	Model               string           `json:"model"`
	UserPrompt          string           `json:"user_prompt"`
	ConversationContext []ContextMessage `json:"conversation_context"`
	AIResponse          *ResponseInfo    `json:"ai_response,omitempty"`
	AIResponseText      string           `json:"ai_response_text,omitempty"`
}

// Logger appends entries to a JSONL file. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	path string
}

// New creates a logger writing to path. An empty path falls back to
// DefaultPath.
func New(path string) *Logger {
	if path == "" {
		path = DefaultPath
	}
	return &Logger{path: path}
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

// Record logs a completed exchange. The context is the transcript that
// was sent to the model, previewed so entries stay readable. Pass a
// non-empty errMsg instead of a response for failed calls.
func (l *Logger) Record(sessionID, model, userPrompt string, context []Message, response, errMsg string) error {
	e := Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:  sessionID,
		Model:      model,
		UserPrompt: userPrompt,
	}
	for _, m := range context {
		e.ConversationContext = append(e.ConversationContext, ContextMessage{
			Role:           m.Role,
			ContentPreview: preview(m.Content, contextPreviewLen),
			ContentLength:  utf8.RuneCountInString(m.Content),
			IsSummary:      m.IsSummary,
		})
	}

	if errMsg != "" {
		e.AIResponse = &ResponseInfo{Error: errMsg, Status: "error"}
		e.AIResponseText = "Error: " + errMsg
	} else {
		e.AIResponse = &ResponseInfo{Content: preview(response, responsePreviewLen), Status: "success"}
		e.AIResponseText = response
	}

	return l.Append(e)
}

// Append writes one entry as a JSON line.
func (l *Logger) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	_, werr := f.Write(append(data, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write log entry: %w", werr)
	}
	return cerr
}

// Report renders every logged exchange as a plain-text transcript with
// Session/User/AI lines. Returns ErrNoLogs when no log file exists.
func (l *Logger) Report() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoLogs
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return "", fmt.Errorf("parse log line: %w", err)
		}

		sessionID := e.SessionID
		if sessionID == "" {
			sessionID = "unknown"
		}
		lines = append(lines, "Session: "+sessionID)
		if e.UserPrompt != "" {
			lines = append(lines, "User: "+e.UserPrompt)
		}
		if e.AIResponseText != "" {
			lines = append(lines, "AI: "+e.AIResponseText)
		}
		lines = append(lines, "")
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read log file: %w", err)
	}

	return strings.Join(lines, "\n"), nil
}

// Raw returns the log file contents as stored, one JSON entry per
// line. Returns ErrNoLogs when no log file exists.
func (l *Logger) Raw() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoLogs
		}
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return data, nil
}

// Clear truncates the log file, creating it if missing.
func (l *Logger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("truncate log file: %w", err)
	}
	return f.Close()
}

// preview truncates to max runes, marking the cut with an ellipsis.
func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
