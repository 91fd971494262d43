// Package parley provides a Go client for the Parley chat backend HTTP API.
//
// Usage:
//
//	client := parley.NewClient("http://localhost:8000")
//	resp, err := client.Chat(ctx, parley.ChatRequest{Message: "Hello!"})
//	fmt.Println(resp.Response)
package parley

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Stats describes a session's memory state.
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

// SnapshotMessage is one message in an exported session.
type SnapshotMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	TokenCount int    `json:"token_count"`
	Pinned     bool   `json:"is_pinned"`
	Summary    bool   `json:"is_summary"`
}

// Snapshot is a complete exported session, suitable for import.
type Snapshot struct {
	SessionID    string            `json:"session_id"`
	CurrentModel string            `json:"current_model,omitempty"`
	Messages     []SnapshotMessage `json:"messages"`
	Stats        Stats             `json:"stats"`
}

// ChatRequest holds one chat turn. An empty SessionID starts a new
// session; the response carries the id to reuse on later turns.
type ChatRequest struct {
	Message       string `json:"message"`
	SessionID     string `json:"session_id,omitempty"`
	Model         string `json:"model,omitempty"`
	StudyMode     bool   `json:"study_mode,omitempty"`
	ReasoningMode bool   `json:"reasoning_mode,omitempty"`
	OutputFormat  string `json:"output_format,omitempty"`
}

// ChatResponse is the completed chat turn.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Stats     Stats  `json:"conversation_stats"`
}

// ModelsResponse lists the selectable models and the server default.
type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

// HealthResponse is the health check result.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// StreamEvent is one event from a streaming chat.
// Event is "text", "error", or "done".
type StreamEvent struct {
	Event string
	Text  string
	Error string
	Done  *ChatResponse
}

// StreamCallback receives each streaming event. Returning an error
// stops the stream.
type StreamCallback func(event StreamEvent) error

// APIError is an error response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("parley: API error %d: %s", e.StatusCode, e.Message)
}

// Option configures the Client.
type Option func(*Client)

// WithExportKey sets the key sent on the protected export and admin
// endpoints.
func WithExportKey(key string) Option {
	return func(c *Client) { c.exportKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client is the Parley backend API client.
type Client struct {
	baseURL    string
	exportKey  string
	httpClient *http.Client
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.exportKey != "" {
		req.Header.Set("X-API-KEY", c.exportKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, apiErr
	}

	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// Health checks the backend health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Models returns the selectable model ids and the server default.
func (c *Client) Models(ctx context.Context) (*ModelsResponse, error) {
	var result ModelsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Chat sends one chat turn and waits for the complete response.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var result ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChatStream sends one chat turn and calls the callback for each SSE
// event until the stream ends.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/chat/stream", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	eventType := ""

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = line[7:]
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := line[6:]

		event := StreamEvent{Event: eventType}
		switch eventType {
		case "text":
			var payload struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("parse text event: %w", err)
			}
			event.Text = payload.Text
		case "error":
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("parse error event: %w", err)
			}
			event.Error = payload.Error
		case "done":
			var payload ChatResponse
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("parse done event: %w", err)
			}
			event.Done = &payload
		}

		if err := callback(event); err != nil {
			return err
		}
		if eventType == "done" || eventType == "error" {
			return nil
		}
		eventType = ""
	}

	return scanner.Err()
}

// Classify reports whether the backend would ground the message with a
// web search.
func (c *Client) Classify(ctx context.Context, message string) (bool, error) {
	var result struct {
		WebRequired bool `json:"web_required"`
	}
	body := map[string]string{"message": message}
	if err := c.doJSON(ctx, http.MethodPost, "/api/classify", body, &result); err != nil {
		return false, err
	}
	return result.WebRequired, nil
}

// SessionStats returns the memory state of a session.
func (c *Client) SessionStats(ctx context.Context, sessionID string) (*Stats, error) {
	var result Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearSession drops a session's history, keeping its system prompt.
func (c *Client) ClearSession(ctx context.Context, sessionID string) (*Stats, error) {
	var result struct {
		Stats Stats `json:"stats"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/clear", nil, &result); err != nil {
		return nil, err
	}
	return &result.Stats, nil
}

// ExportSession downloads a session snapshot.
func (c *Client) ExportSession(ctx context.Context, sessionID string) (*Snapshot, error) {
	var result Snapshot
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/export", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ImportSession restores a session from a snapshot, creating it when
// missing.
func (c *Client) ImportSession(ctx context.Context, sessionID string, snap *Snapshot) (*Stats, error) {
	var result struct {
		Stats Stats `json:"stats"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/import", snap, &result); err != nil {
		return nil, err
	}
	return &result.Stats, nil
}

// ExportLogs downloads the chat transcript. With jsonl set the raw
// JSONL store is returned, otherwise a formatted text report.
// Requires the export key.
func (c *Client) ExportLogs(ctx context.Context, jsonl bool) ([]byte, error) {
	path := "/api/export/logs"
	if jsonl {
		path += "?format=jsonl"
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Cleanup forces a session eviction sweep. Requires the export key.
func (c *Client) Cleanup(ctx context.Context) (evicted, remaining int, err error) {
	var result struct {
		Evicted  int `json:"evicted"`
		Sessions int `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/admin/cleanup", nil, &result); err != nil {
		return 0, 0, err
	}
	return result.Evicted, result.Sessions, nil
}
