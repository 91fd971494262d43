package integration_tests

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/llm"
)

type sseEvent struct {
	name string
	data []byte
}

// readSSE consumes a complete event stream into named events.
func readSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = []byte(strings.TrimPrefix(line, "data: "))
		case line == "":
			if current.name != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return events
}

func TestChatStream(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{
		Content: "streamed reply",
		Usage:   llm.TokenUsage{InputTokens: 5, OutputTokens: 3},
	})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	resp := postJSON(t, ts.URL+"/api/chat/stream", map[string]any{"message": "Stream please"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	events := readSSE(t, resp.Body)

	var text strings.Builder
	var done map[string]any
	for _, ev := range events {
		switch ev.name {
		case "text":
			var p struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(ev.data, &p); err != nil {
				t.Fatalf("bad text payload %q: %v", ev.data, err)
			}
			text.WriteString(p.Text)
		case "done":
			if err := json.Unmarshal(ev.data, &done); err != nil {
				t.Fatalf("bad done payload %q: %v", ev.data, err)
			}
		case "error":
			t.Fatalf("unexpected error event: %s", ev.data)
		}
	}

	if text.String() != "streamed reply" {
		t.Errorf("streamed text = %q", text.String())
	}
	if done == nil {
		t.Fatal("stream ended without a done event")
	}
	if done["response"] != "streamed reply" {
		t.Errorf("done response = %v", done["response"])
	}
	if _, ok := done["session_id"].(string); !ok {
		t.Errorf("done missing session_id: %v", done)
	}
	stats, ok := done["conversation_stats"].(map[string]any)
	if !ok {
		t.Fatalf("done missing conversation_stats: %v", done)
	}
	if stats["total_messages"] != float64(3) {
		t.Errorf("total_messages = %v, want 3", stats["total_messages"])
	}
}

func TestChatStreamContinuesSession(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "part one"}, llm.MockResponse{Content: "part two"})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	out := sendChat(t, ts, map[string]any{"message": "Start here"})
	sid := out["session_id"].(string)

	resp := postJSON(t, ts.URL+"/api/chat/stream", map[string]any{"message": "And continue", "session_id": sid})
	defer func() { _ = resp.Body.Close() }()
	events := readSSE(t, resp.Body)

	var done map[string]any
	for _, ev := range events {
		if ev.name == "done" {
			if err := json.Unmarshal(ev.data, &done); err != nil {
				t.Fatalf("bad done payload: %v", err)
			}
		}
	}
	if done == nil {
		t.Fatal("no done event")
	}
	if done["session_id"] != sid {
		t.Errorf("session id = %v, want %q", done["session_id"], sid)
	}
	stats := done["conversation_stats"].(map[string]any)
	if stats["total_messages"] != float64(5) {
		t.Errorf("total_messages = %v, want 5", stats["total_messages"])
	}

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(calls))
	}
	if got := len(calls[1].Messages); got != 4 {
		t.Errorf("streaming call saw %d history messages, want 4", got)
	}
}

// streamFailClient fails mid-stream, the shape of a provider connection
// dropping during generation.
type streamFailClient struct {
	err error
}

func (c *streamFailClient) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, c.err
}

func (c *streamFailClient) ChatStream(context.Context, llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent, 1)
	ch <- llm.StreamEvent{Type: "error", Error: c.err}
	close(ch)
	return ch, nil
}

func TestChatStreamMidStreamError(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": &streamFailClient{err: errors.New("connection reset")},
	})

	resp := postJSON(t, ts.URL+"/api/chat/stream", map[string]any{"message": "Stream please"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with an in-stream error", resp.StatusCode)
	}

	events := readSSE(t, resp.Body)
	if len(events) != 1 || events[0].name != "error" {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	var p struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(events[0].data, &p); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if p.Error != "AI service temporarily unavailable. Please try again later." {
		t.Errorf("error text = %q", p.Error)
	}
}

func TestChatStreamImmediateProviderError(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": llm.NewMockClient(llm.MockResponse{
			Error: &llm.APIError{Provider: "nim", StatusCode: http.StatusServiceUnavailable, Message: "down"},
		}),
	})

	resp := postJSON(t, ts.URL+"/api/chat/stream", map[string]any{"message": "Stream please"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 before the stream starts", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["error"] != "AI service temporarily unavailable. Please try again later." {
		t.Errorf("error = %v", body["error"])
	}
}
