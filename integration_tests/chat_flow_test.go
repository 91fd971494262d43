package integration_tests

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/runtime"
)

const defaultModel = "meta/llama-4-maverick-17b-128e-instruct"

func TestChatRoundTrip(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{
		Content: "Hello! How can I help?",
		Usage:   llm.TokenUsage{InputTokens: 42, OutputTokens: 11},
	})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	out := sendChat(t, ts, map[string]any{"message": "Hello there"})

	if out["response"] != "Hello! How can I help?" {
		t.Errorf("response = %v", out["response"])
	}
	if out["model"] != defaultModel {
		t.Errorf("model = %v, want %q", out["model"], defaultModel)
	}
	sid, _ := out["session_id"].(string)
	if !strings.HasPrefix(sid, "sess_") {
		t.Errorf("expected generated session id, got %q", sid)
	}

	stats, ok := out["conversation_stats"].(map[string]any)
	if !ok {
		t.Fatalf("missing conversation_stats in %v", out)
	}
	// Persona, user turn, assistant turn.
	if stats["total_messages"] != float64(3) {
		t.Errorf("total_messages = %v, want 3", stats["total_messages"])
	}
	if stats["pinned_messages"] != float64(1) {
		t.Errorf("pinned_messages = %v, want 1", stats["pinned_messages"])
	}
	if stats["current_model"] != defaultModel {
		t.Errorf("current_model = %v", stats["current_model"])
	}
	if stats["max_tokens"] != float64(1000000) {
		t.Errorf("max_tokens = %v, want 1000000", stats["max_tokens"])
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(calls))
	}
	if calls[0].Model != defaultModel {
		t.Errorf("provider saw model %q", calls[0].Model)
	}
	if calls[0].MaxTokens != 4096 {
		t.Errorf("provider MaxTokens = %d, want 4096", calls[0].MaxTokens)
	}
	msgs := calls[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("provider saw %d messages, want persona + user", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, "Parley") {
		t.Errorf("first message should be the persona, got role=%s", msgs[0].Role)
	}
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != "Hello there" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestChatSessionContinuity(t *testing.T) {
	mock := llm.NewMockClient(
		llm.MockResponse{Content: "first answer"},
		llm.MockResponse{Content: "second answer"},
	)
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	first := sendChat(t, ts, map[string]any{"message": "First question"})
	sid := first["session_id"].(string)

	second := sendChat(t, ts, map[string]any{"message": "Second question", "session_id": sid})
	if second["session_id"] != sid {
		t.Errorf("session id changed: %v != %v", second["session_id"], sid)
	}
	if second["response"] != "second answer" {
		t.Errorf("response = %v", second["response"])
	}
	stats := second["conversation_stats"].(map[string]any)
	if stats["total_messages"] != float64(5) {
		t.Errorf("total_messages = %v, want 5", stats["total_messages"])
	}

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(calls))
	}
	// The second call must carry the whole first exchange.
	msgs := calls[1].Messages
	if len(msgs) != 4 {
		t.Fatalf("second call saw %d messages, want 4", len(msgs))
	}
	if msgs[1].Content != "First question" || msgs[2].Content != "first answer" {
		t.Errorf("history out of order: %q / %q", msgs[1].Content, msgs[2].Content)
	}
	if msgs[3].Content != "Second question" {
		t.Errorf("latest turn = %q", msgs[3].Content)
	}
}

func TestChatModelSwitchMidSession(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "ok"})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	first := sendChat(t, ts, map[string]any{"message": "Hello there"})
	sid := first["session_id"].(string)

	second := sendChat(t, ts, map[string]any{
		"message":    "Continue please",
		"session_id": sid,
		"model":      "deepseek-ai/deepseek-r1",
	})
	if second["model"] != "deepseek-ai/deepseek-r1" {
		t.Errorf("model = %v", second["model"])
	}
	stats := second["conversation_stats"].(map[string]any)
	if stats["current_model"] != "deepseek-ai/deepseek-r1" {
		t.Errorf("current_model = %v", stats["current_model"])
	}
	if stats["max_tokens"] != float64(128000) {
		t.Errorf("max_tokens = %v, want the switched model's window", stats["max_tokens"])
	}

	calls := mock.Calls()
	if got := calls[len(calls)-1].Model; got != "deepseek-ai/deepseek-r1" {
		t.Errorf("provider saw model %q after switch", got)
	}
}

func TestChatStudyAndReasoningModes(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "ok"})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	sendChat(t, ts, map[string]any{"message": "Teach me fractions", "study_mode": true})
	calls := mock.Calls()
	if !strings.Contains(calls[0].Messages[0].Content, "STUDY MODE") {
		t.Error("study mode persona not applied")
	}

	mock.Reset()
	sendChat(t, ts, map[string]any{"message": "Why is the sky blue?", "reasoning_mode": true})
	calls = mock.Calls()
	if !strings.Contains(calls[0].Messages[0].Content, "REASONING MODE") {
		t.Error("reasoning mode persona not applied")
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": llm.NewMockClient(llm.MockResponse{Content: "ok"}),
	})

	tests := []struct {
		name    string
		body    map[string]any
		wantErr string
	}{
		{"empty message", map[string]any{"message": ""}, "Invalid message format"},
		{"whitespace message", map[string]any{"message": "   "}, "Message cannot be empty"},
		{"oversized message", map[string]any{"message": strings.Repeat("a", 10001)}, "Message too long (max 10,000 characters)"},
		{"script injection", map[string]any{"message": "<script>alert(1)</script>"}, "Message contains potentially dangerous content"},
		{"short session id", map[string]any{"message": "Hello there", "session_id": "ab"}, "Invalid session ID format"},
		{"bad session id characters", map[string]any{"message": "Hello there", "session_id": "bad/id!"}, "Invalid session ID format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/chat", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var body map[string]any
			decodeJSON(t, resp, &body)
			if body["error"] != tt.wantErr {
				t.Errorf("error = %v, want %q", body["error"], tt.wantErr)
			}
		})
	}
}

func TestChatUnknownModel(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": llm.NewMockClient(llm.MockResponse{Content: "ok"}),
	})

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"message": "Hello there",
		"model":   "made-up/model-9000",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body struct {
		Error   string   `json:"error"`
		Allowed []string `json:"allowed"`
	}
	decodeJSON(t, resp, &body)
	if body.Error != "Unsupported model" {
		t.Errorf("error = %q", body.Error)
	}
	if len(body.Allowed) == 0 {
		t.Error("expected the allowed model list in the rejection")
	}
}

func TestChatProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			"transport error",
			errors.New("connection refused"),
			"AI service temporarily unavailable. Please try again later.",
		},
		{
			"auth rejected upstream",
			&llm.APIError{Provider: "nim", StatusCode: http.StatusUnauthorized, Message: "bad key"},
			"Authentication failed with AI service",
		},
		{
			"rate limited upstream",
			&llm.APIError{Provider: "nim", StatusCode: http.StatusTooManyRequests, Message: "slow down"},
			"AI service rate limit exceeded. Please try again later.",
		},
		{
			"provider outage",
			&llm.APIError{Provider: "nim", StatusCode: http.StatusBadGateway, Message: "upstream down"},
			"AI service temporarily unavailable. Please try again later.",
		},
		{
			"unexpected status",
			&llm.APIError{Provider: "nim", StatusCode: http.StatusConflict, Message: "odd"},
			"AI service error (code: 409)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil, map[string]llm.Client{
				"nim": llm.NewMockClient(llm.MockResponse{Error: tt.err}),
			})
			resp := postJSON(t, ts.URL+"/api/chat", map[string]any{"message": "Hello there"})
			if resp.StatusCode != http.StatusBadGateway {
				t.Fatalf("status = %d, want 502", resp.StatusCode)
			}
			var body map[string]any
			decodeJSON(t, resp, &body)
			if body["error"] != tt.wantMsg {
				t.Errorf("error = %v, want %q", body["error"], tt.wantMsg)
			}
		})
	}
}

func TestChatNoProviderConfigured(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{"message": "Hello there"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["error"] != "API keys not configured" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestChatEmptyProviderResponse(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": llm.NewMockClient(llm.MockResponse{Content: ""}),
	})

	out := sendChat(t, ts, map[string]any{"message": "Hello there"})
	if out["response"] != "Empty response" {
		t.Errorf("response = %v, want the empty-response placeholder", out["response"])
	}
}

func TestChatSanitizesUserMessage(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "ok"})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	sendChat(t, ts, map[string]any{"message": "What does a < b mean?"})
	calls := mock.Calls()
	got := calls[0].Messages[1].Content
	if !strings.Contains(got, "&lt;") || strings.Contains(got, "a < b") {
		t.Errorf("message not HTML-escaped: %q", got)
	}
}

func TestChatRoutingRuleRedirects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Routing = []runtime.RoutingRule{{
		When:     `message_len > 50`,
		Provider: "openrouter",
		Model:    "qwen/qwen3-235b-a22b:free",
	}}

	nim := llm.NewMockClient(llm.MockResponse{Content: "short answer"})
	openrouter := llm.NewMockClient(llm.MockResponse{Content: "long answer"})
	ts := newTestServer(t, cfg, map[string]llm.Client{"nim": nim, "openrouter": openrouter})

	out := sendChat(t, ts, map[string]any{"message": "Hi, quick one"})
	if out["response"] != "short answer" {
		t.Errorf("short message routed wrong: %v", out["response"])
	}

	long := strings.Repeat("Tell me everything about this topic. ", 3)
	out = sendChat(t, ts, map[string]any{"message": long})
	if out["response"] != "long answer" {
		t.Errorf("long message not redirected: %v", out["response"])
	}
	calls := openrouter.Calls()
	if len(calls) != 1 || calls[0].Model != "qwen/qwen3-235b-a22b:free" {
		t.Errorf("redirect target saw %+v", calls)
	}
}
