package integration_tests

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/llm"
)

func scrapeMetrics(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("metrics content type = %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(data)
}

func TestMetricsAfterChat(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{
		Content: "metered answer",
		Usage:   llm.TokenUsage{InputTokens: 42, OutputTokens: 11},
	})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	out := sendChat(t, ts, map[string]any{"message": "Count my tokens"})
	sid, _ := out["session_id"].(string)

	resp, err := http.Get(ts.URL + "/api/sessions/" + sid + "/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}

	body := scrapeMetrics(t, ts)
	for _, want := range []string{
		`parley_chats_total{model="` + defaultModel + `",status="success"} 1`,
		`parley_tokens_total{model="` + defaultModel + `",type="input"} 42`,
		`parley_tokens_total{model="` + defaultModel + `",type="output"} 11`,
		`parley_chat_duration_seconds_count{model="` + defaultModel + `"} 1`,
		`parley_http_requests_total{route="/api/chat",status="200"} 1`,
		`parley_http_requests_total{route="/api/sessions/{id}/stats",status="200"} 1`,
		"parley_rate_limited_total 0",
		"parley_sessions_evicted_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMetricsCountProviderErrors(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{
		Error: &llm.APIError{Provider: "nim", StatusCode: 500, Message: "upstream exploded"},
	})
	ts := newTestServer(t, nil, map[string]llm.Client{"nim": mock})

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{"message": "Hello there"})
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("chat status = %d, want 502", resp.StatusCode)
	}

	body := scrapeMetrics(t, ts)
	for _, want := range []string{
		`parley_chats_total{model="` + defaultModel + `",status="error"} 1`,
		`parley_http_requests_total{route="/api/chat",status="502"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMetricsCountTheirOwnScrapes(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": llm.NewMockClient(llm.MockResponse{Content: "ok"}),
	})

	// Requests are recorded after the handler runs, so the first scrape
	// cannot see itself. The second one sees the first.
	first := scrapeMetrics(t, ts)
	if strings.Contains(first, `route="/metrics"`) {
		t.Error("first scrape already counts a /metrics request")
	}
	second := scrapeMetrics(t, ts)
	if !strings.Contains(second, `parley_http_requests_total{route="/metrics",status="200"} 1`) {
		t.Error("second scrape does not count the first")
	}
}
