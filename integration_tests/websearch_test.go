package integration_tests

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/runtime"
)

// newWikiStub serves the two MediaWiki calls the searcher makes: title
// search, then intro extract. An empty title reports no results.
func newWikiStub(t *testing.T, title, extract string) *httptest.Server {
	t.Helper()
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "query" {
			t.Errorf("unexpected action %q", q.Get("action"))
		}
		if q.Get("list") == "search" {
			if title == "" {
				_, _ = fmt.Fprint(w, `{"query":{"search":[]}}`)
				return
			}
			_, _ = fmt.Fprintf(w, `{"query":{"search":[{"title":%q}]}}`, title)
			return
		}
		if q.Get("prop") != "extracts" {
			t.Errorf("unexpected request %q", r.URL.RawQuery)
		}
		_, _ = fmt.Fprintf(w, `{"query":{"pages":{"42":{"title":%q,"extract":%q}}}}`, title, extract)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func webSearchConfig(t *testing.T, wikiURL string) *runtime.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.WebSearch.Enabled = true
	cfg.WebSearch.WikipediaURL = wikiURL
	return cfg
}

func TestChatWithWebGrounding(t *testing.T) {
	wiki := newWikiStub(t, "Go (programming language)",
		"Go is a statically typed, compiled programming language designed at Google.")

	// The first mock response answers the classifier, the second the chat.
	mock := llm.NewMockClient(
		llm.MockResponse{Content: "WEB_REQUIRED"},
		llm.MockResponse{Content: "grounded answer"},
	)
	ts := newTestServer(t, webSearchConfig(t, wiki.URL), map[string]llm.Client{"nim": mock})

	out := sendChat(t, ts, map[string]any{"message": "What is the latest Go release?"})
	if out["response"] != "grounded answer" {
		t.Errorf("response = %v", out["response"])
	}

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected classifier + chat calls, got %d", len(calls))
	}
	classify := calls[0]
	if classify.MaxTokens != 10 {
		t.Errorf("classifier MaxTokens = %d, want 10", classify.MaxTokens)
	}
	if !strings.Contains(classify.Messages[0].Content, "WEB SEARCH DECISION") {
		t.Error("classifier call missing the decision prompt")
	}

	chat := calls[1]
	prompt := chat.Messages[len(chat.Messages)-1].Content
	for _, want := range []string{
		"<WEB_SEARCH_RESULTS>",
		"Wikipedia Source (Go (programming language)):",
		"Go is a statically typed",
		"User question:\nWhat is the latest Go release?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("grounded prompt missing %q:\n%s", want, prompt)
		}
	}

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = mresp.Body.Close() }()
	metrics, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(metrics), `parley_web_searches_total{status="hit"} 1`) {
		t.Error("web search hit not counted")
	}
}

func TestChatWebSearchNoResults(t *testing.T) {
	wiki := newWikiStub(t, "", "")

	mock := llm.NewMockClient(
		llm.MockResponse{Content: "WEB_REQUIRED"},
		llm.MockResponse{Content: "best-effort answer"},
	)
	ts := newTestServer(t, webSearchConfig(t, wiki.URL), map[string]llm.Client{"nim": mock})

	out := sendChat(t, ts, map[string]any{"message": "What is the latest Go release?"})
	if out["response"] != "best-effort answer" {
		t.Errorf("response = %v", out["response"])
	}

	calls := mock.Calls()
	prompt := calls[1].Messages[len(calls[1].Messages)-1].Content
	if !strings.Contains(prompt, "Live web search returned no usable results") {
		t.Errorf("prompt missing the unavailable notice:\n%s", prompt)
	}
	if strings.Contains(prompt, "<WEB_SEARCH_RESULTS>") {
		t.Error("prompt carries a results block despite the empty search")
	}

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = mresp.Body.Close() }()
	metrics, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(metrics), `parley_web_searches_total{status="miss"} 1`) {
		t.Error("web search miss not counted")
	}
}

func TestChatClassifierDeclinesWeb(t *testing.T) {
	wiki := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected wikipedia call: %s", r.URL.RawQuery)
	}))
	t.Cleanup(wiki.Close)

	mock := llm.NewMockClient(
		llm.MockResponse{Content: "WEB_NOT_REQUIRED"},
		llm.MockResponse{Content: "plain answer"},
	)
	ts := newTestServer(t, webSearchConfig(t, wiki.URL), map[string]llm.Client{"nim": mock})

	sendChat(t, ts, map[string]any{"message": "Tell me about goroutines in depth"})

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected classifier + chat calls, got %d", len(calls))
	}
	prompt := calls[1].Messages[len(calls[1].Messages)-1].Content
	if prompt != "Tell me about goroutines in depth" {
		t.Errorf("prompt should be the bare question, got:\n%s", prompt)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	wiki := newWikiStub(t, "Ignored", "ignored")
	mock := llm.NewMockClient(llm.MockResponse{Content: "WEB_REQUIRED"})
	ts := newTestServer(t, webSearchConfig(t, wiki.URL), map[string]llm.Client{"nim": mock})

	resp := postJSON(t, ts.URL+"/api/classify", map[string]any{"message": "What is the weather today?"})
	var body map[string]bool
	decodeJSON(t, resp, &body)
	if !body["web_required"] {
		t.Error("expected web_required = true")
	}

	// Very short queries never reach the classifier.
	before := len(mock.Calls())
	resp = postJSON(t, ts.URL+"/api/classify", map[string]any{"message": "hi"})
	decodeJSON(t, resp, &body)
	if body["web_required"] {
		t.Error("short query should not require web")
	}
	if got := len(mock.Calls()); got != before {
		t.Errorf("short query consumed a classifier call: %d -> %d", before, got)
	}
}

func TestClassifyDisabled(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": llm.NewMockClient(llm.MockResponse{Content: "WEB_REQUIRED"}),
	})

	resp := postJSON(t, ts.URL+"/api/classify", map[string]any{"message": "What is the weather today?"})
	var body map[string]bool
	decodeJSON(t, resp, &body)
	if body["web_required"] {
		t.Error("disabled web search must never require web")
	}
}
