package integration_tests

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/runtime"
)

func filesConfig(t *testing.T) *runtime.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Files.Enabled = true
	return cfg
}

// multipartChat posts a chat turn with attachments under the "files"
// form field.
func multipartChat(t *testing.T, ts *httptest.Server, message string, uploads map[string][]byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if message != "" {
		if err := mw.WriteField("message", message); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, data := range uploads {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	resp, err := http.Post(ts.URL+"/api/chat", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST multipart chat: %v", err)
	}
	return resp
}

func TestChatWithDocumentUpload(t *testing.T) {
	chatMock := llm.NewMockClient(llm.MockResponse{Content: "summary answer"})
	visionMock := llm.NewMockClient(llm.MockResponse{
		Content: "The document reports quarterly revenue of $4.2M, up 12%.",
	})
	ts := newTestServer(t, filesConfig(t), map[string]llm.Client{
		"nim":        chatMock,
		"openrouter": visionMock,
	})

	doc := []byte("Quarterly revenue grew 12% to $4.2M.")
	resp := multipartChat(t, ts, "Summarize the attached report", map[string][]byte{"notes.txt": doc})
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var out map[string]any
	decodeJSON(t, resp, &out)
	if out["response"] != "summary answer" {
		t.Errorf("response = %v", out["response"])
	}

	// Stage 1: the vision model received the document text.
	vcalls := visionMock.Calls()
	if len(vcalls) != 1 {
		t.Fatalf("vision calls = %d, want 1", len(vcalls))
	}
	if vcalls[0].Model != "nvidia/nemotron-nano-12b-v2-vl:free" {
		t.Errorf("analysis model = %q", vcalls[0].Model)
	}
	if vcalls[0].MaxTokens != 512 {
		t.Errorf("analysis MaxTokens = %d, want 512", vcalls[0].MaxTokens)
	}
	var sawDoc bool
	for _, m := range vcalls[0].Messages {
		if strings.Contains(m.Content, "Quarterly revenue grew 12%") {
			sawDoc = true
		}
	}
	if !sawDoc {
		t.Error("document content never reached the analysis model")
	}

	// Stage 2: the chat model received the tagged analysis.
	ccalls := chatMock.Calls()
	prompt := ccalls[0].Messages[len(ccalls[0].Messages)-1].Content
	for _, want := range []string{
		"<FILE_ANALYSIS>",
		"quarterly revenue of $4.2M",
		"User question:\nSummarize the attached report",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("chat prompt missing %q:\n%s", want, prompt)
		}
	}

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = mresp.Body.Close() }()
	metrics, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(metrics), `parley_file_analyses_total{type="text",status="success"} 1`) {
		t.Error("file analysis not counted")
	}
}

func TestChatWithImageUpload(t *testing.T) {
	chatMock := llm.NewMockClient(llm.MockResponse{Content: "image answer"})
	visionMock := llm.NewMockClient(llm.MockResponse{Content: "A small test image."})
	ts := newTestServer(t, filesConfig(t), map[string]llm.Client{
		"nim":        chatMock,
		"openrouter": visionMock,
	})

	img := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}
	resp := multipartChat(t, ts, "What is in this picture?", map[string][]byte{"photo.png": img})
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	_ = resp.Body.Close()

	vcalls := visionMock.Calls()
	if len(vcalls) != 1 {
		t.Fatalf("vision calls = %d, want 1", len(vcalls))
	}
	msg := vcalls[0].Messages[0]
	if !strings.HasPrefix(msg.ImageURL, "data:image/jpeg;base64,") {
		t.Errorf("image url = %.40q, want a data URL", msg.ImageURL)
	}
	if !strings.Contains(msg.Content, "Describe this image") {
		t.Errorf("vision prompt = %q", msg.Content)
	}
}

func TestChatUploadOnlyMessage(t *testing.T) {
	chatMock := llm.NewMockClient(llm.MockResponse{Content: "here is what the file says"})
	visionMock := llm.NewMockClient(llm.MockResponse{Content: "A list of groceries."})
	ts := newTestServer(t, filesConfig(t), map[string]llm.Client{
		"nim":        chatMock,
		"openrouter": visionMock,
	})

	// An attachment can stand alone; the empty message is allowed.
	resp := multipartChat(t, ts, "", map[string][]byte{"list.md": []byte("- eggs\n- milk\n")})
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var out map[string]any
	decodeJSON(t, resp, &out)
	if out["response"] != "here is what the file says" {
		t.Errorf("response = %v", out["response"])
	}

	prompt := chatMock.Calls()[0].Messages[1].Content
	if !strings.Contains(prompt, "<FILE_ANALYSIS>") {
		t.Errorf("prompt missing analysis block:\n%s", prompt)
	}
}

func TestChatUploadCacheSharesAnalysis(t *testing.T) {
	chatMock := llm.NewMockClient(llm.MockResponse{Content: "ok"})
	visionMock := llm.NewMockClient(llm.MockResponse{Content: "Same bytes, same analysis."})
	ts := newTestServer(t, filesConfig(t), map[string]llm.Client{
		"nim":        chatMock,
		"openrouter": visionMock,
	})

	doc := []byte("identical upload content")
	for i := 0; i < 2; i++ {
		resp := multipartChat(t, ts, "Analyze this", map[string][]byte{"same.txt": doc})
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("upload %d status = %d", i+1, resp.StatusCode)
		}
	}

	if got := len(visionMock.Calls()); got != 1 {
		t.Errorf("vision calls = %d, want 1 (second upload should hit the cache)", got)
	}
}

func TestChatUploadRejectedExtension(t *testing.T) {
	ts := newTestServer(t, filesConfig(t), map[string]llm.Client{
		"nim":        llm.NewMockClient(llm.MockResponse{Content: "ok"}),
		"openrouter": llm.NewMockClient(llm.MockResponse{Content: "ok"}),
	})

	resp := multipartChat(t, ts, "Run this", map[string][]byte{"malware.exe": {0x4D, 0x5A}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	errText, _ := body["error"].(string)
	if !strings.Contains(errText, "File type not supported") {
		t.Errorf("error = %q", errText)
	}
}

func TestChatUploadsDisabled(t *testing.T) {
	ts := newTestServer(t, nil, map[string]llm.Client{
		"nim": llm.NewMockClient(llm.MockResponse{Content: "ok"}),
	})

	resp := multipartChat(t, ts, "Read this", map[string][]byte{"notes.txt": []byte("text")})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["error"] != "File uploads are disabled" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestChatUploadAnalysisFailure(t *testing.T) {
	ts := newTestServer(t, filesConfig(t), map[string]llm.Client{
		"nim":        llm.NewMockClient(llm.MockResponse{Content: "ok"}),
		"openrouter": llm.NewMockClient(llm.MockResponse{Error: errors.New("vision model down")}),
	})

	resp := multipartChat(t, ts, "Read this", map[string][]byte{"notes.txt": []byte("text")})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	errText, _ := body["error"].(string)
	if !strings.Contains(errText, "File Processing Failed") {
		t.Errorf("error = %q", errText)
	}
}

func TestChatUploadTooLarge(t *testing.T) {
	cfg := filesConfig(t)
	cfg.Files.MaxUploadBytes = 100
	ts := newTestServer(t, cfg, map[string]llm.Client{
		"nim":        llm.NewMockClient(llm.MockResponse{Content: "ok"}),
		"openrouter": llm.NewMockClient(llm.MockResponse{Content: "ok"}),
	})

	big := bytes.Repeat([]byte("a"), 400)
	resp := multipartChat(t, ts, "Read this", map[string][]byte{"big.txt": big})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	errText, _ := body["error"].(string)
	if !strings.Contains(errText, "Upload too large") {
		t.Errorf("error = %q", errText)
	}
}
