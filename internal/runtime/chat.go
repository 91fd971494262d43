package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/expr"
	"github.com/parleyhq/parley/internal/files"
	"github.com/parleyhq/parley/internal/frontend"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/persona"
	"github.com/parleyhq/parley/internal/telemetry"
	"github.com/parleyhq/parley/internal/websearch"
)

const (
	// maxResponseTokens caps what a single chat turn may generate,
	// independent of the model's context window.
	maxResponseTokens = 4096

	chatTimeout   = 60 * time.Second
	streamTimeout = 5 * time.Minute
)

// upload is one file attached to a chat request.
type upload struct {
	Name string
	Data []byte
}

// chatPayload is the decoded chat request, identical for the JSON and
// multipart encodings.
type chatPayload struct {
	Message       string `json:"message"`
	SessionID     string `json:"session_id"`
	Model         string `json:"model"`
	StudyMode     bool   `json:"study_mode"`
	ReasoningMode bool   `json:"reasoning_mode"`
	OutputFormat  string `json:"output_format"`

	files []upload
}

// chatState carries one request through the pipeline stages.
type chatState struct {
	sessionID string
	model     string
	message   string // sanitized user message, without context blocks
	webUsed   bool
	hasFiles  bool
	mgr       *memory.Manager
	buffer    []memory.BufferedMessage
	log       *slog.Logger
}

// parseChatPayload decodes a chat request body. Multipart requests may
// carry uploads under the "files" or "file" field.
func (s *Server) parseChatPayload(w http.ResponseWriter, r *http.Request) (*chatPayload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var p chatPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.New("Invalid request body")
		}
		return &p, nil
	}

	maxBytes := s.cfg.Files.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("Upload too large (max %d bytes)", tooLarge.Limit)
		}
		return nil, errors.New("Invalid request body")
	}

	p := &chatPayload{
		Message:       r.FormValue("message"),
		SessionID:     r.FormValue("session_id"),
		Model:         r.FormValue("model"),
		StudyMode:     formBool(r.FormValue("study_mode")),
		ReasoningMode: formBool(r.FormValue("reasoning_mode")),
		OutputFormat:  r.FormValue("output_format"),
	}

	for _, field := range []string{"files", "file"} {
		for _, fh := range r.MultipartForm.File[field] {
			if fh.Filename == "" {
				continue
			}
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("reading upload %q", fh.Filename)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("reading upload %q", fh.Filename)
			}
			p.files = append(p.files, upload{Name: fh.Filename, Data: data})
		}
	}
	return p, nil
}

func formBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// prepareChat runs the shared pipeline stages ahead of the provider
// call: session resolution, validation and sanitization, stage-1 file
// analysis, web grounding, and the user-message write into memory. It
// writes the error response itself and reports ok=false on failure.
func (s *Server) prepareChat(ctx context.Context, w http.ResponseWriter, r *http.Request) (*chatState, bool) {
	payload, err := s.parseChatPayload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = memory.NewSessionID()
	} else if !memory.ValidateSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, "Invalid session ID format")
		return nil, false
	}
	log := telemetry.RequestLogger(s.logger, ctx, sessionID)

	fileCtx, ok := s.analyzeUploads(ctx, w, log, payload.files)
	if !ok {
		return nil, false
	}

	// An upload can stand alone; otherwise the message must hold up.
	if fileCtx == "" {
		if err := ValidateMessage(payload.Message); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
	}
	message := Sanitize(payload.Message)

	model := payload.Model
	if model == "" {
		model = s.cfg.Memory.DefaultModel
	}
	if !s.router.Known(model) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Unsupported model",
			"allowed": s.router.Models(),
		})
		return nil, false
	}

	webCtx := s.webContext(ctx, log, message)

	mgr := s.sessions.GetOrCreate(sessionID, persona.ParseFormat(payload.OutputFormat))
	mgr.SetModel(model)
	mgr.SetMode(payload.StudyMode, payload.ReasoningMode)

	content := composeUserContent(message, fileCtx, webCtx)
	if _, err := mgr.AddMessage(memory.RoleUser, content, false); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	return &chatState{
		sessionID: sessionID,
		model:     model,
		message:   message,
		webUsed:   webCtx != "",
		hasFiles:  len(payload.files) > 0,
		mgr:       mgr,
		buffer:    mgr.Buffer(),
		log:       log,
	}, true
}

// analyzeUploads runs stage-1 analysis over every attachment and joins
// the results. Failures write the error response and report ok=false.
func (s *Server) analyzeUploads(ctx context.Context, w http.ResponseWriter, log *slog.Logger, uploads []upload) (string, bool) {
	if len(uploads) == 0 {
		return "", true
	}
	if !s.cfg.Files.Enabled || s.analyzer == nil {
		writeError(w, http.StatusBadRequest, "File uploads are disabled")
		return "", false
	}

	var analyses []string
	for _, u := range uploads {
		if !files.Allowed(u.Name) {
			writeError(w, http.StatusBadRequest, files.UnsupportedTypeMessage)
			return "", false
		}
		fileType := string(files.TypeOf(u.Name))

		actx, span := s.tracer.StartSpan(ctx, "analyze", telemetry.AnalysisTags(fileType, s.analyzer.Model()))
		analysis, err := s.analyzer.Analyze(actx, u.Name, u.Data)
		if err != nil {
			s.tracer.EndSpan(span, "error")
			s.metrics.RecordFileAnalysis(fileType, "error")
			log.Error("file analysis failed", "file", u.Name, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("File Processing Failed: %v", err))
			return "", false
		}
		s.tracer.EndSpan(span, "")
		s.metrics.RecordFileAnalysis(fileType, "success")
		log.Info("file analyzed", "file", u.Name, "type", fileType)
		analyses = append(analyses, analysis)
	}
	return strings.Join(analyses, "\n\n"), true
}

// webContext decides whether the message needs live web data and, when
// it does, fetches and wraps the grounding context.
func (s *Server) webContext(ctx context.Context, log *slog.Logger, message string) string {
	if !s.cfg.WebSearch.Enabled || s.classifier == nil || s.searcher == nil || message == "" {
		return ""
	}
	cctx, cspan := s.tracer.StartSpan(ctx, "classify", telemetry.ClassifyTags(s.classifier.Model()))
	needed := s.classifier.NeedsWeb(cctx, message)
	s.tracer.EndSpan(cspan, "")
	if !needed {
		return ""
	}

	sctx, sspan := s.tracer.StartSpan(ctx, "search", telemetry.SearchTags("wikipedia"))
	results, err := s.searcher.Search(sctx, message)
	if err != nil && !errors.Is(err, websearch.ErrNoResults) {
		s.tracer.EndSpan(sspan, "error")
	} else {
		s.tracer.EndSpan(sspan, "")
	}
	if err != nil || results == "" {
		if err != nil && !errors.Is(err, websearch.ErrNoResults) {
			log.Warn("web search failed", "error", err)
		}
		s.metrics.RecordWebSearch("miss")
		return websearch.BuildContext("")
	}
	s.metrics.RecordWebSearch("hit")
	return websearch.BuildContext(results)
}

// composeUserContent assembles the user turn stored in memory: the
// file analysis block, then the web context, then the question.
func composeUserContent(message, fileCtx, webCtx string) string {
	if fileCtx == "" && webCtx == "" {
		return message
	}
	var b strings.Builder
	if fileCtx != "" {
		b.WriteString("User uploaded a file.\nHere is a factual analysis extracted from the file:\n<FILE_ANALYSIS>\n")
		b.WriteString(fileCtx)
		b.WriteString("\n</FILE_ANALYSIS>\n\n")
	}
	if webCtx != "" {
		b.WriteString(webCtx)
		b.WriteString("\n\n")
	}
	b.WriteString("User question:\n")
	b.WriteString(message)
	return b.String()
}

// providerErrorMessage maps upstream failures to stable client-facing
// text that never leaks provider internals.
func providerErrorMessage(err error) string {
	switch code := llm.StatusCode(err); {
	case code == http.StatusUnauthorized:
		return "Authentication failed with AI service"
	case code == http.StatusTooManyRequests:
		return "AI service rate limit exceeded. Please try again later."
	case code >= 500:
		return "AI service temporarily unavailable. Please try again later."
	case code > 0:
		return fmt.Sprintf("AI service error (code: %d)", code)
	default:
		// Transport failures and timeouts have no status code.
		return "AI service temporarily unavailable. Please try again later."
	}
}

func (st *chatState) env(streaming bool) expr.Env {
	return expr.Env{
		HasFiles:   st.hasFiles,
		MessageLen: len(st.message),
		WebSearch:  st.webUsed,
		Streaming:  streaming,
	}
}

func toLLMMessages(buf []memory.BufferedMessage) []llm.Message {
	out := make([]llm.Message, len(buf))
	for i, m := range buf {
		out[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}
	return out
}

func toChatlogMessages(buf []memory.BufferedMessage) []chatlog.Message {
	out := make([]chatlog.Message, len(buf))
	for i, m := range buf {
		out[i] = chatlog.Message{Role: string(m.Role), Content: m.Content, IsSummary: m.Summary}
	}
	return out
}

// finishChat stores the assistant turn, records telemetry and the
// transcript, and sweeps stale sessions. Returns the stored content.
func (s *Server) finishChat(st *chatState, content string, usage llm.TokenUsage, duration time.Duration) string {
	if content == "" {
		content = "Empty response"
	}
	if _, err := st.mgr.AddMessage(memory.RoleAssistant, content, false); err != nil {
		st.log.Error("storing assistant message", "error", err)
	}
	s.tracker.Add(usage)
	s.metrics.RecordChat(st.model, "success", duration, usage.InputTokens, usage.OutputTokens)
	if err := s.chatLog.Record(st.sessionID, st.model, st.message, toChatlogMessages(st.buffer), content, ""); err != nil {
		st.log.Warn("chat log write failed", "error", err)
	}
	if n := s.sessions.Evict(); n > 0 {
		s.metrics.RecordSessionsEvicted(n)
		st.log.Info("sessions evicted", "count", n)
	}
	return content
}

// failChat records a provider failure and returns the client-facing
// message.
func (s *Server) failChat(st *chatState, err error, duration time.Duration) string {
	msg := providerErrorMessage(err)
	st.log.Error("provider call failed", "model", st.model, "error", err)
	s.metrics.RecordChat(st.model, "error", duration, 0, 0)
	if lerr := s.chatLog.Record(st.sessionID, st.model, st.message, toChatlogMessages(st.buffer), "", msg); lerr != nil {
		st.log.Warn("chat log write failed", "error", lerr)
	}
	return msg
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), chatTimeout)
	defer cancel()

	st, ok := s.prepareChat(ctx, w, r)
	if !ok {
		return
	}
	ctx, span := s.tracer.StartSpan(ctx, "chat", telemetry.ChatTags(st.sessionID, st.model))

	client, modelID, err := s.router.Resolve(st.model, st.env(false))
	if err != nil {
		s.tracer.EndSpan(span, "error")
		writeError(w, http.StatusInternalServerError, "API keys not configured")
		return
	}

	start := time.Now()
	lctx, lspan := s.tracer.StartSpan(ctx, "llm.call", nil)
	resp, err := client.Chat(lctx, llm.ChatRequest{
		Model:     modelID,
		Messages:  toLLMMessages(st.buffer),
		MaxTokens: maxResponseTokens,
	})
	if err != nil {
		s.tracer.EndSpan(lspan, "error")
		s.tracer.EndSpan(span, "error")
		writeError(w, http.StatusBadGateway, s.failChat(st, err, time.Since(start)))
		return
	}
	lspan.Tags = telemetry.LLMCallTags(modelID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	s.tracer.EndSpan(lspan, "")

	content := s.finishChat(st, resp.Content, resp.Usage, time.Since(start))
	s.tracer.EndSpan(span, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"response":           content,
		"session_id":         st.sessionID,
		"model":              st.model,
		"conversation_stats": st.mgr.Stats(),
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), streamTimeout)
	defer cancel()

	st, ok := s.prepareChat(ctx, w, r)
	if !ok {
		return
	}
	ctx, span := s.tracer.StartSpan(ctx, "chat", telemetry.ChatTags(st.sessionID, st.model))

	client, modelID, err := s.router.Resolve(st.model, st.env(true))
	if err != nil {
		s.tracer.EndSpan(span, "error")
		writeError(w, http.StatusInternalServerError, "API keys not configured")
		return
	}

	start := time.Now()
	lctx, lspan := s.tracer.StartSpan(ctx, "llm.call", nil)
	events, err := client.ChatStream(lctx, llm.ChatRequest{
		Model:     modelID,
		Messages:  toLLMMessages(st.buffer),
		MaxTokens: maxResponseTokens,
	})
	if err != nil {
		s.tracer.EndSpan(lspan, "error")
		s.tracer.EndSpan(span, "error")
		writeError(w, http.StatusBadGateway, s.failChat(st, err, time.Since(start)))
		return
	}

	sse, err := frontend.NewSSEWriter(w)
	if err != nil {
		s.tracer.EndSpan(lspan, "error")
		s.tracer.EndSpan(span, "error")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	var full strings.Builder
	var usage llm.TokenUsage
	for ev := range events {
		switch ev.Type {
		case "text":
			full.WriteString(ev.Text)
			_ = sse.WriteText(ev.Text)
		case "error":
			s.tracer.EndSpan(lspan, "error")
			s.tracer.EndSpan(span, "error")
			_ = sse.WriteError(s.failChat(st, ev.Error, time.Since(start)))
			return
		case "done":
			if ev.Response != nil {
				usage = ev.Response.Usage
				if full.Len() == 0 {
					full.WriteString(ev.Response.Content)
				}
			}
		}
	}
	lspan.Tags = telemetry.LLMCallTags(modelID, usage.InputTokens, usage.OutputTokens)
	s.tracer.EndSpan(lspan, "")

	content := s.finishChat(st, full.String(), usage, time.Since(start))
	s.tracer.EndSpan(span, "")
	_ = sse.WriteDone(map[string]any{
		"response":           content,
		"session_id":         st.sessionID,
		"model":              st.model,
		"conversation_stats": st.mgr.Stats(),
	})
}
