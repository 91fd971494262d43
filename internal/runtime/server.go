package runtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/files"
	"github.com/parleyhq/parley/internal/frontend"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/telemetry"
	"github.com/parleyhq/parley/internal/websearch"
)

// Server is the Parley HTTP server. It owns no provider state of its
// own; everything request-scoped flows through the injected router,
// session registry, and pipeline stages.
type Server struct {
	cfg        *Config
	mux        *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	router     *llm.Router
	sessions   *memory.Registry
	classifier *websearch.Classifier
	searcher   websearch.Searcher
	analyzer   *files.Analyzer
	chatLog    *chatlog.Logger
	limiter    *auth.RateLimiter
	tracker    *llm.TokenTracker
	exportKey  string
	startTime  time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithTracer sets the span tracer. The default tracer writes completed
// spans to the structured log at debug level.
func WithTracer(t *telemetry.Tracer) ServerOption {
	return func(s *Server) { s.tracer = t }
}

// WithClassifier sets the web search intent classifier. A nil
// classifier disables web grounding.
func WithClassifier(c *websearch.Classifier) ServerOption {
	return func(s *Server) { s.classifier = c }
}

// WithSearcher sets the web search backend.
func WithSearcher(sr websearch.Searcher) ServerOption {
	return func(s *Server) { s.searcher = sr }
}

// WithAnalyzer sets the upload analysis engine. A nil analyzer makes
// the server reject uploads.
func WithAnalyzer(a *files.Analyzer) ServerOption {
	return func(s *Server) { s.analyzer = a }
}

// WithChatLog sets the transcript logger.
func WithChatLog(l *chatlog.Logger) ServerOption {
	return func(s *Server) { s.chatLog = l }
}

// WithRateLimiter sets the chat rate limiter.
func WithRateLimiter(rl *auth.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithExportKey overrides the export key read from the environment.
func WithExportKey(key string) ServerOption {
	return func(s *Server) { s.exportKey = key }
}

// WithTokenTracker sets the cumulative usage tracker.
func WithTokenTracker(t *llm.TokenTracker) ServerOption {
	return func(s *Server) { s.tracker = t }
}

// NewServer creates the Parley HTTP server on the given router and
// session registry.
func NewServer(cfg *Config, router *llm.Router, sessions *memory.Registry, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		router:    router,
		sessions:  sessions,
		logger:    slog.Default(),
		exportKey: auth.KeyFromEnv(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics()
	}
	if s.tracer == nil {
		s.tracer = telemetry.NewTracer(spanLogExporter(s.logger))
	}
	if s.chatLog == nil {
		s.chatLog = chatlog.New(cfg.Log.ChatLog)
	}
	if s.limiter == nil {
		s.limiter = auth.NewRateLimiter(auth.ParseRateLimit(cfg.Security.RateLimit))
	}
	if s.tracker == nil {
		s.tracker = llm.NewTokenTracker(0)
	}

	limited := s.limiter.Middleware(auth.ClientIPKeyFunc, s.metrics.RecordRateLimited)
	keyed := auth.RequireKey(s.exportKey, s.limiter)

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", limited(http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /api/chat/stream", limited(http.HandlerFunc(s.handleChatStream)))
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/sessions/{id}/stats", s.handleSessionStats)
	mux.HandleFunc("POST /api/sessions/{id}/clear", s.handleSessionClear)
	mux.HandleFunc("GET /api/sessions/{id}/export", s.handleSessionExport)
	mux.HandleFunc("POST /api/sessions/{id}/import", s.handleSessionImport)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /api/export/logs", keyed(http.HandlerFunc(s.handleExportLogs)))
	mux.Handle("POST /api/admin/cleanup", keyed(http.HandlerFunc(s.handleAdminCleanup)))
	mux.Handle("POST /api/admin/cleanup/logs", keyed(http.HandlerFunc(s.handleAdminCleanupLogs)))
	mux.Handle("GET /metrics", s.metrics.Handler())
	if cfg.Server.UI {
		mux.Handle("GET /", frontend.NewHandler("/"))
	}

	s.mux = mux
	return s
}

// spanLogExporter lands completed spans in the structured log at debug
// level.
func spanLogExporter(logger *slog.Logger) telemetry.SpanExporterFunc {
	return func(sp telemetry.Span) {
		logger.Debug("span",
			"trace_id", sp.TraceID,
			"span_id", sp.SpanID,
			"parent_id", sp.ParentID,
			"operation", sp.Operation,
			"duration_ms", sp.Duration.Milliseconds(),
			"status", sp.Status,
			"tags", sp.Tags,
		)
	}
}

// Handler returns the full middleware-wrapped handler for use with
// httptest or custom servers.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.corsMiddleware(h)
	h = s.logMiddleware(h)
	h = s.correlationMiddleware(h)
	return h
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("server starting", "addr", addr, "models", len(s.router.Models()))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// correlationMiddleware tags each request with a correlation id,
// honoring one supplied by the client.
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = newCorrelationID()
		}
		w.Header().Set("X-Correlation-ID", id)
		ctx := telemetry.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logMiddleware emits one structured log line per request and feeds
// the request counter.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r.URL.Path)
		s.metrics.RecordRequest(route, strconv.Itoa(status))
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", telemetry.CorrelationID(r.Context()),
		)
	})
}

// corsMiddleware enforces the origin allowlist and answers preflight
// requests. Requests with no Origin fall back to a Referer prefix
// check; requests with neither header pass, so direct API calls keep
// working.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.originAllowed(origin) {
				writeError(w, http.StatusForbidden, "Request origin not allowed")
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-KEY")
		} else if referer := r.Header.Get("Referer"); referer != "" {
			if !s.refererAllowed(referer) {
				writeError(w, http.StatusForbidden, "Request origin not allowed")
				return
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.Server.CORSOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) refererAllowed(referer string) bool {
	for _, allowed := range s.cfg.Server.CORSOrigins {
		if strings.HasPrefix(referer, allowed) {
			return true
		}
	}
	return false
}

// statusRecorder captures the response status for logging while
// keeping streaming flushes working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel collapses per-session paths into one metric label so the
// counter cardinality stays bounded.
func routeLabel(path string) string {
	const sessions = "/api/sessions/"
	if rest, ok := strings.CutPrefix(path, sessions); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return sessions + "{id}" + rest[i:]
		}
		return sessions + "{id}"
	}
	return path
}

func newCorrelationID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
