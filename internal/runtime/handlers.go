package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/persona"
)

// handleClassify exposes the web search decision so the frontend can
// show an indicator before the full chat round-trip. Failures and
// disabled search read as "no web needed".
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusOK, map[string]bool{"web_required": false})
		return
	}

	required := false
	if s.cfg.WebSearch.Enabled && s.classifier != nil && body.Message != "" {
		required = s.classifier.NeedsWeb(r.Context(), body.Message)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"web_required": required})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  s.router.Models(),
		"default": s.cfg.Memory.DefaultModel,
	})
}

// sessionByID looks up the session named in the request path, writing
// the error response on bad ids and unknown sessions.
func (s *Server) sessionByID(w http.ResponseWriter, r *http.Request) (*memory.Manager, bool) {
	id := r.PathValue("id")
	if !memory.ValidateSessionID(id) {
		writeError(w, http.StatusBadRequest, "Invalid session ID")
		return nil, false
	}
	mgr, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return mgr, true
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.sessionByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mgr.Stats())
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.sessionByID(w, r)
	if !ok {
		return
	}
	mgr.Clear(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "cleared",
		"stats":  mgr.Stats(),
	})
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.sessionByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mgr.Export())
}

// handleSessionImport restores a session from an exported snapshot,
// creating the session when it does not exist yet.
func (s *Server) handleSessionImport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !memory.ValidateSessionID(id) {
		writeError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	var snap memory.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mgr := s.sessions.GetOrCreate(id, persona.FormatMarkdown)
	if err := mgr.Import(snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "imported",
		"stats":  mgr.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleExportLogs serves the chat transcript as a downloadable report,
// or as the raw JSONL store with ?format=jsonl.
func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "jsonl" {
		data, err := s.chatLog.Raw()
		if err != nil {
			writeExportError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", `attachment; filename="chat_logs.jsonl"`)
		_, _ = w.Write(data)
		return
	}

	report, err := s.chatLog.Report()
	if err != nil {
		writeExportError(w, err)
		return
	}
	filename := "chat_report_" + time.Now().UTC().Format("20060102_1504") + ".txt"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = io.WriteString(w, report)
}

func writeExportError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatlog.ErrNoLogs) {
		writeError(w, http.StatusNotFound, "No logs found")
		return
	}
	writeError(w, http.StatusInternalServerError, "Failed to export logs")
}

// handleAdminCleanup forces a registry eviction sweep.
func (s *Server) handleAdminCleanup(w http.ResponseWriter, _ *http.Request) {
	evicted := s.sessions.Evict()
	if evicted > 0 {
		s.metrics.RecordSessionsEvicted(evicted)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"evicted":  evicted,
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleAdminCleanupLogs(w http.ResponseWriter, _ *http.Request) {
	if err := s.chatLog.Clear(); err != nil {
		s.logger.Error("clearing chat log", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to cleanup logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
