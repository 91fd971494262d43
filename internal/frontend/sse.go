package frontend

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter streams chat events to the client as Server-Sent Events.
// CORS headers are the middleware's job, not the writer's.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for event streaming, setting the SSE headers.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends a named event with a JSON payload and flushes it.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(s.w, "event: %s\n", event)
	_, _ = fmt.Fprintf(s.w, "data: %s\n\n", jsonData)
	s.flusher.Flush()
	return nil
}

// WriteText sends one chunk of assistant output.
func (s *SSEWriter) WriteText(text string) error {
	return s.WriteEvent("text", map[string]string{"text": text})
}

// WriteDone closes the stream with the final chat result.
func (s *SSEWriter) WriteDone(data any) error {
	return s.WriteEvent("done", data)
}

// WriteError reports a failure and implies the end of the stream.
func (s *SSEWriter) WriteError(message string) error {
	return s.WriteEvent("error", map[string]string{"error": message})
}
