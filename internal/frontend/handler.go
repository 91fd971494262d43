// Package frontend serves the built-in chat page and streams chat
// events over SSE. The page is embedded so a single binary can host a
// usable client without the hosted frontend.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed web
var webFS embed.FS

// Handler serves the embedded static files.
type Handler struct {
	fileServer http.Handler
	files      fs.FS
	prefix     string
}

// NewHandler creates a handler serving the embedded page under the
// given URL prefix (e.g. "/").
func NewHandler(prefix string) *Handler {
	subFS, _ := fs.Sub(webFS, "web")
	return &Handler{
		fileServer: http.FileServer(http.FS(subFS)),
		files:      subFS,
		prefix:     prefix,
	}
}

// ServeHTTP serves embedded files, falling back to index.html for
// unknown paths so reloads keep working.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, h.prefix)
	if path == "" || path == "/" {
		path = "index.html"
	}
	if _, err := fs.Stat(h.files, path); err != nil {
		r.URL.Path = h.prefix
	}
	http.StripPrefix(h.prefix, h.fileServer).ServeHTTP(w, r)
}
