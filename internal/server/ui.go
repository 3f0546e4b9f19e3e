package server

import (
	"bytes"
	"html/template"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// UIHandler serves the renderer bundle from the first directory holding an
// index.html: dir, ./ui/dist, then ui/dist next to the executable. Without a
// bundle it serves a page listing the API.
func UIHandler(dir string) http.Handler {
	if root := findBundle(dir); root != "" {
		return &bundleHandler{root: root}
	}
	return http.HandlerFunc(servePlaceholder)
}

func findBundle(dir string) string {
	var candidates []string
	if dir != "" {
		candidates = append(candidates, dir)
	}
	candidates = append(candidates, filepath.Join("ui", "dist"))
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "ui", "dist"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Join(c, "index.html")); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// bundleHandler serves static assets and answers unknown paths with
// index.html so client-side routes survive a reload.
type bundleHandler struct {
	root string
}

func (h *bundleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if name == "/" {
		name = "/index.html"
	}
	file := filepath.Join(h.root, filepath.FromSlash(name))
	if info, err := os.Stat(file); err != nil || info.IsDir() {
		file = filepath.Join(h.root, "index.html")
	}

	ext := filepath.Ext(file)
	if ct := mime.TypeByExtension(ext); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// Bundled js/css carry content hashes in their names.
	if strings.HasPrefix(name, "/assets/") && (ext == ".js" || ext == ".css") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	http.ServeFile(w, r, file)
}

type endpoint struct {
	Path string
	Desc string
}

var placeholderEndpoints = []endpoint{
	{"/api/health", "Liveness and function count"},
	{"/api/stats", "Node, edge, entry point and cycle counts"},
	{"/api/graph", "Export record for renderers"},
	{"/api/entrypoints", "Detected entry points (?type=&query=&limit=)"},
	{"/api/diagnostics", "Malformed definitions and unresolved calls (?kind=)"},
	{"/api/topo", "Caller-before-callee order, 409 on cycles"},
	{"/api/search?query=main", "Functions by qualified name"},
	{"/metrics", "Prometheus metrics"},
}

var placeholderPage = template.Must(template.New("placeholder").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>callscope</title>
<style>
body { font-family: ui-monospace, Menlo, monospace; max-width: 760px; margin: 48px auto; background: #111; color: #ddd; }
h1 { color: #f97316; }
.note { border-left: 3px solid #f97316; padding: 8px 16px; margin-bottom: 24px; }
dt a { color: #fb923c; }
dd { margin: 0 0 12px 16px; color: #999; }
</style>
</head>
<body>
<h1>callscope API Server</h1>
<p class="note">No renderer bundle found. Build one into ui/dist or pass --ui-dir.
Node ids containing "/" must be sent %2F-escaped.</p>
<dl>
{{range .}}<dt><a href="{{.Path}}">GET {{.Path}}</a></dt><dd>{{.Desc}}</dd>
{{end}}</dl>
</body>
</html>
`))

func servePlaceholder(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := placeholderPage.Execute(&buf, placeholderEndpoints); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// Served from gin's NoRoute, which has already set 404.
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
