// Package web embeds the browser dashboard served next to the admin API.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed static
var staticFS embed.FS

// pages maps UI paths to the embedded documents that render them.
var pages = map[string]string{
	"/":         "static/index.html",
	"/settings": "static/settings.html",
}

// Handler serves the dashboard pages and their assets. API routes and the
// health check are never answered here.
func Handler() http.Handler {
	assets, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	files := http.StripPrefix("/static/", http.FileServerFS(assets))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestPath := r.URL.Path

		if strings.HasPrefix(requestPath, "/api/") || requestPath == "/health" {
			http.NotFound(w, r)
			return
		}

		if strings.HasPrefix(requestPath, "/static/") {
			files.ServeHTTP(w, r)
			return
		}

		page, ok := pages[strings.TrimSuffix(requestPath, "/")]
		if requestPath == "/" {
			page, ok = pages["/"], true
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		servePage(w, page)
	})
}

// Paths lists the page routes Handler answers.
func Paths() []string {
	out := make([]string, 0, len(pages))
	for p := range pages {
		out = append(out, p)
	}
	return out
}

func servePage(w http.ResponseWriter, name string) {
	data, err := fs.ReadFile(staticFS, name)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}
