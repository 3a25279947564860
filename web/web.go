// Package web serves the embedded admin login page and its static assets.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist
var content embed.FS

// Handler returns an http.Handler for the login page and /assets/*.
// The page carries no inline script or style so that it runs under a
// strict same-origin Content-Security-Policy.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}

	page, err := fs.ReadFile(fsys, "login.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded login.html: %w", err)
	}

	static := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		cleanPath := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if !strings.HasPrefix(cleanPath, "assets/") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.Write(page)
			return
		}

		if st, err := fs.Stat(fsys, cleanPath); err != nil || st.IsDir() {
			http.NotFound(w, r)
			return
		}
		static.ServeHTTP(w, r)
	}), nil
}
