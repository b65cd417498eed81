// Package web embeds the mobile web shell (dist/) and serves it as a
// single-page application.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// SPAHandler serves files from dist/. Paths that name no file fall back to the
// shell so client-side routes resolve, except paths that look like assets,
// which get a 404 instead of HTML.
func SPAHandler() (http.Handler, error) {
	root, err := fs.Sub(distFS, "dist")
	if err != nil {
		return nil, fmt.Errorf("web: sub filesystem: %w", err)
	}
	if _, err := fs.Stat(root, indexFile); err != nil {
		return nil, fmt.Errorf("web: %s missing from build: %w", indexFile, err)
	}

	assets := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name != "" && name != indexFile {
			if info, err := fs.Stat(root, name); err == nil && !info.IsDir() {
				assets.ServeHTTP(w, r)
				return
			}
			if path.Ext(name) != "" {
				http.NotFound(w, r)
				return
			}
		}

		// Clients revalidate the shell on every load.
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFileFS(w, r, root, indexFile)
	}), nil
}
