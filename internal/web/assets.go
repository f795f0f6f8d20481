package web

import (
	"embed"
	"fmt"
	"hash/fnv"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed templates static
var assetsFS embed.FS

// staticFile is one embedded asset, served with a content hash ETag so
// browsers can cache the UI across daemon restarts.
type staticFile struct {
	body        []byte
	contentType string
	etag        string
}

var contentTypes = map[string]string{
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".ico":  "image/vnd.microsoft.icon",
	".js":   "text/javascript; charset=utf-8",
	".json": "application/json",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".txt":  "text/plain; charset=utf-8",
}

// loadStaticFiles indexes the embedded static directory by URL path.
func loadStaticFiles() (map[string]*staticFile, error) {
	files := make(map[string]*staticFile)

	err := fs.WalkDir(assetsFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		ctype, ok := contentTypes[path.Ext(p)]
		if !ok {
			return fmt.Errorf("web: no content type for %s", p)
		}

		body, err := assetsFS.ReadFile(p)
		if err != nil {
			return err
		}

		hash := fnv.New64a()
		hash.Write(body)

		files["/"+p] = &staticFile{
			body:        body,
			contentType: ctype,
			etag:        fmt.Sprintf(`"%016x"`, hash.Sum64()),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	file, ok := s.static[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("ETag", file.etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); strings.Contains(match, file.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", file.contentType)
	w.Write(file.body)
}
