// Package web serves synthesized speech files to the frontend.
package web

import (
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
)

// AudioPrefix is the URL prefix audio files are served under.
const AudioPrefix = "/audio/"

// AudioURL returns the public URL of a stored audio file name.
func AudioURL(name string) string {
	return AudioPrefix + path.Base(name)
}

// AudioHandler serves .mp3 files from dir. Directory listings and any other
// file type answer 404.
func AudioHandler(dir string) http.Handler {
	root := os.DirFS(dir)
	fileServer := http.StripPrefix(AudioPrefix, http.FileServer(http.FS(root)))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, AudioPrefix)
		if name == "" || strings.Contains(name, "/") || !strings.HasSuffix(name, ".mp3") || !fs.ValidPath(name) {
			http.NotFound(w, r)
			return
		}

		f, err := root.Open(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("web: failed to close audio file", "path", name, "error", closeErr)
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		fileServer.ServeHTTP(w, r)
	})
}
