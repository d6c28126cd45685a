package lsp

import (
	"net/url"
	"path/filepath"

	"lintwatch/internal/vfs"
)

// uriToPath returns the workspace path of a file URI, or "" for other schemes.
func uriToPath(uri string) string {
	if uri == "" {
		return ""
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" && parsed.Scheme != "file" {
		return ""
	}
	path := parsed.Path
	if parsed.Scheme == "" {
		path = uri
		if unescaped, err := url.PathUnescape(path); err == nil {
			path = unescaped
		}
	}
	return vfs.CanonicalPath(path)
}

func pathToURI(path string) string {
	if path == "" {
		return ""
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(vfs.CanonicalPath(path))}
	return u.String()
}
