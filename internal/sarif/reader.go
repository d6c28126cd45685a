package sarif

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// Read parses one SARIF document; anything but whitespace after it is an error.
func Read(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode sarif: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode sarif: trailing data after document")
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("missing sarif version")
	}
	return &doc, nil
}

// FailedFiles lists artifacts named by error-level execution notifications.
func FailedFiles(doc *Document) []string {
	var out []string
	seen := make(map[string]bool)
	for _, run := range doc.Runs {
		for _, inv := range run.Invocations {
			for _, n := range inv.ToolExecutionNotifications {
				if n.Level != "error" {
					continue
				}
				for _, loc := range n.Locations {
					uri := loc.PhysicalLocation.ArtifactLocation.URI
					if uri != "" && !seen[uri] {
						seen[uri] = true
						out = append(out, uri)
					}
				}
			}
		}
	}
	return out
}

// ResolveURI turns an artifact URI into an absolute slash path, relative ones against base.
func ResolveURI(base, uri string) string {
	if strings.HasPrefix(uri, "file://") {
		if u, err := url.Parse(uri); err == nil {
			uri = u.Path
		}
	}
	p := filepath.FromSlash(uri)
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.FromSlash(base), p)
	}
	return filepath.ToSlash(filepath.Clean(p))
}
