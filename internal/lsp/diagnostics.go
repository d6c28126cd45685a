package lsp

import (
	"sort"

	"lintwatch/internal/issue"
	"lintwatch/internal/vfs"
)

// queuePublish runs on the publisher of IssuesChanged, possibly under the
// workspace read lock, so it only records the files.
func (s *Server) queuePublish(files []*vfs.File) {
	s.publishMu.Lock()
	for _, f := range files {
		s.publishQueue[f] = struct{}{}
	}
	s.publishMu.Unlock()
	select {
	case s.publishNotify <- struct{}{}:
	default:
	}
}

func (s *Server) publishLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-s.publishNotify:
			s.flushPublishes()
		}
	}
}

// flushPublishes sends diagnostics for every queued file.
func (s *Server) flushPublishes() {
	s.publishMu.Lock()
	files := make([]*vfs.File, 0, len(s.publishQueue))
	for f := range s.publishQueue {
		files = append(files, f)
	}
	clear(s.publishQueue)
	s.publishMu.Unlock()

	sortFiles(files)
	for _, f := range files {
		s.publishFile(f)
	}
}

func (s *Server) publishFile(f *vfs.File) {
	uri := pathToURI(f.Path())
	list := s.diagnosticsFor(f)

	s.mu.Lock()
	var version *int
	if v, ok := s.versions[uri]; ok {
		version = &v
	}
	if len(list) > 0 {
		s.published[uri] = struct{}{}
	} else {
		delete(s.published, uri)
	}
	s.mu.Unlock()

	if err := s.sendPublish(uri, version, list); err != nil {
		s.logf("failed to publish diagnostics: %v", err)
	}
}

// diagnosticsFor converts the stored issues of f, reading anchors under the
// document read lock so offsets and text agree.
func (s *Server) diagnosticsFor(f *vfs.File) []lspDiagnostic {
	if s.issues == nil {
		return nil
	}
	issues := s.issues.Issues(f)
	release := s.ws.ReadLock()
	defer release()
	doc := f.Document()
	out := make([]lspDiagnostic, 0, len(issues))
	for _, li := range issues {
		if !li.Valid() {
			continue
		}
		var rng lspRange
		if !li.IsFileLevel() {
			start, end := li.Anchor.Offsets()
			rng = lspRange{Start: positionForOffset(doc, start), End: positionForOffset(doc, end)}
		}
		out = append(out, lspDiagnostic{
			Range:    rng,
			Severity: lspSeverity(li.Severity),
			Code:     li.RuleKey,
			Source:   "lintwatch",
			Message:  li.Message,
		})
	}
	return out
}

func lspSeverity(sev issue.Severity) int {
	switch {
	case sev.IsError():
		return severityError
	case sev == issue.SeverityMajor:
		return severityWarning
	case sev == issue.SeverityMinor:
		return severityInformation
	default:
		return severityHint
	}
}

func (s *Server) clearPublishedDiagnostics() {
	s.mu.Lock()
	if len(s.published) == 0 {
		s.mu.Unlock()
		return
	}
	prev := s.published
	s.published = make(map[string]struct{})
	s.mu.Unlock()
	uris := make([]string, 0, len(prev))
	for uri := range prev {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		if err := s.sendPublish(uri, nil, nil); err != nil {
			s.logf("failed to clear diagnostics: %v", err)
		}
	}
}

func sortFiles(files []*vfs.File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path() < files[j].Path() })
}
