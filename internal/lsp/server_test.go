package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"lintwatch/internal/analysis"
	"lintwatch/internal/config"
	"lintwatch/internal/console"
	"lintwatch/internal/issue"
	"lintwatch/internal/job"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

type submission struct {
	module  *project.Module
	paths   []string
	trigger job.Trigger
}

type fakeJobs struct {
	mu       sync.Mutex
	submits  []submission
	canceled int
}

func (f *fakeJobs) Submit(_ context.Context, m *project.Module, files []*vfs.File, trigger job.Trigger, _ ...analysis.SubmitOption) (*analysis.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path())
	}
	f.submits = append(f.submits, submission{module: m, paths: paths, trigger: trigger})
	return nil, nil
}

func (f *fakeJobs) CancelAll() {
	f.mu.Lock()
	f.canceled++
	f.mu.Unlock()
}

func (f *fakeJobs) all() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.submits...)
}

type fakeIssues struct {
	byFile  map[*vfs.File][]*issue.LiveIssue
	cleared []*vfs.File
}

func (f *fakeIssues) Issues(file *vfs.File) []*issue.LiveIssue {
	return f.byFile[file]
}

func (f *fakeIssues) Has(file *vfs.File) bool {
	_, ok := f.byFile[file]
	return ok
}

func (f *fakeIssues) Clear(file *vfs.File) {
	delete(f.byFile, file)
	f.cleared = append(f.cleared, file)
}

func newTestServer(t *testing.T, out io.Writer, cfg *config.Config) (*Server, *fakeJobs, *fakeIssues) {
	t.Helper()
	jobs := &fakeJobs{}
	issues := &fakeIssues{byFile: make(map[*vfs.File][]*issue.LiveIssue)}
	server := NewServer(bytes.NewReader(nil), out, ServerOptions{
		Debounce:  time.Hour,
		Workspace: vfs.New(),
		Jobs:      jobs,
		Issues:    issues,
		ResolveModule: func(dir string) (*project.Module, error) {
			return project.New("m", dir, cfg), nil
		},
	})
	return server, jobs, issues
}

func call(t *testing.T, handler func(*rpcMessage) error, method string, params any) {
	t.Helper()
	payload, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal %s: %v", method, err)
	}
	if err := handler(&rpcMessage{Method: method, ID: json.RawMessage("1"), Params: payload}); err != nil {
		t.Fatalf("%s: %v", method, err)
	}
}

func readAll(t *testing.T, out *bytes.Buffer) []rpcMessage {
	t.Helper()
	reader := bufio.NewReader(bytes.NewReader(out.Bytes()))
	var msgs []rpcMessage
	for {
		payload, err := readMessage(reader)
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("read message: %v", err)
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func publishedDiagnostics(t *testing.T, msgs []rpcMessage) []publishDiagnosticsParams {
	t.Helper()
	var out []publishDiagnosticsParams
	for _, msg := range msgs {
		if msg.Method != "textDocument/publishDiagnostics" {
			continue
		}
		var params publishDiagnosticsParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			t.Fatalf("decode diagnostics: %v", err)
		}
		out = append(out, params)
	}
	return out
}

func openDoc(t *testing.T, server *Server, path, text string) *vfs.File {
	t.Helper()
	call(t, server.handleDidOpen, "textDocument/didOpen", didOpenTextDocumentParams{
		TextDocument: textDocumentItem{URI: pathToURI(path), Version: 1, Text: text},
	})
	f, ok := server.ws.Lookup(path)
	if !ok {
		t.Fatalf("%s not tracked after didOpen", path)
	}
	return f
}

func TestDidOpenSubmitsEditorOpenJob(t *testing.T) {
	var out bytes.Buffer
	server, jobs, _ := newTestServer(t, &out, nil)
	path := filepath.ToSlash(filepath.Join(t.TempDir(), "a.go"))
	openDoc(t, server, path, "package a\n")

	got := jobs.all()
	if len(got) != 1 {
		t.Fatalf("submits = %d, want 1", len(got))
	}
	if got[0].trigger != job.TriggerEditorOpen {
		t.Fatalf("trigger = %v", got[0].trigger)
	}
	if len(got[0].paths) != 1 || got[0].paths[0] != vfs.CanonicalPath(path) {
		t.Fatalf("paths = %v", got[0].paths)
	}
}

func TestAutoTriggerDisabledSkipsEditorJobs(t *testing.T) {
	var out bytes.Buffer
	off := false
	cfg := config.Default("m")
	cfg.Analysis.AutoTrigger = &off
	server, jobs, _ := newTestServer(t, &out, cfg)
	path := filepath.ToSlash(filepath.Join(t.TempDir(), "a.go"))
	openDoc(t, server, path, "package a\n")
	if n := len(jobs.all()); n != 0 {
		t.Fatalf("editor open submitted %d jobs with auto trigger off", n)
	}

	call(t, server.handleExecuteCommand, "workspace/executeCommand", executeCommandParams{Command: commandAnalyzeOpenFiles})
	got := jobs.all()
	if len(got) != 1 || got[0].trigger != job.TriggerAction {
		t.Fatalf("explicit command submits = %+v", got)
	}
}

func TestDidChangeEditsInPlaceAndDebounces(t *testing.T) {
	var out bytes.Buffer
	server, jobs, _ := newTestServer(t, &out, nil)
	path := filepath.ToSlash(filepath.Join(t.TempDir(), "a.go"))
	f := openDoc(t, server, path, "one\ntwo\n")
	marker, err := f.NewMarker(4, 7)
	if err != nil {
		t.Fatal(err)
	}

	call(t, server.handleDidChange, "textDocument/didChange", didChangeTextDocumentParams{
		TextDocument: versionedTextDocumentIdentifier{URI: pathToURI(path), Version: 2},
		ContentChanges: []textDocumentContentChangeEvent{{
			Range: &lspRange{Start: position{Line: 0, Character: 0}, End: position{Line: 0, Character: 0}},
			Text:  "// ",
		}},
	})
	if got := f.Document().Text(); got != "// one\ntwo\n" {
		t.Fatalf("content = %q", got)
	}
	start, end := marker.Offsets()
	if got := f.Document().Text()[start:end]; got != "two" {
		t.Fatalf("marker text = %q", got)
	}

	if n := len(jobs.all()); n != 1 {
		t.Fatalf("change submitted before debounce: %d jobs", n)
	}
	server.stopDebounce()
	server.flushChanges()
	got := jobs.all()
	if len(got) != 2 || got[1].trigger != job.TriggerEditorChange {
		t.Fatalf("submits = %+v", got)
	}
}

func TestPublishDiagnosticsMapping(t *testing.T) {
	var out bytes.Buffer
	server, _, issues := newTestServer(t, &out, nil)
	path := filepath.ToSlash(filepath.Join(t.TempDir(), "a.go"))
	f := openDoc(t, server, path, "one\nhé two\n")
	marker, err := f.NewMarker(8, 11)
	if err != nil {
		t.Fatal(err)
	}
	issues.byFile[f] = []*issue.LiveIssue{
		{File: f, Severity: issue.SeverityCritical, Message: "boom", RuleKey: "go:S1", Anchor: marker},
		{File: f, Severity: issue.SeverityMinor, Message: "file", RuleKey: "go:S2"},
	}
	out.Reset()

	server.queuePublish([]*vfs.File{f})
	server.flushPublishes()

	params := publishedDiagnostics(t, readAll(t, &out))
	if len(params) != 1 {
		t.Fatalf("publishes = %d, want 1", len(params))
	}
	got := params[0]
	if got.URI != pathToURI(path) {
		t.Fatalf("uri = %s", got.URI)
	}
	if got.Version == nil || *got.Version != 1 {
		t.Fatalf("version = %v", got.Version)
	}
	if len(got.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %+v", got.Diagnostics)
	}
	first := got.Diagnostics[0]
	want := lspRange{Start: position{Line: 1, Character: 3}, End: position{Line: 1, Character: 6}}
	if first.Range != want {
		t.Fatalf("range = %+v, want %+v", first.Range, want)
	}
	if first.Severity != severityError || first.Code != "go:S1" || first.Source != "lintwatch" || first.Message != "boom" {
		t.Fatalf("diagnostic = %+v", first)
	}
	second := got.Diagnostics[1]
	if second.Range != (lspRange{}) || second.Severity != severityInformation {
		t.Fatalf("file-level diagnostic = %+v", second)
	}
}

func TestPublishSkipsInvalidatedIssues(t *testing.T) {
	var out bytes.Buffer
	server, _, issues := newTestServer(t, &out, nil)
	path := filepath.ToSlash(filepath.Join(t.TempDir(), "a.go"))
	f := openDoc(t, server, path, "keep drop keep")
	marker, _ := f.NewMarker(5, 9)
	issues.byFile[f] = []*issue.LiveIssue{{File: f, Severity: issue.SeverityMajor, Message: "gone", RuleKey: "r", Anchor: marker}}
	if err := server.ws.Edit(f.Path(), 4, 10, " "); err != nil {
		t.Fatal(err)
	}
	out.Reset()

	server.queuePublish([]*vfs.File{f})
	server.flushPublishes()
	params := publishedDiagnostics(t, readAll(t, &out))
	if len(params) != 1 || len(params[0].Diagnostics) != 0 {
		t.Fatalf("publishes = %+v", params)
	}
}

func TestDidCloseClearsDiagnostics(t *testing.T) {
	var out bytes.Buffer
	server, _, issues := newTestServer(t, &out, nil)
	path := filepath.ToSlash(filepath.Join(t.TempDir(), "a.go"))
	f := openDoc(t, server, path, "text\n")
	issues.byFile[f] = []*issue.LiveIssue{{File: f, Severity: issue.SeverityInfo, Message: "m", RuleKey: "r"}}
	server.queuePublish([]*vfs.File{f})
	server.flushPublishes()
	out.Reset()

	call(t, server.handleDidClose, "textDocument/didClose", didCloseTextDocumentParams{
		TextDocument: textDocumentIdentifier{URI: pathToURI(path)},
	})
	params := publishedDiagnostics(t, readAll(t, &out))
	if len(params) != 1 || len(params[0].Diagnostics) != 0 {
		t.Fatalf("close publishes = %+v", params)
	}
	if f.IsOpen() {
		t.Fatalf("file still open")
	}
}

func TestShutdownCancelsAndExit(t *testing.T) {
	var out bytes.Buffer
	server, jobs, _ := newTestServer(t, &out, nil)
	if err := server.handleMessage(&rpcMessage{Method: "exit"}); !errors.Is(err, ErrExitWithoutShutdown) {
		t.Fatalf("exit before shutdown = %v", err)
	}
	if err := server.handleMessage(&rpcMessage{Method: "shutdown", ID: json.RawMessage("2")}); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if jobs.canceled != 1 {
		t.Fatalf("CancelAll calls = %d", jobs.canceled)
	}
	if err := server.handleMessage(&rpcMessage{Method: "exit"}); !errors.Is(err, ErrExit) {
		t.Fatalf("exit after shutdown = %v", err)
	}
}

func TestRunAnswersInitialize(t *testing.T) {
	var in bytes.Buffer
	root := filepath.ToSlash(t.TempDir())
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  initializeParams{RootURI: pathToURI(root)},
	})
	if err := writeMessage(&in, body); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	server := NewServer(&in, &out, ServerOptions{
		Workspace: vfs.New(),
		ResolveModule: func(dir string) (*project.Module, error) {
			return project.New("root", dir, nil), nil
		},
		Version: "test",
	})
	if err := server.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := readAll(t, &out)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	var result initializeResult
	if err := json.Unmarshal(msgs[0].Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Capabilities.TextDocumentSync.Change != 2 {
		t.Fatalf("sync kind = %d", result.Capabilities.TextDocumentSync.Change)
	}
	if result.ServerInfo == nil || result.ServerInfo.Version != "test" {
		t.Fatalf("server info = %+v", result.ServerInfo)
	}
	if server.rootModule == nil || server.rootModule.Root != vfs.CanonicalPath(root) {
		t.Fatalf("root module = %+v", server.rootModule)
	}
}

func TestDiskChangesFollowStoredIssues(t *testing.T) {
	var out bytes.Buffer
	server, jobs, issues := newTestServer(t, &out, nil)
	dir := t.TempDir()
	tracked, err := server.ws.Open(filepath.Join(dir, "a.go"), "a")
	if err != nil {
		t.Fatal(err)
	}
	server.ws.Close(tracked.Path())
	clean, _ := server.ws.Open(filepath.Join(dir, "b.go"), "b")
	server.ws.Close(clean.Path())
	issues.byFile[tracked] = []*issue.LiveIssue{{File: tracked, RuleKey: "r"}}

	server.onDiskChange(vfs.WatchEvent{Path: clean.Path()})
	server.onDiskChange(vfs.WatchEvent{Path: tracked.Path()})
	got := jobs.all()
	if len(got) != 1 || got[0].trigger != job.TriggerCompilation || got[0].paths[0] != tracked.Path() {
		t.Fatalf("submits = %+v", got)
	}

	server.onDiskChange(vfs.WatchEvent{Path: tracked.Path(), Deleted: true})
	if len(issues.cleared) != 1 || issues.cleared[0] != tracked {
		t.Fatalf("cleared = %v", issues.cleared)
	}
}

func TestWatchDirsSkipsHidden(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"pkg/sub", ".git/objects"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	got := watchDirs(root)
	want := []string{root, filepath.Join(root, "pkg"), filepath.Join(root, "pkg", "sub")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dirs = %v, want %v", got, want)
	}
}

func TestShowLogReturnsConsoleHistory(t *testing.T) {
	var out bytes.Buffer
	cons := console.New(nil, console.WithHistory(5))
	server := NewServer(bytes.NewReader(nil), &out, ServerOptions{Console: cons})
	cons.Info("indexed 3 files")

	call(t, server.handleExecuteCommand, "workspace/executeCommand", executeCommandParams{Command: commandShowLog})
	msgs := readAll(t, &out)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	var lines []string
	if err := json.Unmarshal(msgs[0].Result, &lines); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "[info] indexed 3 files") {
		t.Fatalf("lines = %q", lines)
	}

	call(t, server.handleExecuteCommand, "workspace/executeCommand", executeCommandParams{Command: commandClearLog})
	if got := cons.Lines(); len(got) != 0 {
		t.Fatalf("history after clear = %v", got)
	}
}
