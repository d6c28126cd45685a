// Package lsp hosts the analysis session behind a Language Server Protocol
// connection: editor events feed the workspace and trigger jobs, stored issues
// come back as diagnostics.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	pathpkg "path"
	"sync"
	"sync/atomic"
	"time"

	"lintwatch/internal/analysis"
	"lintwatch/internal/console"
	"lintwatch/internal/events"
	"lintwatch/internal/issue"
	"lintwatch/internal/job"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

const (
	commandAnalyzeOpenFiles = "lintwatch.analyzeOpenFiles"
	commandCancelAnalysis   = "lintwatch.cancelAnalysis"
	commandShowLog          = "lintwatch.showLog"
	commandClearLog         = "lintwatch.clearLog"
)

// Submitter schedules analysis jobs.
type Submitter interface {
	Submit(ctx context.Context, module *project.Module, files []*vfs.File, trigger job.Trigger, opts ...analysis.SubmitOption) (*analysis.TaskHandle, error)
	CancelAll()
}

// IssueSource is the issue store as seen by the server.
type IssueSource interface {
	Issues(f *vfs.File) []*issue.LiveIssue
	Has(f *vfs.File) bool
	Clear(f *vfs.File)
}

// ModuleResolver finds the module enclosing a directory.
type ModuleResolver func(dir string) (*project.Module, error)

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	Debounce      time.Duration
	Workspace     *vfs.Workspace
	Jobs          Submitter
	Issues        IssueSource
	Bus           *events.Bus
	Console       *console.Console
	ResolveModule ModuleResolver
	Version       string
	// WatchDisk follows the root module's directories so closed files track disk changes.
	WatchDisk bool
}

// Server handles stdio JSON-RPC for the lintwatch LSP.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex

	ws      *vfs.Workspace
	jobs    Submitter
	issues  IssueSource
	bus     *events.Bus
	console *console.Console
	resolve ModuleResolver
	version string

	mu                sync.Mutex
	versions          map[string]int
	modules           map[string]*project.Module
	rootModule        *project.Module
	published         map[string]struct{}
	pendingChanges    map[string]*vfs.File
	debounce          time.Duration
	debounceTimer     *time.Timer
	shutdownRequested bool
	baseCtx           context.Context
	watchDisk         bool
	watchCancel       context.CancelFunc
	watchers          sync.WaitGroup

	publishMu     sync.Mutex
	publishQueue  map[*vfs.File]struct{}
	publishNotify chan struct{}
	closed        atomic.Bool
}

// NewServer constructs a new LSP server.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	cons := opts.Console
	if cons == nil {
		cons = console.Discard()
	}
	resolve := opts.ResolveModule
	if resolve == nil {
		resolve = project.Resolve
	}
	ws := opts.Workspace
	if ws == nil {
		ws = vfs.New()
	}
	return &Server{
		in:             bufio.NewReader(in),
		out:            bufio.NewWriter(out),
		ws:             ws,
		jobs:           opts.Jobs,
		issues:         opts.Issues,
		bus:            opts.Bus,
		console:        cons,
		resolve:        resolve,
		version:        opts.Version,
		versions:       make(map[string]int),
		modules:        make(map[string]*project.Module),
		published:      make(map[string]struct{}),
		pendingChanges: make(map[string]*vfs.File),
		debounce:       debounce,
		baseCtx:        context.Background(),
		watchDisk:      opts.WatchDisk,
		publishQueue:   make(map[*vfs.File]struct{}),
		publishNotify:  make(chan struct{}, 1),
	}
}

// Run serves LSP requests until exit or EOF.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	var conn *events.Connection
	if s.bus != nil {
		conn = s.bus.Connect().OnIssuesChanged(s.queuePublish)
	}
	s.console.OnLine(s.forwardLine)
	done := make(chan struct{})
	var publisher sync.WaitGroup
	publisher.Add(1)
	go func() {
		defer publisher.Done()
		s.publishLoop(done)
	}()
	defer func() {
		s.closed.Store(true)
		s.stopWatch()
		if conn != nil {
			conn.Disconnect()
		}
		s.stopDebounce()
		close(done)
		publisher.Wait()
	}()

	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logf("failed to parse message: %v", err)
			continue
		}
		if msg.Method == "" {
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		if s.isShutdown() {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "workspace/executeCommand":
		return s.handleExecuteCommand(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeMethodNotFound, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, codeInvalidParams, "invalid params")
		}
	}
	root := ""
	switch {
	case params.RootURI != "":
		root = uriToPath(params.RootURI)
	case params.RootPath != "":
		root = vfs.CanonicalPath(params.RootPath)
	case len(params.WorkspaceFolders) > 0:
		root = uriToPath(params.WorkspaceFolders[0].URI)
	}
	if root != "" {
		m, err := s.resolve(root)
		if err != nil {
			s.logf("failed to resolve module at %s: %v", root, err)
		} else {
			s.mu.Lock()
			s.rootModule = m
			s.mu.Unlock()
			if s.watchDisk {
				s.startWatch(m)
			}
		}
	}

	result := initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    2,
				Save:      saveOptions{IncludeText: true},
			},
			ExecuteCommandProvider: &executeCommandOptions{
				Commands: []string{commandAnalyzeOpenFiles, commandCancelAnalysis, commandShowLog, commandClearLog},
			},
		},
		ServerInfo: &serverInfo{Name: "lintwatch", Version: s.version},
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.stopDebounce()
	if s.jobs != nil {
		s.jobs.CancelAll()
	}
	s.clearPublishedDiagnostics()
	return s.sendResponse(msg.ID, nil)
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	path := uriToPath(params.TextDocument.URI)
	if path == "" {
		return nil
	}
	f, err := s.ws.Open(path, params.TextDocument.Text)
	if err != nil {
		s.logf("didOpen %s: %v", path, err)
		return nil
	}
	s.mu.Lock()
	s.versions[pathToURI(path)] = params.TextDocument.Version
	s.mu.Unlock()
	s.trigger(job.TriggerEditorOpen, f)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	path := uriToPath(params.TextDocument.URI)
	if path == "" {
		return nil
	}
	f, ok := s.ws.Lookup(path)
	if !ok || !f.Valid() {
		s.logf("didChange for unknown document %s", path)
		return nil
	}
	for _, change := range params.ContentChanges {
		if err := s.applyChange(f, change); err != nil {
			s.logf("didChange %s: %v", path, err)
			return nil
		}
	}
	s.mu.Lock()
	s.versions[pathToURI(path)] = params.TextDocument.Version
	s.mu.Unlock()
	s.scheduleChange(f)
	return nil
}

// applyChange edits the workspace document in place so issue anchors follow the text.
func (s *Server) applyChange(f *vfs.File, change textDocumentContentChangeEvent) error {
	if change.Range == nil {
		return s.ws.SetText(f.Path(), change.Text)
	}
	doc := f.Document()
	start := offsetForPosition(doc, change.Range.Start)
	end := offsetForPosition(doc, change.Range.End)
	if end < start {
		start, end = end, start
	}
	return s.ws.Edit(f.Path(), start, end, change.Text)
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	path := uriToPath(params.TextDocument.URI)
	if path == "" {
		return nil
	}
	f, ok := s.ws.Lookup(path)
	if !ok || !f.Valid() {
		return nil
	}
	if params.Text != nil {
		if err := s.ws.SetText(path, *params.Text); err != nil {
			s.logf("didSave %s: %v", path, err)
		}
	}
	s.mu.Lock()
	delete(s.pendingChanges, path)
	s.mu.Unlock()
	s.trigger(job.TriggerSave, f)
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	path := uriToPath(params.TextDocument.URI)
	if path == "" {
		return nil
	}
	s.ws.Close(path)
	uri := pathToURI(path)
	s.mu.Lock()
	delete(s.versions, uri)
	delete(s.pendingChanges, path)
	_, hadDiagnostics := s.published[uri]
	delete(s.published, uri)
	s.mu.Unlock()
	if hadDiagnostics {
		if err := s.sendPublish(uri, nil, nil); err != nil {
			s.logf("failed to clear diagnostics: %v", err)
		}
	}
	return nil
}

func (s *Server) handleExecuteCommand(msg *rpcMessage) error {
	var params executeCommandParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	switch params.Command {
	case commandAnalyzeOpenFiles:
		s.trigger(job.TriggerAction, s.openFiles()...)
	case commandCancelAnalysis:
		if s.jobs != nil {
			s.jobs.CancelAll()
		}
	case commandShowLog:
		return s.sendResponse(msg.ID, s.logLines())
	case commandClearLog:
		s.console.Clear()
	default:
		return s.sendError(msg.ID, codeInvalidParams, "unknown command "+params.Command)
	}
	return s.sendResponse(msg.ID, nil)
}

// logLines renders the retained console history, oldest first.
func (s *Server) logLines() []string {
	lines := s.console.Lines()
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, fmt.Sprintf("%s [%s] %s", l.Time.Format(time.TimeOnly), l.Level, l.Text))
	}
	return out
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownRequested
}

func (s *Server) openFiles() []*vfs.File {
	var out []*vfs.File
	for _, f := range s.ws.Files() {
		if f.Valid() && f.IsOpen() {
			out = append(out, f)
		}
	}
	return out
}

// moduleFor resolves and caches the module of path. Files without their own
// manifest belong to the workspace root module when they lie inside it.
func (s *Server) moduleFor(path string) *project.Module {
	dir := pathpkg.Dir(path)
	s.mu.Lock()
	m, ok := s.modules[dir]
	root := s.rootModule
	s.mu.Unlock()
	if ok {
		return m
	}
	m, err := s.resolve(dir)
	if err != nil {
		s.logf("failed to resolve module for %s: %v", path, err)
		return nil
	}
	if m.Manifest == "" && root != nil && root.Contains(path) {
		m = root
	}
	s.mu.Lock()
	s.modules[dir] = m
	s.mu.Unlock()
	return m
}

// trigger submits files grouped by module. Editor triggers respect auto_trigger.
func (s *Server) trigger(trigger job.Trigger, files ...*vfs.File) {
	if s.jobs == nil || len(files) == 0 {
		return
	}
	var order []*project.Module
	grouped := make(map[*project.Module][]*vfs.File)
	for _, f := range files {
		m := s.moduleFor(f.Path())
		if m == nil {
			continue
		}
		if isAutomatic(trigger) && m.Config != nil && !m.Config.AutoTrigger() {
			continue
		}
		if _, seen := grouped[m]; !seen {
			order = append(order, m)
		}
		grouped[m] = append(grouped[m], f)
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	for _, m := range order {
		if _, err := s.jobs.Submit(ctx, m, grouped[m], trigger); err != nil {
			if errors.Is(err, job.ErrNoFiles) {
				s.console.Debug(err.Error())
				continue
			}
			s.logf("failed to submit %s analysis: %v", trigger, err)
		}
	}
}

func isAutomatic(t job.Trigger) bool {
	switch t {
	case job.TriggerEditorOpen, job.TriggerEditorChange, job.TriggerSave:
		return true
	default:
		return false
	}
}

func (s *Server) scheduleChange(f *vfs.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingChanges[f.Path()] = f
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.flushChanges)
}

func (s *Server) flushChanges() {
	s.mu.Lock()
	files := make([]*vfs.File, 0, len(s.pendingChanges))
	for _, f := range s.pendingChanges {
		files = append(files, f)
	}
	clear(s.pendingChanges)
	s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	sortFiles(files)
	s.trigger(job.TriggerEditorChange, files...)
}

func (s *Server) stopDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

func (s *Server) forwardLine(line console.Line) {
	if s.closed.Load() {
		return
	}
	kind := messageInfo
	switch line.Level {
	case console.LevelDebug:
		kind = messageLog
	case console.LevelError:
		kind = messageError
	}
	_ = s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "window/logMessage",
		"params":  logMessageParams{Type: kind, Message: line.Text},
	})
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

func (s *Server) sendPublish(uri string, version *int, list []lspDiagnostic) error {
	if list == nil {
		list = []lspDiagnostic{}
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": publishDiagnosticsParams{
			URI:         uri,
			Version:     version,
			Diagnostics: list,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "lsp: "+format+"\n", args...)
}
