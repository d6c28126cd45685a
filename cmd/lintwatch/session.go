package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"lintwatch/internal/analysis"
	"lintwatch/internal/console"
	"lintwatch/internal/engine"
	"lintwatch/internal/events"
	"lintwatch/internal/issue"
	"lintwatch/internal/observ"
	"lintwatch/internal/project"
	"lintwatch/internal/serverissue"
	"lintwatch/internal/store"
	"lintwatch/internal/telemetry"
	"lintwatch/internal/trace"
	"lintwatch/internal/vfs"
)

type globalOptions struct {
	color   string
	quiet   bool
	verbose bool
	timings bool
}

func readGlobalOptions(cmd *cobra.Command) (globalOptions, error) {
	flags := cmd.Root().PersistentFlags()
	var opts globalOptions
	var err error
	if opts.color, err = flags.GetString("color"); err != nil {
		return opts, fmt.Errorf("failed to get color flag: %w", err)
	}
	if opts.quiet, err = flags.GetBool("quiet"); err != nil {
		return opts, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	if opts.verbose, err = flags.GetBool("verbose"); err != nil {
		return opts, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	if opts.timings, err = flags.GetBool("timings"); err != nil {
		return opts, fmt.Errorf("failed to get timings flag: %w", err)
	}
	switch strings.ToLower(opts.color) {
	case "auto", "on", "off":
	default:
		return opts, fmt.Errorf("invalid --color value %q (expected auto|on|off)", opts.color)
	}
	return opts, nil
}

// useColor resolves --color for w.
func (o globalOptions) useColor(w io.Writer) bool {
	switch strings.ToLower(o.color) {
	case "on":
		return true
	case "off":
		return false
	}
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

// moduleCache resolves modules per directory. Directories without their own
// manifest inside the root module belong to it.
type moduleCache struct {
	mu    sync.Mutex
	root  *project.Module
	byDir map[string]*project.Module
}

func newModuleCache(root *project.Module) *moduleCache {
	return &moduleCache{root: root, byDir: make(map[string]*project.Module)}
}

func (c *moduleCache) Resolve(dir string) (*project.Module, error) {
	dir = vfs.CanonicalPath(dir)
	c.mu.Lock()
	m, ok := c.byDir[dir]
	c.mu.Unlock()
	if ok {
		return m, nil
	}
	m, err := project.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if c.root != nil && (m.Root == c.root.Root || (m.Manifest == "" && c.root.Contains(dir))) {
		m = c.root
	}
	c.mu.Lock()
	c.byDir[dir] = m
	c.mu.Unlock()
	return m, nil
}

// ForFile returns the module of a workspace path, or nil when it cannot be resolved.
func (c *moduleCache) ForFile(p string) *project.Module {
	m, err := c.Resolve(path.Dir(p))
	if err != nil {
		return nil
	}
	return m
}

// session wires one analysis host: workspace, bus, store, processor and job manager.
type session struct {
	ws      *vfs.Workspace
	bus     *events.Bus
	console *console.Console
	store   *store.Store
	manager *analysis.Manager
	router  *serverissue.Router
	modules *moduleCache
	timer   *observ.Timer
}

type sessionConfig struct {
	root    *project.Module
	opts    globalOptions
	stderr  io.Writer
	history int
}

func newSession(ctx context.Context, cfg sessionConfig) (*session, error) {
	tracer := trace.FromContext(ctx)
	var out io.Writer = cfg.stderr
	if cfg.opts.quiet {
		out = nil
	}
	cons := console.New(out,
		console.WithVerbose(cfg.opts.verbose),
		console.WithColor(cfg.opts.useColor(cfg.stderr)),
		console.WithTracer(tracer),
		console.WithHistory(cfg.history),
	)

	dir, err := storeDir(cfg.root)
	if err != nil {
		return nil, err
	}
	persister, err := store.OpenPersister(dir)
	if err != nil {
		return nil, err
	}

	ws := vfs.New()
	bus := events.NewBus(cons)
	st := store.New(
		store.WithPersister(persister),
		store.WithPublisher(bus),
		store.WithErrorReporter(cons),
	)
	modules := newModuleCache(cfg.root)
	router := serverissue.NewRouter(modules.ForFile, st, cons)
	metrics := telemetry.NewMetrics(nil)
	processor := issue.NewProcessor(ws, issue.NewDocumentMatcher(ws), st, router, cons, issue.WithMetrics(metrics))

	var timer *observ.Timer
	if cfg.opts.timings {
		timer = observ.NewTimer()
	}
	status := analysis.NewStatus(bus)
	manager := analysis.NewManager(processor, analysis.TaskDeps{
		Engine:    engine.AnalyzerFunc(analyzeModule),
		Status:    status,
		Console:   cons,
		Events:    bus,
		Workspace: ws,
		Metrics:   metrics,
		Timer:     timer,
	})
	trace.HeartbeatFromContext(ctx).Describe(func() string {
		return fmt.Sprintf("analysis=%s queued=%d", status.State(), manager.Pending())
	})
	return &session{
		ws:      ws,
		bus:     bus,
		console: cons,
		store:   st,
		manager: manager,
		router:  router,
		modules: modules,
		timer:   timer,
	}, nil
}

// storeDir returns [store].dir, relative to the module root, or the cache default.
func storeDir(m *project.Module) (string, error) {
	dir := m.Config.Store.Dir
	if dir == "" {
		return store.DefaultDir(m.Root)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.FromSlash(m.Root), dir)
	}
	return dir, nil
}

// analyzeModule runs the analyzers configured for the job's module.
func analyzeModule(ctx context.Context, m *project.Module, files []*vfs.File, l engine.Listener) (engine.Result, error) {
	return engine.ForModule(m).Analyze(ctx, m, files, l)
}

func (s *session) Close() {
	s.manager.Close()
	s.router.Close()
	s.bus.Close()
	s.ws.Dispose()
}
