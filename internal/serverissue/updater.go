package serverissue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"lintwatch/internal/issue"
	"lintwatch/internal/project"
	"lintwatch/internal/store"
	"lintwatch/internal/vfs"
)

// IssueStore is the part of the store the updater reads and updates.
type IssueStore interface {
	Issues(f *vfs.File) []*issue.LiveIssue
	UpdateTracked(f *vfs.File, fn func(*issue.LiveIssue)) bool
}

// Console receives fetch failures.
type Console interface {
	Error(msg string, err error)
}

// Reconciler is satisfied by Updater and NopUpdater.
type Reconciler interface {
	FetchAndMatch(files []*vfs.File)
}

const fetchParallelism = 4

// Updater fetches server issues in the background and copies their tracking
// data onto matching stored issues. Failures are logged, never returned.
type Updater struct {
	module  *project.Module
	fetcher Fetcher
	store   IssueStore
	console Console

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUpdater creates an updater for the files of module.
func NewUpdater(module *project.Module, fetcher Fetcher, st IssueStore, console Console) *Updater {
	ctx, cancel := context.WithCancel(context.Background())
	return &Updater{module: module, fetcher: fetcher, store: st, console: console, ctx: ctx, cancel: cancel}
}

// ForModule returns an HTTP backed updater when the module configures a server,
// and a NopUpdater otherwise.
func ForModule(module *project.Module, st IssueStore, console Console) Reconciler {
	if module == nil || module.Config == nil || !module.Config.Server.Enabled() {
		return NopUpdater{}
	}
	return NewUpdater(module, NewHTTPFetcher(module.Config.Server, nil), st, console)
}

// FetchAndMatch returns immediately; the work runs on its own goroutine.
func (u *Updater) FetchAndMatch(files []*vfs.File) {
	files = append([]*vfs.File(nil), files...)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.run(files)
	}()
}

// Wait blocks until every pending fetch finished.
func (u *Updater) Wait() { u.wg.Wait() }

// Close abandons pending fetches and waits for them.
func (u *Updater) Close() {
	u.cancel()
	u.wg.Wait()
}

func (u *Updater) run(files []*vfs.File) {
	g, ctx := errgroup.WithContext(u.ctx)
	g.SetLimit(fetchParallelism)
	for _, f := range files {
		rel, ok := u.module.Rel(f.Path())
		if !ok {
			continue
		}
		g.Go(func() error {
			remote, err := u.fetcher.Fetch(ctx, rel)
			if err != nil {
				if ctx.Err() == nil {
					u.console.Error("Failed to fetch server issues of "+rel, err)
				}
				return nil
			}
			u.match(f, remote)
			return nil
		})
	}
	_ = g.Wait()
}

type identity struct {
	anchor  *vfs.RangeMarker
	rule    string
	message string
}

func identityOf(li *issue.LiveIssue) identity {
	return identity{anchor: li.Anchor, rule: li.RuleKey, message: li.Message}
}

func (u *Updater) match(f *vfs.File, remote []ServerIssue) {
	local := u.store.Issues(f)
	if len(local) == 0 || len(remote) == 0 {
		return
	}
	pairs, _ := store.Match(local, remote)
	matched := make(map[identity]ServerIssue, len(local))
	for i, j := range pairs {
		if j >= 0 {
			matched[identityOf(local[i])] = remote[j]
		}
	}
	if len(matched) == 0 {
		return
	}
	u.store.UpdateTracked(f, func(li *issue.LiveIssue) {
		si, ok := matched[identityOf(li)]
		if !ok {
			return
		}
		li.ServerKey = si.Key
		li.Assignee = si.Assignee
		li.Lifecycle = issue.LifecycleExisting
		if !si.CreationDate.IsZero() {
			d := si.CreationDate.UTC()
			li.CreationDate = &d
		}
	})
}

// NopUpdater is used when no server is configured.
type NopUpdater struct{}

func (NopUpdater) FetchAndMatch([]*vfs.File) {}
