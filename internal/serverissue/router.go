package serverissue

import (
	"sync"

	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

// Router dispatches fetches to one reconciler per module, for hosts that
// serve several modules from one store.
type Router struct {
	resolve func(path string) *project.Module
	store   IssueStore
	console Console

	mu        sync.Mutex
	byRoot    map[string]Reconciler
	newForMod func(*project.Module, IssueStore, Console) Reconciler
}

// NewRouter creates a router. resolve maps a file path to its module and may return nil.
func NewRouter(resolve func(path string) *project.Module, st IssueStore, console Console) *Router {
	return &Router{
		resolve:   resolve,
		store:     st,
		console:   console,
		byRoot:    make(map[string]Reconciler),
		newForMod: ForModule,
	}
}

// FetchAndMatch groups files by module and hands each group to that module's reconciler.
func (r *Router) FetchAndMatch(files []*vfs.File) {
	var order []*project.Module
	groups := make(map[string][]*vfs.File)
	for _, f := range files {
		m := r.resolve(f.Path())
		if m == nil {
			continue
		}
		if _, ok := groups[m.Root]; !ok {
			order = append(order, m)
		}
		groups[m.Root] = append(groups[m.Root], f)
	}
	for _, m := range order {
		r.reconcilerFor(m).FetchAndMatch(groups[m.Root])
	}
}

func (r *Router) reconcilerFor(m *project.Module) Reconciler {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byRoot[m.Root]
	if !ok {
		rec = r.newForMod(m, r.store, r.console)
		r.byRoot[m.Root] = rec
	}
	return rec
}

// Wait blocks until every updater finished its pending fetches.
func (r *Router) Wait() {
	for _, u := range r.updaters() {
		u.Wait()
	}
}

// Close stops every updater the router created.
func (r *Router) Close() {
	for _, u := range r.updaters() {
		u.Close()
	}
}

func (r *Router) updaters() []*Updater {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Updater, 0, len(r.byRoot))
	for _, rec := range r.byRoot {
		if u, ok := rec.(*Updater); ok {
			out = append(out, u)
		}
	}
	return out
}
