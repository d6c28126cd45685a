package project

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"lintwatch/internal/config"
)

// Module is the unit an analysis job targets.
type Module struct {
	Name     string
	Root     string // slash separated, absolute
	Manifest string // empty when no lintwatch.toml was found
	Config   *config.Config
}

// Resolve finds the module enclosing startDir. Without a manifest the
// directory itself becomes an unnamed module with default configuration.
func Resolve(startDir string) (*Module, error) {
	manifest, ok, err := FindManifest(startDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		root, err := filepath.Abs(startDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", startDir, err)
		}
		return New(filepath.Base(root), root, config.Default(filepath.Base(root))), nil
	}
	cfg, err := config.Load(manifest)
	if err != nil {
		return nil, err
	}
	m := New(cfg.Module.Name, filepath.Dir(manifest), cfg)
	m.Manifest = filepath.ToSlash(manifest)
	return m, nil
}

// New builds a module from explicit values.
func New(name, root string, cfg *config.Config) *Module {
	if cfg == nil {
		cfg = config.Default(name)
	}
	return &Module{
		Name:   name,
		Root:   filepath.ToSlash(filepath.Clean(root)),
		Config: cfg,
	}
}

func (m *Module) String() string {
	if m == nil {
		return "<no module>"
	}
	return m.Name
}

// Rel returns p relative to the module root, or ok=false when p lies outside it.
func (m *Module) Rel(p string) (string, bool) {
	if m == nil {
		return "", false
	}
	p = filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	if p == m.Root {
		return ".", true
	}
	prefix := strings.TrimSuffix(m.Root, "/") + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	return strings.TrimPrefix(p, prefix), true
}

// Contains reports whether p is inside the module root.
func (m *Module) Contains(p string) bool {
	_, ok := m.Rel(p)
	return ok
}

// ShouldAnalyze applies the include and exclude globs to p.
// An empty include list accepts every file under the root.
func (m *Module) ShouldAnalyze(p string) bool {
	rel, ok := m.Rel(p)
	if !ok || rel == "." {
		return false
	}
	cfg := m.Config
	if cfg == nil {
		return true
	}
	for _, pattern := range cfg.Module.Exclude {
		if MatchGlob(pattern, rel) {
			return false
		}
	}
	if len(cfg.Module.Include) == 0 {
		return true
	}
	for _, pattern := range cfg.Module.Include {
		if MatchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

// MatchGlob matches a slash separated relative path against pattern.
// Segments follow path.Match; a "**" segment matches zero or more segments.
func MatchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], name[0])
		if err != nil || !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}
