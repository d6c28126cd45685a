// Package config decodes lintwatch.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest looked up at the module root.
const FileName = "lintwatch.toml"

const (
	DefaultWatchdogInterval = 100 * time.Millisecond
	DefaultDebounce         = 300 * time.Millisecond
)

// Config is the decoded manifest.
type Config struct {
	Module    ModuleConfig     `toml:"module"`
	Analysis  AnalysisConfig   `toml:"analysis"`
	Analyzers []AnalyzerConfig `toml:"analyzer"`
	Server    ServerConfig     `toml:"server"`
	Store     StoreConfig      `toml:"store"`
}

type ModuleConfig struct {
	Name    string   `toml:"name"`
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

type AnalysisConfig struct {
	WatchdogInterval Duration `toml:"watchdog_interval"`
	Debounce         Duration `toml:"debounce"`
	Jobs             int      `toml:"jobs"`
	AutoTrigger      *bool    `toml:"auto_trigger"`
}

// AnalyzerConfig describes one external tool that prints SARIF on stdout.
type AnalyzerConfig struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Overlay bool     `toml:"overlay"`
}

type ServerConfig struct {
	URL        string `toml:"url"`
	ProjectKey string `toml:"project_key"`
	TokenEnv   string `toml:"token_env"`
}

// Token reads the server token from the configured environment variable.
func (s ServerConfig) Token() string {
	if s.TokenEnv == "" {
		return ""
	}
	return os.Getenv(s.TokenEnv)
}

// Enabled reports whether a server is configured.
func (s ServerConfig) Enabled() bool {
	return strings.TrimSpace(s.URL) != ""
}

type StoreConfig struct {
	Dir string `toml:"dir"`
}

// Duration is a time.Duration that decodes from "100ms"-style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// WatchdogInterval returns the configured poll interval or the default.
func (c *Config) WatchdogInterval() time.Duration {
	if c == nil || c.Analysis.WatchdogInterval.Duration <= 0 {
		return DefaultWatchdogInterval
	}
	return c.Analysis.WatchdogInterval.Duration
}

// Debounce returns the editor-change debounce or the default.
func (c *Config) Debounce() time.Duration {
	if c == nil || c.Analysis.Debounce.Duration <= 0 {
		return DefaultDebounce
	}
	return c.Analysis.Debounce.Duration
}

// AutoTrigger reports whether editor events start analyses; defaults to true.
func (c *Config) AutoTrigger() bool {
	if c == nil || c.Analysis.AutoTrigger == nil {
		return true
	}
	return *c.Analysis.AutoTrigger
}

// Default returns the configuration used when no manifest exists.
func Default(name string) *Config {
	return &Config{Module: ModuleConfig{Name: name}}
}

// Load decodes and validates the manifest at path.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := validate(&cfg, meta); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Parse decodes manifest text; used by tests and the LSP host for unsaved manifests.
func Parse(text string) (*Config, error) {
	var cfg Config
	meta, err := toml.Decode(text, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := validate(&cfg, meta); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config, meta toml.MetaData) error {
	if !meta.IsDefined("module") {
		return errors.New("missing [module]")
	}
	if !meta.IsDefined("module", "name") || strings.TrimSpace(cfg.Module.Name) == "" {
		return errors.New("missing [module].name")
	}
	if cfg.Analysis.Jobs < 0 {
		return fmt.Errorf("[analysis].jobs must be >= 0, got %d", cfg.Analysis.Jobs)
	}
	seen := make(map[string]struct{}, len(cfg.Analyzers))
	for i, a := range cfg.Analyzers {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("[[analyzer]] #%d: missing name", i+1)
		}
		if strings.TrimSpace(a.Command) == "" {
			return fmt.Errorf("[[analyzer]] %q: missing command", a.Name)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("[[analyzer]] %q: duplicate name", a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	if cfg.Server.Enabled() && strings.TrimSpace(cfg.Server.ProjectKey) == "" {
		return errors.New("[server].project_key is required when [server].url is set")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}
