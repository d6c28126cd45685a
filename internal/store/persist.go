package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/vmihailenco/msgpack/v5"
)

// Increment when Payload changes incompatibly; older files are ignored.
const schemaVersion uint16 = 1

// Payload is the on-disk form of one file's tracked issues.
type Payload struct {
	Schema  uint16    `msgpack:"schema" json:"schema"`
	Path    string    `msgpack:"path" json:"path"`
	Saved   time.Time `msgpack:"saved" json:"saved"`
	Records []Record  `msgpack:"records" json:"records"`
}

// Persister keeps tracking records under a directory, one msgpack file per source file.
// Thread-safe.
type Persister struct {
	mu  sync.RWMutex
	dir string
}

// DefaultDir returns $XDG_CACHE_HOME/lintwatch/issues/<module>, falling back to ~/.cache.
func DefaultDir(moduleRoot string) (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	sum := sha256.Sum256([]byte(moduleRoot))
	name := filepath.Base(moduleRoot) + "-" + hex.EncodeToString(sum[:6])
	return filepath.Join(base, "lintwatch", "issues", name), nil
}

// OpenPersister creates dir if needed.
func OpenPersister(dir string) (*Persister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create issue store dir: %w", err)
	}
	return &Persister{dir: dir}, nil
}

// Dir returns the storage directory.
func (p *Persister) Dir() string { return p.dir }

func (p *Persister) pathFor(file string) string {
	sum := sha256.Sum256([]byte(file))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:16])+".mp")
}

// Save atomically replaces the records of file.
func (p *Persister) Save(file string, records []Record) error {
	if p == nil {
		return nil
	}
	data, err := msgpack.Marshal(&Payload{
		Schema:  schemaVersion,
		Path:    file,
		Saved:   time.Now().UTC(),
		Records: records,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", file, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := atomic.WriteFile(p.pathFor(file), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

// Load returns the records of file; ok is false when none are stored or the schema differs.
func (p *Persister) Load(file string) (records []Record, ok bool, err error) {
	if p == nil {
		return nil, false, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	payload, err := readPayload(p.pathFor(file))
	if err != nil || payload == nil {
		return nil, false, err
	}
	if payload.Path != file {
		return nil, false, nil
	}
	return payload.Records, true, nil
}

// Delete removes the records of file.
func (p *Persister) Delete(file string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err := os.Remove(p.pathFor(file))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// All returns every readable payload sorted by path.
func (p *Persister) All() ([]Payload, error) {
	if p == nil {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Payload
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".mp" {
			continue
		}
		payload, err := readPayload(filepath.Join(p.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if payload != nil {
			out = append(out, *payload)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func readPayload(path string) (*Payload, error) {
	// #nosec G304 -- path is derived from a hash inside the store dir
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var payload Payload
	if err := msgpack.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if payload.Schema != schemaVersion {
		return nil, nil
	}
	return &payload, nil
}
