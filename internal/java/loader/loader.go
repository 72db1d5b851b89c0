// Package loader shares one *java.Level per level directory inside a process.
package loader

import (
	"fmt"
	"path/filepath"
	"sync"

	"voxelstore.ai/internal/java"
)

type entry struct {
	level *java.Level
	refs  int
}

// Loader hands out levels keyed by their canonical path.
type Loader struct {
	opts java.Options

	mu      sync.Mutex
	entries map[string]*entry
}

func New(opts java.Options) *Loader {
	return &Loader{opts: opts, entries: map[string]*entry{}}
}

// CanonicalPath resolves path to an absolute path without symlinks.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// Get returns the level at path, loading it on first use. Every Get must be
// paired with a Release.
func (l *Loader) Get(path string) (*java.Level, error) {
	key, err := CanonicalPath(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.entries[key]; e != nil {
		e.refs++
		return e.level, nil
	}
	level, err := java.LoadLevel(key, l.opts)
	if err != nil {
		return nil, err
	}
	l.entries[key] = &entry{level: level, refs: 1}
	return level, nil
}

// Release drops one reference. The last release closes the level and
// evicts it.
func (l *Loader) Release(level *java.Level) error {
	l.mu.Lock()
	var evicted *java.Level
	for k, e := range l.entries {
		if e.level != level {
			continue
		}
		e.refs--
		if e.refs <= 0 {
			delete(l.entries, k)
			evicted = e.level
		}
		break
	}
	l.mu.Unlock()
	if evicted == nil {
		return nil
	}
	return evicted.Close()
}

// Len reports how many levels are loaded.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
