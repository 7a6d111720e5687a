// Package playbook resolves automation-script and reusable-role paths
// for each run kind and keeps a live listing of available playbooks.
package playbook

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/engine"
)

// Catalog indexes the playbook root directory. The directory holds one
// <kind>.yml playbook per run kind plus the reusable role trees the
// strategies point at.
type Catalog struct {
	root string

	mu    sync.RWMutex
	names []string
}

// NewCatalog creates a catalog over the given playbook root and loads
// the initial listing.
func NewCatalog(root string) (*Catalog, error) {
	c := &Catalog{root: root}
	if err := c.refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Root returns the playbook root directory.
func (c *Catalog) Root() string {
	return c.root
}

// PlaybookPath resolves the automation script for a run kind. The
// script must exist; a missing script is a validation error caught
// before any process spawns.
func (c *Catalog) PlaybookPath(kind engine.RunKind) (string, error) {
	path := filepath.Join(c.root, string(kind)+".yml")
	if _, err := os.Stat(path); err != nil {
		return "", engine.NewValidationError("playbook not found for kind "+string(kind), err).
			WithCode(engine.ErrCodeNotFound)
	}
	return path, nil
}

// RolesPath resolves the reusable-role search path for a run kind,
// per the kind's strategy.
func (c *Catalog) RolesPath(kind engine.RunKind) string {
	return filepath.Join(c.root, filepath.FromSlash(engine.StrategyFor(kind).RolesDir))
}

// Playbooks returns the sorted names of available playbooks, without
// the .yml suffix.
func (c *Catalog) Playbooks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Watch refreshes the listing whenever the playbook root changes, so
// newly dropped playbooks are picked up without a restart. It blocks
// until the context is cancelled.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return engine.NewInternalError("failed to create playbook watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.root); err != nil {
		return engine.NewInternalError("failed to watch playbook root", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.refresh(); err != nil {
				log.Warn().Err(err).Msg("failed to refresh playbook catalog")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("playbook watcher error")
		}
	}
}

// refresh rebuilds the playbook listing from the root directory.
func (c *Catalog) refresh() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return engine.NewInternalError("failed to read playbook root", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yml") {
			names = append(names, strings.TrimSuffix(name, ".yml"))
		}
	}
	sort.Strings(names)

	c.mu.Lock()
	c.names = names
	c.mu.Unlock()
	return nil
}
