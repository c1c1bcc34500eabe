package sources

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/store"
	"settingsd/pkg/logging"
)

// ConfigStore watches the config and state trees of the store for edits
// made outside the daemon.
//
// It uses fsnotify with one watch per directory, adding directories as
// they appear, and turns file writes into Set events for the matching
// key. Writes made by the store itself are recognised and dropped.
type ConfigStore struct {
	store    *store.Store
	registry *settings.Registry
}

// NewConfigStore creates the adapter for st.
func NewConfigStore(st *store.Store, registry *settings.Registry) *ConfigStore {
	return &ConfigStore{store: st, registry: registry}
}

// Name returns "configstore".
func (c *ConfigStore) Name() string {
	return settings.OriginConfigStore
}

// Subscribe begins watching both trees.
func (c *ConfigStore) Subscribe(ctx context.Context) (<-chan reconciler.ChangeEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, tree := range []settings.Tree{settings.TreeConfig, settings.TreeState} {
		root := c.store.Root(tree)
		if err := os.MkdirAll(root, 0o755); err != nil {
			watcher.Close()
			return nil, err
		}
		if err := c.watchTree(watcher, root); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	out := make(chan reconciler.ChangeEvent, 64)
	go c.processEvents(ctx, watcher, out)

	logging.Info("ConfigStore", "Watching %s and %s for changes",
		c.store.Root(settings.TreeConfig), c.store.Root(settings.TreeState))
	return out, nil
}

// Snapshot reads every persisted key. Missing files report the default;
// unreadable ones are skipped.
func (c *ConfigStore) Snapshot(ctx context.Context) ([]reconciler.ChangeEvent, error) {
	var events []reconciler.ChangeEvent
	for _, k := range c.registry.Keys() {
		schema, _ := c.registry.Lookup(k)
		if !schema.Persisted() {
			continue
		}
		v, err := c.store.Read(k)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			v = schema.Default
		case err != nil:
			logging.Warn("ConfigStore", "Skipping %s in snapshot: %v", k, err)
			continue
		}
		events = append(events, reconciler.SetEvent(originOf(schema.Tree), k, v))
	}
	return events, nil
}

// watchTree adds a watch for root and every directory below it.
func (c *ConfigStore) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return err
		}
		logging.Debug("ConfigStore", "Watching directory: %s", path)
		return nil
	})
}

// processEvents handles filesystem events until ctx is done or the
// watcher fails. A kernel queue overflow ends the subscription so the
// supervisor resyncs from a fresh snapshot.
func (c *ConfigStore) processEvents(ctx context.Context, watcher *fsnotify.Watcher, out chan<- reconciler.ChangeEvent) {
	defer close(out)
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Error("ConfigStore", err, "Error closing filesystem watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			for _, ev := range c.handleFsEvent(watcher, event) {
				if !send(ctx, out, ev) {
					return
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.Warn("ConfigStore", "Watcher overflowed, resubscribing")
				return
			}
			logging.Error("ConfigStore", err, "Filesystem watcher error")
		}
	}
}

// handleFsEvent turns one filesystem event into zero or more change
// events.
func (c *ConfigStore) handleFsEvent(watcher *fsnotify.Watcher, event fsnotify.Event) []reconciler.ChangeEvent {
	if strings.HasPrefix(filepath.Base(event.Name), store.TempPrefix) {
		return nil
	}
	// Chmod alone is metadata only.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return nil
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return c.handleNewDir(watcher, event.Name)
		}
	}

	key, ok := c.store.KeyForPath(event.Name)
	if !ok {
		return nil
	}
	ev, ok := c.readLeaf(key, event.Name, event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename))
	if !ok {
		return nil
	}
	return []reconciler.ChangeEvent{ev}
}

// handleNewDir watches a directory created after subscribing and reports
// leaves that were written into it before the watch was in place.
func (c *ConfigStore) handleNewDir(watcher *fsnotify.Watcher, dir string) []reconciler.ChangeEvent {
	if err := c.watchTree(watcher, dir); err != nil {
		logging.Warn("ConfigStore", "Failed to watch %s: %v", dir, err)
		return nil
	}

	var events []reconciler.ChangeEvent
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if key, ok := c.store.KeyForPath(path); ok {
			if ev, ok := c.readLeaf(key, path, false); ok {
				events = append(events, ev)
			}
		}
		return nil
	})
	return events
}

// readLeaf reads the file of key. A file that is gone resets the key to
// its default.
func (c *ConfigStore) readLeaf(key settings.Key, path string, mayBeGone bool) (reconciler.ChangeEvent, bool) {
	schema, _ := c.registry.Lookup(key)
	origin := originOf(schema.Tree)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if !mayBeGone {
			return reconciler.ChangeEvent{}, false
		}
		logging.Info("ConfigStore", "%s removed, resetting to default", key)
		return reconciler.SetEvent(origin, key, schema.Default), true
	}
	if err != nil || !info.Mode().IsRegular() {
		return reconciler.ChangeEvent{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn("ConfigStore", "Failed to read %s: %v", path, err)
		return reconciler.ChangeEvent{}, false
	}
	if c.store.IsEcho(path, data) {
		logging.Debug("ConfigStore", "Ignoring own write to %s", path)
		return reconciler.ChangeEvent{}, false
	}

	v, err := schema.Parse(string(data))
	if err != nil {
		logging.Warn("ConfigStore", "Ignoring malformed %s: %v", path, err)
		return reconciler.ChangeEvent{}, false
	}
	return reconciler.SetEvent(origin, key, v), true
}

func originOf(tree settings.Tree) string {
	if tree == settings.TreeState {
		return settings.OriginStateStore
	}
	return settings.OriginConfigStore
}
