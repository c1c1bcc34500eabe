package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"settingsd/internal/config"
	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

// TempPrefix marks in-progress atomic writes. Watchers ignore files with
// this prefix.
const TempPrefix = ".atomicwrite"

// ErrNotPersisted is returned for keys that live only in memory.
var ErrNotPersisted = errors.New("setting is not persisted")

// Store is the file-backed home of setting values. Each persisted key is
// one file at <root>/<namespace>/v<version>/<name>, with the root chosen
// by the key's tree.
type Store struct {
	registry *settings.Registry
	roots    map[settings.Tree]string

	mu sync.Mutex
	// written remembers the last content this process wrote per path so
	// watchers can drop the echo of our own writes.
	written map[string][]byte
}

// New creates a store over the given config and state roots.
func New(registry *settings.Registry, configRoot, stateRoot string) *Store {
	return &Store{
		registry: registry,
		roots: map[settings.Tree]string{
			settings.TreeConfig: configRoot,
			settings.TreeState:  stateRoot,
		},
		written: make(map[string][]byte),
	}
}

// Root returns the directory of tree.
func (s *Store) Root(tree settings.Tree) string {
	return s.roots[tree]
}

// PathOf returns the file of k, or false for unpersisted keys.
func (s *Store) PathOf(k settings.Key) (string, bool) {
	schema, ok := s.registry.Lookup(k)
	if !ok || !schema.Persisted() {
		return "", false
	}
	return filepath.Join(s.roots[schema.Tree], k.Path()), true
}

// KeyForPath maps a file path under one of the roots back to its key.
// Temp files, unknown keys and paths outside the roots are rejected.
func (s *Store) KeyForPath(path string) (settings.Key, bool) {
	if strings.HasPrefix(filepath.Base(path), TempPrefix) {
		return settings.Key{}, false
	}
	for tree, root := range s.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		k, err := settings.ParseKey(rel)
		if err != nil {
			continue
		}
		schema, ok := s.registry.Lookup(k)
		if !ok || schema.Tree != tree {
			continue
		}
		return k, true
	}
	return settings.Key{}, false
}

// Load reads every registered key synchronously. Missing files yield the
// default silently; unreadable, malformed or invalid files yield the
// default and are reported in the returned collection. The only error is
// a root directory that cannot be created.
func (s *Store) Load() (map[settings.Key]settings.Value, *config.ConfigurationErrorCollection, error) {
	for tree, root := range s.roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create %s root %s: %w", tree, root, err)
		}
	}

	values := make(map[settings.Key]settings.Value)
	problems := config.NewConfigurationErrorCollection()

	for _, k := range s.registry.Keys() {
		schema, _ := s.registry.Lookup(k)
		values[k] = schema.Default
		if !schema.Persisted() {
			continue
		}

		v, err := s.Read(k)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			var ce config.ConfigurationError
			if errors.As(err, &ce) {
				problems.Add(ce)
			}
			logging.Warn("Store", "Using default for %s: %v", k, err)
			continue
		}
		values[k] = v
	}

	logging.Info("Store", "Loaded %d settings (%d fell back to defaults)", len(values), problems.Count())
	return values, problems, nil
}

// Read reads and validates one key. Missing files return an error
// wrapping fs.ErrNotExist; other problems are ConfigurationErrors.
func (s *Store) Read(k settings.Key) (settings.Value, error) {
	schema, ok := s.registry.Lookup(k)
	if !ok || !schema.Persisted() {
		return settings.Value{}, ErrNotPersisted
	}
	path, _ := s.PathOf(k)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings.Value{}, err
		}
		return settings.Value{}, s.problem(schema, path, config.ErrorTypeIO, err)
	}

	v, err := settings.Decode(schema.Kind, data)
	if err != nil {
		return settings.Value{}, s.problem(schema, path, config.ErrorTypeParse, err)
	}
	if err := schema.Check(v); err != nil {
		return settings.Value{}, s.problem(schema, path, config.ErrorTypeValidation, err)
	}
	return v, nil
}

func (s *Store) problem(schema *settings.Schema, path, errorType string, err error) config.ConfigurationError {
	ce := config.ConfigurationError{
		FilePath:  path,
		FileName:  filepath.Base(path),
		Tree:      schema.Tree.String(),
		Key:       schema.Key.String(),
		ErrorType: errorType,
		Message:   err.Error(),
	}
	switch errorType {
	case config.ErrorTypeParse:
		ce.Suggestions = []string{fmt.Sprintf("write a %s value, e.g. %s", schema.Kind, settings.Format(schema.Default))}
	case config.ErrorTypeValidation:
		ce.Details = schema.Description
	}
	return ce
}

// Persist writes v for k atomically: a temp file in the same directory is
// synced and renamed over the target.
func (s *Store) Persist(k settings.Key, v settings.Value) error {
	path, ok := s.PathOf(k)
	if !ok {
		return ErrNotPersisted
	}
	data, err := settings.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", k, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, TempPrefix+"-"+k.Name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", k, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", k, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", k, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", k, err)
	}

	// Record before the rename so a watcher that wins the race still sees it.
	s.mu.Lock()
	s.written[path] = data
	s.mu.Unlock()

	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		s.mu.Lock()
		delete(s.written, path)
		s.mu.Unlock()
		return fmt.Errorf("failed to persist %s: %w", k, err)
	}

	logging.Debug("Store", "Persisted %s = %s", k, v)
	return nil
}

// IsEcho reports whether data is what this store last wrote to path.
// The record belongs to that one write: once path is seen with other
// content it is dropped, so a later external write of the same bytes is
// not mistaken for an echo.
func (s *Store) IsEcho(path string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.written[path]
	if !ok {
		return false
	}
	if !bytes.Equal(last, data) {
		delete(s.written, path)
		return false
	}
	return true
}
