// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
	"github.com/fsnotify/fsnotify"
)

// ErrDefinitionNotFound is returned for unknown ensemble references.
var ErrDefinitionNotFound = errors.New("ensemble definition not found")

// DefinitionStore holds loaded ensemble definitions, indexed by name and
// by name@version. It can watch a directory and hot-reload definitions
// as their YAML files change.
//
// Thread Safety: safe for concurrent use.
type DefinitionStore struct {
	mu     sync.RWMutex
	byRef  map[string]*ensemble.Definition
	byFile map[string]string
	logger *slog.Logger
}

// NewDefinitionStore returns an empty store.
func NewDefinitionStore(logger *slog.Logger) *DefinitionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefinitionStore{
		byRef:  map[string]*ensemble.Definition{},
		byFile: map[string]string{},
		logger: logger,
	}
}

// Add registers a definition under its name and versioned reference.
// A later Add with the same reference replaces the earlier one.
func (ds *DefinitionStore) Add(def *ensemble.Definition) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.add(def)
}

func (ds *DefinitionStore) add(def *ensemble.Definition) {
	ds.byRef[def.Name] = def
	if def.Version != "" {
		ds.byRef[def.Ref()] = def
	}
}

// Get resolves a reference, either "name" or "name@version".
func (ds *DefinitionStore) Get(ref string) (*ensemble.Definition, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	def, ok := ds.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDefinitionNotFound, ref)
	}
	return def, nil
}

// Refs returns the loaded references, sorted.
func (ds *DefinitionStore) Refs() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	refs := make([]string, 0, len(ds.byRef))
	for ref := range ds.byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// LoadDir loads every YAML definition under dir, non-recursively. Files
// that fail to parse are logged and skipped so one bad definition does
// not take the store down.
func (ds *DefinitionStore) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read definitions directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		ds.loadFile(filepath.Join(dir, entry.Name()))
	}
	return nil
}

func (ds *DefinitionStore) loadFile(path string) {
	def, err := ensemble.LoadFile(path)
	if err != nil {
		definitionReloads.WithLabelValues("error").Inc()
		ds.logger.Error("definition load failed", "file", path, "error", err)
		return
	}

	ds.mu.Lock()
	// Drop the reference a previous version of this file provided.
	if oldRef, ok := ds.byFile[path]; ok && oldRef != def.Ref() {
		delete(ds.byRef, oldRef)
	}
	ds.add(def)
	ds.byFile[path] = def.Ref()
	ds.mu.Unlock()

	definitionReloads.WithLabelValues("ok").Inc()
	ds.logger.Info("definition loaded", "file", path, "ensemble", def.Ref())
}

// Watch reloads definitions when files under dir change, until ctx is
// cancelled. Call after LoadDir on the same directory.
func (ds *DefinitionStore) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					ds.loadFile(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				ds.logger.Warn("definition watcher error", "error", err)
			}
		}
	}()
	return nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
