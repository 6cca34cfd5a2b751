package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/drummonds/pdf2pics/engine"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// collectionsDocument is the YAML layout of a collections file:
//
//	collections:
//	  quarterly:
//	    - reports/q1.pdf
//	    - reports/q2.pdf
type collectionsDocument struct {
	Collections map[string][]string `yaml:"collections"`
}

// FileCollections serves collections from a YAML file and can reload it when it changes
type FileCollections struct {
	path        string
	mu          sync.RWMutex
	collections map[string][]string
}

// NewFileCollections loads the collections file at path
func NewFileCollections(path string) (*FileCollections, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid collections file path: %w", err)
	}
	f := &FileCollections{path: absPath}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload rereads the file. On error the previously loaded collections stay in place.
func (f *FileCollections) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("unable to read collections file: %w", err)
	}
	var doc collectionsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unable to parse collections file: %w", err)
	}

	collections := make(map[string][]string, len(doc.Collections))
	for name, members := range doc.Collections {
		normalized, err := normalizeMembers(name, members)
		if err != nil {
			return err
		}
		collections[name] = normalized
	}

	f.mu.Lock()
	f.collections = collections
	f.mu.Unlock()
	Logger.Info("Loaded collections file", "path", f.path, "collections", len(collections))
	return nil
}

func (f *FileCollections) ListCollection(_ context.Context, name string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	members, ok := f.collections[name]
	if !ok {
		return nil, engine.UnknownCollection(name)
	}
	return append([]string(nil), members...), nil
}

func (f *FileCollections) CollectionNames(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.collections))
	for name := range f.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Watch reloads the file whenever it is written or replaced, until ctx is done. The
// directory is watched because editors often replace the file instead of writing it.
func (f *FileCollections) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch collections file: %w", err)
	}
	Logger.Info("Watching collections file", "path", f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				Logger.Warn("Keeping previous collections", "path", f.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Log error but continue watching
			Logger.Warn("Collections watcher error", "error", err)
		}
	}
}
