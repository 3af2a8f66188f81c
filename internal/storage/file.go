package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a durable backend persisting entries as a single JSON file.
// The whole map is rewritten on every mutation; the data set is a handful of
// session keys, so that is cheap.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return s, nil
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return f.flushLocked()
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}
	delete(f.data, key)
	return f.flushLocked()
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string]string)
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

func (f *FileStore) flushLocked() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
