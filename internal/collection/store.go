package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StoreVersion is the version written into new storage files.
const StoreVersion = 1

// Store persists the items of a storage collection.
type Store interface {
	Load(ctx context.Context) ([]Item, error)
	Save(ctx context.Context, items []Item) error
}

type storeFile struct {
	Version int       `json:"version"`
	Key     string    `json:"key"`
	Data    storeData `json:"data"`
}

type storeData struct {
	Items []Item `json:"items"`
}

// FileStore keeps items in <dir>/.storage/<key> as versioned JSON.
type FileStore struct {
	path string
	key  string
	mu   sync.Mutex
}

// NewFileStore creates a store for key under the configuration directory.
func NewFileStore(configDir, key string) *FileStore {
	return &FileStore{
		path: filepath.Join(filepath.Clean(configDir), ".storage", key),
		key:  key,
	}
}

// Path is the location of the storage file.
func (s *FileStore) Path() string { return s.path }

// Load reads the items. A missing file returns ErrNotFound.
func (s *FileStore) Load(_ context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read storage file: %w", err)
	}

	var file storeFile
	if err = json.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("decode storage file: %w", err)
	}
	if file.Version > StoreVersion {
		return nil, fmt.Errorf("storage file %s has unsupported version %d", s.path, file.Version)
	}

	return file.Data.Items, nil
}

// Save writes the items atomically.
func (s *FileStore) Save(_ context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if items == nil {
		items = []Item{}
	}

	data, err := json.MarshalIndent(storeFile{
		Version: StoreVersion,
		Key:     s.key,
		Data:    storeData{Items: items},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write storage file: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace storage file: %w", err)
	}

	return nil
}
