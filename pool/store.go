package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the ledger as JSON at a fixed path. Saves go to a
// sibling temp file first and rename over the target, so a crash mid-write
// never leaves a torn state file behind.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(p *Pool) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Load restores ledger state from disk into p. A missing file reports
// os.ErrNotExist so callers can start from an empty pool.
func (s *FileStore) Load(p *Pool) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("state file %s: %w", s.path, err)
	}
	return nil
}
