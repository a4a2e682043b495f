package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"breakerd/internal/domain"
)

// FileStore keeps the document in a single JSON file, rewritten
// atomically (tmp + rename) on every save.
type FileStore struct {
	path string
}

func NewFile(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the document. A missing file yields an empty snapshot; a
// present but unreadable file is an error so startup can halt instead
// of silently discarding data.
func (s *FileStore) Load(_ context.Context) (domain.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return domain.EmptySnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	snap := domain.EmptySnapshot()
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("corrupt store %s: %w", s.path, err)
	}
	if snap.Cards == nil {
		snap.Cards = map[string]domain.Card{}
	}
	if snap.Breakers == nil {
		snap.Breakers = map[string]domain.Breaker{}
	}
	if snap.Controllers == nil {
		snap.Controllers = map[string]domain.Controller{}
	}
	return snap, nil
}

func (s *FileStore) Save(_ context.Context, snap domain.Snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	// Each save gets its own temp file so two writers can never
	// interleave inside a shared scratch path.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
