package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps the ledger as one JSON document, rewritten atomically
// (temp file + rename) on every save.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

type statsFile struct {
	Games []Entry `json:"games"`
}

func (s *FileStore) Save(_ context.Context, entries []Entry) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create stats dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(statsFile{Games: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace stats: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	var f statsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return f.Games, nil
}
