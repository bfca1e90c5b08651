package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileSchemaVersion = 1

type persistedState struct {
	Version       int      `json:"version"`
	Seen          []string `json:"seen"`
	RowsUpdatedAt int64    `json:"rows_updated_at,omitempty"`
}

// FileStore keeps the seen-set in a single JSON file. Saves write to a
// temporary file in the same directory and rename it into place, so a crash
// mid-write never leaves a half-written file for Load to choke on.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Load(ctx context.Context) (*State, error) {
	_ = ctx
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, &CorruptError{Path: f.path, Err: err}
	}

	var persisted persistedState
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, &CorruptError{Path: f.path, Err: err}
	}
	if persisted.Version != fileSchemaVersion {
		return nil, &CorruptError{Path: f.path, Err: fmt.Errorf("unsupported schema version %d", persisted.Version)}
	}

	st := New()
	st.RowsUpdatedAt = persisted.RowsUpdatedAt
	for _, id := range persisted.Seen {
		st.Mark(id)
	}
	return st, nil
}

func (f *FileStore) Save(ctx context.Context, st *State) error {
	_ = ctx
	persisted := persistedState{
		Version:       fileSchemaVersion,
		Seen:          st.IDs(),
		RowsUpdatedAt: st.RowsUpdatedAt,
	}
	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
