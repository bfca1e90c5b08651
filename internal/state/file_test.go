package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreFirstRunIsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load on missing file must not fail: %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("expected empty state, got %d ids", st.Len())
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	st := New()
	st.Mark("call-1")
	st.Mark("call-2")
	st.RowsUpdatedAt = 1700000000
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A fresh store over the same path sees everything that was persisted.
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Has("call-1") || !loaded.Has("call-2") {
		t.Fatal("persisted ids lost")
	}
	if got := loaded.IDs(); got[0] != "call-1" || got[1] != "call-2" {
		t.Fatalf("insertion order lost: %v", got)
	}
	if loaded.RowsUpdatedAt != 1700000000 {
		t.Fatalf("rows_updated_at = %d", loaded.RowsUpdatedAt)
	}
}

func TestFileStoreCorruptData(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"truncated json", `{"version":1,"seen":["a"`},
		{"not json", "!!!"},
		{"wrong version", `{"version":9,"seen":[]}`},
		{"missing version", `{"seen":["a"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			if err := os.WriteFile(path, []byte(tc.data), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			store, err := NewFileStore(path)
			if err != nil {
				t.Fatalf("new store: %v", err)
			}
			_, err = store.Load(context.Background())
			var corrupt *CorruptError
			if !errors.As(err, &corrupt) {
				t.Fatalf("expected CorruptError, got %v", err)
			}
		})
	}
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	st := New()
	st.Mark("a")
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("second save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the state file, got %d entries", len(entries))
	}
}
