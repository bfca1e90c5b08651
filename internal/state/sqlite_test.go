package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreFirstRunIsEmpty(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("expected empty state, got %d ids", st.Len())
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	st := New()
	st.Mark("call-2")
	st.Mark("call-1")
	st.RowsUpdatedAt = 42
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.IDs(); len(got) != 2 || got[0] != "call-2" || got[1] != "call-1" {
		t.Fatalf("insertion order lost: %v", got)
	}
	if loaded.RowsUpdatedAt != 42 {
		t.Fatalf("rows_updated_at = %d", loaded.RowsUpdatedAt)
	}
}

func TestSQLiteStoreSaveReplacesState(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	first := New()
	first.Mark("old")
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := New()
	second.Mark("new")
	if err := store.Save(context.Background(), second); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Has("old") || !loaded.Has("new") {
		t.Fatalf("save must replace, got %v", loaded.IDs())
	}
}

func TestSQLiteStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	if err := os.WriteFile(path, []byte("this is not a database"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewSQLiteStore(path)
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
}
