package state

import (
	"testing"

	"dispatchmon/internal/config"
)

func TestStateMarkAndHas(t *testing.T) {
	st := New()
	if st.Has("a") {
		t.Fatal("fresh state must be empty")
	}
	st.Mark("a")
	st.Mark("b")
	st.Mark("a")
	st.Mark("")
	if !st.Has("a") || !st.Has("b") {
		t.Fatal("expected marked ids to be present")
	}
	if st.Len() != 2 {
		t.Fatalf("expected 2 ids, got %d", st.Len())
	}
	ids := st.IDs()
	if ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("expected insertion order, got %v", ids)
	}
}

func TestStateTruncateEvictsOldest(t *testing.T) {
	st := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		st.Mark(id)
	}
	st.Truncate(2)
	if st.Len() != 2 {
		t.Fatalf("expected 2 ids after truncate, got %d", st.Len())
	}
	if st.Has("a") || st.Has("b") {
		t.Fatal("oldest ids must be evicted")
	}
	if !st.Has("c") || !st.Has("d") {
		t.Fatal("newest ids must survive")
	}

	// Zero cap means unbounded.
	st.Truncate(0)
	if st.Len() != 2 {
		t.Fatalf("truncate(0) must be a no-op, got %d", st.Len())
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()

	fileStore, err := Open(config.StateConfig{Driver: "file", Path: dir + "/state.json"})
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	defer fileStore.Close()
	if _, ok := fileStore.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", fileStore)
	}

	sqliteStore, err := Open(config.StateConfig{Driver: "sqlite", Path: dir + "/state.db"})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer sqliteStore.Close()
	if _, ok := sqliteStore.(*SQLiteStore); !ok {
		t.Fatalf("expected *SQLiteStore, got %T", sqliteStore)
	}

	if _, err := Open(config.StateConfig{Driver: "redis", Path: "x"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
