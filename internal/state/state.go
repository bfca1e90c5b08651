package state

import (
	"context"
	"fmt"

	"dispatchmon/internal/config"
)

// State is the in-memory seen-set plus the last observed dataset revision.
// IDs keep insertion order so the size cap can evict oldest-first. The poll
// loop owns a State exclusively for the lifetime of a process; none of this
// is safe for concurrent use.
type State struct {
	RowsUpdatedAt int64

	order []string
	index map[string]struct{}
}

func New() *State {
	return &State{index: make(map[string]struct{})}
}

func (s *State) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Mark adds id to the seen-set. Marking an already-seen id is a no-op, so
// insertion order is the order of first sight.
func (s *State) Mark(id string) {
	if id == "" {
		return
	}
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *State) Len() int {
	return len(s.order)
}

// IDs returns the seen ids in insertion order.
func (s *State) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Truncate drops the oldest entries until at most max remain.
// max <= 0 means unbounded.
func (s *State) Truncate(max int) {
	if max <= 0 || len(s.order) <= max {
		return
	}
	evicted := s.order[:len(s.order)-max]
	for _, id := range evicted {
		delete(s.index, id)
	}
	s.order = append([]string(nil), s.order[len(s.order)-max:]...)
}

// Store persists a State across invocations.
type Store interface {
	// Load returns the persisted state, or a fresh empty State when the
	// backing resource does not exist yet. Unreadable or structurally
	// invalid data fails with *CorruptError and is never silently reset.
	Load(ctx context.Context) (*State, error)
	// Save atomically replaces the persisted state.
	Save(ctx context.Context, st *State) error
	Close() error
}

// CorruptError reports persisted state that exists but cannot be trusted.
// Re-initializing after this is an operator decision, not something the
// process does on its own.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state at %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Open builds the store selected by cfg.Driver.
func Open(cfg config.StateConfig) (Store, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}
