package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

// SQLiteStore keeps the seen-set in a SQLite database. The whole state is
// rewritten in one transaction per Save, which keeps the atomic-replace
// contract without temp files.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite state path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: path}
	if err := store.ensureSchema(context.Background(), existed); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context, existed bool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS seen_calls (
			id  TEXT PRIMARY KEY,
			pos INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitor_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if existed {
				// A pre-existing file that cannot hold our schema is not a
				// first run, it is damage.
				return &CorruptError{Path: s.path, Err: err}
			}
			return fmt.Errorf("create sqlite schema: %w", err)
		}
	}

	var version string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM monitor_meta WHERE key = 'schema_version'`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO monitor_meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(sqliteSchemaVersion))
		if err != nil {
			return fmt.Errorf("init sqlite schema version: %w", err)
		}
	case err != nil:
		return &CorruptError{Path: s.path, Err: err}
	default:
		if version != strconv.Itoa(sqliteSchemaVersion) {
			return &CorruptError{Path: s.path, Err: fmt.Errorf("unsupported schema version %s", version)}
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*State, error) {
	st := New()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM monitor_meta WHERE key = 'rows_updated_at'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, &CorruptError{Path: s.path, Err: err}
	default:
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("rows_updated_at %q: %w", raw, err)}
		}
		st.RowsUpdatedAt = parsed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM seen_calls ORDER BY pos`)
	if err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &CorruptError{Path: s.path, Err: err}
		}
		st.Mark(id)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st *State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_calls`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear seen ids: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO seen_calls (id, pos) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for pos, id := range st.IDs() {
		if _, err := stmt.ExecContext(ctx, id, pos); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert seen id: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO monitor_meta (key, value) VALUES ('rows_updated_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(st.RowsUpdatedAt, 10)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save rows_updated_at: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
