package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fry-engine/internal/state"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS journal (seq INTEGER PRIMARY KEY, kind TEXT NOT NULL, ts_ms INTEGER NOT NULL, payload BLOB NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Keys lists keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// AppendJournal ignores entries whose seq is already stored, so replays after
// a restart are harmless.
func (s *Store) AppendJournal(ctx context.Context, entry state.JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (seq, kind, ts_ms, payload) VALUES (?, ?, ?, ?) ON CONFLICT(seq) DO NOTHING`,
		entry.Seq, entry.Kind, entry.At.UnixMilli(), entry.Payload,
	)
	return err
}

func (s *Store) ReadJournal(ctx context.Context, afterSeq int64, limit int) ([]state.JournalEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, ts_ms, payload FROM journal WHERE seq > ? ORDER BY seq LIMIT ?`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.JournalEntry
	for rows.Next() {
		var (
			entry state.JournalEntry
			tsMS  int64
		)
		if err := rows.Scan(&entry.Seq, &entry.Kind, &tsMS, &entry.Payload); err != nil {
			return nil, err
		}
		entry.At = time.UnixMilli(tsMS).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
