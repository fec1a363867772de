package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "swcache.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS caches (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	cache     TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (cache, key)
);
`

// sqliteBackend keeps every named cache in a single SQLite database.
type sqliteBackend struct {
	db *sql.DB

	mu     sync.Mutex
	stores map[string]*sqliteStore
}

// NewSQLiteBackend opens (or creates) dir/swcache.db.
func NewSQLiteBackend(dir string) (Backend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("sqlite backend: directory is required")
	}
	return openSQLite(filepath.Join(filepath.Clean(dir), sqliteFileName))
}

func openSQLite(dsn string) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &sqliteBackend{db: db, stores: make(map[string]*sqliteStore)}, nil
}

func (b *sqliteBackend) Names() ([]string, error) {
	rows, err := b.db.Query(`SELECT name FROM caches ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (b *sqliteBackend) Open(name string) (Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[name]; ok {
		return s, nil
	}

	_, err := b.db.Exec(
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache %q: %w", name, err)
	}

	s := &sqliteStore{db: b.db, name: name}
	b.stores[name] = s
	return s, nil
}

func (b *sqliteBackend) Get(name string) (Store, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[name]; ok {
		return s, true, nil
	}

	var one int
	err := b.db.QueryRow(`SELECT 1 FROM caches WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find cache %q: %w", name, err)
	}

	s := &sqliteStore{db: b.db, name: name}
	b.stores[name] = s
	return s, true, nil
}

func (b *sqliteBackend) Remove(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(context.Background(), nil)
	if err != nil {
		return false, fmt.Errorf("begin remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("remove cache %q: %w", name, err)
	}
	if _, err := tx.Exec(`DELETE FROM entries WHERE cache = ?`, name); err != nil {
		return false, fmt.Errorf("remove entries of %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove: %w", err)
	}

	if s, ok := b.stores[name]; ok {
		s.markRemoved()
		delete(b.stores, name)
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// sqliteStore is the view of one named cache inside the shared database.
type sqliteStore struct {
	db   *sql.DB
	name string

	mu      sync.Mutex
	removed bool
	stats   CacheStats
}

func (s *sqliteStore) markRemoved() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
}

func (s *sqliteStore) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return ErrClosed
	}
	return nil
}

func (s *sqliteStore) Get(key string) ([]byte, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM entries WHERE cache = ? AND key = ?`, s.name, key).Scan(&value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if errors.Is(err, sql.ErrNoRows) {
		s.stats.Misses++
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("select entry: %w", err)
	}
	s.stats.Hits++
	s.stats.LastAccess = time.Now()
	return value, nil
}

func (s *sqliteStore) Put(key string, value []byte) error {
	if err := s.alive(); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO entries (cache, key, value, stored_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache, key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		s.name, key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) Delete(key string) (bool, error) {
	if err := s.alive(); err != nil {
		return false, err
	}

	res, err := s.db.Exec(`DELETE FROM entries WHERE cache = ? AND key = ?`, s.name, key)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM entries WHERE cache = ? ORDER BY stored_at, key`, s.name)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM entries WHERE cache = ?`, s.name); err != nil {
		return fmt.Errorf("clear cache %q: %w", s.name, err)
	}
	return nil
}

func (s *sqliteStore) Size() int64 {
	var size sql.NullInt64
	if err := s.db.QueryRow(`SELECT SUM(length(value)) FROM entries WHERE cache = ?`, s.name).Scan(&size); err != nil {
		return 0
	}
	return size.Int64
}

func (s *sqliteStore) Stats() CacheStats {
	var count int64
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE cache = ?`, s.name).Scan(&count)
	size := s.Size()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Size = size
	stats.ItemCount = count
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

func (s *sqliteStore) Flush() error { return nil }

// Close is a no-op; the backend owns the database handle.
func (s *sqliteStore) Close() error { return nil }
