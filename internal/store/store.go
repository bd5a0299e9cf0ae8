// Package store persists retrieval results in SQLite so repeated runs do not
// re-fetch the same searches and pages.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"deepresearch/internal/logging"

	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // pure Go, always available
	DriverCgo     = "sqlite3" // mattn/go-sqlite3, cgo builds only
)

// Store is a namespaced key/value cache with expiry.
type Store struct {
	db     *sql.DB
	driver string
	path   string
}

// Stats describes store contents.
type Stats struct {
	Path        string
	Driver      string
	Total       int
	Expired     int
	ByNamespace map[string]int
}

// Open opens (or creates) the cache database.
// path may be ":memory:" for an ephemeral store.
func Open(driver, path string) (*Store, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database (driver %q available only in cgo builds?): %w", path, driver, err)
	}
	// Single writer keeps SQLite lock contention away from the fan-out.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, driver: driver, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Opened cache store %s (driver=%s)", path, driver)
	return s, nil
}

func dsn(driver, path string) string {
	if path == ":memory:" {
		return path
	}
	switch driver {
	case DriverCgo:
		return path + "?_journal_mode=WAL&_busy_timeout=5000"
	default:
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		);
		CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns a live value. Expired rows are treated as missing.
func (s *Store) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE namespace = ? AND key = ? AND expires_at > ?`,
		namespace, key, time.Now().UnixNano(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

// Put upserts a value that expires after ttl. A non-positive ttl never expires.
func (s *Store) Put(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	now := time.Now()
	expires := int64(math.MaxInt64)
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, namespace, key, value, now.UnixNano(), expires)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Prune deletes expired rows and reports how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Pruned %d expired cache entries", n)
	}
	return n, nil
}

// Clear deletes every row in namespace, or every row when namespace is empty.
func (s *Store) Clear(ctx context.Context, namespace string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if namespace == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, namespace)
	}
	if err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats counts rows per namespace.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: s.path, Driver: s.driver, ByNamespace: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT namespace, COUNT(*) FROM cache_entries GROUP BY namespace ORDER BY namespace`)
	if err != nil {
		return st, fmt.Errorf("reading stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			return st, err
		}
		st.ByNamespace[ns] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixNano(),
	).Scan(&st.Expired); err != nil {
		return st, fmt.Errorf("counting expired: %w", err)
	}
	return st, nil
}
