package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// SQLite is a Ledger backed by a local SQLite file. Writes use
// synchronous=FULL so an acknowledged append survives a crash.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the ledger at path, creating its directory.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One writer keeps appends strictly ordered.
	db.SetMaxOpenConns(1)

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	const schema = `
	CREATE TABLE IF NOT EXISTS chunk_ledger (
		file_key TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		acked_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (file_key, chunk_index)
	);`
	if _, err := db.ExecContext(initCtx, schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close ledger after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	logging.Debug("Chunk ledger opened at %s", path)
	return &SQLite{db: db, path: path}, nil
}

// Path returns the ledger file location.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Load(ctx context.Context, key string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index FROM chunk_ledger WHERE file_key = ? ORDER BY chunk_index`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", key, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Warn("failed to close ledger rows: %v", err)
		}
	}()

	var indices []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		indices = append(indices, i)
	}
	return indices, rows.Err()
}

func (s *SQLite) Append(ctx context.Context, key string, index int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chunk_ledger (file_key, chunk_index) VALUES (?, ?)`, key, index)
	if err != nil {
		metrics.LedgerWritesTotal.WithLabelValues("append", "error").Inc()
		return fmt.Errorf("failed to record chunk %d for %s: %w", index, key, err)
	}
	metrics.LedgerWritesTotal.WithLabelValues("append", "success").Inc()
	return nil
}

func (s *SQLite) Clear(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunk_ledger WHERE file_key = ?`, key)
	if err != nil {
		metrics.LedgerWritesTotal.WithLabelValues("clear", "error").Inc()
		return fmt.Errorf("failed to clear ledger for %s: %w", key, err)
	}
	metrics.LedgerWritesTotal.WithLabelValues("clear", "success").Inc()
	return nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file_key FROM chunk_ledger ORDER BY file_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger keys: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Warn("failed to close ledger rows: %v", err)
		}
	}()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan ledger key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
