package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-pipeline/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// dsnOptions enables WAL, a busy timeout against "database is locked" and
// foreign keys for derivative cascades.
const dsnOptions = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

// Database persists media records and derivatives. Writes are serialised
// by mu; reads share it.
type Database struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// New opens or creates the database file at path and brings its schema up
// to date. The parent directory must exist.
func New(ctx context.Context, path string) (*Database, error) {
	log.Info("Database path: %s", path)
	if err := checkWritable(path); err != nil {
		log.Warn("Database permission check: %v", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?"+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	d := &Database{db: sqlDB, path: path}
	if err := d.open(ctx); err != nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Error("failed to close database: %v", cerr)
		}
		return nil, err
	}
	return d, nil
}

func (d *Database) open(ctx context.Context) error {
	if err := d.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := d.migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// migrations[i] upgrades a schema at version i to version i+1.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS media_records (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	CREATE INDEX IF NOT EXISTS idx_media_records_kind ON media_records(kind);
	CREATE INDEX IF NOT EXISTS idx_media_records_created ON media_records(created_at);

	CREATE TABLE IF NOT EXISTS derivatives (
		id TEXT PRIMARY KEY,
		record_id TEXT REFERENCES media_records(id) ON DELETE CASCADE,
		source_path TEXT NOT NULL,
		operation TEXT NOT NULL,
		output_path TEXT NOT NULL,
		thumbnail_paths TEXT NOT NULL DEFAULT '[]',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		original_size INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	CREATE INDEX IF NOT EXISTS idx_derivatives_record ON derivatives(record_id);
	CREATE INDEX IF NOT EXISTS idx_derivatives_source ON derivatives(source_path);
	`,
}

// schemaVersion is the version New leaves the database at.
var schemaVersion = len(migrations)

// migrate applies the pending migrations in one transaction. The version
// lives in the metadata table, which exists before any migration runs.
func (d *Database) migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return err
	}

	current := 0
	v, err := d.GetMetadata(ctx, keySchemaVersion)
	switch {
	case err == nil:
		if current, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("bad schema version %q", v)
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	log.Info("Migrating database schema from version %d to %d", current, schemaVersion)
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := current; i < schemaVersion; i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertMetadata, keySchemaVersion, strconv.Itoa(schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Vacuum rewrites the database file to reclaim space from deleted records.
func (d *Database) Vacuum(ctx context.Context) (err error) {
	defer recordQuery("vacuum", time.Now(), &err)

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// Ping checks that the database answers.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// recordQuery observes one query. Call it deferred with a pointer to the
// function's named error so the final outcome is counted.
func recordQuery(operation string, start time.Time, errp *error) {
	status := "success"
	if errp != nil && *errp != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// checkWritable verifies the database directory accepts writes and makes
// read-only database files writable again.
func checkWritable(path string) error {
	dir := filepath.Dir(path)
	probe, err := os.CreateTemp(dir, ".perm-test-*")
	if err != nil {
		return fmt.Errorf("database directory %s not writable: %w", dir, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		info, err := os.Stat(p)
		if err != nil || info.Mode().Perm()&0o200 != 0 {
			continue
		}
		log.Warn("%s is read-only (mode %v)", p, info.Mode())
		if err := os.Chmod(p, 0o600); err != nil {
			log.Error("failed to make %s writable: %v", p, err)
			continue
		}
		log.Info("made %s writable", p)
	}
	return nil
}
