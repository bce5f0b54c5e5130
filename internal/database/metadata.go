package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Metadata keys.
const (
	keySchemaVersion = "schema_version"
	keyLastUpload    = "last_upload"
)

const upsertMetadata = `INSERT INTO metadata (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// GetMetadata returns the value stored under key, or ErrNotFound.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value.String, err
}

func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, upsertMetadata, key, value)
	return err
}

// GetLastUpload reports when a record was last created. The zero time
// means never.
func (d *Database) GetLastUpload(ctx context.Context) (time.Time, error) {
	v, err := d.GetMetadata(ctx, keyLastUpload)
	if errors.Is(err, ErrNotFound) || (err == nil && v == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

func (d *Database) SetLastUpload(ctx context.Context, t time.Time) error {
	v := ""
	if !t.IsZero() {
		v = t.UTC().Format(time.RFC3339)
	}
	return d.SetMetadata(ctx, keyLastUpload, v)
}
