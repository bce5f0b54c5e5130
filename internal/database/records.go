package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
)

var log = logging.Component("database")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// CreateRecord stores rec and returns it with its assigned ID and creation
// time. Storing the same path again replaces the earlier record's
// descriptive fields and keeps its ID.
func (d *Database) CreateRecord(ctx context.Context, rec mediatypes.MediaRecord) (mediatypes.MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_record", start, &err) }()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.Truncate(time.Second)

	var tags []byte
	tags, err = json.Marshal(nonNil(rec.Metadata.Tags))
	if err != nil {
		return rec, err
	}

	err = d.insertRecord(ctx, &rec, string(tags))
	if err != nil {
		return rec, fmt.Errorf("failed to store record for %s: %w", rec.Path, err)
	}
	if lerr := d.SetLastUpload(ctx, time.Now()); lerr != nil {
		log.Warn("Failed to update last upload time: %v", lerr)
	}
	return rec, nil
}

func (d *Database) insertRecord(ctx context.Context, rec *mediatypes.MediaRecord, tags string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created int64
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO media_records (id, file_name, path, kind, mime_type, size, title, category, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			file_name = excluded.file_name,
			kind = excluded.kind,
			mime_type = excluded.mime_type,
			size = excluded.size,
			title = excluded.title,
			category = excluded.category,
			tags = excluded.tags
		RETURNING id, created_at
	`, rec.ID, rec.FileName, rec.Path, string(rec.Kind), rec.MimeType, rec.SizeBytes,
		rec.Metadata.Title, rec.Metadata.Category, tags, rec.CreatedAt.Unix(),
	).Scan(&rec.ID, &created)
	if err != nil {
		return err
	}
	rec.CreatedAt = time.Unix(created, 0)
	return nil
}

const recordColumns = `id, file_name, path, kind, mime_type, size, title, category, tags, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (mediatypes.MediaRecord, error) {
	var (
		rec     mediatypes.MediaRecord
		kind    string
		tags    string
		created int64
	)
	err := row.Scan(&rec.ID, &rec.FileName, &rec.Path, &kind, &rec.MimeType, &rec.SizeBytes,
		&rec.Metadata.Title, &rec.Metadata.Category, &tags, &created)
	if err != nil {
		return rec, err
	}
	rec.Kind = mediatypes.MediaKind(kind)
	rec.CreatedAt = time.Unix(created, 0)
	if err := json.Unmarshal([]byte(tags), &rec.Metadata.Tags); err != nil {
		return rec, fmt.Errorf("corrupt tags for record %s: %w", rec.ID, err)
	}
	if len(rec.Metadata.Tags) == 0 {
		rec.Metadata.Tags = nil
	}
	return rec, nil
}

// GetRecord returns the record with id, or ErrNotFound.
func (d *Database) GetRecord(ctx context.Context, id string) (mediatypes.MediaRecord, error) {
	return d.getRecord(ctx, "get_record", "id", id)
}

// GetRecordByPath returns the record stored for path, or ErrNotFound.
func (d *Database) GetRecordByPath(ctx context.Context, path string) (mediatypes.MediaRecord, error) {
	return d.getRecord(ctx, "get_record_by_path", "path", path)
}

func (d *Database) getRecord(ctx context.Context, op, column, value string) (mediatypes.MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, &err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	// column is one of two constants above.
	row := d.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM media_records WHERE `+column+` = ?`, value)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return rec, ErrNotFound
	}
	return rec, err
}

// ListRecords returns records newest first. A kind of "" lists all kinds.
func (d *Database) ListRecords(ctx context.Context, kind mediatypes.MediaKind, limit, offset int) ([]mediatypes.MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_records", start, &err) }()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset = max(0, offset)

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM media_records
		WHERE ? = '' OR kind = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, string(kind), string(kind), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mediatypes.MediaRecord
	for rows.Next() {
		var rec mediatypes.MediaRecord
		rec, err = scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	err = rows.Err()
	return out, err
}

// DeleteRecord removes a record and its derivatives.
func (d *Database) DeleteRecord(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_record", start, &err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx, `DELETE FROM media_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddDerivative stores a successful transform of sourcePath. The derivative
// is linked to the source's record when one exists.
func (d *Database) AddDerivative(ctx context.Context, sourcePath string, result mediatypes.ProcessResult) (Derivative, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("add_derivative", start, &err) }()

	if !result.Success {
		err = fmt.Errorf("refusing to store failed %s result", result.Operation)
		return Derivative{}, err
	}

	der := Derivative{
		ID:                uuid.NewString(),
		SourcePath:        sourcePath,
		Operation:         result.Operation,
		OutputPath:        result.OutputPath,
		ThumbnailPaths:    result.ThumbnailPaths,
		Width:             result.Width,
		Height:            result.Height,
		DurationSeconds:   result.DurationSeconds,
		SizeBytes:         result.SizeBytes,
		OriginalSizeBytes: result.OriginalSizeBytes,
		CreatedAt:         time.Now().Truncate(time.Second),
	}
	var thumbs []byte
	thumbs, err = json.Marshal(nonNil(der.ThumbnailPaths))
	if err != nil {
		return der, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var recordID sql.NullString
	err = d.db.QueryRowContext(ctx, `SELECT id FROM media_records WHERE path = ?`, sourcePath).Scan(&recordID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return der, err
	}
	der.RecordID = recordID.String

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO derivatives (id, record_id, source_path, operation, output_path, thumbnail_paths,
			width, height, duration, size, original_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, der.ID, recordID, der.SourcePath, string(der.Operation), der.OutputPath, string(thumbs),
		der.Width, der.Height, der.DurationSeconds, der.SizeBytes, der.OriginalSizeBytes, der.CreatedAt.Unix())
	if err != nil {
		return der, fmt.Errorf("failed to store derivative of %s: %w", sourcePath, err)
	}
	return der, nil
}

// ListDerivatives returns the derivatives of a record, oldest first.
func (d *Database) ListDerivatives(ctx context.Context, recordID string) ([]Derivative, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_derivatives", start, &err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, `
		SELECT id, COALESCE(record_id, ''), source_path, operation, output_path, thumbnail_paths,
			width, height, duration, size, original_size, created_at
		FROM derivatives WHERE record_id = ?
		ORDER BY created_at, id
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Derivative
	for rows.Next() {
		var (
			der     Derivative
			op      string
			thumbs  string
			created int64
		)
		err = rows.Scan(&der.ID, &der.RecordID, &der.SourcePath, &op, &der.OutputPath, &thumbs,
			&der.Width, &der.Height, &der.DurationSeconds, &der.SizeBytes, &der.OriginalSizeBytes, &created)
		if err != nil {
			return nil, err
		}
		der.Operation = mediatypes.Operation(op)
		der.CreatedAt = time.Unix(created, 0)
		if err = json.Unmarshal([]byte(thumbs), &der.ThumbnailPaths); err != nil {
			return nil, err
		}
		if len(der.ThumbnailPaths) == 0 {
			der.ThumbnailPaths = nil
		}
		out = append(out, der)
	}
	err = rows.Err()
	return out, err
}

// Stats counts stored content and refreshes the record gauges.
func (d *Database) Stats(ctx context.Context) (Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("stats", start, &err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	stats := Stats{Records: make(map[mediatypes.MediaKind]int)}

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, `SELECT kind, COUNT(*), COALESCE(SUM(size), 0) FROM media_records GROUP BY kind`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind  string
			count int
			bytes int64
		)
		if err = rows.Scan(&kind, &count, &bytes); err != nil {
			return stats, err
		}
		stats.Records[mediatypes.MediaKind(kind)] = count
		stats.TotalBytes += bytes
	}
	if err = rows.Err(); err != nil {
		return stats, err
	}

	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(MAX(original_size - size, 0)), 0) FROM derivatives
	`).Scan(&stats.Derivatives, &stats.BytesSaved)
	if err != nil {
		return stats, err
	}

	for _, kind := range []mediatypes.MediaKind{mediatypes.KindImage, mediatypes.KindVideo, mediatypes.KindAudio, mediatypes.KindOther} {
		metrics.MediaRecordsTotal.WithLabelValues(string(kind)).Set(float64(stats.Records[kind]))
	}
	metrics.DerivativesTotal.Set(float64(stats.Derivatives))
	return stats, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
