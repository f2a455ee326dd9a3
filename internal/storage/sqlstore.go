package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/providentiaww/dam-sync/internal/models"
)

// maxInArgs bounds the IN list of a single lookup query.
const maxInArgs = 500

// SQLStore implements RecordStore and CursorStore on Postgres or SQLite.
type SQLStore struct {
	db *DB
}

// NewSQLStore creates the schema if needed and returns the store.
func NewSQLStore(ctx context.Context, db *DB) (*SQLStore, error) {
	store := &SQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// DB exposes the underlying connection for stores sharing it.
func (s *SQLStore) DB() *DB {
	return s.db
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dam_records (
			id VARCHAR(255) PRIMARY KEY,
			bundle VARCHAR(255) NOT NULL,
			asset_id VARCHAR(255) NOT NULL,
			published INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			file_id VARCHAR(255) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dam_records_asset_id ON dam_records(asset_id)`,
		`CREATE TABLE IF NOT EXISTS dam_files (
			id VARCHAR(255) PRIMARY KEY,
			record_id VARCHAR(255) NOT NULL,
			path TEXT NOT NULL,
			filename VARCHAR(500) NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dam_files_record_id ON dam_files(record_id)`,
		`CREATE TABLE IF NOT EXISTS dam_sync_state (
			name VARCHAR(64) PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const recordColumns = `id, bundle, asset_id, published, metadata, file_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.LocalRecord, error) {
	var rec models.LocalRecord
	var published int64
	var metadata string
	var createdAt, updatedAt int64

	if err := row.Scan(&rec.ID, &rec.Bundle, &rec.AssetID, &published, &metadata, &rec.FileID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Published = published != 0
	rec.CreatedAt = timeFromUnix(createdAt)
	rec.UpdatedAt = timeFromUnix(updatedAt)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of record %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// GetRecord loads one record by id.
func (s *SQLStore) GetRecord(ctx context.Context, id string) (*models.LocalRecord, error) {
	query := s.db.Rebind(`SELECT ` + recordColumns + ` FROM dam_records WHERE id = ?`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// FindByAssetIDs returns records bound to the given asset ids, ordered by id.
func (s *SQLStore) FindByAssetIDs(ctx context.Context, assetIDs []string) ([]models.LocalRecord, error) {
	var records []models.LocalRecord
	for start := 0; start < len(assetIDs); start += maxInArgs {
		end := start + maxInArgs
		if end > len(assetIDs) {
			end = len(assetIDs)
		}
		chunk := assetIDs[start:end]

		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := s.db.Rebind(`SELECT ` + recordColumns + ` FROM dam_records WHERE asset_id IN (` + Placeholders(len(chunk)) + `) ORDER BY id`)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to find records by asset id: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			records = append(records, *rec)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

// SaveRecord inserts or updates a record. AssetID is never changed on update.
func (s *SQLStore) SaveRecord(ctx context.Context, rec *models.LocalRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if rec.Metadata == nil {
		metadata = []byte("{}")
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	published := 0
	if rec.Published {
		published = 1
	}

	query := s.db.Rebind(`
		INSERT INTO dam_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			bundle = excluded.bundle,
			published = excluded.published,
			metadata = excluded.metadata,
			file_id = excluded.file_id,
			updated_at = excluded.updated_at
	`)
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Bundle,
		rec.AssetID,
		published,
		string(metadata),
		rec.FileID,
		rec.CreatedAt.Unix(),
		rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteRecord removes a record and its file rows in one transaction.
func (s *SQLStore) DeleteRecord(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM dam_files WHERE record_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete files of record %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM dam_records WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// GetFile loads a cached file row.
func (s *SQLStore) GetFile(ctx context.Context, id string) (*models.LocalFile, error) {
	var f models.LocalFile
	var updatedAt int64
	query := s.db.Rebind(`SELECT id, record_id, path, filename, size, updated_at FROM dam_files WHERE id = ?`)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&f.ID, &f.RecordID, &f.Path, &f.Filename, &f.Size, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", id, err)
	}
	f.UpdatedAt = timeFromUnix(updatedAt)
	return &f, nil
}

// SaveFile inserts or updates a cached file row.
func (s *SQLStore) SaveFile(ctx context.Context, f *models.LocalFile) error {
	f.UpdatedAt = time.Now().UTC()
	query := s.db.Rebind(`
		INSERT INTO dam_files (id, record_id, path, filename, size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			record_id = excluded.record_id,
			path = excluded.path,
			filename = excluded.filename,
			size = excluded.size,
			updated_at = excluded.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query, f.ID, f.RecordID, f.Path, f.Filename, f.Size, f.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save file %s: %w", f.ID, err)
	}
	return nil
}

// LastSync returns the stored watermark.
func (s *SQLStore) LastSync(ctx context.Context) (time.Time, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT value FROM dam_sync_state WHERE name = ?`), "last_sync").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync: %w", err)
	}
	return timeFromUnix(value), nil
}

// SetLastSync stores the watermark.
func (s *SQLStore) SetLastSync(ctx context.Context, t time.Time) error {
	query := s.db.Rebind(`
		INSERT INTO dam_sync_state (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`)
	if _, err := s.db.ExecContext(ctx, query, "last_sync", unixOrZero(t)); err != nil {
		return fmt.Errorf("failed to store last sync: %w", err)
	}
	return nil
}

// Ping tests the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}
