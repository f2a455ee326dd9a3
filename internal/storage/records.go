package storage

import (
	"context"
	"errors"
	"time"

	"github.com/providentiaww/dam-sync/internal/models"
)

// ErrNotFound is returned when a record or file does not exist.
var ErrNotFound = errors.New("not found")

// RecordStore persists local records and their cached files.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*models.LocalRecord, error)
	// FindByAssetIDs returns the records bound to any of the given asset ids.
	FindByAssetIDs(ctx context.Context, assetIDs []string) ([]models.LocalRecord, error)
	SaveRecord(ctx context.Context, record *models.LocalRecord) error
	// DeleteRecord removes the record and the file row it owns.
	DeleteRecord(ctx context.Context, id string) error
	GetFile(ctx context.Context, id string) (*models.LocalFile, error)
	SaveFile(ctx context.Context, file *models.LocalFile) error
	Ping(ctx context.Context) error
	Close() error
}

// CursorStore persists the sync watermark. A zero time means never synced.
type CursorStore interface {
	LastSync(ctx context.Context) (time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
