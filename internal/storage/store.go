package storage

import (
	"context"
	"fmt"
)

// Options selects and configures a persistence backend.
type Options struct {
	Driver      string // sqlite, postgres or file
	DatabaseURL string
	RecordsFile string
}

// Backend bundles the stores built from one set of Options. DB is nil for the file driver.
type Backend struct {
	Records RecordStore
	Cursor  CursorStore
	DB      *DB
}

// NewBackend opens the configured backend.
// With the file driver records, files and the cursor live in RecordsFile;
// otherwise they share one SQL connection.
func NewBackend(ctx context.Context, opts Options) (*Backend, error) {
	switch opts.Driver {
	case "file":
		store, err := NewFileStore(opts.RecordsFile)
		if err != nil {
			return nil, err
		}
		return &Backend{Records: store, Cursor: store}, nil
	case "sqlite", "postgres":
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set for the %s driver", opts.Driver)
		}
		db, err := Open(ctx, opts.Driver, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Backend{Records: store, Cursor: store, DB: db}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}
