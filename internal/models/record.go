package models

import "time"

// LocalRecord is a locally owned media item bound to exactly one remote asset.
// AssetID is fixed at creation; rebinding means deleting and recreating the record.
type LocalRecord struct {
	ID        string            `json:"id"`
	Bundle    string            `json:"bundle"`
	AssetID   string            `json:"asset_id"`
	Published bool              `json:"published"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FileID    string            `json:"file_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// HasFile reports whether a cached file is bound to the record.
func (r *LocalRecord) HasFile() bool {
	return r.FileID != ""
}

// LocalFile is the cached binary owned by a LocalRecord.
type LocalFile struct {
	ID        string    `json:"id"`
	RecordID  string    `json:"record_id"`
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
