package materializer

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/storage"
)

// Downloader fetches asset binaries.
type Downloader interface {
	DownloadOriginal(ctx context.Context, id string) ([]byte, error)
	DownloadRendition(ctx context.Context, rawURL string, query url.Values) ([]byte, error)
}

// Materializer refreshes a record's cached file and metadata from its asset.
type Materializer struct {
	downloader Downloader
	records    storage.RecordStore
	disk       *DiskStore
	opts       Options
	log        logging.Logger
}

func New(downloader Downloader, records storage.RecordStore, disk *DiskStore, opts Options, logger logging.Logger) *Materializer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Materializer{
		downloader: downloader,
		records:    records,
		disk:       disk,
		opts:       opts,
		log:        logger.With("Materializer"),
	}
}

// Materialize downloads the chosen representation, writes it over the
// record's existing file (or a new one) and saves the record with refreshed metadata.
func (m *Materializer) Materialize(ctx context.Context, rec *models.LocalRecord, asset *dam.Asset) error {
	plan, err := Resolve(asset, m.opts)
	if err != nil {
		return fmt.Errorf("asset %s: %w", asset.ID, err)
	}

	var data []byte
	if plan.Original {
		data, err = m.downloader.DownloadOriginal(ctx, asset.ID)
	} else {
		data, err = m.downloader.DownloadRendition(ctx, plan.URL, plan.Query)
	}
	if err != nil {
		return fmt.Errorf("failed to download asset %s: %w", asset.ID, err)
	}

	existing, err := m.boundFile(ctx, rec)
	if err != nil {
		return err
	}

	file, superseded, err := m.disk.Write(existing, rec.ID, plan.Filename, data)
	if err != nil {
		return err
	}
	if err := m.records.SaveFile(ctx, file); err != nil {
		m.dropUnrecorded(file, existing)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	rec.FileID = file.ID
	rec.Metadata = refreshMetadata(rec.Metadata, asset)
	if err := m.records.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// The old path is only released once the store points at the new one.
	if err := m.disk.RemovePath(superseded); err != nil {
		m.log.Warnf("Could not remove superseded file %s for record %s: %v", superseded, rec.ID, err)
	}

	m.log.Debugf("Refreshed record %s from asset %s into %s (%d bytes)", rec.ID, asset.ID, file.Path, file.Size)
	return nil
}

// Discard removes the record's cached file from disk.
func (m *Materializer) Discard(ctx context.Context, rec *models.LocalRecord) error {
	f, err := m.boundFile(ctx, rec)
	if err != nil || f == nil {
		return err
	}
	return m.disk.Remove(f)
}

// dropUnrecorded removes a freshly written file the store never accepted,
// unless it overwrote the existing file in place.
func (m *Materializer) dropUnrecorded(file, existing *models.LocalFile) {
	if existing != nil && existing.Path == file.Path {
		return
	}
	if err := m.disk.RemovePath(file.Path); err != nil {
		m.log.Warnf("Could not remove unrecorded file %s: %v", file.Path, err)
	}
}

func (m *Materializer) boundFile(ctx context.Context, rec *models.LocalRecord) (*models.LocalFile, error) {
	if !rec.HasFile() {
		return nil, nil
	}
	f, err := m.records.GetFile(ctx, rec.FileID)
	if errors.Is(err, storage.ErrNotFound) {
		m.log.Warnf("Record %s references missing file %s, creating a new one", rec.ID, rec.FileID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return f, nil
}

func refreshMetadata(current map[string]string, asset *dam.Asset) map[string]string {
	out := make(map[string]string, len(dam.MetadataLabels))
	for k, v := range current {
		out[k] = v
	}
	for name := range dam.MetadataLabels {
		if value, ok := dam.AssetMetadata(asset, name); ok {
			out[name] = value
		} else {
			delete(out, name)
		}
	}
	return out
}
