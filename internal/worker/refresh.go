package worker

import (
	"context"
	"errors"

	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/storage"
)

// AssetFetcher loads one remote asset.
type AssetFetcher interface {
	GetAsset(ctx context.Context, id string) (*dam.Asset, error)
}

// Materializer writes an asset into the local cache and removes cached files.
type Materializer interface {
	Materialize(ctx context.Context, rec *models.LocalRecord, asset *dam.Asset) error
	Discard(ctx context.Context, rec *models.LocalRecord) error
}

// RefreshWorker reconciles one record with the DAM per job.
type RefreshWorker struct {
	records              storage.RecordStore
	assets               AssetFetcher
	materializer         Materializer
	deleteOnRemoteRemove bool
	log                  logging.Logger
}

func NewRefreshWorker(records storage.RecordStore, assets AssetFetcher, materializer Materializer, deleteOnRemoteRemove bool, logger logging.Logger) *RefreshWorker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RefreshWorker{
		records:              records,
		assets:               assets,
		materializer:         materializer,
		deleteOnRemoteRemove: deleteOnRemoteRemove,
		log:                  logger.With("RefreshWorker"),
	}
}

// Process runs one job and returns what should happen to it.
func (w *RefreshWorker) Process(ctx context.Context, job *models.ReconciliationJob) Decision {
	if job.RecordID == "" {
		return Decision{Action: Complete}
	}

	rec, err := w.records.GetRecord(ctx, job.RecordID)
	if errors.Is(err, storage.ErrNotFound) {
		w.log.Errorf("Unable to load record %s in order to refresh the associated asset. Was the record deleted?", job.RecordID)
		return Decision{Action: Complete}
	}
	if err != nil {
		w.log.Errorf("Failed to load record %s: %v", job.RecordID, err)
		return Decision{Action: Suspend, Reason: err.Error()}
	}

	if rec.AssetID == "" {
		w.log.Errorf("Unable to load asset ID from record %s. The local and DAM relationship may be broken, please check the record.", rec.ID)
		return Decision{Action: Complete}
	}

	asset, err := w.assets.GetAsset(ctx, rec.AssetID)
	if err != nil {
		d := Classify(err)
		if d.Action != Proceed {
			w.log.Errorf("Failed to load asset %s for record %s (%s): %v", rec.AssetID, rec.ID, d.Action, err)
			return d
		}
		asset = nil
	}

	if asset.Removed() {
		return w.handleRemoved(ctx, rec)
	}

	if err := w.materializer.Materialize(ctx, rec, asset); err != nil {
		w.log.Errorf("Failed to refresh record %s from asset %s: %v", rec.ID, rec.AssetID, err)
		return Decision{Action: Suspend, Reason: err.Error()}
	}
	return Decision{Action: Complete}
}

func (w *RefreshWorker) handleRemoved(ctx context.Context, rec *models.LocalRecord) Decision {
	if w.deleteOnRemoteRemove && rec.Published {
		if err := w.materializer.Discard(ctx, rec); err != nil {
			w.log.Warnf("Failed to remove cached file of record %s: %v", rec.ID, err)
		}
		if err := w.records.DeleteRecord(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			w.log.Errorf("Failed to delete record %s: %v", rec.ID, err)
			return Decision{Action: Suspend, Reason: err.Error()}
		}
		w.log.Warnf("Deleted record %s with asset id %s.", rec.ID, rec.AssetID)
		return Decision{Action: Complete}
	}

	w.log.Warnf("Unable to update record %s with information from asset %s because the asset was missing. This warning will continue to appear until the record has been deleted.", rec.ID, rec.AssetID)
	return Decision{Action: Complete}
}
