package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/providentiaww/dam-sync/internal/models"
)

type fullStore interface {
	RecordStore
	CursorStore
}

func backends(t *testing.T) map[string]fullStore {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sqlBackend, err := NewBackend(ctx, Options{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "sync.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlBackend.Records.Close() })

	fileStore, err := NewFileStore(filepath.Join(dir, "records.json"))
	require.NoError(t, err)

	return map[string]fullStore{
		"sqlite": sqlBackend.Records.(*SQLStore),
		"file":   fileStore,
	}
}

func TestRecordLifecycle(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetRecord(ctx, "r1")
			require.ErrorIs(t, err, ErrNotFound)

			rec := &models.LocalRecord{
				ID:        "r1",
				Bundle:    "image",
				AssetID:   "asset-1",
				Published: true,
				Metadata:  map[string]string{"filename": "a.jpg"},
			}
			require.NoError(t, store.SaveRecord(ctx, rec))
			require.False(t, rec.CreatedAt.IsZero())

			got, err := store.GetRecord(ctx, "r1")
			require.NoError(t, err)
			require.Equal(t, "asset-1", got.AssetID)
			require.True(t, got.Published)
			require.Equal(t, "a.jpg", got.Metadata["filename"])

			f := &models.LocalFile{ID: "f1", RecordID: "r1", Path: "/tmp/a.jpg", Filename: "a.jpg", Size: 3}
			require.NoError(t, store.SaveFile(ctx, f))
			got.FileID = "f1"
			require.NoError(t, store.SaveRecord(ctx, got))

			loaded, err := store.GetFile(ctx, "f1")
			require.NoError(t, err)
			require.Equal(t, "a.jpg", loaded.Filename)

			require.NoError(t, store.DeleteRecord(ctx, "r1"))
			_, err = store.GetRecord(ctx, "r1")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = store.GetFile(ctx, "f1")
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, store.DeleteRecord(ctx, "r1"), ErrNotFound)
		})
	}
}

func TestFindByAssetIDs(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, rec := range []models.LocalRecord{
				{ID: "r1", Bundle: "image", AssetID: "a1"},
				{ID: "r2", Bundle: "image", AssetID: "a2"},
				{ID: "r3", Bundle: "video", AssetID: "a1"},
				{ID: "r4", Bundle: "image", AssetID: "a9"},
			} {
				rec := rec
				require.NoError(t, store.SaveRecord(ctx, &rec))
			}

			found, err := store.FindByAssetIDs(ctx, []string{"a1", "a2", "missing"})
			require.NoError(t, err)
			ids := make([]string, 0, len(found))
			for _, r := range found {
				ids = append(ids, r.ID)
			}
			require.Equal(t, []string{"r1", "r2", "r3"}, ids)

			none, err := store.FindByAssetIDs(ctx, nil)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestCursorDefaultsToZero(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			last, err := store.LastSync(ctx)
			require.NoError(t, err)
			require.True(t, last.IsZero())

			at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
			require.NoError(t, store.SetLastSync(ctx, at))

			last, err = store.LastSync(ctx)
			require.NoError(t, err)
			require.True(t, at.Equal(last))
		})
	}
}

func TestFileStoreReloadsExternalEdits(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveRecord(ctx, &models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1"}))

	doc := `{"last_sync":0,"records":[{"id":"r2","bundle":"image","asset_id":"a2","published":false}],"files":[]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	_, err = store.GetRecord(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
	rec, err := store.GetRecord(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, "a2", rec.AssetID)
}

func TestRebindForPostgres(t *testing.T) {
	pg := &DB{Driver: "postgres"}
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.Rebind("SELECT * FROM t WHERE a = ? AND b IN ("+Placeholders(2)+")"))

	lite := &DB{Driver: "sqlite"}
	require.Equal(t, "a = ?", lite.Rebind("a = ?"))
}
