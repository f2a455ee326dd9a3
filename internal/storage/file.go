package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/providentiaww/dam-sync/internal/models"
)

// fileDocument is the on-disk layout of records.json.
type fileDocument struct {
	LastSync int64                `json:"last_sync"`
	Records  []models.LocalRecord `json:"records"`
	Files    []models.LocalFile   `json:"files"`
}

// FileStore keeps records, files and the sync cursor in a single JSON file.
// External edits to the file are picked up on the next call.
type FileStore struct {
	filePath    string
	records     map[string]models.LocalRecord
	files       map[string]models.LocalFile
	lastSync    int64
	lastModTime time.Time
	mu          sync.RWMutex
}

// NewFileStore creates a file-backed store, loading existing content if present.
func NewFileStore(filePath string) (*FileStore, error) {
	store := &FileStore{
		filePath: filePath,
		records:  make(map[string]models.LocalRecord),
		files:    make(map[string]models.LocalFile),
	}
	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	return store, nil
}

func (s *FileStore) load() error {
	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}

	var doc fileDocument
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse records JSON: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]models.LocalRecord, len(doc.Records))
	for _, rec := range doc.Records {
		s.records[rec.ID] = rec
	}
	s.files = make(map[string]models.LocalFile, len(doc.Files))
	for _, f := range doc.Files {
		s.files[f.ID] = f
	}
	s.lastSync = doc.LastSync

	if stat, err := os.Stat(absPath); err == nil {
		s.lastModTime = stat.ModTime()
	}
	return nil
}

// saveLocked writes the document atomically. Caller holds s.mu.
func (s *FileStore) saveLocked() error {
	doc := fileDocument{LastSync: s.lastSync}
	for _, rec := range s.records {
		doc.Records = append(doc.Records, rec)
	}
	for _, f := range s.files {
		doc.Files = append(doc.Files, f)
	}
	sort.Slice(doc.Records, func(i, j int) bool { return doc.Records[i].ID < doc.Records[j].ID })
	sort.Slice(doc.Files, func(i, j int) bool { return doc.Files[i].ID < doc.Files[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return err
	}

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, absPath); err != nil {
		return err
	}
	if stat, err := os.Stat(absPath); err == nil {
		s.lastModTime = stat.ModTime()
	}
	return nil
}

// checkAndReload reloads the file if it changed since the last load or save.
func (s *FileStore) checkAndReload() {
	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		return
	}
	stat, err := os.Stat(absPath)
	if err != nil {
		return
	}

	s.mu.RLock()
	lastMod := s.lastModTime
	s.mu.RUnlock()

	if stat.ModTime().After(lastMod) {
		_ = s.load()
	}
}

func (s *FileStore) GetRecord(ctx context.Context, id string) (*models.LocalRecord, error) {
	s.checkAndReload()

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *FileStore) FindByAssetIDs(ctx context.Context, assetIDs []string) ([]models.LocalRecord, error) {
	s.checkAndReload()

	wanted := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	var out []models.LocalRecord
	for _, rec := range s.records {
		if _, ok := wanted[rec.AssetID]; ok {
			out = append(out, *copyRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) SaveRecord(ctx context.Context, rec *models.LocalRecord) error {
	s.checkAndReload()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.records[rec.ID]; ok {
		rec.AssetID = existing.AssetID
		rec.CreatedAt = existing.CreatedAt
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = *copyRecord(*rec)
	return s.saveLocked()
}

func (s *FileStore) DeleteRecord(ctx context.Context, id string) error {
	s.checkAndReload()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	for fid, f := range s.files {
		if f.RecordID == id {
			delete(s.files, fid)
		}
	}
	return s.saveLocked()
}

func (s *FileStore) GetFile(ctx context.Context, id string) (*models.LocalFile, error) {
	s.checkAndReload()

	s.mu.RLock()
	f, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (s *FileStore) SaveFile(ctx context.Context, f *models.LocalFile) error {
	s.checkAndReload()

	s.mu.Lock()
	defer s.mu.Unlock()

	f.UpdatedAt = time.Now().UTC()
	s.files[f.ID] = *f
	return s.saveLocked()
}

func (s *FileStore) LastSync(ctx context.Context) (time.Time, error) {
	s.checkAndReload()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return timeFromUnix(s.lastSync), nil
}

func (s *FileStore) SetLastSync(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = unixOrZero(t)
	return s.saveLocked()
}

// Ping is a no-op for file-based storage
func (s *FileStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for file-based storage
func (s *FileStore) Close() error {
	return nil
}

func copyRecord(rec models.LocalRecord) *models.LocalRecord {
	out := rec
	if rec.Metadata != nil {
		out.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
