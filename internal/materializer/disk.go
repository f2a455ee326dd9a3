package materializer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/providentiaww/dam-sync/internal/models"
)

// DiskStore writes cached binaries under a root directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// Write stores data for recordID. When existing is set its identity is kept
// and its content, path and filename are replaced; otherwise a new file is
// created, renamed on collision with any file already on disk.
//
// If the replacement lands on a different path, the old path is returned as
// superseded and left on disk for the caller to remove once the new file is
// recorded.
func (d *DiskStore) Write(existing *models.LocalFile, recordID, filename string, data []byte) (f *models.LocalFile, superseded string, err error) {
	filename = sanitize(filename)

	dir := d.root
	if existing != nil && existing.Path != "" {
		dir = filepath.Dir(existing.Path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	target := filepath.Join(dir, filename)
	if existing == nil || target != existing.Path {
		target = uniquePath(target)
	}

	if err := writeAtomic(target, data); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	f = &models.LocalFile{
		ID:        uuid.NewString(),
		RecordID:  recordID,
		Path:      target,
		Filename:  filepath.Base(target),
		Size:      int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	}
	if existing != nil {
		f.ID = existing.ID
		if existing.Path != "" && existing.Path != target {
			superseded = existing.Path
		}
	}
	return f, superseded, nil
}

// RemovePath deletes a file by path; a missing file is not an error.
func (d *DiskStore) RemovePath(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Remove deletes a cached file; a missing file is not an error.
func (d *DiskStore) Remove(f *models.LocalFile) error {
	if f == nil {
		return nil
	}
	return d.RemovePath(f.Path)
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".dam-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, target); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// uniquePath returns p, or name_0.ext, name_1.ext... for the first that does not exist.
func uniquePath(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 0; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ext
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "asset"
	}
	return name
}
