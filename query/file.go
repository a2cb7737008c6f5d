package query

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BatchFile is the on-disk handoff point between the driver and the copier.
// Writes go through a temp file and a rename, so a reader only ever sees a
// complete batch.
type BatchFile struct {
	path string
}

func NewBatchFile(path string) *BatchFile {
	return &BatchFile{path: path}
}

func (f *BatchFile) Path() string {
	return f.path
}

// Write replaces the file's contents with b
func (f *BatchFile) Write(b Batch) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create batch temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := b.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write batch: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync batch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("install batch: %w", err)
	}
	return nil
}

// Clear truncates the file so stale patterns never survive a cycle
func (f *BatchFile) Clear() error {
	err := os.Truncate(f.path, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Remove deletes the file; a missing file is not an error
func (f *BatchFile) Remove() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
