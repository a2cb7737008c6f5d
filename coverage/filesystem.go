package coverage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileInfo is the metadata the scanner needs about one local file
type FileInfo struct {
	Name      string
	CreatedAt time.Time
}

// Filesystem lists the files of one flat directory matching a name pattern
type Filesystem interface {
	List(dir, pattern string) ([]FileInfo, error)
}

// OSFilesystem reads the real directory. Subdirectories are not consulted.
//
// Block files are written once and never modified, so the modification time
// stands in for the creation time, which Go cannot read portably.
type OSFilesystem struct{}

var _ Filesystem = OSFilesystem{}

func (OSFilesystem) List(dir, pattern string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), CreatedAt: info.ModTime()})
	}
	return files, nil
}
