// Package coverage derives what the local block directory already holds.
//
// Nothing is cached between calls: every Scan reads the directory again, so the
// files on disk are always the source of truth.
package coverage

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/containerman17/gcs-block-sync/keys"
)

// Snapshot summarizes local coverage for one network at one moment
type Snapshot struct {
	MaxHeight uint64   // 0 if no files
	Heights   []uint64 // distinct heights, ascending
	Files     int      // parsed block files, forks included
	Skipped   int      // matching names that failed to parse

	newest    time.Time
	hasNewest bool
	takenAt   time.Time
}

// Empty reports whether no block file was found
func (s Snapshot) Empty() bool {
	return s.Files == 0
}

// NewestAge is the age of the file at the maximum height, if there is one
func (s Snapshot) NewestAge() (time.Duration, bool) {
	if !s.hasNewest {
		return 0, false
	}
	return max(0, s.takenAt.Sub(s.newest)), true
}

type Scanner struct {
	fs  Filesystem
	now func() time.Time
}

func NewScanner(fs Filesystem) *Scanner {
	return &Scanner{fs: fs, now: time.Now}
}

// WithClock replaces the time source used for file ages
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Files returns the parsed block files of a network sorted by height, then hash.
// Malformed names are skipped and counted.
func (s *Scanner) Files(dir, network string) ([]keys.LocalBlockFile, int, error) {
	infos, err := s.fs.List(dir, keys.LocalPattern(network))
	if err != nil {
		return nil, 0, err
	}

	files := make([]keys.LocalBlockFile, 0, len(infos))
	skipped := 0
	for _, info := range infos {
		f, err := keys.ParseLocalFilename(info.Name)
		if err != nil || f.Network != network {
			skipped++
			continue
		}
		f.Path = filepath.Join(dir, info.Name)
		f.CreatedAt = info.CreatedAt
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Height != files[j].Height {
			return files[i].Height < files[j].Height
		}
		return files[i].Hash < files[j].Hash
	})
	return files, skipped, nil
}

// Scan reduces the directory to a Snapshot
func (s *Scanner) Scan(dir, network string) (Snapshot, error) {
	files, skipped, err := s.Files(dir, network)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Files: len(files), Skipped: skipped, takenAt: s.now()}
	for _, f := range files {
		if len(snap.Heights) == 0 || snap.Heights[len(snap.Heights)-1] != f.Height {
			snap.Heights = append(snap.Heights, f.Height)
		}
		if f.Height > snap.MaxHeight {
			snap.MaxHeight = f.Height
			snap.newest = f.CreatedAt
			snap.hasNewest = true
		} else if f.Height == snap.MaxHeight {
			// Forks at the tip: the most recently written one counts
			if !snap.hasNewest || f.CreatedAt.After(snap.newest) {
				snap.newest = f.CreatedAt
				snap.hasNewest = true
			}
		}
	}
	return snap, nil
}

// NewestFileAge is the age of the file with the maximum height
func (s *Scanner) NewestFileAge(dir, network string) (time.Duration, bool, error) {
	snap, err := s.Scan(dir, network)
	if err != nil {
		return 0, false, err
	}
	age, ok := snap.NewestAge()
	return age, ok, nil
}
