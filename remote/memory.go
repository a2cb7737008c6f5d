package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/containerman17/gcs-block-sync/keys"
)

// MemoryBucket is an in-memory object store implementing Copier and Lister.
// It behaves like the real tool with no-clobber copies.
type MemoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte // full key -> body
	copies  int
	failErr error
}

var (
	_ Copier = (*MemoryBucket)(nil)
	_ Lister = (*MemoryBucket)(nil)
)

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: make(map[string][]byte)}
}

// Put stores an object under its full key
func (m *MemoryBucket) Put(k keys.BlockKey, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[k.String()] = body
}

// FailWith makes every later Copy and List fail with err wrapped in
// ErrInvocation. nil restores normal behaviour.
func (m *MemoryBucket) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Copies is how many Copy calls were made
func (m *MemoryBucket) Copies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copies
}

func (m *MemoryBucket) Copy(ctx context.Context, destDir, batchPath string) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies++

	if m.failErr != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvocation, m.failErr)
	}

	f, err := os.Open(batchPath)
	if err != nil {
		return Report{}, fmt.Errorf("%w: open batch: %v", ErrInvocation, err)
	}
	defer f.Close()

	var report Report
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		pattern := strings.TrimSpace(scanner.Text())
		if pattern == "" {
			continue
		}

		matched := m.match(pattern)
		if len(matched) == 0 {
			report.Results = append(report.Results, Result{Key: pattern, Outcome: NotFound})
			report.Unmatched = true
			continue
		}
		for _, key := range matched {
			outcome, err := m.copyOne(key, destDir)
			if err != nil {
				return report, err
			}
			report.Results = append(report.Results, Result{Key: key, Outcome: outcome})
		}
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("%w: read batch: %v", ErrInvocation, err)
	}
	return report, nil
}

func (m *MemoryBucket) copyOne(key, destDir string) (Outcome, error) {
	dest := filepath.Join(destDir, path.Base(key))
	if _, err := os.Stat(dest); err == nil {
		return AlreadyPresent, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	if err := os.WriteFile(dest, m.objects[key], 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	return Copied, nil
}

// match returns the stored keys matching pattern, sorted
func (m *MemoryBucket) match(pattern string) []string {
	var matched []string
	for key := range m.objects {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	return matched
}

func (m *MemoryBucket) List(ctx context.Context, pattern string, w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return fmt.Errorf("%w: %v", ErrInvocation, m.failErr)
	}
	for _, key := range m.match(pattern) {
		if _, err := fmt.Fprintln(w, key); err != nil {
			return err
		}
	}
	return nil
}
