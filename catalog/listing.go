package catalog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/containerman17/gcs-block-sync/keys"
	"github.com/containerman17/gcs-block-sync/remote"
)

// ListingFile holds the raw output of the last remote listing. It is cleared
// rather than deleted after use. The last full check is recorded by the
// store's marker, not by this file.
type ListingFile struct {
	path string
}

func NewListingFile(path string) *ListingFile {
	return &ListingFile{path: path}
}

func (f *ListingFile) Path() string {
	return f.path
}

// Lines returns the non-empty lines of the file
func (f *ListingFile) Lines() ([]string, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (f *ListingFile) Clear() error {
	err := os.Truncate(f.path, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Refresh lists the network's objects into file, indexes the parsed keys in
// store and returns how many were indexed. Lines that do not parse as keys of
// this network are skipped.
func Refresh(ctx context.Context, lister remote.Lister, file *ListingFile, store *Store, bucket, network string) (int, error) {
	out, err := os.Create(file.Path())
	if err != nil {
		return 0, fmt.Errorf("create listing file: %w", err)
	}
	listErr := lister.List(ctx, keys.RemoteNetworkPattern(bucket, network), out)
	if err := out.Close(); err != nil && listErr == nil {
		listErr = err
	}
	if listErr != nil {
		return 0, fmt.Errorf("list %s: %w", network, listErr)
	}

	lines, err := file.Lines()
	if err != nil {
		return 0, fmt.Errorf("read listing file: %w", err)
	}

	parsed := make([]keys.BlockKey, 0, len(lines))
	for _, line := range lines {
		k, err := keys.ParseRemoteKey(line)
		if err != nil || k.Network != network {
			continue
		}
		parsed = append(parsed, k)
	}

	if err := store.Clear(network); err != nil {
		return 0, fmt.Errorf("clear catalog: %w", err)
	}
	if err := store.Load(network, parsed); err != nil {
		return 0, fmt.Errorf("index listing: %w", err)
	}
	return store.Count(network)
}
