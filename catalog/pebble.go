// Package catalog caches a one-time listing of the remote bucket.
//
// Listed keys are indexed in pebble ordered by height, so "everything at or
// above height h" is a single bounded iteration. After use the index is
// cleared but the last-full-check marker is kept.
package catalog

import (
	"encoding/binary"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/containerman17/gcs-block-sync/keys"
)

const (
	entryKeyFormat   = "cat:%s:%020d:%s" // cat:{network}:{height}:{hash} -> bucket
	checkedKeyFormat = "checked:%s"      // checked:{network} -> unix nanos
)

// quietLogger silences info logs, keeps errors
type quietLogger struct{}

func (quietLogger) Infof(format string, args ...interface{}) {}
func (quietLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[pebble] "+format, args...)
}
func (quietLogger) Fatalf(format string, args ...interface{}) {
	log.Fatalf("[pebble] "+format, args...)
}

// Store is the pebble-backed catalog index
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{Logger: quietLogger{}})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(network string, height uint64, hash string) []byte {
	return []byte(fmt.Sprintf(entryKeyFormat, network, height, hash))
}

// networkBounds spans every entry of a network; ; sorts right after :
func networkBounds(network string) (lower, upper []byte) {
	return []byte("cat:" + network + ":"), []byte("cat:" + network + ";")
}

func parseEntry(network string, key, value []byte) (keys.BlockKey, bool) {
	rest, ok := strings.CutPrefix(string(key), "cat:"+network+":")
	if !ok {
		return keys.BlockKey{}, false
	}
	heightStr, hash, ok := strings.Cut(rest, ":")
	if !ok {
		return keys.BlockKey{}, false
	}
	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		return keys.BlockKey{}, false
	}
	return keys.BlockKey{Bucket: string(value), Network: network, Height: height, Hash: hash}, true
}

// Load indexes keys under network in one batch. Re-loading a key is a no-op.
func (s *Store) Load(network string, blockKeys []keys.BlockKey) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, k := range blockKeys {
		if err := batch.Set(entryKey(network, k.Height, k.Hash), []byte(k.Bucket), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Since returns every indexed key at or above floor, ascending by height then hash
func (s *Store) Since(network string, floor uint64) ([]keys.BlockKey, error) {
	_, upper := networkBounds(network)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(fmt.Sprintf("cat:%s:%020d:", network, floor)),
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	result := []keys.BlockKey{}
	for iter.First(); iter.Valid(); iter.Next() {
		k, ok := parseEntry(network, iter.Key(), iter.Value())
		if !ok {
			continue
		}
		result = append(result, k)
	}
	return result, iter.Error()
}

// Max returns the highest indexed height
func (s *Store) Max(network string) (uint64, bool) {
	lower, upper := networkBounds(network)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, false
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, false
	}
	k, ok := parseEntry(network, iter.Key(), iter.Value())
	return k.Height, ok
}

// Count returns how many keys are indexed for network
func (s *Store) Count(network string) (int, error) {
	lower, upper := networkBounds(network)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Clear drops the index for network; the last-check marker survives
func (s *Store) Clear(network string) error {
	lower, upper := networkBounds(network)
	return s.db.DeleteRange(lower, upper, pebble.Sync)
}

// MarkChecked records when the last full listing was taken
func (s *Store) MarkChecked(network string, at time.Time) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(at.UnixNano()))
	return s.db.Set([]byte(fmt.Sprintf(checkedKeyFormat, network)), data, pebble.Sync)
}

// LastChecked returns the time of the last full listing, if any
func (s *Store) LastChecked(network string) (time.Time, bool) {
	data, closer, err := s.db.Get([]byte(fmt.Sprintf(checkedKeyFormat, network)))
	if err != nil {
		return time.Time{}, false
	}
	defer closer.Close()
	if len(data) < 8 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(data))), true
}
