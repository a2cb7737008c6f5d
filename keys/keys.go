// Package keys parses and formats block file names and remote object keys.
//
// Local files are named <network>-<height>-<hash>.json and remote objects live
// at gs://<bucket>/<network>-<height>-<hash>.json. Several hashes may share a
// height (forks), so height patterns always wildcard the hash.
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/containerman17/gcs-block-sync/consts"
)

var (
	ErrMalformedName = errors.New("malformed block filename")
	ErrMalformedKey  = errors.New("malformed remote key")
)

// BlockKey addresses one remote object
type BlockKey struct {
	Bucket  string
	Network string
	Height  uint64
	Hash    string
}

// LocalBlockFile is a block file found in the local directory
type LocalBlockFile struct {
	Network   string
	Height    uint64
	Hash      string
	Path      string
	CreatedAt time.Time
}

// ParseLocalFilename parses a bare file name (no directory).
// The last two dash-separated fields are height and hash; everything before
// them is the network, which may itself contain dashes.
func ParseLocalFilename(name string) (LocalBlockFile, error) {
	network, height, hash, ok := splitName(name)
	if !ok {
		return LocalBlockFile{}, fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	return LocalBlockFile{Network: network, Height: height, Hash: hash}, nil
}

// ParseRemoteKey parses gs://<bucket>/<network>-<height>-<hash>.json
func ParseRemoteKey(uri string) (BlockKey, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), consts.RemoteScheme)
	if !ok {
		return BlockKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, uri)
	}
	bucket, name, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.Contains(name, "/") {
		return BlockKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, uri)
	}
	network, height, hash, ok := splitName(name)
	if !ok {
		return BlockKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, uri)
	}
	return BlockKey{Bucket: bucket, Network: network, Height: height, Hash: hash}, nil
}

func splitName(name string) (network string, height uint64, hash string, ok bool) {
	stem, found := strings.CutSuffix(name, consts.BlockFileExt)
	if !found {
		return "", 0, "", false
	}

	hashSep := strings.LastIndexByte(stem, '-')
	if hashSep <= 0 {
		return "", 0, "", false
	}
	hash = stem[hashSep+1:]
	stem = stem[:hashSep]

	heightSep := strings.LastIndexByte(stem, '-')
	if heightSep <= 0 {
		return "", 0, "", false
	}
	network = stem[:heightSep]
	heightStr := stem[heightSep+1:]

	if hash == "" || strings.HasSuffix(network, "-") || !isDigits(heightStr) ||
		strings.ContainsAny(hash, "/*") || strings.ContainsAny(network, "/*") {
		return "", 0, "", false
	}
	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		return "", 0, "", false
	}
	return network, height, hash, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatRemotePattern matches every hash at one height
func FormatRemotePattern(bucket, network string, height uint64) string {
	return fmt.Sprintf("%s%s/%s-%d-*%s", consts.RemoteScheme, bucket, network, height, consts.BlockFileExt)
}

// RemoteNetworkPattern matches every object of a network in the bucket
func RemoteNetworkPattern(bucket, network string) string {
	return fmt.Sprintf("%s%s/%s-*-*%s", consts.RemoteScheme, bucket, network, consts.BlockFileExt)
}

// LocalPattern is the filepath.Match pattern for a network's local files
func LocalPattern(network string) string {
	return network + "-*-*" + consts.BlockFileExt
}

func (k BlockKey) String() string {
	return fmt.Sprintf("%s%s/%s", consts.RemoteScheme, k.Bucket, k.FileName())
}

// FileName is the object name without scheme and bucket, which is also the
// name the object gets when copied into the local directory
func (k BlockKey) FileName() string {
	return fmt.Sprintf("%s-%d-%s%s", k.Network, k.Height, k.Hash, consts.BlockFileExt)
}

// Name renders the file name back from its parts
func (f LocalBlockFile) Name() string {
	return fmt.Sprintf("%s-%d-%s%s", f.Network, f.Height, f.Hash, consts.BlockFileExt)
}
