// Package planner decides which heights (or exact keys) to ask the remote
// store for next. It is pure: no I/O, no clock.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/containerman17/gcs-block-sync/consts"
	"github.com/containerman17/gcs-block-sync/coverage"
	"github.com/containerman17/gcs-block-sync/keys"
)

var ErrNoCatalog = errors.New("full remote catalog policy needs a remote listing")

type Kind int

const (
	KindBuffered Kind = iota
	KindStrictForward
	KindExplicitStart
	KindFullRemoteCatalog
)

func (k Kind) String() string {
	switch k {
	case KindBuffered:
		return "buffered"
	case KindStrictForward:
		return "strict-forward"
	case KindExplicitStart:
		return "explicit-start"
	case KindFullRemoteCatalog:
		return "full-remote-catalog"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Policy selects how the next query is derived from local coverage.
// Floor 0 means consts.NetworkFloor.
type Policy struct {
	Kind           Kind
	Buffer         uint64 // KindBuffered
	Start          uint64 // KindExplicitStart
	TrailingMargin uint64 // KindFullRemoteCatalog
	Floor          uint64
}

// Buffered re-queries buffer heights below the local max
func Buffered(buffer uint64) Policy {
	return Policy{Kind: KindBuffered, Buffer: buffer}
}

// StrictForward never re-requests a height at or below the local max
func StrictForward() Policy {
	return Policy{Kind: KindStrictForward}
}

// ExplicitStart queries from a caller-given height regardless of coverage
func ExplicitStart(height uint64) Policy {
	return Policy{Kind: KindExplicitStart, Start: height}
}

// FullRemoteCatalog fetches listed keys at or above max height minus margin
func FullRemoteCatalog(margin uint64) Policy {
	return Policy{Kind: KindFullRemoteCatalog, TrailingMargin: margin}
}

func (p Policy) floor() uint64 {
	if p.Floor == 0 {
		return consts.NetworkFloor
	}
	return p.Floor
}

func (p Policy) String() string {
	switch p.Kind {
	case KindBuffered:
		return fmt.Sprintf("%s(buffer=%d)", p.Kind, p.Buffer)
	case KindExplicitStart:
		return fmt.Sprintf("%s(start=%d)", p.Kind, p.Start)
	case KindFullRemoteCatalog:
		return fmt.Sprintf("%s(margin=%d)", p.Kind, p.TrailingMargin)
	default:
		return p.Kind.String()
	}
}

// Range is an inclusive height range. Start > End means empty.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r Range) Empty() bool {
	return r.Start > r.End
}

func (r Range) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	if r.Empty() {
		return "empty"
	}
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// Query is either a contiguous range or an explicit key set
type Query struct {
	Range    Range
	Keys     []keys.BlockKey
	Explicit bool
	Floor    uint64 // lowest height the query may touch
}

// Size is the number of patterns the query materializes into
func (q Query) Size() int {
	if q.Explicit {
		return len(q.Keys)
	}
	return int(q.Range.Len())
}

// Plan computes the next query. lookahead is how far above the local max to
// probe; catalog is only consulted by KindFullRemoteCatalog.
func Plan(snap coverage.Snapshot, policy Policy, lookahead uint64, catalog []keys.BlockKey) (Query, error) {
	maxHeight := snap.MaxHeight
	floor := policy.floor()
	end := maxHeight + lookahead

	switch policy.Kind {
	case KindBuffered:
		start := max(floor, saturatingSub(maxHeight, policy.Buffer))
		return Query{Range: Range{Start: start, End: end}, Floor: start}, nil

	case KindStrictForward:
		start := max(floor, maxHeight+1)
		return Query{Range: Range{Start: start, End: end}, Floor: start}, nil

	case KindExplicitStart:
		start := max(floor, policy.Start)
		return Query{Range: Range{Start: start, End: end}, Floor: start}, nil

	case KindFullRemoteCatalog:
		if catalog == nil {
			return Query{}, ErrNoCatalog
		}
		cut := saturatingSub(maxHeight, policy.TrailingMargin)
		return Query{Keys: selectKeys(catalog, cut), Explicit: true, Floor: cut}, nil

	default:
		return Query{}, fmt.Errorf("unknown policy kind %d", policy.Kind)
	}
}

// selectKeys keeps keys at or above cut, sorted by height then hash.
// Fork variants at one height are all kept; only exact duplicates collapse.
func selectKeys(catalog []keys.BlockKey, cut uint64) []keys.BlockKey {
	seen := make(map[keys.BlockKey]struct{}, len(catalog))
	selected := make([]keys.BlockKey, 0, len(catalog))
	for _, k := range catalog {
		if k.Height < cut {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		selected = append(selected, k)
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Height != selected[j].Height {
			return selected[i].Height < selected[j].Height
		}
		return selected[i].Hash < selected[j].Hash
	})
	return selected
}

// Contiguous is the range of num heights starting at start
func Contiguous(start, num uint64) Range {
	if num == 0 {
		return Range{Start: 1, End: 0}
	}
	return Range{Start: start, End: start + num - 1}
}

// PollLookahead is how many heights could plausibly appear during one poll
// interval: interval/spacing + 1
func PollLookahead(interval, spacing time.Duration) uint64 {
	return perSpacing(interval, spacing) + 1
}

// ElapsedLookahead estimates how many heights appeared since the newest local
// file was written, assuming a roughly constant block interval. It is a
// candidate to probe, not a certainty.
func ElapsedLookahead(age, spacing time.Duration) uint64 {
	return perSpacing(age, spacing) + 1
}

func perSpacing(d, spacing time.Duration) uint64 {
	if d <= 0 || spacing <= 0 {
		return 0
	}
	return uint64(d / spacing)
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
