// Package query renders planned heights or keys into the pattern batch handed
// to the copier.
package query

import (
	"bufio"
	"io"

	"github.com/containerman17/gcs-block-sync/keys"
	"github.com/containerman17/gcs-block-sync/planner"
)

// Batch is an ordered list of remote key patterns, one per line on disk
type Batch struct {
	Patterns []string
}

func (b Batch) Len() int {
	return len(b.Patterns)
}

// FromRange emits one wildcard pattern per height in r, ascending
func FromRange(bucket, network string, r planner.Range) Batch {
	if r.Empty() {
		return Batch{}
	}
	patterns := make([]string, 0, r.Len())
	for h := r.Start; ; h++ {
		patterns = append(patterns, keys.FormatRemotePattern(bucket, network, h))
		if h == r.End {
			break
		}
	}
	return Batch{Patterns: patterns}
}

// FromKeys emits one exact key per entry at or above floor. Several keys may
// share a height; all of them are kept.
func FromKeys(blockKeys []keys.BlockKey, floor uint64) Batch {
	patterns := make([]string, 0, len(blockKeys))
	for _, k := range blockKeys {
		if k.Height < floor {
			continue
		}
		patterns = append(patterns, k.String())
	}
	return Batch{Patterns: patterns}
}

// FromQuery materializes whichever shape the planner produced
func FromQuery(bucket, network string, q planner.Query) Batch {
	if q.Explicit {
		return FromKeys(q.Keys, q.Floor)
	}
	return FromRange(bucket, network, q.Range)
}

// Single wraps one pattern, used to copy a whole network at once
func Single(pattern string) Batch {
	return Batch{Patterns: []string{pattern}}
}

// WriteTo writes the patterns newline-separated
func (b Batch) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, p := range b.Patterns {
		m, err := bw.WriteString(p)
		n += int64(m)
		if err != nil {
			return n, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}
