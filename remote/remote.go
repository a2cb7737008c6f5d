// Package remote defines what the sync driver needs from the object store:
// a copier that fetches a batch of patterns into a directory and a lister
// that enumerates keys. Adapters translate whatever the real tool prints into
// the structured Report below.
package remote

import (
	"context"
	"errors"
	"io"
)

// ErrInvocation means the copier or lister could not be run at all, or its
// output could not be decoded. It is fatal for the cycle.
var ErrInvocation = errors.New("remote tool invocation failed")

type Outcome int

const (
	Copied Outcome = iota
	AlreadyPresent
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Copied:
		return "copied"
	case AlreadyPresent:
		return "already-present"
	case NotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Result is the outcome for one key or pattern
type Result struct {
	Key     string
	Outcome Outcome
}

// Report is everything a copy produced. Unmatched is set when the remote side
// reported that (part of) the batch matched no object at all.
type Report struct {
	Results   []Result
	Unmatched bool
}

// Copied returns the keys that were actually transferred, in report order
func (r Report) Copied() []string {
	var copied []string
	for _, res := range r.Results {
		if res.Outcome == Copied {
			copied = append(copied, res.Key)
		}
	}
	return copied
}

func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Copier copies every object matching a line of the batch file into destDir,
// skipping objects already there. Zero matches for a pattern is not an error.
type Copier interface {
	Copy(ctx context.Context, destDir, batchPath string) (Report, error)
}

// Lister writes the fully-qualified keys matching pattern to w, one per line
type Lister interface {
	List(ctx context.Context, pattern string, w io.Writer) error
}
