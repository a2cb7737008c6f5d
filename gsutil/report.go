package gsutil

import (
	"bufio"
	"io"
	"strings"

	"github.com/containerman17/gcs-block-sync/remote"
)

const (
	copyingPrefix   = "Copying "
	skippingPrefix  = "Skipping existing item: "
	exceptionPrefix = "CommandException"
	noMatchMarker   = "No URLs matched: "
)

// ParseReport translates gsutil's stderr into structured results.
//
//	Copying gs://b/mainnet-5-h.json...          -> Copied
//	Skipping existing item: file://dir/x.json   -> AlreadyPresent
//	CommandException: No URLs matched: gs://... -> NotFound
//
// Any other CommandException line (e.g. the "N files/objects could not be
// transferred" summary) only marks the report as unmatched.
func ParseReport(r io.Reader) (remote.Report, error) {
	var report remote.Report
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.HasPrefix(line, copyingPrefix):
			key := strings.TrimPrefix(line, copyingPrefix)
			// "Copying gs://b/k.json [Content-Type=application/json]..."
			if i := strings.IndexAny(key, " ["); i >= 0 {
				key = key[:i]
			}
			key = strings.TrimSuffix(key, "...")
			report.Results = append(report.Results, remote.Result{Key: key, Outcome: remote.Copied})

		case strings.HasPrefix(line, skippingPrefix):
			key := strings.TrimSpace(strings.TrimPrefix(line, skippingPrefix))
			report.Results = append(report.Results, remote.Result{Key: key, Outcome: remote.AlreadyPresent})

		case strings.HasPrefix(line, exceptionPrefix):
			report.Unmatched = true
			if _, pattern, ok := strings.Cut(line, noMatchMarker); ok {
				report.Results = append(report.Results, remote.Result{Key: strings.TrimSpace(pattern), Outcome: remote.NotFound})
			}
		}
	}
	return report, scanner.Err()
}
