package gsutil

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/containerman17/gcs-block-sync/remote"
)

const sampleOutput = `Copying gs://mina_network_block_data/mainnet-5-3NKa.json [Content-Type=application/json]...
Copying gs://mina_network_block_data/mainnet-6-3NKb.json...
Skipping existing item: file:///blocks/mainnet-4-3NKc.json
/ [2 files][ 12.1 KiB/ 12.1 KiB]
CommandException: No URLs matched: gs://mina_network_block_data/mainnet-7-*.json
CommandException: 1 file/object could not be transferred.
`

func TestParseReport(t *testing.T) {
	report, err := ParseReport(strings.NewReader(sampleOutput))
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}

	want := []remote.Result{
		{Key: "gs://mina_network_block_data/mainnet-5-3NKa.json", Outcome: remote.Copied},
		{Key: "gs://mina_network_block_data/mainnet-6-3NKb.json", Outcome: remote.Copied},
		{Key: "file:///blocks/mainnet-4-3NKc.json", Outcome: remote.AlreadyPresent},
		{Key: "gs://mina_network_block_data/mainnet-7-*.json", Outcome: remote.NotFound},
	}
	if len(report.Results) != len(want) {
		t.Fatalf("got %d results, want %d: %+v", len(report.Results), len(want), report.Results)
	}
	for i := range want {
		if report.Results[i] != want[i] {
			t.Errorf("result %d = %+v, want %+v", i, report.Results[i], want[i])
		}
	}
	if !report.Unmatched {
		t.Error("expected Unmatched")
	}
}

func TestParseReportAllCopied(t *testing.T) {
	report, err := ParseReport(strings.NewReader("Copying gs://b/mainnet-2-x.json...\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if report.Unmatched {
		t.Error("no CommandException, should not be unmatched")
	}
	if got := report.Copied(); len(got) != 1 || got[0] != "gs://b/mainnet-2-x.json" {
		t.Errorf("copied = %v", got)
	}
}

// fakeGsutil writes a shell script standing in for gsutil
func fakeGsutil(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gsutil")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientCopy(t *testing.T) {
	// Echo every stdin line back as a copy, then fail like gsutil does on a miss
	bin := fakeGsutil(t, `
[ "$1" = "-m" ] && [ "$2" = "cp" ] && [ "$3" = "-n" ] && [ "$4" = "-I" ] || exit 3
while read -r line; do
  case "$line" in
    *-9-*) echo "CommandException: No URLs matched: $line" >&2 ;;
    *) echo "Copying $line..." >&2 ;;
  esac
done
exit 1
`)
	batch := filepath.Join(t.TempDir(), "batch")
	if err := os.WriteFile(batch, []byte("gs://b/mainnet-8-*.json\ngs://b/mainnet-9-*.json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := New(WithBinary(bin)).Copy(context.Background(), t.TempDir(), batch)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if got := report.Copied(); len(got) != 1 || got[0] != "gs://b/mainnet-8-*.json" {
		t.Errorf("copied = %v", got)
	}
	if !report.Unmatched || report.Count(remote.NotFound) != 1 {
		t.Errorf("expected one not-found, got %+v", report)
	}
}

func TestClientCopyMissingBinary(t *testing.T) {
	batch := filepath.Join(t.TempDir(), "batch")
	if err := os.WriteFile(batch, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(WithBinary(filepath.Join(t.TempDir(), "no-such-gsutil")))

	if _, err := c.Copy(context.Background(), t.TempDir(), batch); !errors.Is(err, remote.ErrInvocation) {
		t.Errorf("Copy err = %v, want ErrInvocation", err)
	}
	if err := c.CheckInstalled(context.Background()); !errors.Is(err, remote.ErrInvocation) {
		t.Errorf("CheckInstalled err = %v, want ErrInvocation", err)
	}
}

func TestClientCopyInvalidUTF8(t *testing.T) {
	bin := fakeGsutil(t, `printf '\377\376' >&2`)
	batch := filepath.Join(t.TempDir(), "batch")
	if err := os.WriteFile(batch, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New(WithBinary(bin)).Copy(context.Background(), t.TempDir(), batch)
	if !errors.Is(err, remote.ErrInvocation) {
		t.Errorf("err = %v, want ErrInvocation", err)
	}
}

func TestClientList(t *testing.T) {
	bin := fakeGsutil(t, `
[ "$1" = "ls" ] || exit 3
echo "gs://b/mainnet-2-a.json"
echo "gs://b/mainnet-3-b.json"
`)
	var buf bytes.Buffer
	if err := New(WithBinary(bin), WithParallel(false)).List(context.Background(), "gs://b/mainnet-*-*.json", &buf); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if buf.String() != "gs://b/mainnet-2-a.json\ngs://b/mainnet-3-b.json\n" {
		t.Errorf("listing = %q", buf.String())
	}
}

func TestClientListNoMatches(t *testing.T) {
	bin := fakeGsutil(t, `echo "CommandException: One or more URLs matched no objects." >&2; exit 1`)
	var buf bytes.Buffer
	if err := New(WithBinary(bin)).List(context.Background(), "gs://b/x-*-*.json", &buf); err != nil {
		t.Errorf("no matches should not be an error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("listing = %q", buf.String())
	}
}
