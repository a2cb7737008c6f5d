// Package gsutil runs the gsutil command line tool as the production copier
// and lister.
package gsutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"unicode/utf8"

	"github.com/containerman17/gcs-block-sync/remote"
)

const InstallURL = "https://cloud.google.com/storage/docs/gsutil_install"

type Client struct {
	binary   string
	parallel bool
}

var (
	_ remote.Copier = (*Client)(nil)
	_ remote.Lister = (*Client)(nil)
)

// Option configures the client
type Option func(*Client)

// WithBinary overrides the gsutil executable (default: "gsutil" on PATH)
func WithBinary(path string) Option {
	return func(c *Client) {
		c.binary = path
	}
}

// WithParallel toggles gsutil's -m flag (default: true)
func WithParallel(enabled bool) Option {
	return func(c *Client) {
		c.parallel = enabled
	}
}

func New(opts ...Option) *Client {
	c := &Client{binary: "gsutil", parallel: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckInstalled fails when gsutil cannot be executed
func (c *Client) CheckInstalled(ctx context.Context) error {
	if err := exec.CommandContext(ctx, c.binary, "version").Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("%w: %s not runnable (see %s): %v", remote.ErrInvocation, c.binary, InstallURL, err)
	}
	return nil
}

func (c *Client) args(sub ...string) []string {
	if c.parallel {
		return append([]string{"-m"}, sub...)
	}
	return sub
}

// Copy runs `gsutil -m cp -n -I destDir` with the batch file on stdin.
// gsutil exits non-zero whenever a pattern matches nothing, so the exit
// status is not treated as failure; only a failure to run or undecodable
// output is.
func (c *Client) Copy(ctx context.Context, destDir, batchPath string) (remote.Report, error) {
	batch, err := os.Open(batchPath)
	if err != nil {
		return remote.Report{}, fmt.Errorf("%w: open batch %s: %v", remote.ErrInvocation, batchPath, err)
	}
	defer batch.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, c.args("cp", "-n", "-I", destDir)...)
	cmd.Stdin = batch
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return remote.Report{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return remote.Report{}, fmt.Errorf("%w: %s cp: %v", remote.ErrInvocation, c.binary, err)
		}
		log.Printf("[gsutil] cp exited with status %d", exitErr.ExitCode())
	}

	if !utf8.Valid(stderr.Bytes()) {
		return remote.Report{}, fmt.Errorf("%w: %s cp output is not valid UTF-8", remote.ErrInvocation, c.binary)
	}

	report, err := ParseReport(&stderr)
	if err != nil {
		return remote.Report{}, fmt.Errorf("%w: read cp output: %v", remote.ErrInvocation, err)
	}
	return report, nil
}

// List runs `gsutil -m ls pattern` writing the listing to w. A pattern that
// matches nothing yields an empty listing.
func (c *Client) List(ctx context.Context, pattern string, w io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, c.args("ls", pattern)...)
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s ls: %v", remote.ErrInvocation, c.binary, err)
		}
		report, _ := ParseReport(bytes.NewReader(stderr.Bytes()))
		if !report.Unmatched {
			return fmt.Errorf("%s ls %s: exit %d: %s", c.binary, pattern, exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
	}
	return nil
}
