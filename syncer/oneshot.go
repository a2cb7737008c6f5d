package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/containerman17/gcs-block-sync/catalog"
	"github.com/containerman17/gcs-block-sync/keys"
	"github.com/containerman17/gcs-block-sync/planner"
	"github.com/containerman17/gcs-block-sync/query"
)

// One-shot modes run a single cycle and return its result. Failures propagate
// unchanged; nothing is retried.

// RunOnce runs one cycle with the configured policy
func (d *Driver) RunOnce(ctx context.Context, lookahead uint64) (CycleResult, error) {
	d.setPhase(OneShot)
	defer d.setPhase(Done)
	return d.Cycle(ctx, d.cfg.Policy, lookahead, nil)
}

// RunRange fetches a fixed height range regardless of local coverage
func (d *Driver) RunRange(ctx context.Context, r planner.Range) (CycleResult, error) {
	d.setPhase(OneShot)
	defer d.setPhase(Done)

	snap, err := d.scanner.Scan(d.cfg.Dir, d.cfg.Network)
	if err != nil {
		return CycleResult{}, fmt.Errorf("scan %s: %w", d.cfg.Dir, err)
	}
	d.logger.Info("querying contiguous heights", "range", r)
	q := planner.Query{Range: r, Floor: r.Start}
	return d.copyBatch(ctx, snap, q, query.FromRange(d.cfg.Bucket, d.cfg.Network, r), "contiguous")
}

// RunAll copies every object of the network in one pattern
func (d *Driver) RunAll(ctx context.Context) (CycleResult, error) {
	d.setPhase(OneShot)
	defer d.setPhase(Done)

	snap, err := d.scanner.Scan(d.cfg.Dir, d.cfg.Network)
	if err != nil {
		return CycleResult{}, fmt.Errorf("scan %s: %w", d.cfg.Dir, err)
	}
	pattern := keys.RemoteNetworkPattern(d.cfg.Bucket, d.cfg.Network)
	d.logger.Info("querying all blocks", "pattern", pattern)
	q := planner.Query{Range: planner.Range{Start: 1, End: 0}}
	return d.copyBatch(ctx, snap, q, query.Single(pattern), "all")
}

// RunNewOnly fetches only what is plausibly missing at the top of the local
// range. The first run (no record of a previous full listing) lists the whole
// network once and fetches every listed key near or above the local max.
// Later runs, or runs with SkipFullListing, estimate the number of new
// heights from the time elapsed since the newest local file was written.
func (d *Driver) RunNewOnly(ctx context.Context) (CycleResult, error) {
	d.setPhase(OneShot)
	defer d.setPhase(Done)
	defer d.cleanupNewOnly()

	snap, err := d.scanner.Scan(d.cfg.Dir, d.cfg.Network)
	if err != nil {
		return CycleResult{}, fmt.Errorf("scan %s: %w", d.cfg.Dir, err)
	}
	newestAge, hasNewest := snap.NewestAge()
	if hasNewest {
		d.logger.Info("local max block", "height", snap.MaxHeight, "retrieved_ago", newestAge.Round(time.Second))
	}

	lastCheck, checked := d.lastFullCheck()
	if d.cfg.SkipFullListing || checked {
		if d.cfg.SkipFullListing {
			d.logger.Info("full listing skipped")
		} else {
			d.logger.Info("previous full listing found, searching for blocks since then", "checked_at", lastCheck.Format(time.RFC3339))
		}

		age := newestAge
		if !hasNewest && checked {
			age = d.now().Sub(lastCheck)
		}
		lookahead := planner.ElapsedLookahead(age, d.cfg.BlockSpacing)
		d.logger.Info("estimated new heights", "since", age.Round(time.Second), "lookahead", lookahead)
		return d.Cycle(ctx, d.cfg.Policy, lookahead, nil)
	}

	if d.lister == nil || d.store == nil || d.listing == nil {
		return CycleResult{}, ErrNoCatalogSource
	}

	d.logger.Info("listing all blocks in bucket, this may take a while", "bucket", d.cfg.Bucket)
	n, err := catalog.Refresh(ctx, d.lister, d.listing, d.store, d.cfg.Bucket, d.cfg.Network)
	if err != nil {
		return CycleResult{}, err
	}
	checkedAt := d.now()
	if top, ok := d.store.Max(d.cfg.Network); ok {
		d.logger.Info("blocks found in bucket", "count", n, "max_height", top)
	}

	floor := uint64(0)
	if snap.MaxHeight > d.cfg.TrailingMargin {
		floor = snap.MaxHeight - d.cfg.TrailingMargin
	}
	listed, err := d.store.Since(d.cfg.Network, floor)
	if err != nil {
		return CycleResult{}, fmt.Errorf("read catalog: %w", err)
	}

	res, err := d.Cycle(ctx, planner.FullRemoteCatalog(d.cfg.TrailingMargin), 0, listed)
	if err != nil {
		return res, err
	}
	if err := d.store.MarkChecked(d.cfg.Network, checkedAt); err != nil {
		return res, fmt.Errorf("mark full listing: %w", err)
	}
	return res, nil
}

// lastFullCheck reads the catalog marker. It is only written after a
// successful full-listing cycle; a leftover listing file proves nothing.
func (d *Driver) lastFullCheck() (time.Time, bool) {
	if d.store == nil {
		return time.Time{}, false
	}
	return d.store.LastChecked(d.cfg.Network)
}

// cleanupNewOnly clears the listing (keeping the file as a marker) and
// removes the batch file
func (d *Driver) cleanupNewOnly() {
	if d.listing != nil {
		if err := d.listing.Clear(); err != nil {
			d.logger.Warn("failed to clear listing file", "path", d.listing.Path(), "error", err)
		}
	}
	if d.store != nil {
		if err := d.store.Clear(d.cfg.Network); err != nil {
			d.logger.Warn("failed to clear catalog", "error", err)
		}
	}
	if err := d.batch.Remove(); err != nil {
		d.logger.Warn("failed to remove batch file", "path", d.batch.Path(), "error", err)
	}
}
