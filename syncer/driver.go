// Package syncer drives sync cycles: scan the local directory, plan the next
// query, write the batch, hand it to the copier and report what arrived.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/containerman17/gcs-block-sync/catalog"
	"github.com/containerman17/gcs-block-sync/consts"
	"github.com/containerman17/gcs-block-sync/coverage"
	"github.com/containerman17/gcs-block-sync/keys"
	"github.com/containerman17/gcs-block-sync/metrics"
	"github.com/containerman17/gcs-block-sync/planner"
	"github.com/containerman17/gcs-block-sync/query"
	"github.com/containerman17/gcs-block-sync/remote"
)

var ErrNoCatalogSource = errors.New("full listing requested but no lister/catalog configured")

type Phase int32

const (
	Initializing Phase = iota
	CatchingUp
	Polling
	OneShot
	Done
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case CatchingUp:
		return "catching-up"
	case Polling:
		return "polling"
	case OneShot:
		return "one-shot"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type Config struct {
	Dir       string
	Network   string
	Bucket    string
	BatchPath string

	// Policy drives range planning in every mode except the first full
	// listing of RunNewOnly
	Policy planner.Policy

	CatchUpLookahead uint64
	PollInterval     time.Duration
	PollLookahead    uint64
	BlockSpacing     time.Duration
	TrailingMargin   uint64
	SkipFullListing  bool

	// Loop mode only: a failing cycle is retried with exponential backoff
	// up to MaxRetries times before Run gives up
	MaxRetries   uint64
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// CycleResult is what one cycle did
type CycleResult struct {
	Network            string        `json:"network"`
	Phase              Phase         `json:"-"`
	PhaseName          string        `json:"phase"`
	Policy             string        `json:"policy"`
	MaxHeight          uint64        `json:"maxHeight"`
	Range              planner.Range `json:"range"`
	Explicit           bool          `json:"explicit"`
	Patterns           int           `json:"patterns"`
	Copied             []string      `json:"copied"`
	AlreadyPresent     int           `json:"alreadyPresent"`
	NotFound           int           `json:"notFound"`
	RemoteSaidNotFound bool          `json:"remoteSaidNotFound"`
	At                 time.Time     `json:"at"`
	Duration           time.Duration `json:"duration"`
}

type Driver struct {
	cfg     Config
	scanner *coverage.Scanner
	copier  remote.Copier
	batch   *query.BatchFile
	logger  Logger
	notify  func(CycleResult)
	now     func() time.Time

	lister  remote.Lister
	listing *catalog.ListingFile
	store   *catalog.Store

	phase atomic.Int32
}

// Option configures the driver
type Option func(*Driver)

func WithLogger(l Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithNotify registers a callback invoked after every successful cycle
func WithNotify(fn func(CycleResult)) Option {
	return func(d *Driver) {
		d.notify = fn
	}
}

// WithCatalog enables the full remote listing path of RunNewOnly
func WithCatalog(lister remote.Lister, listing *catalog.ListingFile, store *catalog.Store) Option {
	return func(d *Driver) {
		d.lister = lister
		d.listing = listing
		d.store = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

func New(cfg Config, scanner *coverage.Scanner, copier remote.Copier, opts ...Option) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = consts.PollInterval
	}
	if cfg.BlockSpacing <= 0 {
		cfg.BlockSpacing = consts.BlockSpacing
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = consts.CycleRetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = consts.CycleRetryMax
	}

	d := &Driver{
		cfg:     cfg,
		scanner: scanner,
		copier:  copier,
		batch:   query.NewBatchFile(cfg.BatchPath),
		logger:  newDefaultLogger(cfg.Network),
		notify:  func(CycleResult) {},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.setPhase(Initializing)
	return d
}

func (d *Driver) Network() string {
	return d.cfg.Network
}

func (d *Driver) Phase() Phase {
	return Phase(d.phase.Load())
}

func (d *Driver) setPhase(p Phase) {
	d.phase.Store(int32(p))
	metrics.Phase.WithLabelValues(d.cfg.Network).Set(float64(p))
}

// Cycle runs scan -> plan -> materialize -> copy once. catalogKeys is only
// used by the full remote catalog policy.
func (d *Driver) Cycle(ctx context.Context, policy planner.Policy, lookahead uint64, catalogKeys []keys.BlockKey) (CycleResult, error) {
	if err := ctx.Err(); err != nil {
		return CycleResult{}, err
	}

	snap, err := d.scanner.Scan(d.cfg.Dir, d.cfg.Network)
	if err != nil {
		return CycleResult{}, fmt.Errorf("scan %s: %w", d.cfg.Dir, err)
	}
	d.logger.Info("scanned local blocks", "dir", d.cfg.Dir, "max_height", snap.MaxHeight, "files", snap.Files, "skipped", snap.Skipped)

	q, err := planner.Plan(snap, policy, lookahead, catalogKeys)
	if err != nil {
		return CycleResult{}, fmt.Errorf("plan: %w", err)
	}
	if q.Explicit {
		d.logger.Info("querying listed keys", "count", len(q.Keys), "from_height", q.Floor)
	} else {
		d.logger.Info("querying heights", "range", q.Range, "policy", policy)
	}

	return d.copyBatch(ctx, snap, q, query.FromQuery(d.cfg.Bucket, d.cfg.Network, q), policy.String())
}

func (d *Driver) copyBatch(ctx context.Context, snap coverage.Snapshot, q planner.Query, batch query.Batch, policy string) (CycleResult, error) {
	start := d.now()
	phase := d.Phase()
	res := CycleResult{
		Network:   d.cfg.Network,
		Phase:     phase,
		PhaseName: phase.String(),
		Policy:    policy,
		MaxHeight: snap.MaxHeight,
		Range:     q.Range,
		Explicit:  q.Explicit,
		Patterns:  batch.Len(),
		At:        start,
	}
	metrics.LocalMaxHeight.WithLabelValues(d.cfg.Network).Set(float64(snap.MaxHeight))
	metrics.BatchPatterns.WithLabelValues(d.cfg.Network).Set(float64(batch.Len()))

	if batch.Len() > 0 {
		if err := d.batch.Write(batch); err != nil {
			return res, fmt.Errorf("write batch: %w", err)
		}
		report, err := d.copier.Copy(ctx, d.cfg.Dir, d.batch.Path())
		if clearErr := d.batch.Clear(); clearErr != nil {
			d.logger.Warn("failed to clear batch file", "path", d.batch.Path(), "error", clearErr)
		}
		if err != nil {
			metrics.CopierErrorsTotal.WithLabelValues(d.cfg.Network).Inc()
			return res, fmt.Errorf("copy batch: %w", err)
		}

		res.Copied = report.Copied()
		res.AlreadyPresent = report.Count(remote.AlreadyPresent)
		res.NotFound = report.Count(remote.NotFound)
		res.RemoteSaidNotFound = report.Unmatched
	}
	res.Duration = d.now().Sub(start)

	for _, key := range res.Copied {
		d.logger.Info("copied", "key", key)
	}
	d.logger.Info("cycle done", "copied", len(res.Copied), "present", res.AlreadyPresent, "not_found", res.NotFound)

	metrics.CyclesTotal.WithLabelValues(d.cfg.Network, phase.String()).Inc()
	metrics.CopiedTotal.WithLabelValues(d.cfg.Network).Add(float64(len(res.Copied)))
	metrics.NotFoundTotal.WithLabelValues(d.cfg.Network).Add(float64(res.NotFound))
	d.notify(res)
	return res, nil
}
