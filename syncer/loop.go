package syncer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Run is continuous mode. It catches up with a large lookahead until a cycle
// finds nothing new, then polls forever with a small one. It returns nil when
// ctx is cancelled and an error once a cycle keeps failing past MaxRetries.
func (d *Driver) Run(ctx context.Context) error {
	defer d.setPhase(Done)

	d.setPhase(CatchingUp)
	d.logger.Info("doing the initial catchup", "lookahead", d.cfg.CatchUpLookahead)

	for {
		res, err := d.retryCycle(ctx, d.cfg.CatchUpLookahead)
		if err != nil {
			return d.stopped(ctx, err)
		}
		// No object matched: assume the remote frontier is reached. Copying
		// nothing at all means the next cycle would ask the same question.
		if res.RemoteSaidNotFound || len(res.Copied) == 0 {
			break
		}
	}

	if !sleep(ctx, d.cfg.PollInterval) {
		return d.stopped(ctx, nil)
	}

	d.setPhase(Polling)
	d.logger.Info("entering maintenance loop", "interval", d.cfg.PollInterval, "lookahead", d.cfg.PollLookahead)

	for {
		if _, err := d.retryCycle(ctx, d.cfg.PollLookahead); err != nil {
			return d.stopped(ctx, err)
		}
		if !sleep(ctx, d.cfg.PollInterval) {
			return d.stopped(ctx, nil)
		}
	}
}

func (d *Driver) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		d.logger.Info("shutdown requested, leaving sync loop")
		return nil
	}
	d.logger.Error("giving up", "error", err)
	return err
}

// retryCycle runs one cycle, retrying failures with exponential backoff
func (d *Driver) retryCycle(ctx context.Context, lookahead uint64) (CycleResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInitial
	b.MaxInterval = d.cfg.RetryMax
	b.MaxElapsedTime = 0

	var res CycleResult
	op := func() error {
		var err error
		res, err = d.Cycle(ctx, d.cfg.Policy, lookahead, nil)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("cycle failed, retrying", "error", err, "in", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, d.cfg.MaxRetries), ctx), notify)
	return res, err
}

// sleep waits for the specified duration or until context is cancelled.
// Returns true if duration elapsed, false if context was cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
