package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/containerman17/gcs-block-sync/api"
	"github.com/containerman17/gcs-block-sync/catalog"
	"github.com/containerman17/gcs-block-sync/config"
	"github.com/containerman17/gcs-block-sync/coverage"
	"github.com/containerman17/gcs-block-sync/gsutil"
	"github.com/containerman17/gcs-block-sync/metrics"
	"github.com/containerman17/gcs-block-sync/planner"
	"github.com/containerman17/gcs-block-sync/syncer"

	"golang.org/x/sync/errgroup"
)

const usage = `Download block files from a GCS bucket with ease!

Usage: blocksync <mode> [flags]

Modes:
  all         download every block of the network
  contiguous  download a contiguous range of heights
  new-only    only download the most recent blocks absent from the blocks dir
  loop        run the block fetcher in a continuous loop

Run "blocksync <mode> -h" for the flags of a mode.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	mode, err := config.ParseMode(os.Args[1])
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		log.Fatalf("%v", err)
	}

	cfg, err := config.Load(mode, os.Args[2:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		log.Fatalf("%s failed: %v", mode, err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	client := gsutil.New(gsutil.WithBinary(cfg.GsutilBinary), gsutil.WithParallel(cfg.Parallel))
	if err := client.CheckInstalled(ctx); err != nil {
		return fmt.Errorf("gsutil is required, install it from %s: %w", gsutil.InstallURL, err)
	}

	if err := os.MkdirAll(cfg.LocalDirectory, 0o755); err != nil {
		return fmt.Errorf("create blocks dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.BatchFile), 0o755); err != nil {
		return fmt.Errorf("create query file dir: %w", err)
	}
	log.Printf("Blocks dir %s, bucket %s, networks %v", cfg.LocalDirectory, cfg.BucketName, cfg.Networks())

	scanner := coverage.NewScanner(coverage.OSFilesystem{})
	for _, network := range cfg.Networks() {
		metrics.InitNetwork(network)
	}

	if cfg.Mode == config.ModeLoop {
		return runLoop(ctx, cfg, scanner, client)
	}

	network := cfg.Networks()[0]
	var (
		res syncer.CycleResult
		err error
	)
	switch cfg.Mode {
	case config.ModeAll:
		res, err = syncer.New(cfg.Syncer(network), scanner, client).RunAll(ctx)
	case config.ModeContiguous:
		r := planner.Contiguous(cfg.ContiguousStart, cfg.ContiguousCount)
		res, err = syncer.New(cfg.Syncer(network), scanner, client).RunRange(ctx, r)
	case config.ModeNewOnly:
		res, err = runNewOnly(ctx, cfg, network, scanner, client)
	}
	if err != nil {
		return err
	}
	log.Printf("Done: %d copied, %d already present, %d not found", len(res.Copied), res.AlreadyPresent, res.NotFound)
	return nil
}

func runNewOnly(ctx context.Context, cfg config.Config, network string, scanner *coverage.Scanner, client *gsutil.Client) (syncer.CycleResult, error) {
	var opts []syncer.Option
	if !cfg.SkipFullListing {
		store, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			return syncer.CycleResult{}, fmt.Errorf("open catalog: %w", err)
		}
		defer store.Close()
		opts = append(opts, syncer.WithCatalog(client, catalog.NewListingFile(cfg.ListingFile), store))
	}
	return syncer.New(cfg.Syncer(network), scanner, client, opts...).RunNewOnly(ctx)
}

// runLoop syncs every configured network until ctx is cancelled or one of
// them gives up
func runLoop(ctx context.Context, cfg config.Config, scanner *coverage.Scanner, client *gsutil.Client) error {
	notify := func(syncer.CycleResult) {}
	if cfg.ServerAddr != "" {
		server := api.NewServer()
		if _, err := server.Start(cfg.ServerAddr); err != nil {
			return err
		}
		defer server.Stop()
		notify = server.Publish
	}
	if cfg.MetricsAddr != "" {
		metrics.StartServer(cfg.MetricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, network := range cfg.Networks() {
		d := syncer.New(cfg.Syncer(network), scanner, client, syncer.WithNotify(notify))
		g.Go(func() error {
			if err := d.Run(gctx); err != nil {
				return fmt.Errorf("network %s: %w", network, err)
			}
			return nil
		})
	}
	err := g.Wait()
	log.Printf("Sync loop stopped")
	return err
}
