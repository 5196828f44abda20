package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/ligustah/saucer/internal/config"
	"github.com/ligustah/saucer/internal/downloader"
	"github.com/ligustah/saucer/internal/progress"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		cache     cacheFlags
		override  config.Config
		chunkSize string
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download a file in resumable chunks",
		Long: `Download a file in parallel byte ranges.

The output goes to the last path segment of the URL in the current
directory unless -o is given; an existing file is never overwritten.
Chunks are cached between runs (see --cache-dir and --cache-url), so
running the same command again after a failure resumes the download.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			override.URL = args[0]
			cache.apply(&override)
			if chunkSize != "" {
				n, err := progress.ParseBytes(chunkSize)
				if err != nil {
					return usageError(fmt.Errorf("chunk size: %w", err))
				}
				override.ChunkSize = n
			}

			cfg, err := a.loadConfig(cmd, override)
			if err != nil {
				return err
			}
			client, err := a.newClient(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context(), a.stderr, "\n[saucer] Received interrupt, shutting down...")
			defer stop()

			var progressOut io.Writer
			if cfg.Progress {
				progressOut = a.stderr
			}

			res, err := downloader.Download(ctx, client, downloader.Options{
				URL:           cfg.URL,
				Output:        cfg.Output,
				ChunkSize:     cfg.ChunkSize,
				MaxConcurrent: cfg.Workers,
				Retries:       retries(cfg.Retry.Attempts),
				Backoff:       cfg.Retry.Backoff,
				MaxBackoff:    cfg.Retry.MaxBackoff,
				Cache:         cacheOptions(cfg),
				Clean:         cfg.Clean,
				Progress:      progressOut,
				Logger:        a.log,
				Tracer:        otel.Tracer("github.com/ligustah/saucer"),
			})
			if err != nil {
				if ctx.Err() != nil && !cfg.NoCache {
					fmt.Fprintln(a.stderr, "[saucer] Fetch interrupted, cached chunks kept for resume")
				}
				return err
			}

			fmt.Fprintf(a.stderr, "[saucer] Saved %s (%s)\n", res.Output, progress.FormatBytes(res.Bytes))
			if res.ResumedFrom > 0 {
				fmt.Fprintf(a.stderr, "[saucer] Resumed at chunk %d, fetched %s this run\n",
					res.ResumedFrom, progress.FormatBytes(res.Fetched))
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&override.Output, "output", "o", "", "Output file (default: last URL path segment)")
	fs.StringVar(&chunkSize, "chunk-size", "", "Size of each range request (default 16KiB)")
	fs.IntVarP(&override.Workers, "workers", "w", 0, "Parallel fetches (default 8)")
	fs.IntVar(&override.Retry.Attempts, "retries", 0, "Extra attempts per chunk (default 2)")
	fs.DurationVar(&override.Retry.Backoff, "backoff", 0, "Initial wait between attempts (default 250ms)")
	fs.DurationVar(&override.Retry.MaxBackoff, "max-backoff", 0, "Max wait between attempts (default 5s)")
	fs.IntVar(&override.HTTP.RPS, "rps", 0, "Limit requests per second (0 = unlimited)")
	fs.IntVar(&override.HTTP.Burst, "burst", 0, "Request burst size when --rps is set")
	fs.DurationVar(&override.HTTP.Timeout, "timeout", 0, "Per-request timeout (default 30s)")
	fs.BoolVar(&override.Progress, "progress", false, "Show progress output")
	fs.BoolVar(&override.Clean, "clean", false, "Remove cached chunks after a successful download")
	cache.register(cmd)

	return cmd
}

// retries converts the configured number of extra attempts for
// downloader.Options, where zero would select the default.
func retries(n int) int {
	if n == 0 {
		return downloader.NoRetries
	}
	return n
}
