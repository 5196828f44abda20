package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/saucer/internal/config"
	"github.com/ligustah/saucer/internal/downloader"
	"github.com/ligustah/saucer/internal/progress"
)

// newStatusCmd reports how much of a remote file is cached, without
// fetching any chunk.
func newStatusCmd(a *app) *cobra.Command {
	var cache cacheFlags

	cmd := &cobra.Command{
		Use:   "status <url>",
		Short: "Show cached progress for a URL",
		Long: `Probe the URL for its current ETag and report how many chunks of that
version are cached. Does not download any data.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			override := config.Config{URL: args[0]}
			cache.apply(&override)

			cfg, err := a.loadConfig(cmd, override)
			if err != nil {
				return err
			}
			if cfg.NoCache {
				return usageError(errors.New("status needs a persistent cache"))
			}
			client, err := a.newClient(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context(), a.stderr, "")
			defer stop()

			info, err := downloader.Probe(ctx, client, cfg.URL)
			if err != nil {
				return err
			}

			c, err := downloader.OpenCache(ctx, cfg.URL, info.ETag, cacheOptions(cfg))
			if err != nil {
				return err
			}
			defer c.Close()

			gap, err := c.FirstGap(ctx)
			if err != nil {
				return storageError(fmt.Errorf("scan cache: %w", err))
			}
			var cached int64
			for i := 0; i < gap; i++ {
				data, err := c.Get(ctx, i)
				if err != nil {
					return storageError(fmt.Errorf("read chunk %d: %w", i, err))
				}
				cached += int64(len(data))
			}

			out := a.stdout
			fmt.Fprintf(out, "URL: %s\n", cfg.URL)
			fmt.Fprintf(out, "ETag: %s\n", info.ETag)
			if info.Size >= 0 {
				fmt.Fprintf(out, "Size: %s\n", progress.FormatBytes(info.Size))
			} else {
				fmt.Fprintln(out, "Size: unknown")
			}
			fmt.Fprintf(out, "Cache: %s\n", c.Location)
			fmt.Fprintf(out, "Cached: %d chunks (%s)\n", gap, progress.FormatBytes(cached))

			switch {
			case gap == 0:
				fmt.Fprintln(out, "Status: EMPTY")
			case info.Size >= 0 && cached >= info.Size:
				fmt.Fprintln(out, "Status: COMPLETE")
			default:
				fmt.Fprintf(out, "Status: PARTIAL (resumes at chunk %d)\n", gap)
			}
			return nil
		},
	}

	cache.register(cmd)
	return cmd
}
