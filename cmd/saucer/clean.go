package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/saucer/internal/config"
	"github.com/ligustah/saucer/internal/downloader"
)

// newCleanCmd removes the cached chunks of the current version of a URL.
func newCleanCmd(a *app) *cobra.Command {
	var cache cacheFlags

	cmd := &cobra.Command{
		Use:   "clean <url>",
		Short: "Remove cached chunks for a URL",
		Long: `Probe the URL for its current ETag and delete every cached chunk of
that version. Chunks cached under other ETags are left alone.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			override := config.Config{URL: args[0]}
			cache.apply(&override)

			cfg, err := a.loadConfig(cmd, override)
			if err != nil {
				return err
			}
			if cfg.NoCache {
				return usageError(errors.New("nothing to clean without a persistent cache"))
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

			if err := c.Remove(ctx); err != nil {
				return storageError(fmt.Errorf("remove cached chunks: %w", err))
			}

			fmt.Fprintf(a.stderr, "[saucer] Removed cached chunks for %s from %s\n", info.ETag, c.Location)
			return nil
		},
	}

	cache.register(cmd)
	return cmd
}
