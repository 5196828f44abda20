package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ligustah/saucer/internal/config"
	"github.com/ligustah/saucer/internal/downloader"
	saucerhttp "github.com/ligustah/saucer/internal/http"
	"github.com/ligustah/saucer/pkg/chunk"
	"github.com/ligustah/saucer/pkg/chunkstore"
)

// errUsage marks errors caused by bad command line input.
var errUsage = errors.New("invalid arguments")

func usageError(err error) error {
	return fmt.Errorf("%w: %w", errUsage, err)
}

// errStorage marks failures of the chunk cache.
var errStorage = errors.New("storage error")

func storageError(err error) error {
	return fmt.Errorf("%w: %w", errStorage, err)
}

// app holds state shared by all commands.
type app struct {
	stdout, stderr io.Writer

	configPath string
	verbose    int

	log *slog.Logger
}

// cacheFlags are the flags every command uses to locate cached chunks.
type cacheFlags struct {
	noCache  bool
	cacheDir string
	cacheURL string
}

func (f *cacheFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.noCache, "no-cache", false, "Keep chunks in memory only (no resume)")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "Directory for cached chunks (default "+config.DefaultCacheDir()+")")
	fs.StringVar(&f.cacheURL, "cache-url", "", "Bucket URL for cached chunks, e.g. s3://bucket or file:///path")
}

func (f *cacheFlags) apply(cfg *config.Config) {
	cfg.NoCache = f.noCache
	cfg.CacheDir = f.cacheDir
	cfg.CacheURL = f.cacheURL
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "saucer",
		Short: "Resumable chunked HTTP downloads",
		Long: `saucer downloads a file over HTTP as fixed-size byte ranges fetched in
parallel. Chunks are cached under the file's ETag, so an interrupted
download picks up where it stopped. If the remote file changes, the
download aborts instead of mixing versions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.log = newLogger(stderr, a.verbose)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().CountVarP(&a.verbose, "verbose", "v", "Log more (-v info, -vv debug)")

	root.AddCommand(newFetchCmd(a), newStatusCmd(a), newCleanCmd(a))
	return root
}

func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// exactArgs is cobra.ExactArgs with errors mapped to ExitInvalidArgs.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// loadConfig layers defaults, the config file, SAUCER_* variables and
// command line flags, in that order.
func (a *app) loadConfig(cmd *cobra.Command, override config.Config) (config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(a.configPath); err != nil {
			return cfg, usageError(err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, usageError(err)
	}

	cfg = cfg.Merge(override)

	// Merge skips zero values; these flags may legitimately be zero.
	if cmd.Flags().Changed("retries") {
		cfg.Retry.Attempts = override.Retry.Attempts
	}
	if cmd.Flags().Changed("backoff") {
		cfg.Retry.Backoff = override.Retry.Backoff
	}

	if err := cfg.Validate(); err != nil {
		return cfg, usageError(err)
	}
	return cfg, nil
}

func (a *app) newClient(cfg config.Config) (*saucerhttp.Client, error) {
	opts := saucerhttp.DefaultOptions()
	opts.MaxIdleConnsPerHost = cfg.Workers * 2
	if cfg.HTTP.Timeout > 0 {
		opts.Timeout = cfg.HTTP.Timeout
	}
	opts.RPS = cfg.HTTP.RPS
	opts.Burst = cfg.HTTP.Burst
	opts.MaxBodySize = cfg.ChunkSize
	opts.Logger = a.log

	client, err := saucerhttp.NewClient(opts)
	if err != nil {
		return nil, usageError(err)
	}
	return client, nil
}

func cacheOptions(cfg config.Config) downloader.CacheOptions {
	return downloader.CacheOptions{
		NoCache: cfg.NoCache,
		Dir:     cfg.CacheDir,
		URL:     cfg.CacheURL,
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, stderr io.Writer, msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			if msg != "" {
				fmt.Fprintln(stderr, msg)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func exitCode(err error) int {
	var (
		notOK   *downloader.NotOKError
		multi   *downloader.MultipleETagsError
		invalid chunk.InvalidETag
		missing *chunkstore.MissingChunkError
	)

	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errUsage):
		return ExitInvalidArgs
	case errors.Is(err, downloader.ErrOutputExists):
		return ExitOutputExists
	case errors.As(err, &notOK), errors.As(err, &multi), errors.Is(err, downloader.ErrNoETag):
		return ExitSourceNotAccess
	case errors.As(err, &invalid):
		return ExitSourceChanged
	case errors.Is(err, errStorage), errors.Is(err, downloader.ErrCache),
		errors.Is(err, chunkstore.ErrChunkExists), errors.As(err, &missing):
		return ExitStorageError
	default:
		return ExitGeneralError
	}
}
