package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"gocloud.dev/blob"

	"github.com/ligustah/saucer/internal/progress"
	"github.com/ligustah/saucer/pkg/chunkstore"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultChunkSize     = 16 * 1024
	DefaultMaxConcurrent = 8
	DefaultRetries       = 2
)

// NoRetries as Options.Retries makes a single attempt per chunk.
const NoRetries = -1

// ErrCache wraps failures to open the chunk cache.
var ErrCache = errors.New("downloader: cache unavailable")

// CacheOptions selects where fetched chunks are kept.
type CacheOptions struct {
	// NoCache keeps chunks in memory only; nothing survives the process.
	NoCache bool

	// Dir is the root directory of the on-disk cache.
	Dir string

	// URL, if set, is a gocloud.dev bucket URL used instead of Dir.
	// The driver must be registered by the caller.
	URL string
}

// Options configures a download session.
type Options struct {
	// URL is the remote file.
	URL string

	// Output is the destination file. Empty means the last path segment of
	// URL in the current directory.
	Output string

	// ChunkSize is the size of each range request.
	// Default: 16 KiB
	ChunkSize int64

	// MaxConcurrent is the number of parallel fetches.
	// Default: 8
	MaxConcurrent int

	// Retries is the number of extra attempts per chunk. Use NoRetries
	// (or any negative value) for a single attempt.
	// Default: 2
	Retries int

	// Backoff and MaxBackoff control the wait between attempts.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Cache selects the chunk store.
	Cache CacheOptions

	// Clean removes cached chunks after a successful assembly.
	Clean bool

	// Progress, if non-nil, receives human-readable progress output.
	Progress io.Writer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
}

// Result describes a finished session.
type Result struct {
	// Session is the unique ID of this run, as seen in log records.
	Session string

	// ETag is the entity tag the content was fetched under.
	ETag string

	// Output is the assembled file.
	Output string

	// ResumedFrom is the first chunk fetched by this run.
	ResumedFrom int

	// Chunks and Fetched count chunks and bytes retrieved by this run.
	Chunks  int
	Fetched int64

	// Bytes is the size of the assembled file.
	Bytes int64
}

// Cache is an opened chunk store for one remote file and entity tag.
type Cache struct {
	chunkstore.Store

	// Location describes where chunks live, for display.
	Location string

	remove func(context.Context) error
	close  func() error
}

// Remove deletes every chunk held by the cache.
func (c *Cache) Remove(ctx context.Context) error {
	if c.remove == nil {
		return nil
	}
	return c.remove(ctx)
}

// Close releases resources held by the cache. Chunks are kept.
func (c *Cache) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// OpenCache opens the chunk store for rawURL under etag: in memory if
// NoCache is set, a bucket if URL is set, otherwise a directory under Dir.
func OpenCache(ctx context.Context, rawURL, etag string, opts CacheOptions) (*Cache, error) {
	c, err := openCache(ctx, rawURL, etag, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return c, nil
}

func openCache(ctx context.Context, rawURL, etag string, opts CacheOptions) (*Cache, error) {
	if opts.NoCache {
		return &Cache{Store: chunkstore.NewMemory(), Location: "memory"}, nil
	}

	namespace, err := chunkstore.Namespace(rawURL)
	if err != nil {
		return nil, err
	}

	if opts.URL != "" {
		bucket, err := blob.OpenBucket(ctx, opts.URL)
		if err != nil {
			return nil, fmt.Errorf("open bucket: %w", err)
		}
		store, err := chunkstore.NewBucket(bucket, namespace, etag)
		if err != nil {
			bucket.Close()
			return nil, err
		}
		return &Cache{
			Store:    store,
			Location: opts.URL + " (" + namespace + "/)",
			remove:   store.Remove,
			close:    bucket.Close,
		}, nil
	}

	if opts.Dir == "" {
		return nil, errors.New("no cache directory")
	}
	store, err := chunkstore.NewDisk(opts.Dir, namespace, etag)
	if err != nil {
		return nil, err
	}
	return &Cache{
		Store:    store,
		Location: store.Dir(),
		remove:   func(context.Context) error { return store.Remove() },
	}, nil
}

// DefaultOutput derives the output file name from the last path segment of
// rawURL.
func DefaultOutput(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("cannot derive output name from %q", rawURL)
	}
	return filepath.FromSlash(name), nil
}

// Download runs one session: probe the resource, fetch every missing chunk
// into the cache and assemble the output file. On a fetch failure persisted
// chunks are kept and no output is written, so a later call resumes.
func Download(ctx context.Context, transport Transport, opts Options) (*Result, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	switch {
	case opts.Retries == 0:
		opts.Retries = DefaultRetries
	case opts.Retries < 0:
		opts.Retries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.Output == "" {
		out, err := DefaultOutput(opts.URL)
		if err != nil {
			return nil, err
		}
		opts.Output = out
	}

	session := uuid.NewString()
	log := opts.Logger.With("session", session)

	ctx, span := opts.Tracer.Start(ctx, "saucer.download", trace.WithAttributes(
		attribute.String("session.id", session),
		attribute.String("url", opts.URL),
		attribute.Int64("chunk.size", opts.ChunkSize),
	))
	defer span.End()

	res, err := download(ctx, transport, opts, session, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func download(ctx context.Context, transport Transport, opts Options, session string, log *slog.Logger) (*Result, error) {
	if err := checkOutput(opts.Output); err != nil {
		return nil, err
	}

	info, err := Probe(ctx, transport, opts.URL)
	if err != nil {
		return nil, err
	}
	log.Info("probed remote file", "url", opts.URL, "etag", info.ETag, "size", info.Size)

	cache, err := OpenCache(ctx, opts.URL, info.ETag, opts.Cache)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	var reporter *progress.Reporter
	sched, err := NewScheduler(transport, cache, SchedulerOptions{
		URL:           opts.URL,
		ETag:          info.ETag,
		ChunkSize:     opts.ChunkSize,
		MaxConcurrent: opts.MaxConcurrent,
		Retries:       opts.Retries,
		Backoff:       opts.Backoff,
		MaxBackoff:    opts.MaxBackoff,
		Logger:        log,
		Tracer:        opts.Tracer,
	})
	if err != nil {
		return nil, err
	}

	start, err := sched.Resume(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("cache opened", "location", cache.Location, "first_gap", start)

	if opts.Progress != nil {
		reporter = progress.NewReporter(progress.Options{
			TotalSize:  info.Size,
			ChunkSize:  opts.ChunkSize,
			StartChunk: start,
			Workers:    opts.MaxConcurrent,
			Output:     opts.Progress,
			SourceURL:  opts.URL,
		})
		sched.opts.Progress = reporter
		reporter.Start()
		defer reporter.Stop()
	}

	stats, err := sched.Run(ctx)
	if err != nil {
		if !opts.Cache.NoCache && stats != nil {
			log.Info("fetch aborted, cached chunks kept for resume",
				"location", cache.Location, "stored", stats.Chunks)
		}
		return nil, err
	}
	if reporter != nil {
		reporter.Stop()
	}

	n, err := Assemble(ctx, cache, opts.Output)
	if err != nil {
		return nil, err
	}
	log.Info("output assembled", "output", opts.Output, "bytes", n)

	if opts.Clean && !opts.Cache.NoCache {
		if err := cache.Remove(ctx); err != nil {
			log.Warn("remove cached chunks", "location", cache.Location, "error", err)
		}
	}

	return &Result{
		Session:     session,
		ETag:        info.ETag,
		Output:      opts.Output,
		ResumedFrom: stats.Start,
		Chunks:      stats.Chunks,
		Fetched:     stats.Bytes,
		Bytes:       n,
	}, nil
}
