package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	saucerhttp "github.com/ligustah/saucer/internal/http"
	"github.com/ligustah/saucer/internal/progress"
	"github.com/ligustah/saucer/pkg/chunk"
	"github.com/ligustah/saucer/pkg/chunkstore"
)

// Transport performs the two requests a session needs. *http.Client from
// internal/http satisfies it.
type Transport interface {
	Head(ctx context.Context, url string) (*saucerhttp.Response, error)
	GetRange(ctx context.Context, url, byteRange, etag string) (*saucerhttp.Response, error)
}

// ChunkError is returned when a chunk fetch fails for good and aborts the
// session. Use errors.As to extract it.
type ChunkError struct {
	Index    int   // Chunk index
	Attempts int   // Number of fetch attempts made
	Err      error // The last error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// URL is the remote resource.
	URL string

	// ETag is sent verbatim in If-Match with every range request.
	ETag string

	// ChunkSize is the number of bytes per chunk.
	ChunkSize int64

	// MaxConcurrent bounds the number of fetches in flight.
	MaxConcurrent int

	// Retries is the number of extra attempts per chunk after the first.
	// Zero makes a single attempt.
	Retries int

	// Backoff is the initial wait between attempts. Zero retries
	// immediately.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts.
	// Default: 30s
	MaxBackoff time.Duration

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
}

// FetchStats summarises a scheduler run.
type FetchStats struct {
	// Start is the first index this run fetched; everything before it was
	// already in the store.
	Start int

	// Chunks and Bytes count what this run stored.
	Chunks int
	Bytes  int64
}

// Scheduler fetches chunks concurrently into a store until the remote
// resource is exhausted.
type Scheduler struct {
	transport Transport
	store     chunkstore.Store
	opts      SchedulerOptions
	log       *slog.Logger
	tracer    trace.Tracer

	start   int
	resumed bool
}

// NewScheduler validates opts and returns a scheduler writing into store.
func NewScheduler(transport Transport, store chunkstore.Store, opts SchedulerOptions) (*Scheduler, error) {
	if transport == nil {
		return nil, errors.New("downloader: nil transport")
	}
	if store == nil {
		return nil, errors.New("downloader: nil store")
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("downloader: chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("downloader: max concurrent must be positive, got %d", opts.MaxConcurrent)
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}

	s := &Scheduler{
		transport: transport,
		store:     store,
		opts:      opts,
		log:       opts.Logger,
		tracer:    opts.Tracer,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}
	return s, nil
}

// Resume returns the index the run starts at: the store's first gap. The
// result is computed once.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	if s.resumed {
		return s.start, nil
	}
	start, err := s.store.FirstGap(ctx)
	if err != nil {
		return 0, fmt.Errorf("find first gap: %w", err)
	}
	s.start, s.resumed = start, true
	return start, nil
}

// Run fetches every chunk from the first gap until the remote answers with
// end of stream. The first fatal chunk error cancels all in-flight fetches
// and is returned as a *ChunkError.
func (s *Scheduler) Run(ctx context.Context) (*FetchStats, error) {
	start, err := s.Resume(ctx)
	if err != nil {
		return nil, err
	}
	if start > 0 {
		s.log.Info("resuming from cache", "chunk", start)
	}

	var (
		eos     atomic.Bool
		fetched atomic.Int64
		bytes   atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	// Producer: strictly increasing indices, one at a time, until the
	// end-of-stream marker is set.
	g.Go(func() error {
		defer close(jobs)
		for index := start; !eos.Load(); index++ {
			held, err := s.store.Has(gctx, index)
			if err != nil {
				return fmt.Errorf("check chunk %d: %w", index, err)
			}
			if held {
				continue
			}

			select {
			case jobs <- index:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < s.opts.MaxConcurrent; i++ {
		g.Go(func() error {
			for index := range jobs {
				n, stored, err := s.fetch(gctx, index, &eos)
				if err != nil {
					return err
				}
				if stored {
					fetched.Add(1)
					bytes.Add(n)
				}
			}
			return nil
		})
	}

	err = g.Wait()
	stats := &FetchStats{
		Start:  start,
		Chunks: int(fetched.Load()),
		Bytes:  bytes.Load(),
	}

	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// fetch retrieves one chunk and stores it. It reports whether data was
// stored; end of stream stores nothing.
func (s *Scheduler) fetch(ctx context.Context, index int, eos *atomic.Bool) (int64, bool, error) {
	ctx, span := s.tracer.Start(ctx, "saucer.fetch_chunk",
		trace.WithAttributes(attribute.Int("chunk.index", index)))
	defer span.End()

	if s.opts.Progress != nil {
		s.opts.Progress.ChunkStarted()
	}

	byteRange := chunk.Range(index, s.opts.ChunkSize)

	var outcome chunk.Outcome
	attempts, err := s.retry(ctx, index, func(ctx context.Context) error {
		resp, err := s.transport.GetRange(ctx, s.opts.URL, byteRange, s.opts.ETag)
		if err != nil {
			return err
		}

		o, err := chunk.Classify(resp.StatusCode, index, resp.Body)
		if err != nil {
			return err
		}
		switch o := o.(type) {
		case chunk.InvalidETag:
			return o
		case chunk.UnknownStatus:
			return o
		case chunk.Data:
			s.learnTotal(resp)
		}
		outcome = o
		return nil
	})
	span.SetAttributes(attribute.Int("chunk.attempts", attempts))
	if err != nil {
		s.failed(span, err)
		return 0, false, &ChunkError{Index: index, Attempts: attempts, Err: err}
	}

	switch o := outcome.(type) {
	case chunk.EndOfStream:
		if eos.CompareAndSwap(false, true) {
			s.log.Debug("end of stream", "chunk", index)
		}
		if s.opts.Progress != nil {
			s.opts.Progress.ChunkDone()
		}
		return 0, false, nil

	case chunk.Data:
		if err := s.store.Set(ctx, o.Index, o.Bytes); err != nil {
			err = fmt.Errorf("store chunk: %w", err)
			s.failed(span, err)
			return 0, false, &ChunkError{Index: index, Attempts: attempts, Err: err}
		}
		n := int64(len(o.Bytes))
		span.SetAttributes(attribute.Int64("chunk.bytes", n))
		if s.opts.Progress != nil {
			s.opts.Progress.ChunkCompleted(n)
		}
		s.log.Debug("chunk stored", "chunk", index, "bytes", n, "attempts", attempts)
		return n, true, nil
	}

	return 0, false, fmt.Errorf("chunk %d: unexpected outcome %T", index, outcome)
}

func (s *Scheduler) failed(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if s.opts.Progress != nil {
		s.opts.Progress.ChunkFailed()
	}
}

// learnTotal feeds the resource size from Content-Range to the progress
// reporter when the existence check did not provide one.
func (s *Scheduler) learnTotal(resp *saucerhttp.Response) {
	if s.opts.Progress == nil || resp.StatusCode != http.StatusPartialContent {
		return
	}
	cr := resp.Header.Get("Content-Range")
	if cr == "" {
		return
	}
	if _, _, total, err := saucerhttp.ParseContentRange(cr); err == nil && total > 0 {
		s.opts.Progress.SetTotalSize(total)
	}
}

// retry runs try up to Retries+1 times and returns the number of attempts
// made with the last error.
func (s *Scheduler) retry(ctx context.Context, index int, try func(context.Context) error) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			s.log.Debug("retrying chunk", "chunk", index, "attempt", attempt+1, "error", lastErr)
			if err := s.backoff(ctx, attempt); err != nil {
				return attempt, lastErr
			}
		}

		lastErr = try(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			return attempt + 1, lastErr
		}
	}
	return s.opts.Retries + 1, lastErr
}

// backoff waits for an exponentially increasing duration with jitter.
func (s *Scheduler) backoff(ctx context.Context, attempt int) error {
	if s.opts.Backoff <= 0 {
		return ctx.Err()
	}

	backoff := s.opts.Backoff * time.Duration(1<<uint(attempt-1))
	if backoff > s.opts.MaxBackoff {
		backoff = s.opts.MaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
