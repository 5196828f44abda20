package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the total size in bytes to download, or -1 if unknown.
	TotalSize int64

	// ChunkSize is the size of each chunk.
	ChunkSize int64

	// StartChunk is the first chunk fetched in this run. Chunks before it
	// were restored from the cache.
	StartChunk int

	// Workers is the number of parallel fetches.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// SourceURL is the URL being downloaded (for display).
	SourceURL string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	totalSize       atomic.Int64
	completedBytes  atomic.Int64
	completedChunks atomic.Int32
	inProgress      atomic.Int32
	failed          atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastBytes       int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.TotalSize == 0 {
		opts.TotalSize = -1
	}

	r := &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.totalSize.Store(opts.TotalSize)
	return r
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[saucer] Downloading: %s\n", r.opts.SourceURL)
	fmt.Fprintf(r.opts.Output, "[saucer] Total size: %s | Chunk size: %s | Workers: %d\n",
		formatSize(r.totalSize.Load()),
		FormatBytes(r.opts.ChunkSize),
		r.opts.Workers,
	)
	if r.opts.StartChunk > 0 {
		fmt.Fprintf(r.opts.Output, "[saucer] Resuming at chunk %d\n", r.opts.StartChunk)
	}

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status. It is safe
// to call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// SetTotalSize records the total size once it becomes known.
func (r *Reporter) SetTotalSize(size int64) {
	r.totalSize.CompareAndSwap(-1, size)
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// ChunkCompleted marks a chunk of size bytes as stored.
func (r *Reporter) ChunkCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkDone marks an in-progress chunk as finished without data (end of
// stream).
func (r *Reporter) ChunkDone() {
	r.inProgress.Add(-1)
}

// ChunkFailed marks a chunk as failed (removes from in-progress).
func (r *Reporter) ChunkFailed() {
	r.failed.Add(1)
	r.inProgress.Add(-1)
}

// Completed returns the number of chunks and bytes stored so far.
func (r *Reporter) Completed() (chunks int, bytes int64) {
	return int(r.completedChunks.Load()), r.completedBytes.Load()
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	total := r.totalSize.Load()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	restored := int64(r.opts.StartChunk) * r.opts.ChunkSize
	percent := "?"
	eta := "unknown"
	if total > 0 {
		done := min(completed+restored, total)
		percent = fmt.Sprintf("%.1f%%", float64(done)/float64(total)*100)
		if speed > 0 {
			remaining := float64(total - done)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		} else {
			eta = "calculating..."
		}
	}

	fmt.Fprintf(r.opts.Output, "\r[saucer] Progress: %s | %s / %s | Speed: %s/s | ETA: %s | Chunks: %d done, %d in-flight    ",
		percent,
		FormatBytes(completed+restored),
		formatSize(total),
		FormatBytes(int64(speed)),
		eta,
		r.opts.StartChunk+int(r.completedChunks.Load()),
		r.inProgress.Load(),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[saucer] Fetched %d chunks (%s) in %s | Average speed: %s/s",
		r.completedChunks.Load(),
		FormatBytes(completed),
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
	if failed := r.failed.Load(); failed > 0 {
		fmt.Fprintf(r.opts.Output, " | %d failed", failed)
	}
	fmt.Fprintln(r.opts.Output)
}

func formatSize(b int64) string {
	if b < 0 {
		return "unknown"
	}
	return FormatBytes(b)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes with IEC units, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. IEC suffixes ("256MiB")
// are powers of 1024, SI suffixes ("1MB") powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("byte string %q out of range", s)
	}
	return int64(n), nil
}
