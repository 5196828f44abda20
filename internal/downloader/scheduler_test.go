package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	saucerhttp "github.com/ligustah/saucer/internal/http"
	"github.com/ligustah/saucer/internal/progress"
	"github.com/ligustah/saucer/pkg/chunk"
	"github.com/ligustah/saucer/pkg/chunkstore"
)

// fakeTransport serves a byte slice in memory and lets tests replace the
// response for individual chunk requests.
type fakeTransport struct {
	data      []byte
	etag      string
	chunkSize int64

	mu       sync.Mutex
	calls    map[int]int
	override func(index, call int) *saucerhttp.Response
}

func newFakeTransport(data []byte, chunkSize int64) *fakeTransport {
	return &fakeTransport{
		data:      data,
		etag:      `"fake"`,
		chunkSize: chunkSize,
		calls:     make(map[int]int),
	}
}

func (f *fakeTransport) Head(ctx context.Context, url string) (*saucerhttp.Response, error) {
	h := http.Header{}
	h.Set("ETag", f.etag)
	return &saucerhttp.Response{StatusCode: http.StatusOK, Header: h}, nil
}

func (f *fakeTransport) GetRange(ctx context.Context, url, byteRange, etag string) (*saucerhttp.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var start, end int64
	if _, err := fmt.Sscanf(byteRange, "bytes=%d-%d", &start, &end); err != nil {
		return nil, fmt.Errorf("fake: bad range %q: %w", byteRange, err)
	}
	index := int(start / f.chunkSize)

	f.mu.Lock()
	f.calls[index]++
	call := f.calls[index]
	override := f.override
	f.mu.Unlock()

	if override != nil {
		if resp := override(index, call); resp != nil {
			return resp, nil
		}
	}

	if start >= int64(len(f.data)) {
		return &saucerhttp.Response{StatusCode: http.StatusRequestedRangeNotSatisfiable, Header: http.Header{}, Body: []byte{}}, nil
	}
	if end >= int64(len(f.data)) {
		end = int64(len(f.data)) - 1
	}
	return &saucerhttp.Response{
		StatusCode: http.StatusPartialContent,
		Header:     http.Header{},
		Body:       bytes.Clone(f.data[start : end+1]),
	}, nil
}

func (f *fakeTransport) callsFor(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[index]
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestClassifyHead(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		etags   []string
		want    string
		wantErr func(error) bool
	}{
		{
			name:  "single etag",
			code:  http.StatusOK,
			etags: []string{`"abc"`},
			want:  `"abc"`,
		},
		{
			name:  "weak etag kept verbatim",
			code:  http.StatusOK,
			etags: []string{`W/"abc"`},
			want:  `W/"abc"`,
		},
		{
			name:    "no etag",
			code:    http.StatusOK,
			wantErr: func(err error) bool { return errors.Is(err, ErrNoETag) },
		},
		{
			name:    "empty etag",
			code:    http.StatusOK,
			etags:   []string{""},
			wantErr: func(err error) bool { return errors.Is(err, ErrNoETag) },
		},
		{
			name:  "multiple etags",
			code:  http.StatusOK,
			etags: []string{`"a"`, `"b"`},
			wantErr: func(err error) bool {
				var m *MultipleETagsError
				return errors.As(err, &m) && len(m.ETags) == 2
			},
		},
		{
			name:  "not found",
			code:  http.StatusNotFound,
			etags: []string{`"abc"`},
			wantErr: func(err error) bool {
				var n *NotOKError
				return errors.As(err, &n) && n.Code == http.StatusNotFound
			},
		},
		{
			name: "partial content is not ok",
			code: http.StatusPartialContent,
			wantErr: func(err error) bool {
				var n *NotOKError
				return errors.As(err, &n) && n.Code == http.StatusPartialContent
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, e := range tt.etags {
				h.Add("ETag", e)
			}

			got, err := ClassifyHead(tt.code, h)
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClassifyHead: %v", err)
			}
			if got != tt.want {
				t.Errorf("etag = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchedulerFetchesUntilEndOfStream(t *testing.T) {
	const chunkSize = 100
	data := testData(1050)
	tr := newFakeTransport(data, chunkSize)
	store := chunkstore.NewMemory()

	sched, err := NewScheduler(tr, store, SchedulerOptions{
		URL:           "http://example.com/f",
		ETag:          tr.etag,
		ChunkSize:     chunkSize,
		MaxConcurrent: 3,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	stats, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Chunks != 11 {
		t.Errorf("chunks = %d, want 11", stats.Chunks)
	}
	if stats.Bytes != int64(len(data)) {
		t.Errorf("bytes = %d, want %d", stats.Bytes, len(data))
	}

	gap, err := store.FirstGap(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if gap != 11 {
		t.Errorf("first gap = %d, want 11", gap)
	}
}

func TestSchedulerRetriesMissingBody(t *testing.T) {
	tr := newFakeTransport(testData(250), 100)
	tr.override = func(index, call int) *saucerhttp.Response {
		if index == 1 && call == 1 {
			return &saucerhttp.Response{StatusCode: http.StatusPartialContent, Header: http.Header{}}
		}
		return nil
	}
	store := chunkstore.NewMemory()

	sched, err := NewScheduler(tr, store, SchedulerOptions{
		ETag:          tr.etag,
		ChunkSize:     100,
		MaxConcurrent: 2,
		Retries:       2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tr.callsFor(1); got != 2 {
		t.Errorf("chunk 1 fetched %d times, want 2", got)
	}
	if store.Len() != 3 {
		t.Errorf("stored %d chunks, want 3", store.Len())
	}
}

func TestSchedulerGivesUp(t *testing.T) {
	tests := []struct {
		name  string
		resp  *saucerhttp.Response
		check func(error) bool
	}{
		{
			name: "invalid etag",
			resp: &saucerhttp.Response{StatusCode: http.StatusPreconditionFailed, Header: http.Header{}},
			check: func(err error) bool {
				var inv chunk.InvalidETag
				return errors.As(err, &inv) && inv.Index == 2
			},
		},
		{
			name: "unknown status",
			resp: &saucerhttp.Response{StatusCode: http.StatusInternalServerError, Header: http.Header{}},
			check: func(err error) bool {
				var us chunk.UnknownStatus
				return errors.As(err, &us) && us.Code == http.StatusInternalServerError
			},
		},
		{
			name: "missing body",
			resp: &saucerhttp.Response{StatusCode: http.StatusPartialContent, Header: http.Header{}},
			check: func(err error) bool {
				return errors.Is(err, chunk.ErrMissingBody)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(testData(1000), 100)
			tr.override = func(index, call int) *saucerhttp.Response {
				if index == 2 {
					return tt.resp
				}
				return nil
			}

			sched, err := NewScheduler(tr, chunkstore.NewMemory(), SchedulerOptions{
				ETag:          tr.etag,
				ChunkSize:     100,
				MaxConcurrent: 1,
				Retries:       2,
			})
			if err != nil {
				t.Fatal(err)
			}

			_, err = sched.Run(context.Background())
			var ce *ChunkError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ChunkError, got %v", err)
			}
			if ce.Index != 2 || ce.Attempts != 3 {
				t.Errorf("chunk error = index %d attempts %d, want 2 and 3", ce.Index, ce.Attempts)
			}
			if !tt.check(err) {
				t.Errorf("unexpected cause: %v", err)
			}
			if got := tr.callsFor(2); got != 3 {
				t.Errorf("chunk 2 fetched %d times, want 3", got)
			}
		})
	}
}

func TestSchedulerDuplicateWriteIsFatal(t *testing.T) {
	tr := newFakeTransport(testData(300), 100)
	store := chunkstore.NewMemory()

	sched, err := NewScheduler(tr, store, SchedulerOptions{
		ETag:          tr.etag,
		ChunkSize:     100,
		MaxConcurrent: 1,
		Retries:       2,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Chunk 1 appears between the producer's check and the write.
	tr.override = func(index, call int) *saucerhttp.Response {
		if index == 1 && call == 1 {
			store.Set(context.Background(), 1, []byte("x"))
		}
		return nil
	}

	_, err = sched.Run(context.Background())
	if !errors.Is(err, chunkstore.ErrChunkExists) {
		t.Fatalf("expected ErrChunkExists, got %v", err)
	}
	if got := tr.callsFor(1); got != 1 {
		t.Errorf("store failure was retried: %d fetches", got)
	}
}

func TestSchedulerSkipsHeldChunks(t *testing.T) {
	data := testData(500)
	tr := newFakeTransport(data, 100)
	store := chunkstore.NewMemory()
	ctx := context.Background()
	for _, i := range []int{0, 1, 3} {
		s, e := chunk.Offsets(i, 100)
		if err := store.Set(ctx, i, data[s:e+1]); err != nil {
			t.Fatal(err)
		}
	}

	sched, err := NewScheduler(tr, store, SchedulerOptions{
		ETag:          tr.etag,
		ChunkSize:     100,
		MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Start != 2 {
		t.Errorf("start = %d, want 2", stats.Start)
	}
	for _, i := range []int{0, 1, 3} {
		if got := tr.callsFor(i); got != 0 {
			t.Errorf("chunk %d fetched %d times, want 0", i, got)
		}
	}
	if got := tr.callsFor(2); got != 1 {
		t.Errorf("chunk 2 fetched %d times, want 1", got)
	}
}

func TestSchedulerContextCancel(t *testing.T) {
	tr := newFakeTransport(testData(100000), 10)
	ctx, cancel := context.WithCancel(context.Background())
	tr.override = func(index, call int) *saucerhttp.Response {
		if index == 5 {
			cancel()
		}
		return nil
	}

	sched, err := NewScheduler(tr, chunkstore.NewMemory(), SchedulerOptions{
		ETag:          tr.etag,
		ChunkSize:     10,
		MaxConcurrent: 2,
		Retries:       2,
		Backoff:       time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := sched.Run(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestSchedulerReportsProgress(t *testing.T) {
	tr := newFakeTransport(testData(350), 100)
	var out bytes.Buffer
	reporter := progress.NewReporter(progress.Options{
		ChunkSize: 100,
		Output:    &out,
	})

	sched, err := NewScheduler(tr, chunkstore.NewMemory(), SchedulerOptions{
		ETag:          tr.etag,
		ChunkSize:     100,
		MaxConcurrent: 1,
		Progress:      reporter,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	chunks, n := reporter.Completed()
	if chunks != 4 || n != 350 {
		t.Errorf("reported %d chunks / %d bytes, want 4 / 350", chunks, n)
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	tr := newFakeTransport(nil, 1)
	store := chunkstore.NewMemory()

	if _, err := NewScheduler(tr, store, SchedulerOptions{ChunkSize: 0, MaxConcurrent: 1}); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := NewScheduler(tr, store, SchedulerOptions{ChunkSize: 1, MaxConcurrent: 0}); err == nil {
		t.Error("expected error for zero concurrency")
	}
	if _, err := NewScheduler(nil, store, SchedulerOptions{ChunkSize: 1, MaxConcurrent: 1}); err == nil {
		t.Error("expected error for nil transport")
	}
}

func TestAssemble(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.NewMemory()
	for i, s := range []string{"hello ", "chunked ", "world"} {
		if err := store.Set(ctx, i, []byte(s)); err != nil {
			t.Fatal(err)
		}
	}

	out := filepath.Join(t.TempDir(), "out.txt")
	n, err := Assemble(ctx, store, out)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if n != 19 {
		t.Errorf("wrote %d bytes, want 19", n)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello chunked world" {
		t.Errorf("output = %q", got)
	}
}

func TestAssembleRefusesExistingOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	if err := os.WriteFile(out, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Assemble(context.Background(), chunkstore.NewMemory(), out)
	if !errors.Is(err, ErrOutputExists) {
		t.Fatalf("expected ErrOutputExists, got %v", err)
	}
	got, _ := os.ReadFile(out)
	if string(got) != "keep me" {
		t.Errorf("existing output was modified: %q", got)
	}
}

func TestAssembleMissingChunkRemovesOutput(t *testing.T) {
	ctx := context.Background()
	store := chunkstore.NewMemory()
	store.Set(ctx, 0, []byte("a"))
	store.Set(ctx, 2, []byte("c"))

	out := filepath.Join(t.TempDir(), "out.txt")
	_, err := Assemble(ctx, store, out)

	var missing *chunkstore.MissingChunkError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingChunkError, got %v", err)
	}
	if missing.Index != 1 {
		t.Errorf("missing index = %d, want 1", missing.Index)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("partial output left behind: %v", err)
	}
}

func TestDefaultOutput(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://archive.org/download/item/file.iso", want: "file.iso"},
		{url: "https://example.com/a/b/data.tar.gz?x=1", want: "data.tar.gz"},
		{url: "https://example.com/", wantErr: true},
		{url: "https://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := DefaultOutput(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkErrorMessage(t *testing.T) {
	err := &ChunkError{Index: 4, Attempts: 3, Err: chunk.InvalidETag{Index: 4}}
	if !strings.Contains(err.Error(), "chunk 4 failed after 3 attempts") {
		t.Errorf("unexpected message: %s", err)
	}
}
