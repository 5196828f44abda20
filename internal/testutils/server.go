// Package testutils provides shared test infrastructure.
package testutils

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestFile defines a file served by a RangeServer.
type TestFile struct {
	Name string
	Data []byte

	// ETag is the entity tag sent on HEAD and required in If-Match.
	// Default: the quoted name.
	ETag string
}

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 256)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// fault is an injected response for range requests starting at one offset.
type fault struct {
	status int
	times  int // remaining; negative means forever
}

// RangeServer serves TestFiles with single-range GET support. It answers
// 416 past the end of a file and 412 when If-Match does not match the
// file's current tag. Faults can be injected per range start offset.
type RangeServer struct {
	*httptest.Server

	mu     sync.Mutex
	files  map[string]*TestFile
	faults map[string]map[int64]*fault
	ranges map[string][]string
	delay  time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	gets        atomic.Int64
	heads       atomic.Int64
}

// NewRangeServer starts a RangeServer and closes it when the test ends.
func NewRangeServer(t *testing.T, files ...TestFile) *RangeServer {
	t.Helper()

	s := &RangeServer{
		files:  make(map[string]*TestFile),
		faults: make(map[string]map[int64]*fault),
		ranges: make(map[string][]string),
	}
	for _, f := range files {
		f := f
		if f.ETag == "" {
			f.ETag = strconv.Quote(f.Name)
		}
		s.files["/"+f.Name] = &f
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FileURL returns the address of the named file.
func (s *RangeServer) FileURL(name string) string {
	return s.Server.URL + "/" + name
}

// SetETag changes the tag of a file, as if its content was replaced.
func (s *RangeServer) SetETag(name, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files["/"+name].ETag = etag
}

// Fail makes the next times range requests for name starting at offset
// answer with status. A negative times fails forever.
func (s *RangeServer) Fail(name string, offset int64, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := "/" + name
	if s.faults[p] == nil {
		s.faults[p] = make(map[int64]*fault)
	}
	s.faults[p][offset] = &fault{status: status, times: times}
}

// SetDelay makes every GET wait d before answering.
func (s *RangeServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Ranges returns the Range headers received for name, in arrival order.
func (s *RangeServer) Ranges(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges["/"+name]...)
}

// Gets returns the number of GET requests served.
func (s *RangeServer) Gets() int64 { return s.gets.Load() }

// Heads returns the number of HEAD requests served.
func (s *RangeServer) Heads() int64 { return s.heads.Load() }

// MaxInFlight returns the highest number of concurrent GETs observed.
func (s *RangeServer) MaxInFlight() int { return int(s.maxInFlight.Load()) }

func (s *RangeServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.files[r.URL.Path]
	var data []byte
	var etag string
	if ok {
		data, etag = f.Data, f.ETag
	}
	delay := s.delay
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	size := int64(len(data))

	if r.Method == http.MethodHead {
		s.heads.Add(1)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", etag)
		return
	}

	s.gets.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	s.ranges[r.URL.Path] = append(s.ranges[r.URL.Path], rangeHeader)
	s.mu.Unlock()

	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("ETag", etag)
		w.Write(data)
		return
	}

	// Parse range header: bytes=start-end
	spec := strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.Split(spec, "-")
	if len(parts) != 2 {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || end < start {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}

	if status, ok := s.takeFault(r.URL.Path, start); ok {
		w.WriteHeader(status)
		return
	}

	if im := r.Header.Get("If-Match"); im != "" && im != etag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

func (s *RangeServer) takeFault(path string, start int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faults[path][start]
	if !ok || f.times == 0 {
		return 0, false
	}
	if f.times > 0 {
		f.times--
	}
	return f.status, true
}

// CompareFile fails the test unless the file at path holds exactly expected.
func CompareFile(t *testing.T, path string, expected []byte) {
	t.Helper()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(got) != len(expected) {
		t.Fatalf("%s: got %d bytes, want %d", path, len(got), len(expected))
	}
	if !bytes.Equal(got, expected) {
		for i := range got {
			if got[i] != expected[i] {
				t.Fatalf("%s: data mismatch at offset %d", path, i)
			}
		}
	}
}
