package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// ErrChunkExists is returned by Set when the index already holds data. It
// signals a scheduler that issued the same index twice and is never retried.
var ErrChunkExists = errors.New("chunkstore: chunk already stored")

// ErrNotFound is returned by Get when the index holds no data.
var ErrNotFound = errors.New("chunkstore: chunk not found")

// MissingChunkError is yielded by Chunks when the stored indices are not
// contiguous from zero. It indicates corruption, not a retryable condition.
type MissingChunkError struct {
	Index    int    // First missing index
	Last     int    // Highest index the store expected to yield
	Location string // Where the chunks live, for diagnostics
}

func (e *MissingChunkError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("chunkstore: missing chunk %d of %d", e.Index, e.Last)
	}
	return fmt.Sprintf("chunkstore: missing chunk %d of %d in %s", e.Index, e.Last, e.Location)
}

// Haser reports whether an index holds data.
type Haser interface {
	Has(ctx context.Context, index int) (bool, error)
}

// Store maps chunk indices to chunk bytes.
type Store interface {
	Haser

	// Get returns the bytes stored at index, or ErrNotFound.
	Get(ctx context.Context, index int) ([]byte, error)

	// Set stores data at index. It returns ErrChunkExists if index is
	// already set; the stored bytes are not modified in that case.
	Set(ctx context.Context, index int, data []byte) error

	// Chunks yields stored chunks in index order, from zero up to the last
	// stored index. A hole in that range yields a *MissingChunkError and
	// stops the sequence.
	Chunks(ctx context.Context) iter.Seq2[[]byte, error]

	// FirstGap returns the smallest index with no stored chunk.
	FirstGap(ctx context.Context) (int, error)
}

// FirstGap scans indices from zero and returns the first one s does not
// hold.
func FirstGap(ctx context.Context, s Haser) (int, error) {
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ok, err := s.Has(ctx, index)
		if err != nil {
			return 0, fmt.Errorf("check chunk %d: %w", index, err)
		}
		if !ok {
			return index, nil
		}
	}
}

// SafeName turns an entity tag into a string usable as a file name prefix.
// Quotes are dropped, the weak-validator prefix becomes "w_" and path
// separators are replaced.
func SafeName(etag string) string {
	weak := strings.HasPrefix(etag, "W/")
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	etag = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, etag)
	if weak {
		return "w_" + etag
	}
	return etag
}

// Namespace derives the cache namespace for a remote resource: the name of
// its parent path segment, or the host when the resource sits at the root.
func Namespace(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("chunkstore: parse url: %w", err)
	}

	parent := path.Base(path.Dir(path.Clean("/" + u.Path)))
	if parent == "/" || parent == "." {
		parent = u.Hostname()
	}
	if parent == "" {
		return "", fmt.Errorf("chunkstore: no namespace for %q", rawURL)
	}
	return SafeName(parent), nil
}

// chunkName is the object name of a chunk: "<etag>.<index>".
func chunkName(tag string, index int) string {
	return fmt.Sprintf("%s.%d", tag, index)
}

// parseChunkName returns the index encoded in name if name belongs to tag.
func parseChunkName(tag, name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, tag+".")
	if !ok || suffix == "" {
		return 0, false
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	index, err := strconv.Atoi(suffix)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

// contiguous yields get(0..last) in order, stopping at the first missing
// index.
func contiguous(ctx context.Context, last int, location string, get func(context.Context, int) ([]byte, error)) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for index := 0; index <= last; index++ {
			data, err := get(ctx, index)
			if errors.Is(err, ErrNotFound) {
				yield(nil, &MissingChunkError{Index: index, Last: last, Location: location})
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read chunk %d: %w", index, err))
				return
			}
			if !yield(data, nil) {
				return
			}
		}
	}
}
