package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// Disk is a Store that keeps one file per chunk in a directory. It is what
// makes downloads resumable across process invocations.
type Disk struct {
	dir string
	tag string
}

// NewDisk opens (creating if needed) the chunk directory root/namespace for
// chunks of the given entity tag. Chunks written by an earlier Disk with the
// same directory and tag are visible immediately.
func NewDisk(root, namespace, etag string) (*Disk, error) {
	if namespace == "" {
		return nil, errors.New("chunkstore: namespace is required")
	}
	tag := SafeName(etag)
	if tag == "" {
		return nil, errors.New("chunkstore: etag is required")
	}

	dir := filepath.Join(root, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: create %s: %w", dir, err)
	}

	return &Disk{dir: dir, tag: tag}, nil
}

// Dir returns the directory holding the chunk files.
func (d *Disk) Dir() string {
	return d.dir
}

func (d *Disk) path(index int) string {
	return filepath.Join(d.dir, chunkName(d.tag, index))
}

// Has reports whether the chunk file for index exists.
func (d *Disk) Has(_ context.Context, index int) (bool, error) {
	_, err := os.Stat(d.path(index))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Get reads the chunk file for index.
func (d *Disk) Get(_ context.Context, index int) ([]byte, error) {
	data, err := os.ReadFile(d.path(index))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set writes data to a temporary file and links it into place. Linking fails
// when the target exists, which makes publishing atomic and create-if-absent;
// a crash mid-write never leaves a truncated chunk under its final name.
func (d *Disk) Set(_ context.Context, index int, data []byte) error {
	target := d.path(index)

	tmp, err := os.CreateTemp(d.dir, ".chunk-*")
	if err != nil {
		return fmt.Errorf("chunkstore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("chunkstore: write chunk %d: %w", index, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("chunkstore: sync chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("chunkstore: close chunk %d: %w", index, err)
	}

	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: chunk %d in %s", ErrChunkExists, index, d.dir)
		}
		return fmt.Errorf("chunkstore: publish chunk %d: %w", index, err)
	}
	return nil
}

// LastIndex returns the highest stored index for this tag, or -1 when no
// chunk is stored.
func (d *Disk) LastIndex() (int, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return -1, fmt.Errorf("chunkstore: list %s: %w", d.dir, err)
	}

	last := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if index, ok := parseChunkName(d.tag, e.Name()); ok && index > last {
			last = index
		}
	}
	return last, nil
}

// Chunks yields chunks 0..max where max is the highest index on disk.
func (d *Disk) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	last, err := d.LastIndex()
	if err != nil {
		return func(yield func([]byte, error) bool) {
			yield(nil, err)
		}
	}
	return contiguous(ctx, last, d.dir, d.Get)
}

// FirstGap returns the smallest index with no chunk file.
func (d *Disk) FirstGap(ctx context.Context) (int, error) {
	return FirstGap(ctx, d)
}

// Remove deletes every chunk file of this tag. The directory is removed as
// well when it ends up empty.
func (d *Disk) Remove() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("chunkstore: list %s: %w", d.dir, err)
	}

	for _, e := range entries {
		if _, ok := parseChunkName(d.tag, e.Name()); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("chunkstore: remove %s: %w", e.Name(), err)
		}
	}

	// Fails harmlessly when other tags still live here.
	_ = os.Remove(d.dir)
	return nil
}
