package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Bucket is a Store backed by a gocloud.dev/blob bucket. Chunks are stored
// as "{namespace}/{etag}.{index}" objects, the same layout Disk uses.
//
// The overwrite guard is a claim set plus an existence check: concurrent
// Sets for one index within a process are serialized, but two processes
// sharing a bucket prefix are not.
type Bucket struct {
	bucket *blob.Bucket
	prefix string
	tag    string

	mu      sync.Mutex
	claimed map[int]struct{}
}

// NewBucket returns a store writing chunks of etag under namespace in
// bucket. The caller owns bucket and closes it.
func NewBucket(bucket *blob.Bucket, namespace, etag string) (*Bucket, error) {
	if namespace == "" {
		return nil, errors.New("chunkstore: namespace is required")
	}
	tag := SafeName(etag)
	if tag == "" {
		return nil, errors.New("chunkstore: etag is required")
	}

	return &Bucket{
		bucket:  bucket,
		prefix:  namespace + "/",
		tag:     tag,
		claimed: make(map[int]struct{}),
	}, nil
}

func (b *Bucket) key(index int) string {
	return b.prefix + chunkName(b.tag, index)
}

// Has reports whether the chunk object for index exists.
func (b *Bucket) Has(ctx context.Context, index int) (bool, error) {
	return b.bucket.Exists(ctx, b.key(index))
}

// Get reads the chunk object for index.
func (b *Bucket) Get(ctx context.Context, index int) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, b.key(index))
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set uploads data as the chunk object for index.
func (b *Bucket) Set(ctx context.Context, index int, data []byte) error {
	if !b.claim(index) {
		return fmt.Errorf("%w: chunk %d in %s", ErrChunkExists, index, b.prefix)
	}

	exists, err := b.bucket.Exists(ctx, b.key(index))
	if err != nil {
		b.release(index)
		return fmt.Errorf("chunkstore: check chunk %d: %w", index, err)
	}
	if exists {
		return fmt.Errorf("%w: chunk %d in %s", ErrChunkExists, index, b.prefix)
	}

	if err := b.bucket.WriteAll(ctx, b.key(index), data, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		b.release(index)
		return fmt.Errorf("chunkstore: write chunk %d: %w", index, err)
	}
	return nil
}

func (b *Bucket) claim(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.claimed[index]; ok {
		return false
	}
	b.claimed[index] = struct{}{}
	return true
}

func (b *Bucket) release(index int) {
	b.mu.Lock()
	delete(b.claimed, index)
	b.mu.Unlock()
}

// list calls fn for every chunk index of this tag in the bucket.
func (b *Bucket) list(ctx context.Context, fn func(index int, key string) error) error {
	it := b.bucket.List(&blob.ListOptions{Prefix: b.prefix + b.tag + "."})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chunkstore: list %s: %w", b.prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if index, ok := parseChunkName(b.tag, path.Base(obj.Key)); ok {
			if err := fn(index, obj.Key); err != nil {
				return err
			}
		}
	}
}

// LastIndex returns the highest stored index for this tag, or -1 when no
// chunk is stored.
func (b *Bucket) LastIndex(ctx context.Context) (int, error) {
	last := -1
	err := b.list(ctx, func(index int, _ string) error {
		if index > last {
			last = index
		}
		return nil
	})
	return last, err
}

// Chunks yields chunks 0..max where max is the highest index in the bucket.
func (b *Bucket) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	last, err := b.LastIndex(ctx)
	if err != nil {
		return func(yield func([]byte, error) bool) {
			yield(nil, err)
		}
	}
	return contiguous(ctx, last, b.prefix, b.Get)
}

// FirstGap returns the smallest index with no chunk object.
func (b *Bucket) FirstGap(ctx context.Context) (int, error) {
	return FirstGap(ctx, b)
}

// Remove deletes every chunk object of this tag.
func (b *Bucket) Remove(ctx context.Context) error {
	var keys []string
	if err := b.list(ctx, func(_ int, key string) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return err
	}

	for _, key := range keys {
		if err := b.bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
			return fmt.Errorf("chunkstore: delete %s: %w", key, err)
		}
	}

	b.mu.Lock()
	clear(b.claimed)
	b.mu.Unlock()
	return nil
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
