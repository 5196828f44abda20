package chunkstore

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// Memory is an in-memory Store. Chunks are lost when the process exits.
type Memory struct {
	chunks sync.Map // int -> []byte
	count  atomic.Int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Has reports whether index holds data.
func (m *Memory) Has(_ context.Context, index int) (bool, error) {
	_, ok := m.chunks.Load(index)
	return ok, nil
}

// Get returns a copy of the bytes stored at index.
func (m *Memory) Get(_ context.Context, index int) ([]byte, error) {
	v, ok := m.chunks.Load(index)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v.([]byte)), nil
}

// Set stores a copy of data at index.
func (m *Memory) Set(_ context.Context, index int, data []byte) error {
	if _, loaded := m.chunks.LoadOrStore(index, bytes.Clone(data)); loaded {
		return fmt.Errorf("%w: chunk %d in memory", ErrChunkExists, index)
	}
	m.count.Add(1)
	return nil
}

// Chunks yields chunks 0..n-1 where n is the number of chunks stored when
// Chunks is called.
func (m *Memory) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	n := int(m.count.Load())
	return contiguous(ctx, n-1, "", m.Get)
}

// FirstGap returns the smallest unset index.
func (m *Memory) FirstGap(ctx context.Context) (int, error) {
	return FirstGap(ctx, m)
}

// Len returns the number of stored chunks.
func (m *Memory) Len() int {
	return int(m.count.Load())
}
