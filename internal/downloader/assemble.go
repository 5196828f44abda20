package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ligustah/saucer/pkg/chunkstore"
)

// ErrOutputExists is returned when the output file is already present.
// Saucer never overwrites an existing file.
var ErrOutputExists = errors.New("downloader: output file already exists")

// Assemble writes every chunk in store, in index order, to a new file at
// output and returns the number of bytes written. The file must not exist.
// On failure the partial output is removed.
func Assemble(ctx context.Context, store chunkstore.Store, output string) (n int64, err error) {
	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("%w: %s", ErrOutputExists, output)
		}
		return 0, fmt.Errorf("create output: %w", err)
	}

	defer func() {
		if err != nil {
			f.Close()
			os.Remove(output)
		}
	}()

	w := bufio.NewWriterSize(f, 1<<20)
	for data, cerr := range store.Chunks(ctx) {
		if cerr != nil {
			return n, fmt.Errorf("assemble %s: %w", output, cerr)
		}
		written, werr := w.Write(data)
		n += int64(written)
		if werr != nil {
			return n, fmt.Errorf("write output: %w", werr)
		}
	}

	if err := w.Flush(); err != nil {
		return n, fmt.Errorf("flush output: %w", err)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("sync output: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close output: %w", err)
	}
	return n, nil
}

// checkOutput fails with ErrOutputExists if output is already present.
func checkOutput(output string) error {
	_, err := os.Lstat(output)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrOutputExists, output)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("check output: %w", err)
	}
}
