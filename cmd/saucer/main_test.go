package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ligustah/saucer/internal/downloader"
	"github.com/ligustah/saucer/internal/testutils"
	"github.com/ligustah/saucer/pkg/chunk"
	"github.com/ligustah/saucer/pkg/chunkstore"
)

const cliChunkSize = 16 * 1024

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLIFetch(t *testing.T) {
	data := testutils.GenerateTestData(t, 4*cliChunkSize+7)
	server := testutils.NewRangeServer(t, testutils.TestFile{Name: "item/file.bin", Data: data, ETag: `"abc"`})

	cacheDir := t.TempDir()
	output := filepath.Join(t.TempDir(), "file.bin")

	code, _, stderr := runCLI(t, "fetch", server.FileURL("item/file.bin"),
		"-o", output,
		"--cache-dir", cacheDir,
		"--chunk-size", "16KiB",
		"--workers", "2",
	)
	if code != ExitSuccess {
		t.Fatalf("fetch exit code %d: %s", code, stderr)
	}
	testutils.CompareFile(t, output, data)

	if !strings.Contains(stderr, "[saucer] Saved") {
		t.Errorf("missing completion message: %q", stderr)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "item", "abc.0")); err != nil {
		t.Errorf("chunk 0 not cached: %v", err)
	}
}

func TestCLIFetchExitCodes(t *testing.T) {
	data := testutils.GenerateTestData(t, 3*cliChunkSize)

	t.Run("output exists", func(t *testing.T) {
		server := testutils.NewRangeServer(t, testutils.TestFile{Name: "item/file.bin", Data: data})
		output := filepath.Join(t.TempDir(), "file.bin")
		os.WriteFile(output, []byte("x"), 0o644)

		code, _, _ := runCLI(t, "fetch", server.FileURL("item/file.bin"), "-o", output, "--no-cache")
		if code != ExitOutputExists {
			t.Errorf("exit code = %d, want %d", code, ExitOutputExists)
		}
	})

	t.Run("source changed", func(t *testing.T) {
		server := testutils.NewRangeServer(t, testutils.TestFile{Name: "item/file.bin", Data: data})
		server.Fail("item/file.bin", cliChunkSize, http.StatusPreconditionFailed, -1)

		code, _, _ := runCLI(t, "fetch", server.FileURL("item/file.bin"),
			"-o", filepath.Join(t.TempDir(), "file.bin"),
			"--cache-dir", t.TempDir(),
			"--retries", "0",
		)
		if code != ExitSourceChanged {
			t.Errorf("exit code = %d, want %d", code, ExitSourceChanged)
		}
	})

	t.Run("not found", func(t *testing.T) {
		server := testutils.NewRangeServer(t)
		code, _, _ := runCLI(t, "fetch", server.FileURL("item/missing.bin"),
			"-o", filepath.Join(t.TempDir(), "missing.bin"),
			"--no-cache",
		)
		if code != ExitSourceNotAccess {
			t.Errorf("exit code = %d, want %d", code, ExitSourceNotAccess)
		}
	})
}

func TestCLIInvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing url", args: []string{"fetch"}},
		{name: "two urls", args: []string{"fetch", "http://a/b", "http://a/c"}},
		{name: "unknown flag", args: []string{"fetch", "--bogus", "http://a/b"}},
		{name: "bad chunk size", args: []string{"fetch", "--chunk-size", "lots", "http://a/b"}},
		{name: "non-http url", args: []string{"fetch", "ftp://example.com/a/b"}},
		{name: "too many workers", args: []string{"fetch", "--workers", "5000", "http://example.com/a/b"}},
		{name: "status without cache", args: []string{"status", "--no-cache", "http://example.com/a/b"}},
		{name: "missing config file", args: []string{"--config", "/nonexistent/saucer.yaml", "status", "http://example.com/a/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != ExitInvalidArgs {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, ExitInvalidArgs, stderr)
			}
		})
	}
}

func TestCLIStatusAndClean(t *testing.T) {
	data := testutils.GenerateTestData(t, 5*cliChunkSize)
	server := testutils.NewRangeServer(t, testutils.TestFile{Name: "item/file.bin", Data: data, ETag: `"abc"`})
	server.Fail("item/file.bin", 2*cliChunkSize, http.StatusInternalServerError, -1)

	url := server.FileURL("item/file.bin")
	cacheDir := t.TempDir()

	code, _, _ := runCLI(t, "fetch", url,
		"-o", filepath.Join(t.TempDir(), "file.bin"),
		"--cache-dir", cacheDir,
		"--workers", "1",
		"--retries", "0",
	)
	if code != ExitGeneralError {
		t.Fatalf("fetch exit code = %d, want %d", code, ExitGeneralError)
	}

	code, stdout, stderr := runCLI(t, "status", url, "--cache-dir", cacheDir)
	if code != ExitSuccess {
		t.Fatalf("status exit code %d: %s", code, stderr)
	}
	for _, want := range []string{
		`ETag: "abc"`,
		"Cached: 2 chunks (32 KiB)",
		"Status: PARTIAL (resumes at chunk 2)",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("status output missing %q:\n%s", want, stdout)
		}
	}

	code, _, stderr = runCLI(t, "clean", url, "--cache-dir", cacheDir)
	if code != ExitSuccess {
		t.Fatalf("clean exit code %d: %s", code, stderr)
	}

	code, stdout, _ = runCLI(t, "status", url, "--cache-dir", cacheDir)
	if code != ExitSuccess {
		t.Fatalf("status exit code %d", code)
	}
	if !strings.Contains(stdout, "Status: EMPTY") {
		t.Errorf("expected empty cache after clean:\n%s", stdout)
	}
}

func TestCLIConfigFile(t *testing.T) {
	data := testutils.GenerateTestData(t, 2*cliChunkSize)
	server := testutils.NewRangeServer(t, testutils.TestFile{Name: "item/file.bin", Data: data, ETag: `"abc"`})

	cacheDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "saucer.yaml")
	cfg := fmt.Sprintf("cache_dir: %s\nworkers: 3\nchunk_size: 16KiB\nretry:\n  attempts: 1\n", cacheDir)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	output := filepath.Join(t.TempDir(), "file.bin")
	code, _, stderr := runCLI(t, "--config", cfgPath, "fetch", server.FileURL("item/file.bin"), "-o", output)
	if code != ExitSuccess {
		t.Fatalf("fetch exit code %d: %s", code, stderr)
	}
	testutils.CompareFile(t, output, data)

	if _, err := os.Stat(filepath.Join(cacheDir, "item", "abc.1")); err != nil {
		t.Errorf("config cache_dir not used: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageError(errors.New("x")), ExitInvalidArgs},
		{"output exists", fmt.Errorf("wrap: %w", downloader.ErrOutputExists), ExitOutputExists},
		{"not ok", &downloader.NotOKError{Code: 404}, ExitSourceNotAccess},
		{"no etag", downloader.ErrNoETag, ExitSourceNotAccess},
		{"multiple etags", &downloader.MultipleETagsError{ETags: []string{"a", "b"}}, ExitSourceNotAccess},
		{"etag changed", &downloader.ChunkError{Index: 1, Attempts: 3, Err: chunk.InvalidETag{Index: 1}}, ExitSourceChanged},
		{"duplicate chunk", &downloader.ChunkError{Index: 1, Attempts: 1, Err: chunkstore.ErrChunkExists}, ExitStorageError},
		{"missing chunk", &chunkstore.MissingChunkError{Index: 2, Last: 4}, ExitStorageError},
		{"cache", fmt.Errorf("%w: disk full", downloader.ErrCache), ExitStorageError},
		{"unknown status", &downloader.ChunkError{Index: 0, Attempts: 3, Err: chunk.UnknownStatus{Code: 500}}, ExitGeneralError},
		{"other", errors.New("boom"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetriesOption(t *testing.T) {
	tests := []struct {
		configured int
		want       int
	}{
		{0, downloader.NoRetries},
		{1, 1},
		{2, 2},
	}

	for _, tt := range tests {
		if got := retries(tt.configured); got != tt.want {
			t.Errorf("retries(%d) = %d, want %d", tt.configured, got, tt.want)
		}
	}
}
