// Package downloader runs resumable chunked HTTP downloads.
//
// A session probes the remote file for its entity tag, fetches fixed-size
// byte ranges concurrently into a chunk store keyed by that tag, and
// assembles the chunks in order into a fresh output file.
//
// # Usage
//
// The main entry point is the Download function:
//
//	client, _ := http.NewClient(http.DefaultOptions())
//	res, err := downloader.Download(ctx, client, downloader.Options{
//	    URL:           "https://example.com/files/image.iso",
//	    MaxConcurrent: 8,
//	    Cache:         downloader.CacheOptions{Dir: config.DefaultCacheDir()},
//	})
//
// # Worker Pool
//
// A single producer emits chunk indices in increasing order, starting at the
// store's first gap, until a worker sees end of stream (416). Workers make
// range requests with If-Match, classify the response and store the data.
// Failed fetches are retried with exponential backoff; a chunk that keeps
// failing cancels the whole session.
//
// # Resuming
//
// Disk and bucket stores keep chunks across runs. A later session for the
// same URL and tag starts at the first missing chunk. A 412 means the remote
// changed and the session aborts.
package downloader
