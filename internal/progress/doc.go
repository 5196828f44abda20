// Package progress provides progress reporting for downloads.
//
// This package outputs human-readable progress information to stderr,
// including completion percentage, transfer speed, and ETA when the total
// size is known.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize:  totalBytes, // -1 if unknown
//	    ChunkSize:  16 * 1024,
//	    StartChunk: resumeIndex,
//	    Workers:    8,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ChunkStarted()
//	reporter.ChunkCompleted(int64(len(chunk)))
//
// # Output Format
//
//	[saucer] Downloading: https://example.com/file.mp4
//	[saucer] Total size: 23 MiB | Chunk size: 16 KiB | Workers: 8
//	[saucer] Progress: 45.2% | 10 MiB / 23 MiB | Speed: 1.2 MiB/s | ETA: 11s | Chunks: 640 done, 8 in-flight
package progress
