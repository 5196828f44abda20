// Package chunk maps chunk indices to HTTP byte ranges and classifies
// range responses into chunk outcomes.
//
// A chunk is a fixed-size, zero-based slice of the remote resource. Chunk i
// of size n covers bytes [i*n, i*n+n-1] inclusive; consecutive chunks are
// contiguous and never overlap.
//
// # Usage
//
//	hdr := chunk.Range(1, 15) // "bytes=15-29"
//
//	outcome, err := chunk.Classify(resp.StatusCode, 1, resp.Body)
//	switch o := outcome.(type) {
//	case chunk.Data:         // store o.Bytes
//	case chunk.EndOfStream:  // stop issuing new indices
//	case chunk.InvalidETag:  // remote content changed
//	case chunk.UnknownStatus:
//	}
package chunk
