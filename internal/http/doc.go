// Package http provides the transport used to probe and fetch chunks.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - HEAD requests for the entity tag
//   - Range requests carrying an If-Match precondition
//   - Optional request throttling (token bucket)
//
// It deliberately does not interpret status codes or retry: a 412 or 416 is
// a meaningful answer to the caller, not a transport failure.
//
// # Usage
//
//	client, err := http.NewClient(http.Options{
//	    MaxIdleConnsPerHost: 100,
//	    Timeout:             30 * time.Second,
//	    RPS:                 50,
//	})
//
//	head, err := client.Head(ctx, url)
//	// head.StatusCode, head.Header.Values("ETag")
//
//	resp, err := client.GetRange(ctx, url, "bytes=0-16383", etag)
//	// resp.StatusCode, resp.Body
package http
