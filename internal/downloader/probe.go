package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	saucerhttp "github.com/ligustah/saucer/internal/http"
)

// ErrNoETag is returned when the existence check carries no ETag header.
var ErrNoETag = errors.New("downloader: no ETag in response")

// NotOKError is returned when the existence check does not answer 200.
type NotOKError struct {
	Code int
}

func (e *NotOKError) Error() string {
	return fmt.Sprintf("downloader: existence check returned %d", e.Code)
}

// MultipleETagsError is returned when the existence check carries more than
// one ETag header; the content version is ambiguous.
type MultipleETagsError struct {
	ETags []string
}

func (e *MultipleETagsError) Error() string {
	return fmt.Sprintf("downloader: multiple ETags returned, ambiguous: %v", e.ETags)
}

// RemoteInfo is what the existence check learned about the remote file.
type RemoteInfo struct {
	// ETag is the raw entity tag, sent back verbatim in If-Match.
	ETag string

	// Size is the Content-Length of the resource, or -1 if unknown.
	Size int64
}

// ClassifyHead decides whether a HEAD response lets a session proceed and
// returns its single entity tag.
func ClassifyHead(code int, header http.Header) (string, error) {
	if code != http.StatusOK {
		return "", &NotOKError{Code: code}
	}

	etags := header.Values("ETag")
	switch len(etags) {
	case 0:
		return "", ErrNoETag
	case 1:
		if etags[0] == "" {
			return "", ErrNoETag
		}
		return etags[0], nil
	default:
		return "", &MultipleETagsError{ETags: etags}
	}
}

// Probe issues the existence check for url.
func Probe(ctx context.Context, transport Transport, url string) (*RemoteInfo, error) {
	resp, err := transport.Head(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("existence check: %w", err)
	}

	etag, err := ClassifyHead(resp.StatusCode, resp.Header)
	if err != nil {
		return nil, err
	}

	return &RemoteInfo{
		ETag: etag,
		Size: saucerhttp.ContentLength(resp.Header),
	}, nil
}
