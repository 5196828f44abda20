package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrBodyTooLarge is returned by GetRange when a response body exceeds
// Options.MaxBodySize.
var ErrBodyTooLarge = errors.New("http: response body too large")

// ErrRangeNotSupported is returned by GetRange when the server ignores the
// Range header and answers 200 without a Content-Range.
var ErrRangeNotSupported = errors.New("http: server does not support range requests")

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration

	// RPS limits outgoing requests per second. Zero disables throttling.
	RPS int

	// Burst is the throttle's token bucket size.
	// Default: RPS
	Burst int

	// MaxBodySize caps how many bytes GetRange reads from a response.
	// Zero means unlimited.
	MaxBodySize int64

	// UserAgent is sent with every request.
	UserAgent string

	// Logger receives throttle diagnostics. Nil disables them.
	Logger *slog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
		UserAgent:           "saucer",
	}
}

// Response is a fully-read HTTP response. Body is nil for HEAD requests and
// holds the complete payload otherwise.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues HEAD and ranged GET requests. It does not interpret status
// codes or retry; callers classify responses themselves.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) (*Client, error) {
	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // We want raw bytes for range requests
	}

	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = opts.RPS
		}
		logger := opts.Logger
		throttled, err := NewThrottle(opts.RPS, burst, func() *slog.Logger { return logger }, transport)
		if err != nil {
			return nil, err
		}
		transport = throttled
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}, nil
}

// Head performs a HEAD request. Any status code is returned as a Response;
// only transport failures produce an error.
func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}, nil
}

// GetRange performs a GET with the given Range header value and, when etag
// is non-empty, an If-Match precondition. The body is read completely.
// A 200 response is only accepted with a Content-Range header; otherwise
// GetRange returns ErrRangeNotSupported.
func (c *Client) GetRange(ctx context.Context, url, byteRange, etag string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Range", byteRange)
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A 200 without Content-Range is the whole resource, not the range.
	if resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Range") == "" {
		return nil, fmt.Errorf("%w: %s", ErrRangeNotSupported, url)
	}

	var body io.Reader = resp.Body
	if c.opts.MaxBodySize > 0 {
		body = io.LimitReader(resp.Body, c.opts.MaxBodySize+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if c.opts.MaxBodySize > 0 && int64(len(data)) > c.opts.MaxBodySize {
		return nil, fmt.Errorf("%w: more than %d bytes for %s", ErrBodyTooLarge, c.opts.MaxBodySize, byteRange)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
}

// ContentLength returns the Content-Length header value, or -1 when it is
// missing or malformed.
func ContentLength(h http.Header) int64 {
	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
