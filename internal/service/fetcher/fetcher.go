package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBytes     = 10 << 20
	DefaultMaxRedirects = 5

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

var errTooManyRedirects = errors.New("too many redirects")

type Options struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	// AllowErrorStatus returns 4xx/5xx bodies instead of failing.
	AllowErrorStatus bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	return o
}

type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// FetchError covers every way a fetch can fail. Callers only need the
// cause for logging; the recovery path is the same for all of them.
type FetchError struct {
	URL   string
	Cause string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*Response, error)
}

type HTTPFetcher struct {
	transport http.RoundTripper
}

// New returns a fetcher using transport, or http.DefaultTransport when nil.
func New(transport http.RoundTripper) *HTTPFetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPFetcher{transport: transport}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, opts Options) (*Response, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client := &http.Client{
		Transport: f.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > opts.MaxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Cause: "build request", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Cause: describe(ctx, err, opts), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest && !opts.AllowErrorStatus {
		return nil, &FetchError{URL: url, Cause: fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}
	if resp.ContentLength > opts.MaxBytes {
		return nil, &FetchError{URL: url, Cause: fmt.Sprintf("content length %d exceeds limit of %d bytes", resp.ContentLength, opts.MaxBytes)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Cause: describe(ctx, err, opts), Err: err}
	}
	if int64(len(body)) > opts.MaxBytes {
		return nil, &FetchError{URL: url, Cause: fmt.Sprintf("content exceeds limit of %d bytes", opts.MaxBytes)}
	}

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Fetched page")

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func describe(ctx context.Context, err error, opts Options) string {
	switch {
	case errors.Is(err, errTooManyRedirects):
		return fmt.Sprintf("stopped after %d redirects", opts.MaxRedirects)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s", opts.Timeout)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
