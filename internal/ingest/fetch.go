package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/pkg/conv"
	"github.com/sandevgo/tuskmem/pkg/retry"
	"golang.org/x/time/rate"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxPageBytes = 5 << 20
)

type FetcherOptions struct {
	// Timeout bounds one HTTP exchange, body included.
	Timeout time.Duration
	// HostDelay is the minimum spacing of requests to one hostname.
	HostDelay time.Duration
	MaxBytes  int64
	Retry     *retry.Config
}

// Page is the extracted text of one fetched URL.
type Page struct {
	URL          string
	Text         string
	LastModified *time.Time
}

// Fetcher downloads web sources politely: per-host pacing, bounded bodies
// and retries on transient failures only.
type Fetcher struct {
	client    *http.Client
	retrier   *retry.Retrier
	hostDelay time.Duration
	maxBytes  int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxPageBytes
	}
	if opts.Retry == nil {
		opts.Retry = &retry.Config{
			MaxRetries:    2,
			BackoffFactor: 2,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			Jitter:        100 * time.Millisecond,
		}
	}
	opts.Retry.Retryable = isTransient
	opts.Retry.Hint = retryAfterHint

	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		retrier:   retry.NewRetrier(opts.Retry),
		hostDelay: opts.HostDelay,
		maxBytes:  opts.MaxBytes,
		limiters:  make(map[string]*rate.Limiter),
	}
}

type statusError struct {
	code   int
	status string
	// retryAfter is the server-requested wait, zero if none was sent.
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.status)
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, ErrTooLarge) && !errors.Is(err, errUnsupported)
}

func retryAfterHint(err error) (time.Duration, bool) {
	var se *statusError
	if errors.As(err, &se) && se.retryAfter > 0 {
		return se.retryAfter, true
	}
	return 0, false
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

var errUnsupported = errors.New("unsupported content")

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		limit := rate.Inf
		if f.hostDelay > 0 {
			limit = rate.Every(f.hostDelay)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[host] = l
	}
	return l
}

// Fetch downloads rawURL and returns its text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	lim := f.limiter(u.Hostname())

	var page *Page
	err = f.retrier.Do(ctx, func() error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		p, err := f.get(ctx, rawURL)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", core.TuskUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &statusError{
			code:       resp.StatusCode,
			status:     resp.Status,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: response larger than %d bytes", ErrTooLarge, f.maxBytes)
	}

	text, err := bodyToText(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}

	page := &Page{URL: rawURL, Text: text}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			page.LastModified = &t
		}
	}
	return page, nil
}

func bodyToText(contentType string, body []byte) (string, error) {
	mediaType := "text/html"
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return "", fmt.Errorf("%w: bad content type %q", errUnsupported, contentType)
		}
		mediaType = mt
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return conv.HTMLToText(bytes.NewReader(body))
	case "text/markdown", "text/x-markdown":
		return conv.MarkdownToText(body)
	case "text/plain":
		if !utf8.Valid(body) {
			return "", fmt.Errorf("%w: body is not UTF-8 text", errUnsupported)
		}
		return string(body), nil
	default:
		return "", fmt.Errorf("%w: %s", errUnsupported, mediaType)
	}
}
