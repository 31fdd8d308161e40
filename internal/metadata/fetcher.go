package metadata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MaxDocumentBytes caps the size of a metadata document.
const MaxDocumentBytes = 1 << 20

// ErrBodyTooLarge is returned when a document exceeds the size cap.
var ErrBodyTooLarge = errors.New("metadata document too large")

// Fetcher retrieves a metadata document.
type Fetcher interface {
	Get(ctx context.Context, url string) (status int, contentType string, body []byte, err error)
}

// FetcherOptions parameterise the HTTP fetcher.
type FetcherOptions struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// HTTPFetcher fetches documents over HTTP(S).
type HTTPFetcher struct {
	opts   FetcherOptions
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPFetcher constructs an HTTP fetcher.
func NewHTTPFetcher(opts FetcherOptions, logger zerolog.Logger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = MaxDocumentBytes
	}
	return &HTTPFetcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "metadata_fetcher").Logger(),
	}
}

// Get performs a GET and returns at most MaxBytes of the body.
func (f *HTTPFetcher) Get(ctx context.Context, url string) (int, string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "marketsync/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.ContentLength > f.opts.MaxBytes {
		return resp.StatusCode, contentType, nil, ErrBodyTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return resp.StatusCode, contentType, nil, err
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return resp.StatusCode, contentType, nil, ErrBodyTooLarge
	}

	f.logger.Debug().Str("url", url).Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("fetched metadata document")
	return resp.StatusCode, contentType, body, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
