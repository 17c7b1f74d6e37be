package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrTooLarge is returned when a response body exceeds the fetcher's limit.
var ErrTooLarge = errors.New("response body too large")

// FetchConfig bounds a single fetch.
type FetchConfig struct {
	Timeout   time.Duration // 0 = no per-request timeout
	MaxBytes  int64         // 0 = unlimited
	Retry     RetryConfig
	UserAgent string
}

// Fetcher downloads small resources such as avatars and image attachments.
type Fetcher struct {
	client *http.Client
	cfg    FetchConfig
}

// NewFetcher builds a fetcher. A nil client uses a fresh http.Client.
func NewFetcher(client *http.Client, cfg FetchConfig) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, cfg: cfg}
}

// Fetch returns the body of url. Any status outside 2xx is a *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	var headers http.Header
	if f.cfg.UserAgent != "" {
		headers = http.Header{"User-Agent": []string{f.cfg.UserAgent}}
	}

	start := time.Now()
	resp, err := Get(ctx, f.client, url, headers, f.cfg.Retry)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body := io.Reader(resp.Body)
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.cfg.MaxBytes > 0 && int64(len(data)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: limit %s", ErrTooLarge, humanize.IBytes(uint64(f.cfg.MaxBytes)))
	}

	log.Debug("fetched",
		"url", url,
		"size", humanize.IBytes(uint64(len(data))),
		"durationMs", time.Since(start).Milliseconds(),
	)
	return data, nil
}
