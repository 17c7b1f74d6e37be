package httputil

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/breeze-rmm/notify-bridge/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls the retry behavior for HTTP requests.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryConfig performs a single attempt. Image fetches are not retried
// unless the config asks for it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    0,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// isRetryableStatus returns true for HTTP status codes that are safe to retry.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Get issues a GET with retry logic and returns the response from the first
// successful (or last) attempt. The caller closes the body.
func Get(ctx context.Context, client *http.Client, url string, headers http.Header, cfg RetryConfig) (*http.Response, error) {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jittered := applyJitter(delay, cfg.JitterFrac)
			log.Debug("retrying request",
				"attempt", attempt,
				"delay", jittered,
				"url", url,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jittered):
			}

			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err // not retryable
		}
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == cfg.MaxRetries {
			return resp, nil
		}

		resp.Body.Close()
		lastErr = &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	if cfg.MaxRetries > 0 {
		log.Warn("all retries exhausted",
			"url", url,
			"attempts", cfg.MaxRetries+1,
			"error", lastErr,
		)
	}
	return nil, lastErr
}

// StatusError indicates the server answered with a non-success status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return "request to " + e.URL + " failed with status " + http.StatusText(e.StatusCode)
}

// applyJitter adds ±frac random jitter to a duration.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
