package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "notify-bridge/test", r.Header.Get("User-Agent"))
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), FetchConfig{UserAgent: "notify-bridge/test", Retry: DefaultRetryConfig()})
	data, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), FetchConfig{Retry: DefaultRetryConfig()})
	_, err := f.Fetch(context.Background(), srv.URL)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestFetchEnforcesMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 2048)))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), FetchConfig{MaxBytes: 1024, Retry: DefaultRetryConfig()})
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)

	f = NewFetcher(srv.Client(), FetchConfig{MaxBytes: 2048, Retry: DefaultRetryConfig()})
	data, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, data, 2048)
}

func TestFetchRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	retry := DefaultRetryConfig()
	retry.MaxRetries = 3
	retry.InitialDelay = time.Millisecond
	f := NewFetcher(srv.Client(), FetchConfig{Retry: retry})

	data, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchWithoutRetriesMakesOneAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), FetchConfig{Retry: DefaultRetryConfig()})
	_, err := f.Fetch(context.Background(), srv.URL)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(srv.Client(), FetchConfig{Timeout: 50 * time.Millisecond, Retry: DefaultRetryConfig()})
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFetchInvalidURL(t *testing.T) {
	f := NewFetcher(nil, FetchConfig{Retry: DefaultRetryConfig()})
	_, err := f.Fetch(context.Background(), "://not a url")
	assert.Error(t, err)
}

func TestApplyJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := applyJitter(time.Second, 0.3)
		assert.GreaterOrEqual(t, d, 700*time.Millisecond)
		assert.LessOrEqual(t, d, 1300*time.Millisecond)
	}
	assert.Equal(t, time.Second, applyJitter(time.Second, 0))
}
