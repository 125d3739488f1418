// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package roadump

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roafetch/pkg/logger"
	"roafetch/pkg/model"
	"roafetch/pkg/util/workers"
)

func testFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{
		Timeout: 5 * time.Second,
		Retry: workers.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}, logger.NewTestLogger())
}

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(fixtureDump))
	}))
	defer srv.Close()

	body, err := testFetcher().Fetch(context.Background(), srv.URL+"/CC01/dump.csv")
	require.NoError(t, err)
	assert.Equal(t, fixtureDump, string(body))
}

func TestFetchHTTPGzip(t *testing.T) {
	compressed := gzipBytes(t, fixtureDump)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(compressed)
	}))
	defer srv.Close()

	body, err := testFetcher().Fetch(context.Background(), srv.URL+"/CC01/dump.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, fixtureDump, string(body))
}

func TestFetchHTTPStatus(t *testing.T) {
	var notFound, unavailable atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			notFound.Add(1)
			http.NotFound(w, r)
		default:
			unavailable.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	f := testFetcher()

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, model.ErrIO)
	assert.Equal(t, int32(1), notFound.Load(), "4xx must not be retried")

	_, err = f.Fetch(context.Background(), srv.URL+"/busy")
	assert.ErrorIs(t, err, model.ErrIO)
	assert.Equal(t, int32(2), unavailable.Load(), "5xx is retried")
}

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "CC01.csv")
	require.NoError(t, os.WriteFile(plain, []byte(fixtureDump), 0o644))
	compressed := filepath.Join(dir, "CC01.csv.gz")
	require.NoError(t, os.WriteFile(compressed, gzipBytes(t, fixtureDump), 0o644))

	f := testFetcher()
	for _, location := range []string{plain, "file://" + plain, compressed, "file://" + compressed} {
		body, err := f.Fetch(context.Background(), location)
		require.NoError(t, err, location)
		assert.Equal(t, fixtureDump, string(body), location)
	}

	_, err := f.Fetch(context.Background(), filepath.Join(dir, "absent.csv"))
	assert.ErrorIs(t, err, model.ErrIO)
}

func TestFetchBodyLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.csv.gz")
	require.NoError(t, os.WriteFile(path, gzipBytes(t, string(bytes.Repeat([]byte("x"), 64<<10))), 0o644))

	f := NewFetcher(FetcherConfig{MaxBodySize: 16 << 10}, logger.NewTestLogger())
	_, err := f.Fetch(context.Background(), path)
	assert.ErrorIs(t, err, model.ErrIO)
}
