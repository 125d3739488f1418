// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package roadump

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"roafetch/pkg/model"
	"roafetch/pkg/util/bodybuf"
	"roafetch/pkg/util/workers"
)

const (
	DefaultUserAgent = "roafetch-dump-client"
	DefaultTimeout   = 5 * time.Minute
)

var gzipMagic = []byte{0x1f, 0x8b}

// FetcherConfig contains dump download settings
type FetcherConfig struct {
	UserAgent   string
	Timeout     time.Duration
	RateLimit   float64 // Requests per second (0 = no limit)
	Burst       int
	MaxBodySize int
	Retry       workers.RetryConfig
}

// Fetcher reads ROA dumps from HTTP(S) URLs or local files and gunzips them
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewFetcher creates a dump fetcher
func NewFetcher(cfg FetcherConfig, logger zerolog.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = bodybuf.DefaultLimit
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = workers.DefaultRetryConfig()
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: workers.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:  logger.With().Str("component", "roadump").Logger(),
	}
}

// Fetch returns the decompressed body of the dump at location
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	var raw []byte
	var err error
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		raw, err = f.fetchHTTP(ctx, location)
	} else {
		raw, err = f.fetchFile(location)
	}
	if err != nil {
		return nil, err
	}

	if !bytes.HasPrefix(raw, gzipMagic) {
		return raw, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gzip reader for %s: %v", model.ErrIO, location, err)
	}
	defer gz.Close()

	buf := bodybuf.New(f.cfg.MaxBodySize)
	if _, err := buf.ReadFrom(gz); err != nil {
		return nil, fmt.Errorf("%w: failed to decompress %s: %v", model.ErrIO, location, err)
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	var body []byte
	err := workers.RateLimitedRetry(ctx, f.limiter, f.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return workers.Permanent(fmt.Errorf("%w: failed to create request: %v", model.ErrIO, err))
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Warn().Err(err).Str("url", location).Msg("dump download failed")
			return fmt.Errorf("%w: could not open %s: %v", model.ErrIO, location, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: unexpected status code %d for %s", model.ErrIO, resp.StatusCode, location)
		case resp.StatusCode != http.StatusOK:
			return workers.Permanent(fmt.Errorf("%w: unexpected status code %d for %s", model.ErrIO, resp.StatusCode, location))
		}

		buf := bodybuf.New(f.cfg.MaxBodySize)
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return fmt.Errorf("%w: could not read %s: %v", model.ErrIO, location, err)
		}
		body = buf.Bytes()
		return nil
	})
	return body, err
}

func (f *Fetcher) fetchFile(location string) ([]byte, error) {
	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid file URL %s: %v", model.ErrIO, location, err)
		}
		path = u.Path
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open %s for reading: %v", model.ErrIO, path, err)
	}
	defer file.Close()

	buf := bodybuf.New(f.cfg.MaxBodySize)
	if _, err := buf.ReadFrom(file); err != nil {
		return nil, fmt.Errorf("%w: could not read %s: %v", model.ErrIO, path, err)
	}
	return buf.Bytes(), nil
}
