// Package broker queries the ROA archive broker for the dump URLs of historical
// time slices and for the address of live RTR cache servers.
package broker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"roafetch/pkg/metrics"
	"roafetch/pkg/model"
	"roafetch/pkg/util/bodybuf"
	"roafetch/pkg/util/workers"
)

const (
	DefaultBaseURL   = "http://roa-broker.realmv6.org"
	DefaultUserAgent = "roafetch-broker-client"
	DefaultTimeout   = 2 * time.Minute

	// ErrorMarkerLen is how much of a body is inspected for an error marker
	ErrorMarkerLen = 80
	// maxErrorMessage caps the broker message surfaced in a BrokerError
	maxErrorMessage = 1024
)

var errorMarkers = [][]byte{[]byte("Error:"), []byte("Malformed")}

// Config contains broker client settings
type Config struct {
	BrokerURL   string              // Query endpoint, e.g. http://host/broker
	InfoURL     string              // Live cache server lookup endpoint
	UserAgent   string              // HTTP User-Agent
	Timeout     time.Duration       // Per request timeout
	RateLimit   float64             // Requests per second (0 = no limit)
	Burst       int                 // Rate limiter burst
	MaxBodySize int                 // Response size limit in bytes
	Retry       workers.RetryConfig // Transport failure retries
}

// DefaultConfig returns the configuration for the public broker
func DefaultConfig() Config {
	brokerURL, infoURL := EndpointURLs(DefaultBaseURL)
	return Config{
		BrokerURL:   brokerURL,
		InfoURL:     infoURL,
		UserAgent:   DefaultUserAgent,
		Timeout:     DefaultTimeout,
		MaxBodySize: bodybuf.DefaultLimit,
		Retry:       workers.DefaultRetryConfig(),
	}
}

// EndpointURLs derives the query and info endpoints from a broker base URL
func EndpointURLs(base string) (brokerURL, infoURL string) {
	base = strings.TrimRight(base, "/?")
	return base + "/broker", base + "/info"
}

// Client talks to the broker
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient creates a broker client, filling unset fields from DefaultConfig
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = def.BrokerURL
	}
	if cfg.InfoURL == "" {
		cfg.InfoURL = def.InfoURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}

	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: workers.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:  logger.With().Str("component", "broker").Logger(),
	}
}

// QueryURL builds the broker request for projects, collectors and intervals
func (c *Client) QueryURL(projects, collectors []string, intervals string) string {
	q := url.Values{}
	q.Set("project", strings.Join(projects, ","))
	q.Set("collector", strings.Join(collectors, ","))
	q.Set("interval", intervals)
	return c.cfg.BrokerURL + "?" + q.Encode()
}

// Fetch asks the broker which ROA dumps exist for intervals (t0-t1[,t2-t3...])
func (c *Client) Fetch(ctx context.Context, projects, collectors []string, intervals string) (*Response, error) {
	reqURL := c.QueryURL(projects, collectors, intervals)
	c.logger.Debug().Str("url", reqURL).Msg("querying broker")

	body, err := c.get(ctx, reqURL)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	resp, err := ParseResponse(body)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}
	metrics.BrokerRequests.WithLabelValues("ok").Inc()
	metrics.BrokerSlices.Set(float64(len(resp.Slices)))

	if len(resp.Slices) == 0 {
		c.logger.Info().Str("interval", intervals).Msg("no ROA dumps for the interval")
	} else {
		c.logger.Debug().
			Int("slices", len(resp.Slices)).
			Uint32("start", resp.Start).
			Uint32("max_end", resp.MaxEnd).
			Strs("collectors", resp.Collectors).
			Msg("broker response parsed")
	}

	return resp, nil
}

// Info resolves the RTR cache server of a live collector to host and port
func (c *Client) Info(ctx context.Context, project, collector string) (string, string, error) {
	q := url.Values{}
	q.Set("project", project)
	q.Set("collector", collector)
	reqURL := c.cfg.InfoURL + "?" + q.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return "", "", err
	}

	hostPort := strings.TrimSpace(string(body))
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil || host == "" || port == "" {
		return "", "", fmt.Errorf("%w: info reply %q is not host:port", model.ErrMalformedResponse, hostPort)
	}
	return host, port, nil
}

// get performs a rate limited GET with retries and returns the checked body
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var body []byte
	err := workers.RateLimitedRetry(ctx, c.limiter, c.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return workers.Permanent(fmt.Errorf("%w: failed to create request: %v", model.ErrIO, err))
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", reqURL).Msg("broker request failed")
			return fmt.Errorf("%w: %v", model.ErrIO, err)
		}
		defer resp.Body.Close()

		b, err := readChecked(resp.Body, c.cfg.MaxBodySize)
		if err != nil {
			if errors.Is(err, model.ErrBroker) {
				return workers.Permanent(err)
			}
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: unexpected status code: %d", model.ErrIO, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return workers.Permanent(fmt.Errorf("%w: unexpected status code: %d", model.ErrIO, resp.StatusCode))
		}

		body = b
		return nil
	})
	return body, err
}

// readChecked inspects the first ErrorMarkerLen bytes for a broker error marker
// and then drains the body into a bounded buffer
func readChecked(r io.Reader, limit int) ([]byte, error) {
	br := bufio.NewReaderSize(r, ErrorMarkerLen)
	head, err := br.Peek(ErrorMarkerLen)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: failed to read response: %v", model.ErrIO, err)
	}

	for _, marker := range errorMarkers {
		if bytes.HasPrefix(head, marker) {
			msg, _ := io.ReadAll(io.LimitReader(br, maxErrorMessage))
			return nil, fmt.Errorf("%w: %s", model.ErrBroker, strings.TrimSpace(string(msg)))
		}
	}

	buf := bodybuf.New(limit)
	if _, err := buf.ReadFrom(br); err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", model.ErrIO, err)
	}
	return buf.Bytes(), nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrBroker):
		return "broker_error"
	case errors.Is(err, model.ErrMalformedResponse):
		return "malformed"
	default:
		return "io_error"
	}
}
