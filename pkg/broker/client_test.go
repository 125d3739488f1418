package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roafetch/pkg/logger"
	"roafetch/pkg/model"
	"roafetch/pkg/util/workers"
)

func testClient(srv *httptest.Server) *Client {
	brokerURL, infoURL := EndpointURLs(srv.URL)
	return NewClient(Config{
		BrokerURL: brokerURL,
		InfoURL:   infoURL,
		Retry: workers.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}, logger.NewTestLogger())
}

func TestEndpointURLs(t *testing.T) {
	b, i := EndpointURLs("http://example.net/")
	assert.Equal(t, "http://example.net/broker", b)
	assert.Equal(t, "http://example.net/info", i)
}

func TestFetch(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/broker", r.URL.Path)
		query = map[string]string{
			"project":   r.URL.Query().Get("project"),
			"collector": r.URL.Query().Get("collector"),
			"interval":  r.URL.Query().Get("interval"),
		}
		fmt.Fprint(w, fixtureResponse)
	}))
	defer srv.Close()

	c := testClient(srv)
	resp, err := c.Fetch(context.Background(), []string{"FU-Berlin"}, []string{"CC01", "CC06(RTR)"}, "1511960400-1511960800")
	require.NoError(t, err)

	assert.Equal(t, "FU-Berlin", query["project"])
	assert.Equal(t, "CC01,CC06(RTR)", query["collector"])
	assert.Equal(t, "1511960400-1511960800", query["interval"])
	assert.Len(t, resp.Slices, 3)
}

func TestFetchBrokerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "Error: Unknown project ERR_PROJECT\n")
	}))
	defer srv.Close()

	_, err := testClient(srv).Fetch(context.Background(), []string{"ERR_PROJECT"}, []string{"CC01"}, "1-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrBroker)
	assert.Contains(t, err.Error(), "Unknown project ERR_PROJECT")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "broker errors are not retried")
}

func TestFetchMalformedMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Malformed interval: 0800000000-0800000000")
	}))
	defer srv.Close()

	_, err := testClient(srv).Fetch(context.Background(), []string{"FU-Berlin"}, []string{"CC01"}, "0800000000-0800000000")
	assert.ErrorIs(t, err, model.ErrBroker)
}

func TestFetchMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"projects": "FU-Berlin", "collectors": "CC01"}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Fetch(context.Background(), []string{"FU-Berlin"}, []string{"CC01"}, "1-2")
	assert.ErrorIs(t, err, model.ErrMalformedResponse)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, fixtureResponse)
	}))
	defer srv.Close()

	resp, err := testClient(srv).Fetch(context.Background(), []string{"FU-Berlin"}, []string{"CC01"}, "1-2")
	require.NoError(t, err)
	assert.Len(t, resp.Slices, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := testClient(srv)
	srv.Close()

	_, err := c.Fetch(context.Background(), []string{"FU-Berlin"}, []string{"CC01"}, "1-2")
	assert.ErrorIs(t, err, model.ErrIO)
}

func TestFetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fixtureResponse)
	}))
	defer srv.Close()

	c := testClient(srv)
	c.cfg.MaxBodySize = 100
	_, err := c.Fetch(context.Background(), []string{"FU-Berlin"}, []string{"CC01"}, "1-2")
	assert.ErrorIs(t, err, model.ErrIO)
}

func TestInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		switch r.URL.Query().Get("collector") {
		case "CC06(RTR)":
			fmt.Fprint(w, "rpki-cache.example.net:8282\n")
		case "CC01":
			fmt.Fprint(w, "Error: Collector is not an RTR server")
		default:
			fmt.Fprint(w, "nonsense")
		}
	}))
	defer srv.Close()
	c := testClient(srv)

	host, port, err := c.Info(context.Background(), "FU-Berlin", "CC06(RTR)")
	require.NoError(t, err)
	assert.Equal(t, "rpki-cache.example.net", host)
	assert.Equal(t, "8282", port)

	_, _, err = c.Info(context.Background(), "FU-Berlin", "CC01")
	assert.ErrorIs(t, err, model.ErrBroker)

	_, _, err = c.Info(context.Background(), "FU-Berlin", "CC99")
	assert.ErrorIs(t, err, model.ErrMalformedResponse)
}
