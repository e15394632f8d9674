package keepa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
}

func TestDiscoverCategory(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/bestsellers", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "2230642011", r.URL.Query().Get("category"))
		fmt.Fprint(w, `{"tokensLeft":100,"refillRate":21,"bestSellersList":{"asinList":["B0AAAA0001","B0AAAA0002"]}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	asins, err := c.DiscoverCategory(context.Background(), 2230642011, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"B0AAAA0001", "B0AAAA0002"}, asins)
	assert.Equal(t, 5, c.TokensConsumed())
	assert.EqualValues(t, 1, requests.Load())

	// The bucket adopted the remote's accounting.
	tokens, refill := c.bucket.Balance()
	assert.InDelta(t, 100, tokens, 1)
	assert.InDelta(t, 21, refill, 1e-9)
}

func TestFetchProductsIsolatesBadRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/product", r.URL.Path)
		assert.Equal(t, "B0AAAA0001,B0AAAA0002,B0AAAA0003", r.URL.Query().Get("asin"))
		fmt.Fprint(w, `{"tokensLeft":90,"refillRate":21,"products":[`+
			`{"asin":"B0AAAA0001","title":"Mount","priceCurrent":24.99},`+
			`{"asin":42}`+
			`]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	res, err := c.FetchProducts(context.Background(), []string{"B0AAAA0001", "B0AAAA0002", "B0AAAA0003"}, false)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "B0AAAA0001", res.Records[0].ASIN)
	assert.Equal(t, "Mount", res.Records[0].Title)
	assert.False(t, res.Records[0].CapturedAt.IsZero())

	require.Len(t, res.Failed, 2)
	assert.Equal(t, "B0AAAA0002", res.Failed[0].ASIN)
	assert.Equal(t, "undecodable product record", res.Failed[0].Reason)
	assert.Equal(t, "B0AAAA0003", res.Failed[1].ASIN)
	assert.Equal(t, "not returned by API", res.Failed[1].Reason)

	assert.Equal(t, 6, res.TokensConsumed)
	assert.Equal(t, 6, c.TokensConsumed())
}

func TestFetchProductsHistoryFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("history"))
		fmt.Fprint(w, `{"tokensLeft":90,"refillRate":21,"products":[{"asin":"B0AAAA0001","rankHistory":[{"time":"2026-08-01T00:00:00Z","rank":9000}]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	res, err := c.FetchProducts(context.Background(), []string{"B0AAAA0001"}, true)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Len(t, res.Records[0].RankHistory, 1)
	assert.EqualValues(t, 9000, res.Records[0].RankHistory[0].Rank)
}

func TestCallRetriesServerErrors(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.DiscoverCategory(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.EqualValues(t, 2, requests.Load())
}

func TestCallDoesNotRetryMalformed(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, "not json at all")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.DiscoverCategory(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
	assert.EqualValues(t, 1, requests.Load())
}

func TestCallDoesNotRetryAuthFailure(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.DiscoverCategory(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.EqualValues(t, 1, requests.Load())
}

func TestRateLimitWaitsWithoutConsumingRetries(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"tokensLeft":0,"refillRate":50000}`)
			return
		}
		fmt.Fprint(w, `{"tokensLeft":100,"refillRate":21,"bestSellersList":{"asinList":["B0AAAA0001"]}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	asins, err := c.DiscoverCategory(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"B0AAAA0001"}, asins)
	assert.EqualValues(t, 2, requests.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)

	var lastErr error
	for i := 0; i < 3; i++ {
		_, lastErr = c.HealthCheck(context.Background())
		require.Error(t, lastErr)
	}

	// Five round trips fail, then the breaker short-circuits.
	assert.EqualValues(t, 5, requests.Load())
	assert.True(t, errors.Is(lastErr, gobreaker.ErrOpenState))
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		fmt.Fprint(w, `{"tokensLeft":300,"refillRate":21}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	h, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, h.OK)
	assert.Equal(t, 300, h.TokensLeft)
	assert.InDelta(t, 21, h.RefillPerMinute, 1e-9)
}

func TestHealthCheckReportsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	h, err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, h.OK)
	assert.NotEmpty(t, h.LastError)
}

func TestWaitBudgetErrorOnCancelledContext(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", 3)
	c.bucket.Sync(0, 0.001)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.DiscoverCategory(ctx, 1, 1)
	require.Error(t, err)
	assert.Equal(t, KindBudget, KindOf(err))
}

func TestAPIErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := newError(KindTransient, "fetch", inner)

	assert.ErrorIs(t, err, inner)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindTransient, apiErr.Kind)
	assert.Equal(t, "fetch", apiErr.Op)
	assert.Equal(t, KindTransient, KindOf(errors.New("unclassified")))
}
