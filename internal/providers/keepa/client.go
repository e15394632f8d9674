// Package keepa is the budget-aware client for the external catalog
// API. Every call is paced by a local token bucket that re-syncs from
// the remote's authoritative accounting on each response, and guarded
// by a circuit breaker so a broken upstream fails fast instead of
// burning the retry budget.
package keepa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Config wires the client. Only APIKey is mandatory.
type Config struct {
	APIKey  string
	BaseURL string
	Domain  int

	BucketCapacity  int
	RefillPerMinute float64

	MaxRetries int
	Timeout    time.Duration

	DiscoveryCost int
	ProductCost   int
	BatchSize     int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.keepa.com"
	}
	if c.Domain <= 0 {
		c.Domain = 1
	}
	if c.BucketCapacity <= 0 {
		c.BucketCapacity = 200
	}
	if c.RefillPerMinute <= 0 {
		c.RefillPerMinute = 21
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.DiscoveryCost <= 0 {
		c.DiscoveryCost = 5
	}
	if c.ProductCost <= 0 {
		c.ProductCost = 2
	}
	if c.BatchSize <= 0 || c.BatchSize > 100 {
		c.BatchSize = 100
	}
}

// Client talks to the external API. Safe for concurrent use; all
// callers share one token bucket.
type Client struct {
	cfg     Config
	http    *http.Client
	bucket  *TokenBucket
	breaker *gobreaker.CircuitBreaker

	tokensConsumed atomic.Int64

	mu        sync.Mutex
	lastError string
}

// NewClient validates the configuration and builds the client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, newError(KindFatal, "config", fmt.Errorf("missing API key"))
	}
	cfg.applyDefaults()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "keepa",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		bucket:  NewTokenBucket(cfg.BucketCapacity, cfg.RefillPerMinute),
		breaker: breaker,
	}, nil
}

// TokensConsumed is the process-lifetime spend, for the run audit.
func (c *Client) TokensConsumed() int {
	return int(c.tokensConsumed.Load())
}

// DiscoverCategory lists best-selling ASINs for a category.
func (c *Client) DiscoverCategory(ctx context.Context, categoryID int64, domain int) ([]string, error) {
	if domain <= 0 {
		domain = c.cfg.Domain
	}
	if err := c.bucket.Wait(ctx, c.cfg.DiscoveryCost); err != nil {
		return nil, newError(KindBudget, "discover", err)
	}

	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("domain", strconv.Itoa(domain))
	q.Set("category", strconv.FormatInt(categoryID, 10))

	env, err := c.call(ctx, "discover", "/bestsellers", q)
	if err != nil {
		return nil, err
	}
	c.tokensConsumed.Add(int64(c.cfg.DiscoveryCost))

	if env.BestSellersList == nil {
		return nil, newError(KindMalformed, "discover", fmt.Errorf("response missing bestSellersList"))
	}
	return env.BestSellersList.ASINList, nil
}

// FetchProducts fetches product records in batches. Individual
// undecodable records land in the failure list; a batch only errors as
// a whole when the call itself fails.
func (c *Client) FetchProducts(ctx context.Context, asins []string, includeHistory bool) (*BatchResult, error) {
	result := &BatchResult{}

	for start := 0; start < len(asins); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(asins) {
			end = len(asins)
		}
		batch := asins[start:end]

		cost := len(batch) * c.cfg.ProductCost
		if err := c.bucket.Wait(ctx, cost); err != nil {
			return result, newError(KindBudget, "fetch", err)
		}

		q := url.Values{}
		q.Set("key", c.cfg.APIKey)
		q.Set("domain", strconv.Itoa(c.cfg.Domain))
		q.Set("asin", strings.Join(batch, ","))
		if includeHistory {
			q.Set("history", "1")
		}

		env, err := c.call(ctx, "fetch", "/product", q)
		if err != nil {
			return result, err
		}
		c.tokensConsumed.Add(int64(cost))
		result.TokensConsumed += cost

		got := make(map[string]bool, len(env.Products))
		for i, raw := range env.Products {
			var rec ProductRecord
			if err := json.Unmarshal(raw, &rec); err != nil || rec.ASIN == "" {
				asin := asinAt(batch, i)
				result.Failed = append(result.Failed, ProductFailure{
					ASIN:   asin,
					Reason: "undecodable product record",
				})
				continue
			}
			if rec.CapturedAt.IsZero() {
				rec.CapturedAt = time.Now().UTC()
			}
			got[rec.ASIN] = true
			result.Records = append(result.Records, rec)
		}
		for _, asin := range batch {
			if !got[asin] && !failedContains(result.Failed, asin) {
				result.Failed = append(result.Failed, ProductFailure{ASIN: asin, Reason: "not returned by API"})
			}
		}
	}

	return result, nil
}

// HealthCheck reads the remote token economy without spending tokens.
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	q := url.Values{}
	q.Set("key", c.cfg.APIKey)

	env, err := c.call(ctx, "health", "/token", q)
	if err != nil {
		c.mu.Lock()
		lastErr := c.lastError
		c.mu.Unlock()
		return &Health{OK: false, LastError: lastErr}, err
	}

	return &Health{
		OK:              true,
		TokensLeft:      env.TokensLeft,
		RefillPerMinute: env.refillPerMinute(),
	}, nil
}

// envelope is the common response shape. Every response carries the
// remote's token accounting.
type envelope struct {
	TokensLeft int     `json:"tokensLeft"`
	RefillIn   int     `json:"refillIn"`
	RefillRate float64 `json:"refillRate"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`

	Products        []json.RawMessage `json:"products,omitempty"`
	BestSellersList *struct {
		ASINList []string `json:"asinList"`
	} `json:"bestSellersList,omitempty"`
}

func (e *envelope) refillPerMinute() float64 {
	return e.RefillRate
}

// call runs one request with the full failure policy: transient errors
// back off exponentially with jitter up to MaxRetries; rate-limit
// responses wait out the refill without consuming a retry; schema
// errors fail immediately.
func (c *Client) call(ctx context.Context, op, path string, q url.Values) (*envelope, error) {
	attempts := 0
	backoff := 500 * time.Millisecond

	for {
		env, retryable, err := c.once(ctx, op, path, q)
		if err == nil {
			return env, nil
		}
		c.setLastError(err)

		var apiErr *APIError
		if !retryable {
			return nil, err
		}
		if isRateLimited(err, &apiErr) {
			// Rate limiting does not count against the retry cap; the
			// bucket has been re-synced, so waiting is well-founded.
			wait := c.rateLimitWait()
			log.Debug().Str("op", op).Dur("wait", wait).Msg("rate limited, waiting for refill")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, newError(KindBudget, op, err)
			}
			continue
		}

		attempts++
		if attempts >= c.cfg.MaxRetries {
			return nil, err
		}
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		if err := sleepCtx(ctx, backoff+jitter); err != nil {
			return nil, newError(KindTransient, op, err)
		}
		backoff *= 2
	}
}

// once performs a single HTTP round trip. The bool reports whether the
// failure may be retried.
func (c *Client) once(ctx context.Context, op, path string, q url.Values) (*envelope, bool, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, newError(KindFatal, op, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, newError(KindTransient, op, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, newError(KindTransient, op, err)
		}

		var env envelope
		decodeErr := json.Unmarshal(body, &env)
		if decodeErr == nil {
			c.bucket.Sync(env.TokensLeft, env.refillPerMinute())
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, newError(KindBudget, op, fmt.Errorf("rate limited, %d tokens left", env.TokensLeft))
		case resp.StatusCode >= 500:
			return nil, newError(KindTransient, op, fmt.Errorf("server error %d", resp.StatusCode))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, newError(KindFatal, op, fmt.Errorf("authentication failed: %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return nil, newError(KindMalformed, op, fmt.Errorf("unexpected status %d", resp.StatusCode))
		case decodeErr != nil:
			return nil, newError(KindMalformed, op, fmt.Errorf("undecodable response: %w", decodeErr))
		case env.Error != nil:
			return nil, newError(KindMalformed, op, fmt.Errorf("API error %s: %s", env.Error.Type, env.Error.Message))
		}
		return &env, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, true, newError(KindTransient, op, err)
		}
		kind := KindOf(err)
		retryable := kind == KindTransient || kind == KindBudget
		return nil, retryable, err
	}
	return res.(*envelope), false, nil
}

// rateLimitWait derives a wait from the current refill rate, enough to
// accumulate one product batch's worth of tokens.
func (c *Client) rateLimitWait() time.Duration {
	_, refill := c.bucket.Balance()
	if refill <= 0 {
		return time.Minute
	}
	need := float64(c.cfg.BatchSize * c.cfg.ProductCost)
	wait := time.Duration(need / refill * float64(time.Minute))
	if wait > 5*time.Minute {
		wait = 5 * time.Minute
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (c *Client) setLastError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

func isRateLimited(err error, apiErr **APIError) bool {
	return errors.As(err, apiErr) && (*apiErr).Kind == KindBudget
}

func asinAt(batch []string, i int) string {
	if i < len(batch) {
		return batch[i]
	}
	return "unknown"
}

func failedContains(failed []ProductFailure, asin string) bool {
	for _, f := range failed {
		if f.ASIN == asin {
			return true
		}
	}
	return false
}
