// Package polygon implements the rate-limited upstream client for the
// Polygon-style equities data API.
package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/equityrun/equityrun/internal/metrics"
)

// Config holds client tuning. Zero values fall back to defaults.
type Config struct {
	APIKey         string
	BaseURL        string
	RatePerSec     float64
	Burst          int
	MaxConcurrency int
	MaxRetries     int
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MemoTTL        time.Duration
	Metrics        *metrics.Registry
}

// DefaultConfig returns production defaults: 5 req/s, burst 5, 8 in-flight,
// 3 attempts, 30s per-request deadline.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		BaseURL:        "https://api.polygon.io",
		RatePerSec:     5,
		Burst:          5,
		MaxConcurrency: 8,
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     8 * time.Second,
		MemoTTL:        30 * time.Second,
	}
}

// Client is a typed, rate-limited client over the market-data provider. Safe
// for concurrent use; the token bucket and semaphore are the only gates on
// upstream QPS.
type Client struct {
	cfg       Config
	http      *http.Client
	limiter   *rate.Limiter
	semaphore chan struct{}
	breaker   *gobreaker.CircuitBreaker
	memo      *memoCache
	metrics   *metrics.Registry
}

// NewClient creates a client with the given configuration.
func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = def.MemoTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRegistry()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "polygon",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Upstream circuit breaker state change")
		},
	})

	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		semaphore: make(chan struct{}, cfg.MaxConcurrency),
		breaker:   breaker,
		memo:      newMemoCache(),
		metrics:   cfg.Metrics,
	}
}

func (c *Client) count(endpoint, outcome string) {
	c.metrics.UpstreamRequests.WithLabelValues(endpointLabel(endpoint), outcome).Inc()
}

// endpointLabel collapses symbol- and date-bearing paths to a stable family
// so the counter cardinality stays bounded.
func endpointLabel(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "/v2/aggs/grouped/"):
		return "grouped_daily"
	case strings.HasPrefix(endpoint, "/v2/snapshot/"):
		return "snapshot_all"
	case strings.HasSuffix(endpoint, "/prev"):
		return "prev_day"
	case strings.HasPrefix(endpoint, "/v2/aggs/ticker/"):
		return "aggregates"
	case strings.HasPrefix(endpoint, "/v3/reference/tickers/"):
		return "ticker_details"
	case strings.HasPrefix(endpoint, "/v3/reference/tickers"):
		return "reference_tickers"
	default:
		return "other"
	}
}

// fetch performs one rate-limited, retried GET and returns the decompressed
// body bytes. All endpoint methods funnel through here.
func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	memoKey := endpoint + "?" + params.Encode()
	if body, ok := c.memo.get(memoKey); ok {
		return body, nil
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, wrapErr(KindTimeout, endpoint, 0, ctx.Err())
	}

	var lastErr error
	consecutive429 := 0
	hintHonors := 0
	rateLimited := false

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt, rateLimited)
			log.Debug().Str("endpoint", endpoint).Int("attempt", attempt).
				Dur("backoff", backoff).Msg("Retrying upstream request")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, wrapErr(KindTimeout, endpoint, 0, ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, wrapErr(KindTimeout, endpoint, 0, err)
		}

		body, status, retryAfter, err := c.attempt(ctx, endpoint, params)
		switch {
		case err == nil && status == http.StatusOK:
			c.count(endpoint, "ok")
			c.memo.set(memoKey, body, c.cfg.MemoTTL)
			return body, nil

		case status == http.StatusTooManyRequests:
			c.count(endpoint, "rate_limited")
			consecutive429++
			rateLimited = true
			lastErr = wrapErr(KindRateLimited, endpoint, status, fmt.Errorf("rate limited by provider"))
			// Retry-After header first, then the JSON body hint.
			hint := retryAfter
			if hint == 0 {
				hint = retryAfterHint(body)
			}
			if hint > 0 && hintHonors < c.cfg.MaxRetries {
				// Provider told us when to come back; honoring the hint does
				// not consume a retry slot. Bounded so a stuck provider cannot
				// pin us here forever.
				hintHonors++
				attempt--
				select {
				case <-time.After(hint):
				case <-ctx.Done():
					return nil, wrapErr(KindTimeout, endpoint, 0, ctx.Err())
				}
			}

		case status == http.StatusRequestTimeout || status >= 500:
			c.count(endpoint, "upstream_5xx")
			rateLimited = false
			lastErr = wrapErr(KindUpstream5xx, endpoint, status, fmt.Errorf("upstream error"))

		case status >= 400:
			// Non-retryable client error: fail immediately.
			c.count(endpoint, "malformed")
			return nil, wrapErr(KindMalformed, endpoint, status, fmt.Errorf("non-retryable client error"))

		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			c.count(endpoint, "timeout")
			return nil, wrapErr(KindTimeout, endpoint, 0, err)

		case KindOf(err) == KindMalformed:
			c.count(endpoint, "malformed")
			return nil, err

		default:
			c.count(endpoint, "upstream_5xx")
			rateLimited = false
			lastErr = wrapErr(KindUpstream5xx, endpoint, status, err)
		}
	}

	if consecutive429 >= c.cfg.MaxRetries {
		return nil, wrapErr(KindRateLimited, endpoint, http.StatusTooManyRequests,
			fmt.Errorf("%d consecutive 429 responses", consecutive429))
	}
	if lastErr == nil {
		lastErr = wrapErr(KindUpstream5xx, endpoint, 0, fmt.Errorf("retries exhausted"))
	}
	return nil, lastErr
}

// attempt performs a single HTTP round trip through the circuit breaker.
// The returned status is 0 on transport errors; retryAfter carries the
// provider's Retry-After header when one was sent.
func (c *Client) attempt(ctx context.Context, endpoint string, params url.Values) ([]byte, int, time.Duration, error) {
	type result struct {
		body       []byte
		status     int
		retryAfter time.Duration
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		u := c.cfg.BaseURL + endpoint
		q := url.Values{}
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		q.Set("apiKey", c.cfg.APIKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var raw json.RawMessage
		if resp.StatusCode == http.StatusOK {
			if err := decodeJSON(resp, &raw); err != nil {
				return result{status: resp.StatusCode}, wrapErr(KindMalformed, endpoint, resp.StatusCode, err)
			}
			return result{body: []byte(raw), status: resp.StatusCode}, nil
		}

		// Drain the body for retry hints but report non-200 via status.
		body, _ := drainBody(resp)
		hint := parseRetryAfter(resp.Header.Get("Retry-After"))
		if resp.StatusCode >= 500 {
			return result{body: body, status: resp.StatusCode, retryAfter: hint}, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return result{body: body, status: resp.StatusCode, retryAfter: hint}, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, 0, 0, wrapErr(KindUpstream5xx, endpoint, 0, err)
		}
		if r, ok := out.(result); ok {
			return r.body, r.status, r.retryAfter, err
		}
		return nil, 0, 0, err
	}
	r := out.(result)
	return r.body, r.status, r.retryAfter, nil
}

// backoff is exponential with the configured base and cap. A 429 without a
// provider hint backs off harder than a 5xx before the next attempt.
func (c *Client) backoff(attempt int, rateLimited bool) time.Duration {
	backoff := c.cfg.BackoffBase * time.Duration(1<<uint(attempt))
	if rateLimited {
		backoff *= 4
	}
	if backoff > c.cfg.BackoffMax {
		backoff = c.cfg.BackoffMax
	}
	return backoff
}

// parseRetryAfter reads the standard Retry-After header, either delay-seconds
// or an HTTP-date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retryAfterHint extracts a provider retry hint from a 429 body, when one is
// supplied.
func retryAfterHint(body []byte) time.Duration {
	if len(body) == 0 {
		return 0
	}
	var hint struct {
		RetryAfter json.Number `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &hint); err != nil {
		return 0
	}
	if secs, err := strconv.ParseFloat(hint.RetryAfter.String(), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func drainBody(resp *http.Response) ([]byte, error) {
	var raw json.RawMessage
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, err
	}
	return []byte(raw), nil
}
