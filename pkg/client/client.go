// Package client provides the HTTP transport for fetch calls: auth header
// merging, retry with exponential backoff and HTTP 429 handling.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/api-fetcher/pkg/ratelimit"
)

// Prometheus metrics for transport operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_requests_total",
		Help: "Total HTTP requests by host and status",
	}, []string{"host", "status"})

	fetchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetch_request_duration_seconds",
		Help:    "HTTP request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_errors_total",
		Help: "Total failed request attempts by class",
	}, []string{"class"})
)

// HeaderProvider supplies the headers merged into every request attempt,
// typically base headers plus authentication.
type HeaderProvider interface {
	Headers(ctx context.Context) http.Header
}

type staticHeaders http.Header

func (h staticHeaders) Headers(context.Context) http.Header {
	return http.Header(h).Clone()
}

// Client issues single logical requests with retries.
type Client struct {
	httpClient     *http.Client
	auth           HeaderProvider
	policy         RetryPolicy
	tracker        *ratelimit.Tracker
	rateLimitSleep time.Duration
	sleep          SleepFunc
	logger         zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-attempt timeout of the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHeaderProvider sets the source of base and auth headers.
func WithHeaderProvider(p HeaderProvider) Option {
	return func(c *Client) {
		c.auth = p
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithRateLimitSleep sets the wait used for a 429 without a usable Retry-After.
func WithRateLimitSleep(d time.Duration) Option {
	return func(c *Client) {
		c.rateLimitSleep = d
	}
}

// WithTracker records 429 cooldowns in t.
func WithTracker(t *ratelimit.Tracker) Option {
	return func(c *Client) {
		c.tracker = t
	}
}

// WithSleep replaces every blocking wait (rate limit and backoff).
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a transport client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		auth:           staticHeaders{},
		policy:         DefaultRetryPolicy(),
		rateLimitSleep: time.Second,
		sleep:          Sleep,
		logger:         log.With().Str("component", "fetch-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.Sleep = c.sleep
	c.policy.Logger = &c.logger
	return c
}

// Execute performs one logical request and returns the response body. params
// are added to the URL query; keys already present in rawURL keep their
// value. Failures are retried per the retry policy; the last failure is
// returned wrapped in ErrRetryExhausted.
func (c *Client) Execute(ctx context.Context, method, rawURL string, params url.Values, headers http.Header) ([]byte, error) {
	reqURL, err := mergeQuery(rawURL, params)
	if err != nil {
		return nil, fmt.Errorf("build request url: %w", err)
	}

	var body []byte
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		b, err := c.attempt(ctx, method, reqURL, headers)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// attempt sends exactly one HTTP request.
func (c *Client) attempt(ctx context.Context, method string, u *url.URL, headers http.Header) ([]byte, error) {
	host := u.Host
	startTime := time.Now()
	defer func() {
		fetchRequestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = c.mergeHeaders(ctx, headers)

	c.logger.Debug().
		Str("method", method).
		Str("url", u.String()).
		Msg("Executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		fetchRequestsTotal.WithLabelValues(host, "network_error").Inc()
		c.logger.Error().Err(err).Str("host", host).Msg("HTTP request failed")
		return nil, &FetchError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	fetchRequestsTotal.WithLabelValues(host, status).Inc()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		wait := ratelimit.RetryAfter(resp.Header, c.rateLimitSleep)
		fetchErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		if c.tracker != nil {
			if err := c.tracker.RecordThrottle(ctx, host, wait); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record throttle state")
			}
		} else {
			c.logger.Warn().Str("host", host).Dur("wait", wait).Msg("Rate limited (429)")
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassRateLimit,
			Message:    resp.Status,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		class := classifyStatus(resp.StatusCode)
		fetchErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("host", host).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Request error")
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}
	return body, nil
}

// mergeHeaders layers provider headers over the caller's headers.
func (c *Client) mergeHeaders(ctx context.Context, headers http.Header) http.Header {
	merged := headers.Clone()
	if merged == nil {
		merged = http.Header{}
	}
	for k, v := range c.auth.Headers(ctx) {
		merged[k] = append([]string(nil), v...)
	}
	if merged.Get("Accept") == "" {
		merged.Set("Accept", "application/json")
	}
	return merged
}

func mergeQuery(rawURL string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return u, nil
	}
	q := u.Query()
	for k, vals := range params {
		if _, ok := q[k]; ok {
			continue
		}
		q[k] = append([]string(nil), vals...)
	}
	u.RawQuery = q.Encode()
	return u, nil
}
