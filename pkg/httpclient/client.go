// Package httpclient executes API requests over the connection pool.
//
// Execute serves cacheable reads from the cache, leases a pooled connection,
// attaches a bearer token (and a signature when a signer is configured) and
// retries transient failures with exponential backoff. A 401 invalidates the
// token and is retried exactly once with a fresh one. Successful writes
// invalidate cached reads of the affected resource.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/ext"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/jrepp/sdkruntime/pkg/apierrors"
	"github.com/jrepp/sdkruntime/pkg/cache"
	"github.com/jrepp/sdkruntime/pkg/metrics"
	"github.com/jrepp/sdkruntime/pkg/pool"
	"github.com/jrepp/sdkruntime/pkg/signer"
)

const (
	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// TokenProvider supplies bearer tokens. *auth.Manager implements it.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate(token string)
}

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL of the API, e.g. "https://api.example.com/v1"
	BaseURL string

	Pool *pool.Pool
	Auth TokenProvider

	// Signer adds X-Signature/X-Timestamp to every attempt (optional)
	Signer *signer.Signer

	// Cache stores cacheable responses (optional)
	Cache *cache.Manager

	// RequestTimeout bounds each transport attempt (default: 30s)
	RequestTimeout time.Duration

	// MaxRetries after the first attempt for transient failures
	MaxRetries int

	// RetryBaseDelay is the first backoff interval (default: 200ms)
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps every wait, including Retry-After (default: 30s)
	RetryMaxDelay time.Duration

	// RetryJitter is the backoff randomization factor in [0, 1)
	RetryJitter float64

	// RateLimiter throttles attempts client side (optional)
	RateLimiter *rate.Limiter

	UserAgent string

	Logger  hclog.Logger
	Metrics *metrics.Collectors

	// Sleep waits between retries (tests)
	Sleep func(ctx context.Context, d time.Duration) error

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	baseURL        string
	pool           *pool.Pool
	auth           TokenProvider
	signer         *signer.Signer
	cache          *cache.Manager
	timeout        time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	retryJitter    float64
	limiter        *rate.Limiter
	userAgent      string
	logger         hclog.Logger
	metrics        *metrics.Collectors
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// New creates a new HTTP client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be non-negative, got: %d", cfg.MaxRetries)
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter >= 1 {
		return nil, fmt.Errorf("retry jitter must be in [0, 1), got: %v", cfg.RetryJitter)
	}

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		pool:           cfg.Pool,
		auth:           cfg.Auth,
		signer:         cfg.Signer,
		cache:          cfg.Cache,
		timeout:        cfg.RequestTimeout,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		retryJitter:    cfg.RetryJitter,
		limiter:        cfg.RateLimiter,
		userAgent:      cfg.UserAgent,
		logger:         cfg.Logger.Named("http"),
		metrics:        cfg.Metrics,
		sleep:          cfg.Sleep,
		now:            cfg.Now,
	}, nil
}

// Execute performs req. Terminal failures are *apierrors.NetworkError,
// *apierrors.TimeoutError, *apierrors.HTTPError or *apierrors.AuthError, or
// the context error when ctx ends first. The leased connection is always
// released before Execute returns.
func (c *Client) Execute(ctx context.Context, req Request) (resp *Response, err error) {
	if req.method == "" {
		return nil, fmt.Errorf("request was not built with NewRequest")
	}

	op := req.String()
	span, ctx := tracer.StartSpanFromContext(ctx, "sdk.request",
		tracer.ResourceName(op),
		tracer.SpanType(ext.SpanTypeHTTP),
		tracer.Tag(ext.HTTPMethod, req.method),
	)
	start := c.now()
	defer func() {
		c.metrics.ObserveRequest(req.method, c.now().Sub(start))
		span.Finish(tracer.WithError(err))
	}()

	useCache := c.cache != nil && req.cacheable && req.idempotent
	key := req.cacheKey
	if key == "" {
		key = cache.Key(req.method, req.path, req.query)
	}

	if useCache {
		if v, ok := c.cache.Get(key); ok {
			span.SetTag("cache.hit", true)
			hit := v.(*Response).clone()
			hit.FromCache = true
			return hit, nil
		}
	}

	lease, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := c.pool.Release(lease); rerr != nil {
			c.logger.Warn("failed to release connection", "op", op, "error", rerr)
		}
	}()

	resp, err = c.do(ctx, lease, req, op)
	if err != nil {
		return nil, err
	}
	span.SetTag(ext.HTTPCode, resp.StatusCode)

	switch {
	case useCache:
		c.cache.Set(key, resp.clone(), req.cacheTTL)
	case c.cache != nil && req.isWrite():
		c.invalidate(req.path)
	}
	return resp, nil
}

// invalidate drops cached reads of p, of anything beneath it and of its
// immediate parent collection.
func (c *Client) invalidate(p string) {
	n := c.cache.InvalidatePath(p)
	if parent := path.Dir(strings.TrimRight(p, "/")); parent != "/" && parent != "." {
		n += c.cache.InvalidateExact(parent)
	}
	if n > 0 {
		c.logger.Debug("invalidated cached responses", "path", p, "count", n)
	}
}

func (c *Client) do(ctx context.Context, lease *pool.Lease, req Request, op string) (*Response, error) {
	b := c.newBackOff()
	requestID := uuid.NewString()
	reauthenticated := false
	retries := 0

	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
			}
		}

		token, err := c.auth.GetToken(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, lease, req, op, token, requestID)
		if err == nil {
			if req.validate != nil {
				if verr := req.validate(resp); verr != nil {
					return nil, verr
				}
			}
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if apierrors.StatusCode(err) == http.StatusUnauthorized {
			c.auth.Invalidate(token)
			if reauthenticated {
				return nil, &apierrors.AuthError{
					Op:      op,
					Status:  http.StatusUnauthorized,
					Message: "token rejected after re-authentication",
					Err:     err,
				}
			}
			reauthenticated = true
			c.metrics.IncRetry("401")
			c.logger.Debug("token rejected, re-authenticating", "op", op)
			continue
		}

		if !req.idempotent || !apierrors.IsRetryable(err) || retries >= c.maxRetries {
			return nil, err
		}

		delay := c.retryDelay(b, err)
		retries++
		c.metrics.IncRetry(retryReason(err))
		c.logger.Debug("retrying request", "op", op, "retry", retries, "delay", delay, "error", err)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, lease *pool.Lease, req Request, op, token, requestID string) (*Response, error) {
	timeout := c.timeout
	if req.timeout > 0 {
		timeout = req.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, c.url(req), body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	httpReq.Header.Set(HeaderRequestID, requestID)
	if req.idempotencyKey != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.idempotencyKey)
	}
	if c.signer != nil {
		c.signer.SignRequest(httpReq, req.body, c.now())
	}

	httpResp, err := lease.Do(httpReq)
	if err != nil {
		c.metrics.ObserveAttempt(req.method, 0)
		return nil, classify(ctx, attemptCtx, op, timeout, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.metrics.ObserveAttempt(req.method, 0)
		return nil, classify(ctx, attemptCtx, op, timeout, err)
	}
	c.metrics.ObserveAttempt(req.method, httpResp.StatusCode)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, httpError(op, httpResp, data, c.now())
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		op:         op,
	}, nil
}

func (c *Client) url(req Request) string {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	return u
}
