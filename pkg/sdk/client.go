// Package sdk wires the runtime components into one explicitly constructed
// client. Nothing is global: several clients with different configurations
// can live in one process.
package sdk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jrepp/sdkruntime/pkg/auth"
	"github.com/jrepp/sdkruntime/pkg/cache"
	"github.com/jrepp/sdkruntime/pkg/config"
	"github.com/jrepp/sdkruntime/pkg/credentials"
	"github.com/jrepp/sdkruntime/pkg/graphql"
	"github.com/jrepp/sdkruntime/pkg/httpclient"
	"github.com/jrepp/sdkruntime/pkg/metrics"
	"github.com/jrepp/sdkruntime/pkg/pool"
	"github.com/jrepp/sdkruntime/pkg/services"
	"github.com/jrepp/sdkruntime/pkg/signer"
	"github.com/jrepp/sdkruntime/pkg/websocket"
)

// Options carries collaborators that do not belong in a config file.
type Options struct {
	Logger hclog.Logger

	// Registerer receives the runtime metrics (optional)
	Registerer prometheus.Registerer

	// AuthHTTPClient performs token exchanges (optional)
	AuthHTTPClient *http.Client

	// Dialer and Scheduler replace the real WebSocket transport and clock
	Dialer    websocket.Dialer
	Scheduler websocket.Scheduler
}

// Client owns one credential store, token manager, connection pool and cache,
// shared by every service façade it exposes.
type Client struct {
	Verifications *services.Verifications
	Workflows     *services.Workflows
	Users         *services.Users
	Analytics     *services.Analytics

	cfg     *config.Config
	auth    *auth.Manager
	pool    *pool.Pool
	cache   *cache.Manager
	http    *httpclient.Client
	graphql *graphql.Client
	stream  *websocket.Client
	logger  hclog.Logger
}

// New validates cfg and builds a client.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := metrics.New(opts.Registerer)

	store := credentials.NewStore(cfg.APIKey)
	authManager, err := auth.NewManager(store, auth.Config{
		BaseURL:       cfg.BaseURL,
		HTTPClient:    opts.AuthHTTPClient,
		RefreshMargin: cfg.RefreshMargin(),
		UserAgent:     cfg.UserAgent,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth manager: %w", err)
	}

	connPool, err := pool.New(pool.Config{
		MaxConnections: cfg.MaxConnections,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	responseCache, err := cache.New(cache.Config{
		DefaultTTL: cfg.CacheTTL(),
		MaxEntries: cfg.CacheMaxEntries,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	var reqSigner *signer.Signer
	if cfg.Signing() {
		if reqSigner, err = signer.New(cfg.SecretKey); err != nil {
			return nil, fmt.Errorf("failed to create signer: %w", err)
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		burst := int(cfg.RateLimitPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	httpClient, err := httpclient.New(httpclient.Config{
		BaseURL:        cfg.BaseURL,
		Pool:           connPool,
		Auth:           authManager,
		Signer:         reqSigner,
		Cache:          responseCache,
		RequestTimeout: cfg.RequestTimeout(),
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay(),
		RetryMaxDelay:  cfg.RetryMaxDelay(),
		RetryJitter:    0.2,
		RateLimiter:    limiter,
		UserAgent:      cfg.UserAgent,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	gql, err := graphql.New(graphql.Config{HTTP: httpClient, Cache: responseCache, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create graphql client: %w", err)
	}

	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.NetDialer{}
	}
	stream, err := websocket.New(websocket.Config{
		URL:                  wsURL,
		Dialer:               dialer,
		Scheduler:            opts.Scheduler,
		TokenSource:          authManager.TokenSource,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BaseDelay:            cfg.ReconnectBaseDelay(),
		MaxDelay:             cfg.ReconnectMaxDelay(),
		Logger:               logger,
		Metrics:              m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}

	logger.Named("sdk").Debug("client created",
		"base_url", cfg.BaseURL,
		"max_connections", cfg.MaxConnections,
		"signing", reqSigner != nil,
	)

	return &Client{
		Verifications: services.NewVerifications(httpClient),
		Workflows:     services.NewWorkflows(httpClient),
		Users:         services.NewUsers(httpClient),
		Analytics:     services.NewAnalytics(gql, stream),
		cfg:           cfg,
		auth:          authManager,
		pool:          connPool,
		cache:         responseCache,
		http:          httpClient,
		graphql:       gql,
		stream:        stream,
		logger:        logger.Named("sdk"),
	}, nil
}

// HTTP returns the underlying HTTP client for calls no façade covers.
func (c *Client) HTTP() *httpclient.Client { return c.http }

// GraphQL returns the underlying GraphQL client.
func (c *Client) GraphQL() *graphql.Client { return c.graphql }

// Stream returns the underlying WebSocket client.
func (c *Client) Stream() *websocket.Client { return c.stream }

// Token returns a valid access token.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.auth.GetToken(ctx)
}

// PoolStats returns a snapshot of the connection pool.
func (c *Client) PoolStats() pool.Stats { return c.pool.Stats() }

// ClearCache drops every cached response.
func (c *Client) ClearCache() { c.cache.Clear() }

// Close disconnects the stream, drains the pool and clears the cache. Calls
// in flight keep their leases until they return.
func (c *Client) Close() error {
	var result *multierror.Error
	if err := c.stream.Disconnect(); err != nil {
		result = multierror.Append(result, fmt.Errorf("websocket: %w", err))
	}
	c.pool.Drain()
	c.cache.Clear()

	c.logger.Debug("client closed")
	return result.ErrorOrNil()
}

// SweepCache evicts expired entries every interval until ctx ends.
func (c *Client) SweepCache(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.cache.Sweep(); n > 0 {
				c.logger.Trace("swept expired cache entries", "count", n)
			}
		}
	}
}
