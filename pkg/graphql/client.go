// Package graphql sends GraphQL operations through the HTTP client.
//
// Queries are cached under a key built from the whitespace-normalized query
// text and the canonical JSON of its variables. Mutations are never cached and
// a successful mutation drops every cached query result.
package graphql

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jrepp/sdkruntime/pkg/apierrors"
	"github.com/jrepp/sdkruntime/pkg/cache"
	"github.com/jrepp/sdkruntime/pkg/httpclient"
)

// Path is the GraphQL endpoint.
const Path = "/graphql"

// Executor runs HTTP requests. *httpclient.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Config holds configuration for the GraphQL client.
type Config struct {
	HTTP Executor

	// Cache is cleared of query results after mutations (optional)
	Cache *cache.Manager

	// CacheTTL for query results; zero uses the cache default
	CacheTTL time.Duration

	Logger hclog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	http     Executor
	cache    *cache.Manager
	cacheTTL time.Duration
	logger   hclog.Logger
}

type envelope struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type result struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors"`
}

// New creates a new GraphQL client.
func New(cfg Config) (*Client, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("http executor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Client{
		http:     cfg.HTTP,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		logger:   cfg.Logger.Named("graphql"),
	}, nil
}

// Query runs a read-only operation and decodes its data into out. Results
// are cacheable.
func (c *Client) Query(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	key, err := CacheKey(query, vars)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, query, vars, out,
		httpclient.Idempotent(),
		httpclient.Cacheable(),
		httpclient.WithCacheKey(key),
		httpclient.WithCacheTTL(c.cacheTTL),
	)
	return err
}

// Mutation runs a state-changing operation and decodes its data into out.
// It is never cached or retried.
func (c *Client) Mutation(ctx context.Context, mutation string, vars map[string]interface{}, out interface{}) error {
	if _, err := c.send(ctx, mutation, vars, out); err != nil {
		return err
	}
	if c.cache != nil {
		if n := c.cache.InvalidatePath(Path); n > 0 {
			c.logger.Debug("cleared cached query results", "count", n)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, query string, vars map[string]interface{}, out interface{}, opts ...httpclient.Option) (*httpclient.Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	opts = append(opts, httpclient.WithValidator(validate))
	req, err := httpclient.NewRequest(http.MethodPost, Path, envelope{Query: query, Variables: vars}, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	var res result
	if err := resp.Decode(&res); err != nil {
		return nil, err
	}
	if out != nil && len(res.Data) > 0 && string(res.Data) != "null" {
		if err := json.Unmarshal(res.Data, out); err != nil {
			return nil, &apierrors.DecodeError{Op: "POST " + Path, Err: err}
		}
	}
	return resp, nil
}

// validate rejects responses carrying GraphQL errors so they are neither
// cached nor reported as success.
func validate(resp *httpclient.Response) error {
	var res result
	if err := resp.Decode(&res); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return Errors(res.Errors)
	}
	return nil
}

// CacheKey derives the cache key for a query: the endpoint plus a digest of
// the normalized query text and the canonical JSON of vars.
func CacheKey(query string, vars map[string]interface{}) (string, error) {
	// encoding/json sorts map keys, which makes the encoding canonical.
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("failed to encode variables: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(NormalizeQuery(query)))
	h.Write([]byte{0})
	h.Write(varsJSON)
	return http.MethodPost + " " + Path + "#" + hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizeQuery collapses every run of whitespace to a single space.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
