package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one logical API call. It is immutable once built: the
// query and body are copied on construction and by every accessor.
type Request struct {
	method         string
	path           string
	query          url.Values
	body           []byte
	cacheable      bool
	idempotent     bool
	idempotencyKey string
	cacheKey       string
	cacheTTL       time.Duration
	timeout        time.Duration
	validate       func(*Response) error
}

// Option configures a Request.
type Option func(*Request)

// WithQuery sets the query parameters.
func WithQuery(q url.Values) Option {
	return func(r *Request) {
		r.query = cloneValues(q)
	}
}

// Cacheable allows a successful response to be served from and stored in the
// cache. Only idempotent requests are ever cached.
func Cacheable() Option {
	return func(r *Request) { r.cacheable = true }
}

// Idempotent marks the request safe to retry.
func Idempotent() Option {
	return func(r *Request) { r.idempotent = true }
}

// WithIdempotencyKey sends key as the Idempotency-Key header and marks the
// request safe to retry.
func WithIdempotencyKey(key string) Option {
	return func(r *Request) {
		r.idempotencyKey = key
		r.idempotent = key != "" || r.idempotent
	}
}

// WithCacheTTL overrides the cache default TTL for this request.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Request) { r.cacheTTL = ttl }
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Request) { r.timeout = d }
}

// WithCacheKey replaces the key derived from method, path and query.
func WithCacheKey(key string) Option {
	return func(r *Request) { r.cacheKey = key }
}

// WithValidator runs fn on a successful response before it is cached or
// returned. A validation error is terminal.
func WithValidator(fn func(*Response) error) Option {
	return func(r *Request) { r.validate = fn }
}

// NewRequest builds a request. A non-nil body is encoded as JSON unless it is
// already a []byte or json.RawMessage. GET and HEAD are idempotent by default.
func NewRequest(method, path string, body interface{}, opts ...Option) (Request, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return Request{}, fmt.Errorf("method is required")
	}
	if !strings.HasPrefix(path, "/") {
		return Request{}, fmt.Errorf("path must start with '/', got: %q", path)
	}

	r := Request{
		method:     method,
		path:       path,
		idempotent: method == http.MethodGet || method == http.MethodHead,
	}

	switch b := body.(type) {
	case nil:
	case []byte:
		r.body = append([]byte(nil), b...)
	case json.RawMessage:
		r.body = append([]byte(nil), b...)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return Request{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		r.body = data
	}

	for _, opt := range opts {
		opt(&r)
	}
	return r, nil
}

func (r Request) Method() string { return r.method }
func (r Request) Path() string { return r.path }
func (r Request) Query() url.Values { return cloneValues(r.query) }
func (r Request) Body() []byte { return append([]byte(nil), r.body...) }
func (r Request) Cacheable() bool { return r.cacheable }
func (r Request) Idempotent() bool { return r.idempotent }
func (r Request) IdempotencyKey() string { return r.idempotencyKey }

// String returns "METHOD /path".
func (r Request) String() string {
	return r.method + " " + r.path
}

func (r Request) isWrite() bool {
	switch r.method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
