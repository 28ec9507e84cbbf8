// Package cache is a time-boxed key/value store for idempotent responses.
//
// Expired entries are indistinguishable from absent ones: Get removes them
// lazily. Sweep evicts them proactively. The store is bounded, evicting the
// least recently used entry once MaxEntries is reached.
package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/jrepp/sdkruntime/pkg/metrics"
)

// Entry is a cached value and its expiry.
type Entry struct {
	Key       string
	Value     interface{}
	ExpiresAt time.Time

	path string
}

// Config holds configuration for the cache manager.
type Config struct {
	// DefaultTTL applies when Set is called without a TTL. Zero disables
	// caching unless a per-entry TTL is given.
	DefaultTTL time.Duration

	// MaxEntries bounds the store (default: 1000)
	MaxEntries int

	// Now overrides the clock (tests)
	Now func() time.Time

	Logger  hclog.Logger
	Metrics *metrics.Collectors
}

// Manager is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	entries    *simplelru.LRU[string, *Entry]
	defaultTTL time.Duration
	now        func() time.Time
	logger     hclog.Logger
	metrics    *metrics.Collectors
}

// New creates a new cache manager.
func New(cfg Config) (*Manager, error) {
	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("default TTL must be non-negative, got: %v", cfg.DefaultTTL)
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	entries, err := simplelru.NewLRU[string, *Entry](cfg.MaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Manager{
		entries:    entries,
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		logger:     cfg.Logger.Named("cache"),
		metrics:    cfg.Metrics,
	}, nil
}

// Key derives the cache key for a request: method, path and the query
// parameters sorted by name and value.
func Key(method, path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(path)

	if len(query) > 0 {
		normalized := make(url.Values, len(query))
		for k, vs := range query {
			sorted := append([]string(nil), vs...)
			sort.Strings(sorted)
			normalized[k] = sorted
		}
		b.WriteByte('?')
		b.WriteString(normalized.Encode())
	}
	return b.String()
}

// PathOf extracts the resource path from a key built by Key, ignoring any
// query string or '#' suffix.
func PathOf(key string) string {
	_, rest, ok := strings.Cut(key, " ")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// Get returns the value stored under key, or false when it is absent or
// expired.
func (m *Manager) Get(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(key)
	if !ok {
		m.metrics.CacheMiss()
		return nil, false
	}
	if !m.now().Before(e.ExpiresAt) {
		m.entries.Remove(key)
		m.metrics.CacheMiss()
		return nil, false
	}

	m.metrics.CacheHit()
	return e.Value, true
}

// Set stores value under key for ttl, or the default TTL when ttl is zero.
func (m *Manager) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if ttl <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Add(key, &Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: m.now().Add(ttl),
		path:      PathOf(key),
	})
}

// Delete removes key.
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Remove(key)
}

// InvalidatePath removes every entry for path and for resources beneath it.
// It returns the number of entries removed.
func (m *Manager) InvalidatePath(path string) int {
	return m.removeWhere(func(e *Entry) bool {
		return e.path == path || strings.HasPrefix(e.path, strings.TrimRight(path, "/")+"/")
	})
}

// InvalidateExact removes entries whose path is exactly path.
func (m *Manager) InvalidateExact(path string) int {
	return m.removeWhere(func(e *Entry) bool { return e.path == path })
}

// Sweep removes every expired entry and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	return m.removeWhere(func(e *Entry) bool { return !now.Before(e.ExpiresAt) })
}

// Clear removes everything.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Purge()
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

func (m *Manager) removeWhere(match func(*Entry) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range m.entries.Keys() {
		e, ok := m.entries.Peek(key)
		if ok && match(e) {
			m.entries.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Trace("cache entries removed", "count", removed)
	}
	return removed
}
