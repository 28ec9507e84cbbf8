// Package pool owns a bounded set of reusable HTTP transport handles.
//
// Acquire hands out a Lease on an idle connection (most recently released
// first), creates a new connection while under capacity, or suspends the
// caller in a FIFO queue until a lease is released. Release always succeeds
// for a live lease and passes the connection straight to the oldest waiter.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/jrepp/sdkruntime/pkg/metrics"
)

var (
	// ErrPoolClosed is returned by Acquire after Drain.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrReleased is returned when a lease is used or released after Release.
	ErrReleased = errors.New("connection lease already released")
)

// ConnState is the lifecycle state of a pooled connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateLeased
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLeased:
		return "Leased"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Conn is a pooled transport handle. The pool owns it; callers only ever see
// it through a Lease.
type Conn struct {
	id        string
	state     ConnState
	transport *http.Transport
	client    *http.Client
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Config holds configuration for the connection pool.
type Config struct {
	// MaxConnections bounds simultaneously leased connections (default: 10)
	MaxConnections int

	// NewTransport builds the transport for each new connection (optional)
	NewTransport func() *http.Transport

	Logger  hclog.Logger
	Metrics *metrics.Collectors
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Total   int
	Idle    int
	Leased  int
	Waiting int
}

type waiter struct {
	ch     chan *Conn
	served bool
}

// Pool is a bounded connection pool. It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	max     int
	conns   []*Conn
	idle    []*Conn
	leased  int
	waiters *list.List
	closed  bool

	newTransport func() *http.Transport
	logger       hclog.Logger
	metrics      *metrics.Collectors
}

// New creates a new connection pool. Connections are created lazily.
func New(cfg Config) (*Pool, error) {
	if cfg.MaxConnections < 0 {
		return nil, fmt.Errorf("max connections must be positive, got: %d", cfg.MaxConnections)
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Pool{
		max:          cfg.MaxConnections,
		waiters:      list.New(),
		newTransport: cfg.NewTransport,
		logger:       cfg.Logger.Named("pool"),
		metrics:      cfg.Metrics,
	}, nil
}

// DefaultTransport returns the transport used for each pooled connection.
// A lease carries one request at a time, so one idle keep-alive connection
// per host is enough.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Acquire returns a lease on a connection, suspending while the pool is at
// capacity. It returns ctx.Err() if ctx ends first.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		lease := p.leaseLocked(c)
		p.mu.Unlock()
		return lease, nil
	}

	if len(p.conns) < p.max {
		c := p.newConnLocked()
		lease := p.leaseLocked(c)
		p.mu.Unlock()
		p.logger.Debug("created connection", "id", c.id, "total", len(p.conns))
		return lease, nil
	}

	w := &waiter{ch: make(chan *Conn, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	start := time.Now()
	select {
	case c, ok := <-w.ch:
		p.metrics.ObserveWait(time.Since(start))
		if !ok {
			return nil, ErrPoolClosed
		}
		return &Lease{pool: p, conn: c}, nil

	case <-ctx.Done():
		p.mu.Lock()
		if !w.served {
			p.waiters.Remove(elem)
			p.mu.Unlock()
			return nil, ctx.Err()
		}
		p.mu.Unlock()

		// A connection was handed over while we were giving up; pass it on.
		if c, ok := <-w.ch; ok {
			p.put(c)
		}
		return nil, ctx.Err()
	}
}

// Release returns the lease's connection to the pool. A second release of the
// same lease returns ErrReleased and leaves the pool untouched.
func (p *Pool) Release(l *Lease) error {
	if l == nil || l.pool != p {
		return fmt.Errorf("lease does not belong to this pool")
	}
	if !l.released.CompareAndSwap(false, true) {
		p.logger.Warn("lease released twice", "id", l.conn.id)
		return ErrReleased
	}
	p.put(l.conn)
	return nil
}

// Drain closes idle connections and rejects further acquires. Leased
// connections are closed as their leases are released.
func (p *Pool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.served = true
		close(w.ch)
	}
	p.waiters.Init()

	for _, c := range p.idle {
		c.transport.CloseIdleConnections()
	}
	p.idle = nil

	p.logger.Debug("pool drained", "leased", p.leased)
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Total:   len(p.conns),
		Idle:    len(p.idle),
		Leased:  p.leased,
		Waiting: p.waiters.Len(),
	}
}

func (p *Pool) put(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		c.state = StateIdle
		c.transport.CloseIdleConnections()
		p.leased--
		p.metrics.SetLeased(p.leased)
		return
	}

	// Hand over directly: the lease count is unchanged.
	if front := p.waiters.Front(); front != nil {
		w := p.waiters.Remove(front).(*waiter)
		w.served = true
		w.ch <- c
		return
	}

	c.state = StateIdle
	p.idle = append(p.idle, c)
	p.leased--
	p.metrics.SetLeased(p.leased)
}

func (p *Pool) newConnLocked() *Conn {
	transport := p.newTransport()
	c := &Conn{
		id:        uuid.NewString(),
		state:     StateIdle,
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	p.conns = append(p.conns, c)
	return c
}

func (p *Pool) leaseLocked(c *Conn) *Lease {
	c.state = StateLeased
	p.leased++
	p.metrics.SetLeased(p.leased)
	return &Lease{pool: p, conn: c}
}

// Lease is a temporary, non-owning right to use a pooled connection.
type Lease struct {
	pool     *Pool
	conn     *Conn
	released atomic.Bool
}

// ConnID returns the identifier of the leased connection.
func (l *Lease) ConnID() string { return l.conn.id }

// Do sends req over the leased connection.
func (l *Lease) Do(req *http.Request) (*http.Response, error) {
	if l.released.Load() {
		return nil, ErrReleased
	}
	return l.conn.client.Do(req)
}
