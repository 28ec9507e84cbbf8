// Package websocket maintains a managed event stream with automatic
// reconnection.
//
// A session moves Connecting -> Open on a successful dial. An unexpected
// close while attempts remain moves it to Reconnecting, waits base*2^attempts
// (capped) and dials again; the attempt counter resets only once the session
// is Open again. When attempts are exhausted the session ends Closed and
// subscribers receive exactly one "disconnect" event. Disconnect always ends
// the session and suppresses any further reconnection.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/jrepp/sdkruntime/pkg/apierrors"
	"github.com/jrepp/sdkruntime/pkg/metrics"
)

var (
	// ErrAlreadyConnected is returned by Connect while a session is active.
	ErrAlreadyConnected = errors.New("websocket session already active")

	// ErrNotConnected is returned by Send when the session is not Open.
	ErrNotConnected = errors.New("websocket is not connected")
)

// Conn is one established socket.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Scheduler waits between reconnection attempts.
type Scheduler interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemScheduler waits on the wall clock.
type SystemScheduler struct{}

func (SystemScheduler) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TokenSourceFunc returns a token source bound to ctx, so a token fetch made
// while dialing ends when the dial does. auth.Manager.TokenSource has this
// shape.
type TokenSourceFunc func(ctx context.Context) oauth2.TokenSource

// StaticTokenSource always supplies tok.
func StaticTokenSource(tok *oauth2.Token) TokenSourceFunc {
	ts := oauth2.StaticTokenSource(tok)
	return func(context.Context) oauth2.TokenSource { return ts }
}

// Config holds configuration for the WebSocket client.
type Config struct {
	// URL of the event stream, e.g. "wss://api.example.com/ws"
	URL string

	Dialer    Dialer
	Scheduler Scheduler

	// TokenSource supplies the bearer token sent with every dial (optional)
	TokenSource TokenSourceFunc

	// MaxReconnectAttempts after an unexpected close. Zero disables
	// reconnection.
	MaxReconnectAttempts int

	// BaseDelay is the first reconnection wait (default: 500ms)
	BaseDelay time.Duration

	// MaxDelay caps the reconnection wait (default: 30s)
	MaxDelay time.Duration

	Logger  hclog.Logger
	Metrics *metrics.Collectors
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// dispatching is non-zero while handlers run; busy is signalled each
	// time a dispatch starts
	dispatching atomic.Int32
	busy        chan struct{}
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		busy:   make(chan struct{}, 1),
	}
}

// wait blocks until the session goroutine has finished, or returns early
// when a handler is running, since that handler may be the caller.
func (s *session) wait() {
	for s.dispatching.Load() == 0 {
		select {
		case <-s.done:
			return
		case <-s.busy:
		}
	}
}

// Client is safe for concurrent use. Once a session is running, every event
// for it, including the final disconnect, is delivered on the session
// goroutine, one at a time, in the order frames were received.
type Client struct {
	url         string
	dialer      Dialer
	scheduler   Scheduler
	tokens      TokenSourceFunc
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      hclog.Logger
	metrics     *metrics.Collectors

	mu       sync.Mutex
	state    State
	session  *session
	conn     Conn
	attempts int
	subs     []*Subscription
	nextSub  uint64
}

// New creates a new WebSocket client in the Closed state.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket URL is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if cfg.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("max reconnect attempts must be non-negative, got: %d", cfg.MaxReconnectAttempts)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = SystemScheduler{}
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, fmt.Errorf("max delay %v is below base delay %v", cfg.MaxDelay, cfg.BaseDelay)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	c := &Client{
		url:         cfg.URL,
		dialer:      cfg.Dialer,
		scheduler:   cfg.Scheduler,
		tokens:      cfg.TokenSource,
		maxAttempts: cfg.MaxReconnectAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		logger:      cfg.Logger.Named("websocket"),
		metrics:     cfg.Metrics,
	}
	c.metrics.SetState(StateClosed.String(), allStates...)
	return c, nil
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current session ends. Without a session it
// returns an already closed channel.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.session.done
}

// Connect dials the stream and starts a session. A failed initial dial
// leaves the client Closed and is returned without retrying.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	s := newSession()
	c.session = s
	c.attempts = 0
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	dialCtx, stopDial := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, stopDial)
	conn, err := c.dial(dialCtx)
	stop()
	stopDial()
	if err != nil {
		c.mu.Lock()
		disconnected := c.session != s
		if !disconnected {
			c.session = nil
			c.setStateLocked(StateClosed)
		}
		c.mu.Unlock()
		s.cancel()
		if disconnected {
			c.terminate(s, nil)
			err = fmt.Errorf("websocket: disconnected while connecting")
		}
		close(s.done)
		return err
	}

	if !c.open(s, conn) {
		_ = conn.Close()
		c.terminate(s, nil)
		close(s.done)
		return fmt.Errorf("websocket: disconnected while connecting")
	}

	c.logger.Debug("connected", "url", c.url)
	go c.run(s, conn)
	return nil
}

// Disconnect ends the session. It is safe to call at any time, including from
// a handler, and never triggers a reconnection. The disconnect event is
// delivered on the session goroutine after any handler in progress returns.
// Disconnect waits for that delivery unless a handler was running when it was
// called.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	s := c.session
	conn := c.conn
	c.session = nil
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	s.cancel()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wait()
	c.logger.Debug("disconnected")
	return err
}

// Send writes a {type, payload} frame on the open socket.
func (c *Client) Send(ctx context.Context, eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	data, err := json.Marshal(frame{Type: eventType, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, data); err != nil {
		return &apierrors.NetworkError{Op: "websocket send", Err: err}
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if c.tokens != nil {
		tok, err := c.tokens(ctx).Token()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	}

	conn, err := c.dialer.Dial(ctx, c.url, header)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &apierrors.NetworkError{Op: "websocket dial", Err: err}
	}
	return conn, nil
}

// open installs conn as the live socket if s is still the current session.
func (c *Client) open(s *session, conn Conn) bool {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.emit(s, Event{Type: EventConnected})
	return true
}

func (c *Client) run(s *session, conn Conn) {
	defer close(s.done)

	b := c.newBackOff()
	for {
		err := c.readLoop(s, conn)
		_ = conn.Close()
		if s.ctx.Err() != nil {
			c.terminate(s, nil)
			return
		}

		c.logger.Warn("connection lost", "error", err)
		b.Reset()
		if conn = c.reconnect(s, b, err); conn == nil {
			c.terminate(s, nil)
			return
		}
	}
}

func (c *Client) reconnect(s *session, b backoff.BackOff, cause error) Conn {
	for {
		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return nil
		}
		c.conn = nil
		if c.attempts >= c.maxAttempts {
			c.session = nil
			c.setStateLocked(StateClosed)
			c.mu.Unlock()

			c.logger.Error("reconnect attempts exhausted", "attempts", c.maxAttempts, "error", cause)
			s.cancel()
			c.terminate(s, cause)
			return nil
		}
		delay := b.NextBackOff()
		c.attempts++
		attempt := c.attempts
		c.setStateLocked(StateReconnecting)
		c.mu.Unlock()

		c.metrics.IncReconnect()
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		payload, _ := json.Marshal(reconnectInfo{Attempt: attempt, DelayMs: delay.Milliseconds()})
		c.emit(s, Event{Type: EventReconnecting, Payload: payload, Err: cause})

		if err := c.scheduler.Sleep(s.ctx, delay); err != nil {
			return nil
		}

		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return nil
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()

		conn, err := c.dial(s.ctx)
		if err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			cause = err
			continue
		}
		if !c.open(s, conn) {
			_ = conn.Close()
			return nil
		}
		c.logger.Info("reconnected", "attempt", attempt)
		return conn
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxInterval = c.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) readLoop(s *session, conn Conn) error {
	for {
		data, err := conn.Read(s.ctx)
		if err != nil {
			return err
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.emit(s, Event{Type: EventError, Err: &apierrors.DecodeError{Op: "websocket read", Err: err}})
			continue
		}
		if f.Type == "" {
			c.emit(s, Event{Type: EventError, Err: &apierrors.DecodeError{Op: "websocket read", Err: errors.New("frame has no type")}})
			continue
		}
		c.emit(s, Event{Type: f.Type, Payload: f.Payload})
	}
}

// emit delivers e for session s.
func (c *Client) emit(s *session, e Event) {
	s.dispatching.Add(1)
	defer s.dispatching.Add(-1)
	select {
	case s.busy <- struct{}{}:
	default:
	}
	c.dispatch(e)
}

// terminate emits the session's single disconnect event. The session is
// already detached, so a handler calling Disconnect returns at once.
func (c *Client) terminate(s *session, cause error) {
	s.once.Do(func() {
		c.dispatch(Event{Type: EventDisconnect, Err: cause})
	})
}

func (c *Client) setStateLocked(st State) {
	if c.state == st {
		return
	}
	c.state = st
	c.metrics.SetState(st.String(), allStates...)
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type reconnectInfo struct {
	Attempt int   `json:"attempt"`
	DelayMs int64 `json:"delayMs"`
}
