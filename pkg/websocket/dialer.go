package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	nws "nhooyr.io/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	pingTimeout         = 5 * time.Second
	defaultReadLimit    = 1 << 20
)

// NetDialer dials real sockets.
type NetDialer struct {
	// HTTPClient used for the handshake (optional)
	HTTPClient *http.Client

	// PingInterval between keepalive pings (default: 20s, negative disables)
	PingInterval time.Duration

	// ReadLimit caps a single frame in bytes (default: 1 MiB)
	ReadLimit int64
}

func (d NetDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	c, _, err := nws.Dial(ctx, url, &nws.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)

	nc := &netConn{conn: c, stop: make(chan struct{})}
	interval := d.PingInterval
	if interval == 0 {
		interval = defaultPingInterval
	}
	if interval > 0 {
		go nc.keepalive(interval)
	}
	return nc, nil
}

type netConn struct {
	conn *nws.Conn
	stop chan struct{}
	once sync.Once
}

func (c *netConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *netConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, nws.MessageText, data)
}

func (c *netConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		err = c.conn.Close(nws.StatusNormalClosure, "")
	})
	return err
}

// keepalive pings until the connection closes. A failed ping closes the
// socket so the pending Read fails and the session reconnects.
func (c *netConn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				_ = c.conn.Close(nws.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}
