package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/cenkalti/backoff/v4"

	"github.com/jrepp/sdkruntime/pkg/apierrors"
)

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBaseDelay
	b.MaxInterval = c.retryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = c.retryJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryDelay picks the wait before the next attempt: the server's
// Retry-After hint when present, otherwise the next backoff interval, never
// above the configured maximum.
func (c *Client) retryDelay(b backoff.BackOff, err error) time.Duration {
	delay := b.NextBackOff()
	if ra := apierrors.RetryAfter(err); ra > 0 {
		delay = ra
	}
	if delay > c.retryMaxDelay {
		delay = c.retryMaxDelay
	}
	return delay
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	t, err := http.ParseTime(value)
	if err != nil {
		t, err = dateparse.ParseAny(value)
	}
	if err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func retryReason(err error) string {
	var httpErr *apierrors.HTTPError
	var timeoutErr *apierrors.TimeoutError
	switch {
	case errors.As(err, &httpErr):
		return strconv.Itoa(httpErr.Status)
	case errors.As(err, &timeoutErr):
		return "timeout"
	default:
		return "network"
	}
}

// classify maps a transport failure to the error taxonomy. Caller
// cancellation wins over everything else.
func classify(ctx, attemptCtx context.Context, op string, timeout time.Duration, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &apierrors.TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &apierrors.TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return &apierrors.NetworkError{Op: op, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func httpError(op string, resp *http.Response, body []byte, now time.Time) *apierrors.HTTPError {
	return &apierrors.HTTPError{
		Op:         op,
		Status:     resp.StatusCode,
		Message:    apierrors.MessageFromBody(body),
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
	}
}
