package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, max int) *Pool {
	t.Helper()
	p, err := New(Config{MaxConnections: max, Logger: hclog.NewNullLogger()})
	require.NoError(t, err)
	t.Cleanup(p.Drain)
	return p
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, 10, p.max)

	_, err = New(Config{MaxConnections: -1})
	assert.Error(t, err)
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Leased", StateLeased.String())
	assert.Equal(t, "Unknown(7)", ConnState(7).String())
}

func TestAcquire_CreatesLazilyAndReusesLIFO(t *testing.T) {
	p := newTestPool(t, 3)
	ctx := context.Background()

	assert.Equal(t, Stats{}, p.Stats())

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ConnID(), b.ConnID())
	assert.Equal(t, Stats{Total: 2, Leased: 2}, p.Stats())

	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))
	assert.Equal(t, Stats{Total: 2, Idle: 2}, p.Stats())

	// Most recently released first.
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ConnID(), c.ConnID())
	assert.Equal(t, 2, p.Stats().Total)
	require.NoError(t, p.Release(c))
}

func TestAcquire_NeverExceedsMaxAndExcessCallersResolve(t *testing.T) {
	const max = 3
	const callers = 10
	p := newTestPool(t, max)

	var inUse, peak atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			n := inUse.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			assert.LessOrEqual(t, p.Stats().Leased, max)
			time.Sleep(5 * time.Millisecond)
			inUse.Add(-1)
			errs <- p.Release(lease)
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int32(max))
	stats := p.Stats()
	assert.Equal(t, max, stats.Total)
	assert.Equal(t, 0, stats.Leased)
	assert.Equal(t, 0, stats.Waiting)
}

func TestAcquire_SuspendsUntilReleaseInFIFOOrder(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	order := make(chan int, 2)
	leases := make(chan *Lease, 2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			l, err := p.Acquire(ctx)
			if assert.NoError(t, err) {
				order <- i
				leases <- l
			}
		}()
		require.Eventually(t, func() bool { return p.Stats().Waiting == i }, time.Second, time.Millisecond)
	}

	select {
	case <-order:
		t.Fatal("waiter resolved before any release")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, p.Release(held))
	assert.Equal(t, 1, <-order)
	require.NoError(t, p.Release(<-leases))
	assert.Equal(t, 2, <-order)
	require.NoError(t, p.Release(<-leases))

	assert.Equal(t, Stats{Total: 1, Idle: 1}, p.Stats())
}

func TestAcquire_CancelledWaiterLeavesQueue(t *testing.T) {
	p := newTestPool(t, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.Stats().Waiting)

	require.NoError(t, p.Release(held))
	assert.Equal(t, Stats{Total: 1, Idle: 1}, p.Stats())
}

func TestAcquire_CancelledContextFailsFast(t *testing.T) {
	p := newTestPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stats{}, p.Stats())
}

func TestRelease_TwiceIsRejected(t *testing.T) {
	p := newTestPool(t, 2)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(l))
	assert.ErrorIs(t, p.Release(l), ErrReleased)
	assert.Equal(t, Stats{Total: 1, Idle: 1}, p.Stats())

	other := newTestPool(t, 1)
	l2, err := other.Acquire(context.Background())
	require.NoError(t, err)
	assert.Error(t, p.Release(l2))
	require.NoError(t, other.Release(l2))
}

func TestLease_DoAfterReleaseIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := newTestPool(t, 1)
	l, err := p.Acquire(context.Background())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := l.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, p.Release(l))
	_, err = l.Do(req)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestDrain_WakesWaitersAndRejectsAcquire(t *testing.T) {
	p := newTestPool(t, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	p.Drain()
	assert.ErrorIs(t, <-errCh, ErrPoolClosed)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	require.NoError(t, p.Release(held))
	assert.Equal(t, 0, p.Stats().Leased)
}
