package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/sdkruntime/pkg/auth"
	"github.com/jrepp/sdkruntime/pkg/config"
	"github.com/jrepp/sdkruntime/pkg/services"
	"github.com/jrepp/sdkruntime/pkg/signer"
	"github.com/jrepp/sdkruntime/pkg/websocket"
)

type apiServer struct {
	*httptest.Server
	tokenCalls atomic.Int32
	userCalls  atomic.Int32
	signatures atomic.Int32
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()

	s := &apiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get(signer.HeaderSignature) != "" {
			s.signatures.Add(1)
		}

		switch r.URL.Path {
		case auth.APIKeyPath:
			s.tokenCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"accessToken":  "access",
				"refreshToken": "refresh",
				"expiresIn":    3600,
			})
		case "/users/u1":
			assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
			s.userCalls.Add(1)
			w.Write([]byte(`{"id":"u1","name":"ada"}`))
		case "/verifications":
			w.Write([]byte(`{"id":"v1","status":"pending"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not_found","message":"no route"}`))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.APIKey = "key"
	cfg.BaseURL = baseURL
	cfg.MaxRetries = 0
	return cfg
}

type refusingDialer struct {
	dials atomic.Int32
}

func (d *refusingDialer) Dial(ctx context.Context, url string, header http.Header) (websocket.Conn, error) {
	d.dials.Add(1)
	return nil, context.DeadlineExceeded
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	cfg := testConfig("https://api.example.com")
	cfg.APIKey = ""
	_, err = New(cfg, Options{})
	assert.Error(t, err)
}

func TestClient_SharesTokenAndCacheAcrossServices(t *testing.T) {
	srv := newAPIServer(t)
	reg := prometheus.NewRegistry()

	c, err := New(testConfig(srv.URL), Options{Registerer: reg})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	u, err := c.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Name)

	_, err = c.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.userCalls.Load(), "second read served from cache")

	_, err = c.Verifications.Create(ctx, services.CreateVerificationInput{Type: "email", Target: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.tokenCalls.Load())

	tok, err := c.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", tok)

	stats := c.PoolStats()
	assert.Equal(t, 0, stats.Leased)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestClient_ClearCache(t *testing.T) {
	srv := newAPIServer(t)
	c, err := New(testConfig(srv.URL), Options{})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Users.Get(ctx, "u1")
	require.NoError(t, err)
	c.ClearCache()
	_, err = c.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.userCalls.Load())
}

func TestClient_SigningFollowsConfig(t *testing.T) {
	srv := newAPIServer(t)
	ctx := context.Background()

	unsigned, err := New(testConfig(srv.URL), Options{})
	require.NoError(t, err)
	defer unsigned.Close()
	_, err = unsigned.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(0), srv.signatures.Load())

	cfg := testConfig(srv.URL)
	cfg.SecretKey = "secret"
	cfg.CacheTTLMs = 0
	signed, err := New(cfg, Options{})
	require.NoError(t, err)
	defer signed.Close()
	_, err = signed.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.signatures.Load())
}

func TestClient_IndependentInstances(t *testing.T) {
	srv := newAPIServer(t)

	a, err := New(testConfig(srv.URL), Options{})
	require.NoError(t, err)
	defer a.Close()
	b, err := New(testConfig(srv.URL), Options{})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	_, err = a.Users.Get(ctx, "u1")
	require.NoError(t, err)
	_, err = b.Users.Get(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), srv.tokenCalls.Load())
	assert.Equal(t, int32(2), srv.userCalls.Load())
}

func TestClient_StreamUsesConfiguredDialer(t *testing.T) {
	srv := newAPIServer(t)
	dialer := &refusingDialer{}

	c, err := New(testConfig(srv.URL), Options{Dialer: dialer})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = c.Analytics.Events(ctx, "verification.updated", func(websocket.Event) {})
	assert.Error(t, err)
	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.Equal(t, websocket.StateClosed, c.Stream().State())

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestClient_SweepCacheStopsWithContext(t *testing.T) {
	srv := newAPIServer(t)
	c, err := New(testConfig(srv.URL), Options{})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.SweepCache(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
