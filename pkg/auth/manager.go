// Package auth turns a credential store into a valid bearer token on demand.
//
// GetToken returns the cached access token while it is outside the refresh
// margin. Otherwise it exchanges the refresh token, falling back to full API
// key authentication when the refresh is rejected. Concurrent callers share a
// single in-flight exchange.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/jrepp/sdkruntime/pkg/apierrors"
	"github.com/jrepp/sdkruntime/pkg/credentials"
)

const (
	// APIKeyPath exchanges an API key for an access/refresh pair.
	APIKeyPath = "/auth/api-key"

	// RefreshPath exchanges a refresh token for a new pair.
	RefreshPath = "/auth/refresh"

	tokenFlightKey = "token"
)

// Config holds configuration for the auth manager.
type Config struct {
	// BaseURL of the API, e.g. "https://api.example.com"
	BaseURL string

	// HTTPClient used for token exchanges. Exchanges never go through the
	// connection pool so a saturated pool cannot block authentication.
	HTTPClient *http.Client

	// RefreshMargin treats tokens expiring within this window as expired
	// (default: 30s)
	RefreshMargin time.Duration

	// DefaultTokenLifetime applies when neither the response nor the JWT
	// carries an expiry (default: 15m)
	DefaultTokenLifetime time.Duration

	// UserAgent sent with exchanges (optional)
	UserAgent string

	Logger hclog.Logger

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Manager implements token acquisition for one credential store.
type Manager struct {
	store      *credentials.Store
	baseURL    string
	httpClient *http.Client
	margin     time.Duration
	lifetime   time.Duration
	userAgent  string
	logger     hclog.Logger
	now        func() time.Time
	flight     singleflight.Group
}

type apiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

// NewManager creates a new auth manager over store.
func NewManager(store *credentials.Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if store.APIKey() == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RefreshMargin == 0 {
		cfg.RefreshMargin = 30 * time.Second
	}
	if cfg.DefaultTokenLifetime == 0 {
		cfg.DefaultTokenLifetime = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		store:      store,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		margin:     cfg.RefreshMargin,
		lifetime:   cfg.DefaultTokenLifetime,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger.Named("auth"),
		now:        cfg.Now,
	}, nil
}

// GetToken returns a valid access token, exchanging or authenticating when
// the current one is missing or about to expire.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	if tok := m.store.AccessToken(); tok.Valid(m.now(), m.margin) {
		return tok.Value, nil
	}

	// The exchange outlives any single caller: a cancelled first caller must
	// not fail the others waiting on the same flight.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(tokenFlightKey, func() (interface{}, error) {
		// Another flight may have completed between the fast path and here.
		if tok := m.store.AccessToken(); tok.Valid(m.now(), m.margin) {
			return tok.Value, nil
		}
		return m.obtain(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops token if it is still the current access token. Callers use
// it after the server rejects a token with 401.
func (m *Manager) Invalidate(token string) {
	if m.store.ClearAccess(token) {
		m.logger.Debug("access token invalidated")
	}
}

func (m *Manager) obtain(ctx context.Context) (string, error) {
	if rt := m.store.RefreshToken(); rt.Valid(m.now(), 0) {
		access, err := m.exchange(ctx, RefreshPath, refreshRequest{RefreshToken: rt.Value})
		if err == nil {
			m.logger.Debug("access token refreshed")
			return access, nil
		}

		// Refresh tokens can be revoked server side; re-authenticate instead
		// of failing the caller.
		m.logger.Warn("refresh token exchange failed, re-authenticating", "error", err)
		m.store.ClearRefresh()
	}

	access, err := m.exchange(ctx, APIKeyPath, apiKeyRequest{APIKey: m.store.APIKey()})
	if err != nil {
		m.logger.Error("authentication failed", "error", err)
		return "", err
	}

	m.logger.Debug("authenticated with api key")
	return access, nil
}

func (m *Manager) exchange(ctx context.Context, path string, body interface{}) (string, error) {
	op := "POST " + path

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &apierrors.AuthError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", &apierrors.AuthError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", &apierrors.AuthError{Op: op, Err: &apierrors.NetworkError{Op: op, Err: err}}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &apierrors.AuthError{Op: op, Err: &apierrors.NetworkError{Op: op, Err: err}}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &apierrors.AuthError{
			Op:      op,
			Status:  resp.StatusCode,
			Message: apierrors.MessageFromBody(respBody),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", &apierrors.AuthError{Op: op, Err: &apierrors.DecodeError{Op: op, Err: err}}
	}
	if tr.AccessToken == "" {
		return "", &apierrors.AuthError{Op: op, Message: "response did not include an access token"}
	}

	now := m.now()
	access := credentials.Token{Value: tr.AccessToken, ExpiresAt: m.expiry(now, tr.ExpiresIn, tr.AccessToken, m.lifetime)}
	refresh := credentials.Token{Value: tr.RefreshToken}
	if tr.RefreshToken != "" {
		refresh.ExpiresAt = m.expiry(now, tr.RefreshExpiresIn, tr.RefreshToken, 0)
	}

	m.store.SetTokens(access, refresh)
	return access.Value, nil
}

// expiry resolves a token expiry from, in order: the explicit lifetime in the
// response, the JWT exp claim, the fallback lifetime. A zero fallback leaves
// the expiry unknown.
func (m *Manager) expiry(now time.Time, expiresIn int64, raw string, fallback time.Duration) time.Time {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, ok := credentials.ExpiryFromJWT(raw); ok {
		return exp
	}
	if fallback > 0 {
		return now.Add(fallback)
	}
	return time.Time{}
}

