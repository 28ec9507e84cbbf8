// Package credentials holds the API key and the access/refresh token pair
// obtained for it.
package credentials

import (
	"sync"
	"time"
)

// Token is a bearer credential with an optional expiry. A zero ExpiresAt means
// the server did not tell us when the token expires.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token is present and will still be valid margin
// from now.
func (t *Token) Valid(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// Store is the credential store shared by one SDK client. Only the auth
// manager mutates it.
type Store struct {
	mu      sync.RWMutex
	apiKey  string
	access  *Token
	refresh *Token
}

// NewStore creates a store for the given API key with no tokens.
func NewStore(apiKey string) *Store {
	return &Store{apiKey: apiKey}
}

// APIKey returns the raw API key.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

// AccessToken returns a copy of the current access token, or nil.
func (s *Store) AccessToken() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyToken(s.access)
}

// RefreshToken returns a copy of the current refresh token, or nil.
func (s *Store) RefreshToken() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyToken(s.refresh)
}

// SetTokens replaces the token pair. An empty refresh token keeps the
// existing one, since some refresh endpoints only rotate the access token.
func (s *Store) SetTokens(access Token, refresh Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = &access
	if refresh.Value != "" {
		s.refresh = &refresh
	}
}

// ClearAccess drops the access token if it is still the given value. It
// returns false when another caller already replaced it.
func (s *Store) ClearAccess(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access == nil || s.access.Value != value {
		return false
	}
	s.access = nil
	return true
}

// ClearRefresh drops the refresh token.
func (s *Store) ClearRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = nil
}

func copyToken(t *Token) *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
