package auth

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

// TokenSource adapts the manager to oauth2.TokenSource so it can back an
// oauth2.Transport or any other consumer of that interface.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	value, err := s.m.GetToken(s.ctx)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{AccessToken: value, TokenType: "Bearer"}
	if current := s.m.store.AccessToken(); current != nil && current.Value == value {
		tok.Expiry = current.ExpiresAt
	}
	return tok, nil
}
