package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSign_MatchesHMAC(t *testing.T) {
	s, err := New("shared-secret")
	require.NoError(t, err)

	got := s.Sign("POST", "/verifications", "1700000000", []byte(`{"a":1}`))

	mac := hmac.New(sha256.New, []byte("shared-secret"))
	mac.Write([]byte("POST\n/verifications\n1700000000\n{\"a\":1}"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)
}

func TestSign_IsDeterministicAndInputSensitive(t *testing.T) {
	s, err := New("shared-secret")
	require.NoError(t, err)

	base := s.Sign("GET", "/users/1", "1700000000", nil)
	assert.Equal(t, base, s.Sign("GET", "/users/1", "1700000000", nil))
	assert.Equal(t, base, s.Sign("GET", "/users/1", "1700000000", []byte{}))

	assert.NotEqual(t, base, s.Sign("DELETE", "/users/1", "1700000000", nil))
	assert.NotEqual(t, base, s.Sign("GET", "/users/2", "1700000000", nil))
	assert.NotEqual(t, base, s.Sign("GET", "/users/1", "1700000001", nil))
	assert.NotEqual(t, base, s.Sign("GET", "/users/1", "1700000000", []byte("x")))

	other, err := New("other-secret")
	require.NoError(t, err)
	assert.NotEqual(t, base, other.Sign("GET", "/users/1", "1700000000", nil))
}

func TestSignRequest_SetsHeadersThatVerify(t *testing.T) {
	s, err := New("shared-secret")
	require.NoError(t, err)

	body := []byte(`{"name":"x"}`)
	req, err := http.NewRequest(http.MethodPut, "https://api.example.com/users/7?x=1", nil)
	require.NoError(t, err)

	now := time.Unix(1700000123, 0)
	s.SignRequest(req, body, now)

	assert.Equal(t, "1700000123", req.Header.Get(HeaderTimestamp))
	assert.True(t, s.Verify(http.MethodPut, "/users/7?x=1", "1700000123", body, req.Header.Get(HeaderSignature)))
	assert.False(t, s.Verify(http.MethodPut, "/users/7?x=1", "1700000123", []byte("tampered"), req.Header.Get(HeaderSignature)))
	assert.False(t, s.Verify(http.MethodPut, "/users/7", "1700000123", body, req.Header.Get(HeaderSignature)))
}

func TestSignRequest_CoversQuery(t *testing.T) {
	s, err := New("shared-secret")
	require.NoError(t, err)
	now := time.Unix(1700000123, 0)

	sign := func(rawURL string) string {
		req, err := http.NewRequest(http.MethodGet, rawURL, nil)
		require.NoError(t, err)
		s.SignRequest(req, nil, now)
		return req.Header.Get(HeaderSignature)
	}

	user := sign("https://api.example.com/users?role=user")
	assert.NotEqual(t, user, sign("https://api.example.com/users?role=admin"))
	assert.NotEqual(t, user, sign("https://api.example.com/users"))
	assert.Equal(t, user, sign("https://api.example.com/users?role=user"))
	assert.Equal(t, s.Sign(http.MethodGet, "/users", "1700000123", nil), sign("https://api.example.com/users"))
}
