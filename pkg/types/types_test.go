package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlatform(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		assert.True(t, PlatformFacebook.Valid())
		assert.True(t, PlatformInstagram.Valid())
		assert.False(t, Platform("TikTok").Valid())
		assert.False(t, Platform("").Valid())
	})

	t.Run("Platforms", func(t *testing.T) {
		assert.Equal(t, []Platform{PlatformFacebook, PlatformInstagram}, Platforms())
	})
}

func TestIntegrationConnected(t *testing.T) {
	in := &Integration{ConnectionStatus: StatusConnected, AccessToken: "tok"}
	assert.True(t, in.Connected())

	in.AccessToken = ""
	assert.False(t, in.Connected())

	in = &Integration{ConnectionStatus: StatusExpired, AccessToken: "tok"}
	assert.False(t, in.Connected())
}

func TestTokenExpiringWithin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ZeroExpiryNeverExpiring", func(t *testing.T) {
		in := &Integration{}
		assert.False(t, in.TokenExpiringWithin(now, 24*time.Hour))
	})

	t.Run("InsideWindow", func(t *testing.T) {
		in := &Integration{TokenExpiry: now.Add(6 * time.Hour)}
		assert.True(t, in.TokenExpiringWithin(now, 24*time.Hour))
	})

	t.Run("OutsideWindow", func(t *testing.T) {
		in := &Integration{TokenExpiry: now.Add(48 * time.Hour)}
		assert.False(t, in.TokenExpiringWithin(now, 24*time.Hour))
	})
}

func TestPendingSessionAccount(t *testing.T) {
	s := &PendingSession{Accounts: []AdAccount{
		{ID: "act_1", Name: "One"},
		{ID: "act_2", Name: "Two"},
	}}

	a, ok := s.Account("act_2")
	assert.True(t, ok)
	assert.Equal(t, "Two", a.Name)

	_, ok = s.Account("act_9")
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{Kind: APIErrorTransient}))
	assert.True(t, IsRetryable(&APIError{Kind: APIErrorRateLimited}))
	assert.False(t, IsRetryable(&APIError{Kind: APIErrorPermanent}))
	assert.False(t, IsRetryable(&APIError{Kind: APIErrorAuthExpired}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestRetryAfterHint(t *testing.T) {
	wrapped := &TransientExhaustedError{Attempts: 2, Last: &APIError{Kind: APIErrorRateLimited, RetryAfter: 7 * time.Second}}
	assert.Equal(t, 7*time.Second, RetryAfterHint(wrapped))
	assert.Equal(t, time.Duration(0), RetryAfterHint(errors.New("plain")))
}

func TestSecretFieldsNotSerialized(t *testing.T) {
	// Token fields are tagged json:"-" so API responses and logs built
	// from serialized integrations cannot leak them.
	in := &Integration{ID: "i1", AccessToken: "secret-token", RefreshToken: "secret-refresh"}
	s := &PendingSession{ID: "s1", UserAccessToken: "secret-session"}

	assertNotMarshaled(t, in, "secret-token", "secret-refresh")
	assertNotMarshaled(t, s, "secret-session")
}

func assertNotMarshaled(t *testing.T, v any, secrets ...string) {
	t.Helper()
	data, err := json.Marshal(v)
	assert.NoError(t, err)
	for _, secret := range secrets {
		assert.NotContains(t, string(data), secret)
	}
}
