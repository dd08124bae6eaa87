package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte(strings.Repeat("s", MinSecretLength))

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	i, err := NewIssuer(TokenConfig{Secret: testSecret, AccessTTL: time.Hour, RefreshTTL: 7 * 24 * time.Hour})
	require.NoError(t, err)
	i.now = func() time.Time { return now }
	return i
}

func TestNewIssuerSecretLength(t *testing.T) {
	_, err := NewIssuer(TokenConfig{Secret: []byte("short")})
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	i := newTestIssuer(t, now)

	tokens, err := i.Issue("u1", "ann@example.com")
	require.NoError(t, err)
	assert.Len(t, strings.Split(tokens.AccessToken, "."), 3)

	t.Run("access token", func(t *testing.T) {
		c, err := i.Parse(tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "u1", c.ID)
		assert.Equal(t, "ann@example.com", c.Email)
		assert.False(t, c.IsRefreshToken)
		assert.Equal(t, now.Add(time.Hour), c.Expiry.UTC())
		assert.Equal(t, now, c.IssuedAt.UTC())
	})

	t.Run("refresh token", func(t *testing.T) {
		c, err := i.ParseRefresh(tokens.RefreshToken)
		require.NoError(t, err)
		assert.True(t, c.IsRefreshToken)
		assert.Equal(t, now.Add(7*24*time.Hour), c.Expiry.UTC())

		_, err = i.ParseRefresh(tokens.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := newTestIssuer(t, now.Add(2*time.Hour))
		_, err := later.Parse(tokens.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)

		_, err = later.ParseRefresh(tokens.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewIssuer(TokenConfig{Secret: []byte(strings.Repeat("x", MinSecretLength))})
		require.NoError(t, err)
		other.now = func() time.Time { return now }
		_, err = other.Parse(tokens.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := i.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerify(t *testing.T) {
	now := time.Now()
	i := newTestIssuer(t, now)
	tokens, err := i.Issue("u1", "ann@example.com")
	require.NoError(t, err)

	user, err := i.Verify(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	assert.True(t, user.Active)
	assert.Equal(t, "u1", user.Subject)
	assert.Equal(t, "ann@example.com", user.Email)
	assert.Equal(t, "ann@example.com", user.Claims["email"])

	_, err = i.Verify(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("secret123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)

	assert.NoError(t, CheckPassword(hash, "secret123"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, CheckPassword("", "secret123"), ErrInvalidCredentials)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}
