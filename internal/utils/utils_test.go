package utils

import (
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "user-1", 15)
	require.NoError(t, err)

	sub, err := ParseAccessToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	_, err = ParseAccessToken("other", tok.Token)
	assert.Error(t, err)
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "user-1", -1)
	require.NoError(t, err)
	_, err = ParseAccessToken("s3cret", tok.Token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestRefreshTokenHash(t *testing.T) {
	rt, err := NewRefreshToken(7)
	require.NoError(t, err)
	assert.Len(t, rt.Raw, 96)
	h := HashRefreshRaw(rt.Raw)
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashRefreshRaw(rt.Raw))
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("correct horse", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(h, "correct horse"))
	assert.False(t, VerifyPassword(h, "wrong"))

	h, err = HashPassword("pw", 1)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(h, "pw"))

	_, err = HashPassword(strings.Repeat("x", MaxPasswordBytes+1), 4)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
