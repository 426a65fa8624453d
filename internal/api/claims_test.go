package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectAccessToken(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	iat := exp.Add(-5 * time.Minute)

	raw := makeJWT(t, jwt.MapClaims{
		"token_type": "access",
		"user_id":    12345678,
		"exp":        exp.Unix(),
		"iat":        iat.Unix(),
	})

	c, err := InspectAccessToken(raw)
	require.NoError(t, err)

	assert.Equal(t, "12345678", c.UserID)
	assert.Equal(t, "access", c.TokenType)
	assert.True(t, c.ExpiresAt.Equal(exp))
	assert.True(t, c.IssuedAt.Equal(iat))
	assert.False(t, c.Expired(exp.Add(-time.Second)))
	assert.True(t, c.Expired(exp.Add(time.Second)))
}

func TestInspectAccessToken_SubjectFallback(t *testing.T) {
	c, err := InspectAccessToken(makeJWT(t, jwt.MapClaims{"sub": "alice"}))
	require.NoError(t, err)

	assert.Equal(t, "alice", c.UserID)
	assert.True(t, c.ExpiresAt.IsZero())
	assert.False(t, c.Expired(time.Now()))
}

func TestInspectAccessToken_Opaque(t *testing.T) {
	_, err := InspectAccessToken("not-a-jwt")
	require.Error(t, err)

	assert.True(t, tokenExpiry("not-a-jwt").IsZero())
}
