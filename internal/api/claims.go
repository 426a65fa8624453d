package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the client-visible subset of an access token's payload. Parsed
// without signature verification: the server is the only authority, this is
// for display and expiry hints.
type Claims struct {
	UserID    string
	TokenType string
	ExpiresAt time.Time // zero when the token carries no exp
	IssuedAt  time.Time
}

// Expired reports whether the token's exp is in the past.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

type accessClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	UserID    any    `json:"user_id"`
}

// InspectAccessToken decodes the claims of a JWT access token.
// Opaque (non-JWT) tokens return an error.
func InspectAccessToken(raw string) (*Claims, error) {
	var ac accessClaims

	if _, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(raw, &ac); err != nil {
		return nil, fmt.Errorf("api: decoding access token: %w", err)
	}

	c := &Claims{TokenType: ac.TokenType}

	if ac.UserID != nil {
		c.UserID = fmt.Sprint(ac.UserID)
	} else {
		c.UserID = ac.Subject
	}

	if ac.ExpiresAt != nil {
		c.ExpiresAt = ac.ExpiresAt.Time
	}

	if ac.IssuedAt != nil {
		c.IssuedAt = ac.IssuedAt.Time
	}

	return c, nil
}

// tokenExpiry returns the exp of raw, or the zero time if it cannot be read.
func tokenExpiry(raw string) time.Time {
	c, err := InspectAccessToken(raw)
	if err != nil {
		return time.Time{}
	}

	return c.ExpiresAt
}
