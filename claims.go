package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access token payload. Only the registered claims are used:
// sub carries the username.
type Claims struct {
	jwt.RegisteredClaims
}

// Subject returns the subject claim
func (c *Claims) Subject() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti claim
func (c *Claims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// TTL is the time left before expiry relative to now
func (c *Claims) TTL(now time.Time) time.Duration {
	exp := c.Expires()
	if exp.IsZero() {
		return 0
	}
	return exp.Sub(now)
}
