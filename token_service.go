package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService signs and verifies HMAC JWT access tokens
type TokenService struct {
	signingKey []byte
	method     *jwt.SigningMethodHMAC
	ttl        time.Duration
	issuer     string
	now        func() time.Time
	logger     Logger
}

var _ TokenCodec = (*TokenService)(nil)

// TokenOption configures a TokenService
type TokenOption func(*TokenService)

// WithTokenIssuer sets the iss claim and requires it on verification
func WithTokenIssuer(issuer string) TokenOption {
	return func(ts *TokenService) {
		ts.issuer = issuer
	}
}

// WithTokenClock overrides the clock used for issuance and verification
func WithTokenClock(now func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenOption {
	return func(ts *TokenService) {
		ts.logger = resolveLogger(logger)
	}
}

// NewTokenService creates a TokenService. alg must name an HMAC method
// (HS256, HS384, HS512).
func NewTokenService(signingKey []byte, alg string, ttl time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(signingKey) == 0 {
		return nil, NewStartupConfigurationError(nil, "token signing key must not be empty")
	}

	method, err := SigningMethod(alg)
	if err != nil {
		return nil, NewStartupConfigurationError(err, fmt.Sprintf("token algorithm %q is not supported", alg)).
			WithMetadata(map[string]any{"reason": TextCodeUnsupportedAlgorithm})
	}

	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	key := make([]byte, len(signingKey))
	copy(key, signingKey)

	ts := &TokenService{
		signingKey: key,
		method:     method,
		ttl:        ttl,
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts, nil
}

// NewTokenServiceFromSettings wires key, algorithm, TTL and issuer
func NewTokenServiceFromSettings(s Settings, opts ...TokenOption) (*TokenService, error) {
	base := []TokenOption{WithTokenIssuer(s.TokenIssuer)}
	return NewTokenService([]byte(s.SecretKey), s.Algorithm, s.TokenTTL(), append(base, opts...)...)
}

// DefaultTTL returns the configured token lifetime
func (ts *TokenService) DefaultTTL() time.Duration {
	return ts.ttl
}

// Algorithm returns the signing algorithm name
func (ts *TokenService) Algorithm() string {
	return ts.method.Alg()
}

// Issue creates a token for subject that expires after ttl. A ttl <= 0 uses
// the configured default.
func (ts *TokenService) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrTokenMissingSubject
	}

	if ttl <= 0 {
		ttl = ts.ttl
	}

	now := ts.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	signed, err := jwt.NewWithClaims(ts.method, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// Verify checks signature and expiry and returns the subject
func (ts *TokenService) Verify(token string) (string, error) {
	claims, err := ts.VerifyClaims(token)
	if err != nil {
		return "", err
	}
	return claims.Subject(), nil
}

// VerifyClaims checks signature and expiry and returns the parsed claims.
// Errors are one of ErrTokenInvalidSignature, ErrTokenExpired,
// ErrTokenMalformed or ErrTokenMissingSubject.
func (ts *TokenService) VerifyClaims(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ts.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
		jwt.WithStrictDecoding(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		mapped := mapTokenError(err)
		if mapped == ErrTokenMalformed && corruptSignature(tokenString) {
			mapped = ErrTokenInvalidSignature
		}
		ts.logger.Debug("token verification failed", "reason", mapped.TextCode, "error", err)
		return nil, mapped
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.Subject() == "" {
		return nil, ErrTokenMissingSubject
	}

	return claims, nil
}

func mapTokenError(err error) *goerrors.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}

// corruptSignature reports a well formed header and payload carrying a
// signature segment that is not canonical base64url.
func corruptSignature(tokenString string) bool {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || parts[2] == "" {
		return false
	}
	enc := base64.RawURLEncoding.Strict()
	for _, part := range parts[:2] {
		if _, err := enc.DecodeString(part); err != nil {
			return false
		}
	}
	_, err := enc.DecodeString(parts[2])
	return err != nil
}
