package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goliatone/go-errors"
)

// IdentityResolver turns a presented bearer token into the stored user it
// names. Without a cache every call re-verifies the token and re-queries
// the store, so deleting an account takes effect on the next request.
type IdentityResolver struct {
	codec    TokenCodec
	store    CredentialStore
	cache    PrincipalCache
	cacheTTL time.Duration
	now      func() time.Time
	logger   Logger
}

// ResolverOption configures an IdentityResolver
type ResolverOption func(*IdentityResolver)

// WithResolverLogger sets the logger
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *IdentityResolver) {
		r.logger = resolveLogger(logger)
	}
}

// WithPrincipalCache enables a positive-result cache. Entries live at most
// ttl and never past the token's expiry. Call Forget when an account is
// removed.
func WithPrincipalCache(cache PrincipalCache, ttl time.Duration) ResolverOption {
	return func(r *IdentityResolver) {
		if cache == nil || ttl <= 0 {
			return
		}
		r.cache = cache
		r.cacheTTL = ttl
	}
}

// WithResolverClock overrides the clock used to bound cache entries
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *IdentityResolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewIdentityResolver creates a resolver
func NewIdentityResolver(codec TokenCodec, store CredentialStore, opts ...ResolverOption) *IdentityResolver {
	r := &IdentityResolver{
		codec:  codec,
		store:  store,
		now:    time.Now,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Resolve returns the user named by token. Every token or lookup failure is
// reported as ErrUnauthenticated; only store failures other than not-found
// come back as internal errors.
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (*User, error) {
	user, _, err := r.ResolveWithClaims(ctx, token)
	return user, err
}

// ResolveWithClaims is Resolve that also returns the verified claims. The
// token is always verified before the cache is consulted, so a cached
// principal never outlives its signing key or expiry.
func (r *IdentityResolver) ResolveWithClaims(ctx context.Context, token string) (*User, *Claims, error) {
	claims, err := r.codec.VerifyClaims(token)
	if err != nil {
		r.logger.Debug("token rejected", "error", err)
		return nil, nil, ErrUnauthenticated
	}

	key := principalKey(token)

	if r.cache != nil {
		if cached, ok, err := r.cache.Get(ctx, key); err != nil {
			r.logger.Warn("principal cache get failed", "error", err)
		} else if ok {
			return cached, claims, nil
		}
	}

	user, err := r.store.FindByUsername(ctx, claims.Subject())
	if err != nil {
		if errors.IsNotFound(err) {
			r.logger.Debug("token subject has no user record")
			return nil, nil, ErrUnauthenticated
		}
		r.logger.Error("identity lookup failed", "error", err)
		return nil, nil, storeError(err, "failed to look up user during identity resolution")
	}
	if user == nil {
		return nil, nil, ErrUnauthenticated
	}

	principal := user.Principal()

	if r.cache != nil {
		ttl := r.cacheTTL
		if left := claims.TTL(r.now()); left < ttl {
			ttl = left
		}
		if ttl > 0 {
			if err := r.cache.Set(ctx, key, principal, ttl); err != nil {
				r.logger.Warn("principal cache set failed", "error", err)
			}
		}
	}

	return principal, claims, nil
}

// Forget drops cached principals for username. It is a no-op without a
// cache.
func (r *IdentityResolver) Forget(ctx context.Context, username string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateUser(ctx, username)
}

// principalKey derives the cache key from the presented token
func principalKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// PrincipalKey exposes the cache key derivation for cache implementations
// and tests.
func PrincipalKey(token string) string {
	return principalKey(token)
}
