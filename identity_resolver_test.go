package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-service"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*auth.User
	ttls    map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]*auth.User{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*auth.User, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.entries[key]
	return u, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, user *auth.User, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = user
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) InvalidateUser(ctx context.Context, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, u := range c.entries {
		if u.Username == username {
			delete(c.entries, k)
		}
	}
	return nil
}

func TestIdentityResolver_Resolve(t *testing.T) {
	clock := newTestClock(fixedNow)
	codec := newTestTokenService(t, auth.WithTokenClock(clock.Now))
	stored := &auth.User{ID: uuid.New(), Username: "alice", PasswordHash: "digest", CreatedAt: fixedNow}

	token, err := codec.Issue("alice", time.Minute)
	require.NoError(t, err)

	t.Run("returns the stored principal", func(t *testing.T) {
		store := new(MockStore)
		store.On("FindByUsername", mock.Anything, "alice").Return(stored, nil).Once()

		resolver := auth.NewIdentityResolver(codec, store, auth.WithResolverLogger(auth.NopLogger()))
		user, claims, err := resolver.ResolveWithClaims(context.Background(), token)
		require.NoError(t, err)

		assert.Equal(t, stored.ID, user.ID)
		assert.Equal(t, "alice", user.Username)
		assert.Empty(t, user.PasswordHash)
		assert.Equal(t, "alice", claims.Subject())
		store.AssertExpectations(t)
	})

	t.Run("every rejection is unauthenticated", func(t *testing.T) {
		store := new(MockStore)
		store.On("FindByUsername", mock.Anything, "alice").Return(nil, auth.ErrUserNotFound)

		resolver := auth.NewIdentityResolver(codec, store, auth.WithResolverLogger(auth.NopLogger()))

		expired, err := auth.NewTokenService([]byte(testSecret), "HS256", time.Minute,
			auth.WithTokenClock(func() time.Time { return fixedNow.Add(-time.Hour) }))
		require.NoError(t, err)
		old, err := expired.Issue("alice", time.Minute)
		require.NoError(t, err)

		for name, tok := range map[string]string{
			"garbage":        "garbage",
			"tampered":       tamperSignature(t, token),
			"expired":        old,
			"deleted record": token,
		} {
			t.Run(name, func(t *testing.T) {
				user, err := resolver.Resolve(context.Background(), tok)
				assert.ErrorIs(t, err, auth.ErrUnauthenticated)
				assert.Nil(t, user)
			})
		}
	})

	t.Run("store failure is internal", func(t *testing.T) {
		store := new(MockStore)
		store.On("FindByUsername", mock.Anything, "alice").Return(nil, errors.New("timeout")).Once()

		resolver := auth.NewIdentityResolver(codec, store, auth.WithResolverLogger(auth.NopLogger()))
		_, err := resolver.Resolve(context.Background(), token)
		require.Error(t, err)
		assert.True(t, goerrors.IsInternal(err))
		assert.NotErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("nil record is unauthenticated", func(t *testing.T) {
		store := new(MockStore)
		store.On("FindByUsername", mock.Anything, "alice").Return(nil, nil).Once()

		resolver := auth.NewIdentityResolver(codec, store, auth.WithResolverLogger(auth.NopLogger()))
		_, err := resolver.Resolve(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})
}

func TestIdentityResolver_NoCacheSeesDeletion(t *testing.T) {
	codec := newTestTokenService(t, auth.WithTokenClock(newTestClock(fixedNow).Now))
	stored := &auth.User{ID: uuid.New(), Username: "alice"}
	token, err := codec.Issue("alice", time.Minute)
	require.NoError(t, err)

	store := new(MockStore)
	store.On("FindByUsername", mock.Anything, "alice").Return(stored, nil).Once()
	store.On("FindByUsername", mock.Anything, "alice").Return(nil, auth.ErrUserNotFound).Once()

	resolver := auth.NewIdentityResolver(codec, store, auth.WithResolverLogger(auth.NopLogger()))

	_, err = resolver.Resolve(context.Background(), token)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	store.AssertExpectations(t)
}

func TestIdentityResolver_Cache(t *testing.T) {
	clock := newTestClock(fixedNow)
	codec := newTestTokenService(t, auth.WithTokenClock(clock.Now))
	stored := &auth.User{ID: uuid.New(), Username: "alice", PasswordHash: "digest"}

	store := new(MockStore)
	store.On("FindByUsername", mock.Anything, "alice").Return(stored, nil).Once()

	cache := newMemoryCache()
	resolver := auth.NewIdentityResolver(codec, store,
		auth.WithResolverLogger(auth.NopLogger()),
		auth.WithResolverClock(clock.Now),
		auth.WithPrincipalCache(cache, 10*time.Minute),
	)

	token, err := codec.Issue("alice", 2*time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		user, err := resolver.Resolve(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	}
	store.AssertNumberOfCalls(t, "FindByUsername", 1)

	key := auth.PrincipalKey(token)
	assert.Equal(t, 2*time.Minute, cache.ttls[key], "cache entries never outlive the token")
	assert.Empty(t, cache.entries[key].PasswordHash)

	require.NoError(t, resolver.Forget(context.Background(), "alice"))
	assert.Empty(t, cache.entries)
}

func TestIdentityResolver_CacheDoesNotSurviveKeyRotation(t *testing.T) {
	clock := newTestClock(fixedNow)
	oldCodec := newTestTokenService(t, auth.WithTokenClock(clock.Now))
	newCodec, err := auth.NewTokenService([]byte("rotated-secret"), "HS256", 30*time.Minute, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)

	stored := &auth.User{ID: uuid.New(), Username: "alice", PasswordHash: "digest"}
	store := new(MockStore)
	store.On("FindByUsername", mock.Anything, "alice").Return(stored, nil).Once()

	cache := newMemoryCache()
	opts := []auth.ResolverOption{
		auth.WithResolverLogger(auth.NopLogger()),
		auth.WithResolverClock(clock.Now),
		auth.WithPrincipalCache(cache, 10*time.Minute),
	}

	token, err := oldCodec.Issue("alice", 5*time.Minute)
	require.NoError(t, err)

	before := auth.NewIdentityResolver(oldCodec, store, opts...)
	user, claims, err := before.ResolveWithClaims(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice", claims.Subject())
	require.Contains(t, cache.entries, auth.PrincipalKey(token))

	after := auth.NewIdentityResolver(newCodec, store, opts...)
	user, claims, err = after.ResolveWithClaims(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.Nil(t, user)
	assert.Nil(t, claims)
	store.AssertNumberOfCalls(t, "FindByUsername", 1)
}

func TestIdentityResolver_CacheHitReturnsClaims(t *testing.T) {
	clock := newTestClock(fixedNow)
	codec := newTestTokenService(t, auth.WithTokenClock(clock.Now))
	stored := &auth.User{ID: uuid.New(), Username: "alice", PasswordHash: "digest"}

	store := new(MockStore)
	store.On("FindByUsername", mock.Anything, "alice").Return(stored, nil).Once()

	resolver := auth.NewIdentityResolver(codec, store,
		auth.WithResolverLogger(auth.NopLogger()),
		auth.WithResolverClock(clock.Now),
		auth.WithPrincipalCache(newMemoryCache(), 10*time.Minute),
	)

	token, err := codec.Issue("alice", 2*time.Minute)
	require.NoError(t, err)

	_, first, err := resolver.ResolveWithClaims(context.Background(), token)
	require.NoError(t, err)
	_, second, err := resolver.ResolveWithClaims(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.Subject(), second.Subject())
	store.AssertNumberOfCalls(t, "FindByUsername", 1)
}

func TestIdentityResolver_ForgetWithoutCache(t *testing.T) {
	resolver := auth.NewIdentityResolver(newTestTokenService(t), new(MockStore))
	assert.NoError(t, resolver.Forget(context.Background(), "alice"))
}

func TestPrincipalKey(t *testing.T) {
	a := auth.PrincipalKey("token-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, auth.PrincipalKey("token-a"))
	assert.NotEqual(t, a, auth.PrincipalKey("token-b"))
}
