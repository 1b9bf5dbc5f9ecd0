package jwtware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetExtractorsParsesLookupString(t *testing.T) {
	extractors := GetExtractors("header:Authorization, query:token ,cookie:jwt,param:token,bogus,unknown:x")
	require.Len(t, extractors, 4)

	require.Empty(t, GetExtractors(""))
}

func TestGetDefaultConfigPanicsWithoutResolver(t *testing.T) {
	require.Panics(t, func() {
		GetDefaultConfig[string]()
	})
}

func TestGetDefaultConfigDefaults(t *testing.T) {
	cfg := GetDefaultConfig(Config[string]{
		Resolver: ResolverFunc[string](nil),
	})

	require.Equal(t, "user", cfg.ContextKey)
	require.Equal(t, defaultTokenLookup, cfg.TokenLookup)
	require.Equal(t, "Bearer", cfg.AuthScheme)
	require.NotNil(t, cfg.ErrorHandler)
}
