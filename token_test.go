package firelite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCacheReuse(t *testing.T) {
	var calls atomic.Int32
	tc := newTokenCache(func(ctx context.Context, scopes []string) (Token, error) {
		calls.Add(1)
		return Token{Value: "tok-1", Expiry: time.Now().Add(time.Hour)}, nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tok, err := tc.token(ctx, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenCacheRefreshesNearExpiry(t *testing.T) {
	var calls atomic.Int32
	tc := newTokenCache(func(ctx context.Context, scopes []string) (Token, error) {
		n := calls.Add(1)
		// The first token is already inside the refresh margin.
		exp := time.Now().Add(time.Second)
		if n > 1 {
			exp = time.Now().Add(time.Hour)
		}
		return Token{Value: "tok", Expiry: exp}, nil
	})

	ctx := context.Background()
	_, err := tc.token(ctx, nil)
	require.NoError(t, err)
	_, err = tc.token(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	_, err = tc.token(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenCacheSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	tc := newTokenCache(func(ctx context.Context, scopes []string) (Token, error) {
		calls.Add(1)
		<-release
		return Token{Value: "tok", Expiry: time.Now().Add(time.Hour)}, nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := tc.token(ctx, []string{"a"})
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok)
		}()
	}
	// Let the goroutines pile up on the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenCacheScopesAreIndependent(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	tc := newTokenCache(func(ctx context.Context, scopes []string) (Token, error) {
		mu.Lock()
		defer mu.Unlock()
		key := scopeKey(scopes)
		seen[key]++
		return Token{Value: "tok-" + key, Expiry: time.Now().Add(time.Hour)}, nil
	})

	ctx := context.Background()
	tok, err := tc.token(ctx, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, "tok-a b", tok)

	// Scope order does not matter.
	tok, err = tc.token(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "tok-a b", tok)

	_, err = tc.token(ctx, []string{"c"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"a b": 1, "c": 1}, seen)
}

func TestTokenCacheSourceError(t *testing.T) {
	fail := errors.New("no credentials")
	var calls atomic.Int32
	tc := newTokenCache(func(ctx context.Context, scopes []string) (Token, error) {
		calls.Add(1)
		return Token{}, fail
	})

	ctx := context.Background()
	_, err := tc.token(ctx, nil)
	require.ErrorIs(t, err, fail)

	// Failures are not cached; the next call tries again.
	_, err = tc.token(ctx, nil)
	require.ErrorIs(t, err, fail)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(20 * time.Minute).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	got := resolveExpiry(Token{Value: raw})
	assert.True(t, got.Equal(exp), "got %v want %v", got, exp)

	// An explicit expiry wins over the claim.
	explicit := time.Now().Add(time.Hour)
	got = resolveExpiry(Token{Value: raw, Expiry: explicit})
	assert.True(t, got.Equal(explicit))

	// An opaque token falls back to the fixed lifetime.
	got = resolveExpiry(Token{Value: "opaque"})
	assert.True(t, got.After(time.Now().Add(defaultTokenLifetime-time.Minute)))
}

func TestScopedTokenProviderNilCache(t *testing.T) {
	p := &scopedTokenProvider{}
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}
