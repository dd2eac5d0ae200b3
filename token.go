package firelite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/firelite/firelite.go/pkg/constants"
)

// Token is one bearer token. A zero Expiry means the source did not report
// one; the cache then tries to read the JWT exp claim, falling back to a
// fixed lifetime.
type Token struct {
	Value  string
	Expiry time.Time
}

// TokenSource acquires bearer tokens for the given scopes. Acquisition
// itself (service accounts, metadata servers, user flows) is outside this
// library.
type TokenSource func(ctx context.Context, scopes []string) (Token, error)

const defaultTokenLifetime = 55 * time.Minute

// tokenCache caches bearer tokens per scope set, owned by the Client rather
// than process-wide. Concurrent callers sharing a stale token trigger a
// single shared refresh.
type tokenCache struct {
	source TokenSource

	mu      sync.Mutex
	entries map[string]*tokenEntry
}

type tokenEntry struct {
	tok        Token
	refreshing bool
	done       chan struct{}
}

func newTokenCache(source TokenSource) *tokenCache {
	return &tokenCache{source: source, entries: make(map[string]*tokenEntry)}
}

func scopeKey(scopes []string) string {
	if len(scopes) == 0 {
		return ""
	}
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// token returns a fresh bearer token for the scope set, refreshing at most
// once across concurrent callers. The lock is never held across the source
// call.
func (tc *tokenCache) token(ctx context.Context, scopes []string) (string, error) {
	key := scopeKey(scopes)
	for {
		tc.mu.Lock()
		e := tc.entries[key]
		if e == nil {
			e = &tokenEntry{}
			tc.entries[key] = e
		}
		if e.tok.Value != "" && time.Until(e.tok.Expiry) > constants.TokenRefreshMargin {
			tok := e.tok.Value
			tc.mu.Unlock()
			return tok, nil
		}
		if e.refreshing {
			done := e.done
			tc.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		e.refreshing = true
		e.done = make(chan struct{})
		tc.mu.Unlock()

		tok, err := tc.source(ctx, scopes)
		if err == nil {
			tok.Expiry = resolveExpiry(tok)
		}

		tc.mu.Lock()
		if err == nil {
			e.tok = tok
		}
		e.refreshing = false
		close(e.done)
		tc.mu.Unlock()

		if err != nil {
			return "", fmt.Errorf("token source: %w", err)
		}
		return tok.Value, nil
	}
}

// resolveExpiry fills in a usable expiry: the source's own, else the JWT exp
// claim, else a fixed lifetime from now.
func resolveExpiry(tok Token) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	if claims := parseJWTClaims(tok.Value); claims != nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(defaultTokenLifetime)
}

func parseJWTClaims(raw string) jwt.Claims {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	// The token is presented, not verified: we only want the exp claim, the
	// server is the one that must trust the signature.
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

// scopedTokenProvider binds a cache to one scope set, satisfying
// connection.TokenProvider.
type scopedTokenProvider struct {
	cache  *tokenCache
	scopes []string
}

func (p *scopedTokenProvider) Token(ctx context.Context) (string, error) {
	if p.cache == nil {
		return "", nil
	}
	return p.cache.token(ctx, p.scopes)
}
