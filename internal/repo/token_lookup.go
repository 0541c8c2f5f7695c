package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"social-connect/internal/types"
)

// KV is the cache surface the lookup uses. Satisfied by *store.RedisStore.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, val string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// accountReader is the credential-table read the lookup falls back to.
// Satisfied by *AccountRepo.
type accountReader interface {
	GetByPlatformAccountID(ctx context.Context, platform types.Platform, accountID string) (*types.SocialAccount, error)
}

// TokenLookup serves current access tokens to API consumers with a redis
// read-through cache in front of the credential table.
type TokenLookup struct {
	kv       KV
	accounts accountReader
}

func NewTokenLookup(kv KV, accounts accountReader) *TokenLookup {
	return &TokenLookup{kv: kv, accounts: accounts}
}

type tokenCache struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func cacheKey(platform types.Platform, accountID string) string {
	return fmt.Sprintf("token:%s:%s", platform, accountID)
}

// Lookup returns the current access token for an active account.
// 1) try redis
// 2) hit the credential table
// 3) cache with a TTL safely under the token expiry (or 30m without one)
func (l *TokenLookup) Lookup(ctx context.Context, platform types.Platform, accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("accountID empty")
	}
	key := cacheKey(platform, accountID)

	if raw, err := l.kv.Get(ctx, key); err == nil && raw != "" {
		var c tokenCache
		if json.Unmarshal([]byte(raw), &c) == nil && c.Token != "" {
			// Skip cache hits that are about to expire.
			if c.ExpiresAt == nil || time.Until(*c.ExpiresAt) > 3*time.Minute {
				return c.Token, nil
			}
		}
	}

	acct, err := l.accounts.GetByPlatformAccountID(ctx, platform, accountID)
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if acct == nil || !acct.IsActive {
		return "", fmt.Errorf("no active account %s/%s", platform, accountID)
	}
	if acct.AccessToken == "" {
		return "", fmt.Errorf("empty token for account %s/%s", platform, accountID)
	}

	ttl := 30 * time.Minute
	var expiresAt *time.Time
	if exp := acct.Settings.TokenExpiresAt(); !exp.IsZero() {
		expiresAt = &exp
		// Cache slightly under the expiry so stale tokens age out on their own.
		if d := time.Until(exp) - 2*time.Minute; d > time.Minute {
			ttl = d
		}
	}
	b, _ := json.Marshal(tokenCache{Token: acct.AccessToken, ExpiresAt: expiresAt})
	_ = l.kv.Set(ctx, key, string(b), ttl)

	return acct.AccessToken, nil
}

// Invalidate drops the cached token, used after refresh or disconnect so the
// next Lookup sees the new state.
func (l *TokenLookup) Invalidate(ctx context.Context, platform types.Platform, accountID string) {
	_ = l.kv.Del(ctx, cacheKey(platform, accountID))
}
