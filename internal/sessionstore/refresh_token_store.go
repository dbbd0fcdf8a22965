// Package sessionstore holds the redis-backed state that is not a
// relational concern: single-use refresh tokens. It is consumed by
// internal/authn.Service at login and token-refresh time, not by the
// session hub.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrTokenNotFound = errors.New("sessionstore: refresh token not found or already consumed")

const keyPrefix = "refresh:"

// RefreshTokenStore issues opaque, single-use refresh tokens bound to
// a user id with a TTL.
type RefreshTokenStore struct {
	client *redis.Client
}

func New(client *redis.Client) *RefreshTokenStore {
	return &RefreshTokenStore{client: client}
}

// Issue mints a fresh token id and stores userID under it with ttl.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	tokenID := uuid.NewString()
	ok, err := s.client.SetNX(ctx, keyPrefix+tokenID, userID, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("sessionstore: issue refresh token: %w", err)
	}
	if !ok {
		// uuid collision against an unexpired key; vanishingly rare, but
		// retried with a fresh id rather than surfaced to the caller.
		return s.Issue(ctx, userID, ttl)
	}
	return tokenID, nil
}

// checkAndConsumeScript atomically reads and deletes the key so a
// token redeemed twice concurrently only ever succeeds once, without
// depending on a GETDEL command being present server-side.
var checkAndConsumeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
    redis.call("DEL", KEYS[1])
end
return v
`)

// CheckAndConsume redeems tokenID exactly once, returning the bound
// user id.
func (s *RefreshTokenStore) CheckAndConsume(ctx context.Context, tokenID string) (string, error) {
	res, err := checkAndConsumeScript.Run(ctx, s.client, []string{keyPrefix + tokenID}).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sessionstore: consume refresh token: %w", err)
	}
	userID, ok := res.(string)
	if !ok {
		return "", ErrTokenNotFound
	}
	return userID, nil
}
