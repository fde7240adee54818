// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"delegated-billing/internal/domain"
)

// ChargeLocker serializes charge execution per subscription id across
// processes. TryLock fails fast: a held lock means another attempt is in
// flight and the caller must not queue behind it. The token guards against
// unlocking a lock that expired and was re-acquired elsewhere.
type ChargeLocker struct {
	cli *redis.Client
}

func NewChargeLocker(c *Client) *ChargeLocker {
	return &ChargeLocker{cli: c.cli}
}

func (l *ChargeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrAlreadyInProgress
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *ChargeLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
