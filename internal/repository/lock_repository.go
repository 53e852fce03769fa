package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

// releaseScript deletes the key only while it still holds the caller's token,
// so an expired lock taken over by another runner is never released by mistake.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LockRepository implements a single-holder lease on a Redis key.
type LockRepository struct {
	client *redis.Client
}

// NewLockRepository constructs repository.
func NewLockRepository(client *redis.Client) *LockRepository {
	return &LockRepository{client: client}
}

// Acquire takes the lease for ttl and returns its token. ErrLockNotAcquired
// means another holder owns it.
func (r *LockRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", appErrors.ErrLockNotAcquired
	}
	return token, nil
}

// Release drops the lease if token still owns it.
func (r *LockRepository) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
