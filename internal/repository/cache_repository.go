package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

const scanBatch = 200

// CacheRepository stores JSON payloads in Redis under a shared key prefix.
// A nil client turns every call into a miss or a no-op.
type CacheRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. prefix is prepended to every key.
func NewCacheRepository(client *redis.Client, prefix string, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, prefix: prefix, logger: logger}
}

func (r *CacheRepository) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

// Get retrieves and unmarshals the cached value into dest.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	full := r.key(key)
	raw, err := r.client.Get(ctx, full).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", full, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A payload that no longer decodes is treated as absent and dropped.
		r.logger.Warn("discarding undecodable cache entry", zap.String("key", full), zap.Error(err))
		_ = r.client.Del(ctx, full).Err()
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Set marshals value and stores it with ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	full := r.key(key)
	if err := r.client.Set(ctx, full, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", full, err)
	}
	return nil
}

// DeleteByPattern removes every key matching pattern, relative to the prefix.
// Keys are unlinked in batches as the scan progresses.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}
	full := r.key(pattern)
	iter := r.client.Scan(ctx, 0, full, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis unlink %s: %w", full, err)
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", full, err)
	}
	return flush()
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
