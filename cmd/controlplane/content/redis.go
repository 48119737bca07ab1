package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	rediscommon "github.com/lyzr/taskplane/common/redis"
)

const keyPrefix = "taskplane:result:"

// RedisStore keeps data in redis strings, one key per result
type RedisStore struct {
	redis *rediscommon.Client
	ttl   time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store. ttl of zero keeps data until deleted.
func NewRedisStore(client *rediscommon.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

func (r *RedisStore) Put(ctx context.Context, id string, data []byte) error {
	return r.redis.SetWithExpiry(ctx, key(id), data, r.ttl)
}

func (r *RedisStore) Append(ctx context.Context, id string, data []byte) error {
	return r.redis.Append(ctx, key(id), data, r.ttl)
}

func (r *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := r.redis.Get(ctx, key(id))
	if errors.Is(err, rediscommon.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return data, err
}

func (r *RedisStore) Delete(ctx context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	return r.redis.Delete(ctx, keys...)
}
