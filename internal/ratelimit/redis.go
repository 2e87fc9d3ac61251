package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "arbiter:ratelimit:"

// RedisStore shares sliding windows across replicas using one sorted set
// per key, scored by arrival time in milliseconds.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := s.now()
	k := keyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
	count := pipe.ZCard(ctx, k)
	oldest := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit window %s: %w", key, err)
	}

	first := now
	if zs := oldest.Val(); len(zs) > 0 {
		first = time.UnixMilli(int64(zs[0].Score))
	}
	n := int(count.Val())
	if n >= limit {
		return Result{
			Allowed:    false,
			Limit:      limit,
			ResetAt:    first.Add(window),
			RetryAfter: retryAfter(first, window, now),
		}, nil
	}

	pipe = s.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.PExpire(ctx, k, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit record %s: %w", key, err)
	}
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - n - 1,
		ResetAt:   first.Add(window),
	}, nil
}
