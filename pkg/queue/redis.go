package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores ready messages in a list and retries in a sorted set scored by due time.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Push(ctx context.Context, list string, data []byte) error {
	return b.client.LPush(ctx, list, data).Err()
}

func (b *RedisBackend) Pop(ctx context.Context, list string, wait time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, wait, list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	if len(res) < 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

func (b *RedisBackend) Schedule(ctx context.Context, set string, data []byte, at time.Time) error {
	return b.client.ZAdd(ctx, set, redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err()
}

func (b *RedisBackend) Promote(ctx context.Context, set, list string, now time.Time) (int, error) {
	due, err := b.client.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, member := range due {
		pipe := b.client.TxPipeline()
		rem := pipe.ZRem(ctx, set, member)
		pipe.LPush(ctx, list, member)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		if rem.Val() > 0 {
			moved++
		}
	}
	return moved, nil
}

func (b *RedisBackend) Len(ctx context.Context, list string) (int64, error) {
	return b.client.LLen(ctx, list).Result()
}
