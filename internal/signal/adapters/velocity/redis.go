package velocity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"arbiter/internal/signal"
)

const keyPrefix = "arbiter:velocity:"

// Redis keeps observations in one sorted set per entity, scored by
// event time in milliseconds. Members are "eventID|amount", so recording
// an event twice overwrites rather than double counts.
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func key(entityID string) string { return keyPrefix + entityID }

func (r *Redis) Window(ctx context.Context, entityID string, since, until time.Time) (signal.Totals, error) {
	members, err := r.client.ZRangeByScore(ctx, key(entityID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMilli(), 10),
		Max: strconv.FormatInt(until.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return signal.Totals{}, fmt.Errorf("read velocity window: %w", err)
	}
	totals := signal.Totals{Volume: decimal.Zero}
	for _, m := range members {
		_, raw, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return signal.Totals{}, fmt.Errorf("parse velocity member %q: %w", m, err)
		}
		totals.Count++
		totals.Volume = totals.Volume.Add(amount)
	}
	return totals, nil
}

func (r *Redis) Record(ctx context.Context, entityID, eventID string, at time.Time, amount decimal.Decimal) error {
	k := key(entityID)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: eventID + "|" + amount.String()})
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(at.Add(-Retention).UnixMilli(), 10))
	pipe.Expire(ctx, k, Retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record velocity: %w", err)
	}
	return nil
}
