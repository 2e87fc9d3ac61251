//go:build integration

package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/pkg/testutil/containers"
)

func TestRedisWindow(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := NewRedis(rc.Client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.Record(ctx, "ent-1", "e1", now.Add(-25*time.Hour), decimal.RequireFromString("100.10")))
	require.NoError(t, store.Record(ctx, "ent-1", "e2", now.Add(-time.Hour), decimal.RequireFromString("250.25")))
	require.NoError(t, store.Record(ctx, "ent-1", "e2", now.Add(-time.Hour), decimal.RequireFromString("250.25")))
	require.NoError(t, store.Record(ctx, "ent-1", "e3", now, decimal.RequireFromString("49.65")))

	day, err := store.Window(ctx, "ent-1", now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 2, day.Count)
	assert.True(t, decimal.RequireFromString("299.90").Equal(day.Volume))

	ttl, err := rc.Client.TTL(ctx, key("ent-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*24*time.Hour)
}
