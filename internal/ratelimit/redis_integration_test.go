//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/pkg/testutil/containers"
)

func TestRedisStoreSlidingWindow(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	now := time.Now().UTC()
	s := NewRedisStore(rc.Client)
	s.now = func() time.Time { return now }

	for i := range 3 {
		res, err := s.Allow(ctx, "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		now = now.Add(10 * time.Second)
	}

	res, err := s.Allow(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	now = now.Add(31 * time.Second)
	res, err = s.Allow(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	ttl, err := rc.Client.PTTL(ctx, keyPrefix+"10.0.0.1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)
}
