package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Server.UsesDevSigningKey())
	assert.Equal(t, "policies", cfg.Policy.Dir)
	assert.Equal(t, 30*time.Second, cfg.Policy.PollInterval)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 600, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.RateLimit.TrustProxy)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ARBITER_ADDR", ":9090")
	t.Setenv("ARBITER_POLICY_POLL_INTERVAL", "5s")
	t.Setenv("ARBITER_DATABASE_DRIVER", "SQLite")
	t.Setenv("ARBITER_DATABASE_URL", "file:arbiter.db")
	t.Setenv("ARBITER_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ARBITER_SANCTIONS_RPS", "12.5")
	t.Setenv("ARBITER_JWT_SIGNING_KEY", "prod-key")
	t.Setenv("ARBITER_RATE_LIMIT", "0")
	t.Setenv("ARBITER_TRUST_PROXY", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.False(t, cfg.Server.UsesDevSigningKey())
	assert.Equal(t, 5*time.Second, cfg.Policy.PollInterval)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.InDelta(t, 12.5, cfg.Sanctions.RPS, 1e-9)
	assert.Zero(t, cfg.RateLimit.Limit)
	assert.True(t, cfg.RateLimit.TrustProxy)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("ARBITER_POLICY_POLL_INTERVAL", "soon")
	t.Setenv("ARBITER_DATABASE_DRIVER", "oracle")
	t.Setenv("ARBITER_SANCTIONS_RPS", "0")
	t.Setenv("ARBITER_TRUST_PROXY", "sometimes")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARBITER_POLICY_POLL_INTERVAL")
	assert.Contains(t, err.Error(), "ARBITER_DATABASE_DRIVER")
	assert.Contains(t, err.Error(), "ARBITER_SANCTIONS_RPS")
	assert.Contains(t, err.Error(), "ARBITER_TRUST_PROXY")
}
