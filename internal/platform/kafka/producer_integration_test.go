//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"arbiter/pkg/testutil/containers"
)

func TestPublishRoundTrip(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p, err := NewProducer(rp.Brokers, "arbiter.audit-records")
	require.NoError(t, err)
	defer p.Close(ctx)

	require.NoError(t, p.Health(ctx))
	require.NoError(t, p.EnsureTopic(ctx, 3, 1))
	require.NoError(t, p.EnsureTopic(ctx, 3, 1), "existing topic is not an error")

	require.NoError(t, p.Publish(ctx, "ent-1", map[string]any{"sequence": 1, "verdict": "BLOCK"}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics("arbiter.audit-records"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "ent-1", string(records[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &body))
	assert.Equal(t, "BLOCK", body["verdict"])
}
