// Package kafka publishes committed audit records to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const defaultDeliveryTimeout = 5 * time.Second

// Producer writes JSON records keyed by partition key. Records with the
// same key land on the same Kafka partition, which keeps one entity's
// audit chain in order for consumers.
type Producer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*options)

type options struct {
	logger          *slog.Logger
	deliveryTimeout time.Duration
	clientID        string
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.deliveryTimeout = d
		}
	}
}

func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

// NewProducer builds a producer. No connection is made until the first
// publish or health check.
func NewProducer(brokers []string, topic string, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	o := options{
		logger:          slog.Default(),
		deliveryTimeout: defaultDeliveryTimeout,
		clientID:        "arbiter",
	}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(o.clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(o.deliveryTimeout),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	return &Producer{client: client, topic: topic, logger: o.logger}, nil
}

// Publish marshals payload as JSON and waits for the broker to
// acknowledge it.
func (p *Producer) Publish(ctx context.Context, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: encode payload: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce to %s: %w", p.topic, err)
	}
	return nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", p.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Health pings the cluster.
func (p *Producer) Health(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close(ctx context.Context) {
	if err := p.client.Flush(ctx); err != nil {
		p.logger.WarnContext(ctx, "kafka flush on close failed", "error", err)
	}
	p.client.Close()
}
