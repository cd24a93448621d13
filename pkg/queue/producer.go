package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	headerID       = "id"
	headerAttempts = "attempts"
)

// recordProducer is the slice of *kgo.Client the producer needs.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Producer writes task bodies to a Kafka topic.
type Producer struct {
	client  recordProducer
	kgo     *kgo.Client
	logger  *logrus.Logger
	topic   string
	timeout time.Duration
}

// ProducerConfig configures the task producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
	// Timeout bounds one synchronous produce; defaults to 10s.
	Timeout time.Duration
}

// NewProducer connects a producer that waits for all in-sync replicas, so a
// SendBatch that returns nil has durably queued every task.
func NewProducer(cfg ProducerConfig, logger *logrus.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.ZstdCompression(), kgo.SnappyCompression()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Producer{
		client:  client,
		kgo:     client,
		logger:  logger,
		topic:   cfg.Topic,
		timeout: timeout,
	}, nil
}

func (p *Producer) Close() error {
	if p.kgo != nil {
		p.kgo.Close()
	}
	return nil
}

// SendBatch publishes every body as its own record with a fresh message id.
func (p *Producer) SendBatch(ctx context.Context, bodies [][]byte) error {
	if len(bodies) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(bodies))
	for _, body := range bodies {
		records = append(records, newRecord(p.topic, Envelope{
			ID:    uuid.NewString(),
			Value: body,
		}))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce %d tasks: %w", len(records), err)
	}
	return nil
}

// Republish writes a parked envelope back to the topic for its next attempt.
func (p *Producer) Republish(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.ProduceSync(ctx, newRecord(p.topic, env)).FirstErr(); err != nil {
		return fmt.Errorf("republish %s: %w", env.ID, err)
	}
	return nil
}

// HealthCheck pings the seed brokers.
func (p *Producer) HealthCheck() error {
	if p.kgo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.kgo.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

func newRecord(topic string, env Envelope) *kgo.Record {
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(env.ID),
		Value: env.Value,
		Headers: []kgo.RecordHeader{
			{Key: headerID, Value: []byte(env.ID)},
			{Key: headerAttempts, Value: []byte(strconv.Itoa(env.Attempts))},
		},
	}
}
