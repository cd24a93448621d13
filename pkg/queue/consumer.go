package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Backoff bounds for re-applying a disposition whose park or dead-letter
// write failed.
const (
	settleMinDelay = 500 * time.Millisecond
	settleMaxDelay = 30 * time.Second
)

// consumerClient is the slice of *kgo.Client the consumer needs.
type consumerClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Parker holds a message until its retry delay has elapsed.
type Parker interface {
	Park(ctx context.Context, env Envelope, due time.Time) error
}

// Republisher puts a parked envelope back on the topic.
type Republisher interface {
	Republish(ctx context.Context, env Envelope) error
}

// ConsumerConfig configures the task consumer.
type ConsumerConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	ClientID        string
	DeadLetterTopic string
	// MaxAttempts caps deliveries per message; 0 retries forever.
	MaxAttempts int
}

// Consumer polls one topic and hands each record to a Handler.
type Consumer struct {
	client      consumerClient
	logger      *logrus.Logger
	topic       string
	dlqTopic    string
	groupID     string
	maxAttempts int
	handler     Handler
	parker      Parker
	now         func() time.Time
	settleRetry retrypolicy.RetryPolicy[any]

	delayed          *DelayedSet
	republisher      Republisher
	requeueInterval  time.Duration
	requeueBatchSize int64
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, handler Handler, parker Parker, logger *logrus.Logger) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	dlqTopic := cfg.DeadLetterTopic
	if dlqTopic == "" {
		dlqTopic = cfg.Topic + ".dlq"
	}

	return &Consumer{
		client:      client,
		logger:      logger,
		topic:       cfg.Topic,
		dlqTopic:    dlqTopic,
		groupID:     cfg.GroupID,
		maxAttempts: cfg.MaxAttempts,
		handler:     handler,
		parker:      parker,
		now:         time.Now,
		settleRetry: newSettleRetry(settleMinDelay, settleMaxDelay),
	}, nil
}

// newSettleRetry retries without limit; only ctx cancellation stops it.
func newSettleRetry(minDelay, maxDelay time.Duration) retrypolicy.RetryPolicy[any] {
	return retrypolicy.NewBuilder[any]().
		WithBackoff(minDelay, maxDelay).
		WithMaxRetries(-1).
		Build()
}

// WithRedelivery enables the loop that moves due retries from set back to the topic.
func (c *Consumer) WithRedelivery(set *DelayedSet, republisher Republisher, interval time.Duration) *Consumer {
	c.delayed = set
	c.republisher = republisher
	c.requeueInterval = interval
	c.requeueBatchSize = 100
	return c
}

// Close closes the underlying client
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Start polls until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	if c.delayed != nil && c.republisher != nil {
		go c.runRedelivery(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			fetches := c.client.PollFetches(ctx)
			if errs := fetches.Errors(); len(errs) > 0 {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Errorf("errors while polling: %v", errs)
				continue
			}

			iter := fetches.RecordIter()
			records := make([]*kgo.Record, 0)
			for !iter.Done() {
				records = append(records, iter.Next())
			}

			commitRecords := c.processRecords(ctx, records)
			if len(commitRecords) > 0 {
				// Settled records are committed even while shutting down.
				commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				err := c.client.CommitRecords(commitCtx, commitRecords...)
				cancel()
				if err != nil {
					c.logger.WithError(err).Error("Commit failed")
				}
			}
		}
	}
}

func (c *Consumer) runRedelivery(ctx context.Context) {
	interval := c.requeueInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.delayed.Drain(ctx, c.now(), c.requeueBatchSize, c.republisher.Republish)
			if err != nil {
				c.logger.WithError(err).Warn("Failed to redeliver parked messages")
			}
			if n > 0 {
				c.logger.WithField("count", n).Debug("Redelivered parked messages")
			}
		}
	}
}

// processRecords settles records in order and returns, per partition, the
// last settled record to commit. A record whose disposition cannot be carried
// out blocks the loop while it is retried with backoff, because franz-go will
// not fetch it again: moving past it would commit over a lost task. If ctx
// ends first, processing stops there and everything from that record on is
// redelivered to the next group member.
func (c *Consumer) processRecords(ctx context.Context, records []*kgo.Record) []*kgo.Record {
	type topicPartition struct {
		topic     string
		partition int32
	}
	lastSettled := make(map[topicPartition]*kgo.Record)

	for _, record := range records {
		if err := c.settle(ctx, record); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"topic":     record.Topic,
				"partition": record.Partition,
				"offset":    record.Offset,
			}).Warn("Stopped before settling message, leaving it uncommitted")
			break
		}
		lastSettled[topicPartition{topic: record.Topic, partition: record.Partition}] = record
	}

	commitRecords := make([]*kgo.Record, 0, len(lastSettled))
	for _, record := range lastSettled {
		commitRecords = append(commitRecords, record)
	}
	return commitRecords
}

// settle runs the handler once and carries out its disposition, retrying the
// park or dead-letter write until it succeeds. A non-nil error means ctx
// ended and the record is neither acknowledged nor durably parked.
func (c *Consumer) settle(ctx context.Context, record *kgo.Record) error {
	msg, env := messageFromRecord(record)
	log := c.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"attempts":   msg.Attempts,
	})

	disp := c.handler.Handle(ctx, msg)
	return failsafe.With[any](c.settleRetry).WithContext(ctx).Run(func() error {
		err := c.apply(ctx, record, msg, env, disp, log)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Failed to settle message, retrying")
		}
		return err
	})
}

func (c *Consumer) apply(ctx context.Context, record *kgo.Record, msg Message, env Envelope, disp Disposition, log *logrus.Entry) error {
	switch disp.Action {
	case ActionAck:
		return nil
	case ActionRetry:
		if exhausted(c.maxAttempts, msg.Attempts) {
			log.WithError(disp.Reason).Warn("Retry budget exhausted, dead-lettering message")
			return c.deadLetter(ctx, record, disp.Reason)
		}
		env.Attempts = msg.Attempts
		due := c.now().Add(disp.Delay)
		if err := c.parker.Park(ctx, env, due); err != nil {
			return fmt.Errorf("park message: %w", err)
		}
		log.WithError(disp.Reason).WithField("delay", disp.Delay.String()).Info("Message scheduled for retry")
		return nil
	case ActionDeadLetter:
		log.WithError(disp.Reason).Warn("Dead-lettering message")
		return c.deadLetter(ctx, record, disp.Reason)
	default:
		reason := fmt.Errorf("unknown disposition %d", disp.Action)
		log.WithError(reason).Error("Dead-lettering message")
		return c.deadLetter(ctx, record, reason)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, record *kgo.Record, reason error) error {
	dlq := NewDeadLetterRecord(record, c.dlqTopic, reason, c.groupID, c.now())

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.client.ProduceSync(ctx, dlq).FirstErr(); err != nil {
		return fmt.Errorf("produce dead letter: %w", err)
	}
	return nil
}

// HealthCheck pings the broker
func (c *Consumer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

func messageFromRecord(record *kgo.Record) (Message, Envelope) {
	env := Envelope{Key: record.Key, Value: record.Value}
	previous := 0
	for _, h := range record.Headers {
		switch h.Key {
		case headerID:
			env.ID = string(h.Value)
		case headerAttempts:
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				previous = n
			}
		}
	}
	if env.ID == "" {
		env.ID = string(record.Key)
	}
	env.Attempts = previous

	return Message{
		ID:        env.ID,
		Body:      record.Value,
		Attempts:  previous + 1,
		Timestamp: record.Timestamp,
	}, env
}
