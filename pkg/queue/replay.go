package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Replayer moves dead letters back onto the task topic with a fresh
// attempt budget.
type Replayer struct {
	client      consumerClient
	republisher Republisher
	logger      *logrus.Logger
	idle        time.Duration
}

// NewReplayer consumes the dead-letter topic of cfg under its own group
// (<GroupID>-replay), so replayed offsets are remembered between runs.
func NewReplayer(cfg ConsumerConfig, republisher Republisher, logger *logrus.Logger) (*Replayer, error) {
	topic := cfg.DeadLetterTopic
	if topic == "" {
		topic = cfg.Topic + ".dlq"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.GroupID+"-replay"),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka replay consumer: %w", err)
	}
	return &Replayer{client: client, republisher: republisher, logger: logger, idle: 5 * time.Second}, nil
}

func (r *Replayer) Close() { r.client.Close() }

// Replay republishes up to limit dead letters (all when limit <= 0) and
// returns once the topic has been idle for a poll interval. Records that are
// not dead letters are skipped and committed.
func (r *Replayer) Replay(ctx context.Context, limit int) (int, error) {
	replayed := 0
	for limit <= 0 || replayed < limit {
		pollCtx, cancel := context.WithTimeout(ctx, r.idle)
		fetches := r.client.PollFetches(pollCtx)
		cancel()
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if pollCtx.Err() == nil {
			fetches.EachError(func(topic string, partition int32, err error) {
				r.logger.WithError(err).WithFields(logrus.Fields{"topic": topic, "partition": partition}).Warn("Dead-letter fetch error")
			})
		}

		var commits []*kgo.Record
		fetches.EachRecord(func(record *kgo.Record) {
			if limit > 0 && replayed >= limit {
				return
			}
			dl, err := ParseDeadLetter(record)
			if err != nil {
				r.logger.WithError(err).WithField("offset", record.Offset).Warn("Skipping record on dead-letter topic")
				commits = append(commits, record)
				return
			}
			if err := r.republisher.Republish(ctx, Envelope{ID: dl.ID, Key: record.Key, Value: dl.Body}); err != nil {
				r.logger.WithError(err).WithField("message_id", dl.ID).Error("Replay failed")
				return
			}
			r.logger.WithFields(logrus.Fields{
				"message_id": dl.ID,
				"error":      dl.Error,
				"failed_at":  dl.FailedAt,
			}).Info("Replayed dead letter")
			replayed++
			commits = append(commits, record)
		})

		if len(commits) == 0 {
			return replayed, nil
		}
		if err := r.client.CommitRecords(ctx, commits...); err != nil {
			return replayed, fmt.Errorf("commit replayed offsets: %w", err)
		}
	}
	return replayed, nil
}
