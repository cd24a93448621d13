package queue

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Dead-letter headers. The record value stays the untouched task body so a
// dead letter can be replayed by producing its value back onto the topic.
const (
	headerDLQError      = "dlq-error"
	headerDLQSource     = "dlq-source"
	headerDLQConsumer   = "dlq-consumer"
	headerDLQFailedAt   = "dlq-failed-at"
	headerDLQDeliveries = "dlq-deliveries"
)

// DeadLetterEntry is a parsed dead-letter record.
type DeadLetterEntry struct {
	ID         string
	Body       []byte
	Deliveries int
	Error      string
	Source     string // topic/partition@offset of the failed delivery
	Consumer   string
	FailedAt   time.Time
}

// NewDeadLetterRecord wraps a failed delivery for topic. The ID header is
// kept; the attempts header is dropped so a replay starts a fresh budget.
func NewDeadLetterRecord(record *kgo.Record, topic string, reason error, consumer string, failedAt time.Time) *kgo.Record {
	msg, env := messageFromRecord(record)

	errText := "unknown"
	if reason != nil {
		errText = reason.Error()
	}
	return &kgo.Record{
		Topic: topic,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: headerID, Value: []byte(env.ID)},
			{Key: headerDLQError, Value: []byte(errText)},
			{Key: headerDLQSource, Value: []byte(fmt.Sprintf("%s/%d@%d", record.Topic, record.Partition, record.Offset))},
			{Key: headerDLQConsumer, Value: []byte(consumer)},
			{Key: headerDLQFailedAt, Value: []byte(failedAt.UTC().Format(time.RFC3339))},
			{Key: headerDLQDeliveries, Value: []byte(strconv.Itoa(msg.Attempts))},
		},
	}
}

// ParseDeadLetter reads a record produced by NewDeadLetterRecord.
func ParseDeadLetter(record *kgo.Record) (DeadLetterEntry, error) {
	dl := DeadLetterEntry{Body: record.Value}
	var sawError bool
	for _, h := range record.Headers {
		v := string(h.Value)
		switch h.Key {
		case headerID:
			dl.ID = v
		case headerDLQError:
			dl.Error, sawError = v, true
		case headerDLQSource:
			dl.Source = v
		case headerDLQConsumer:
			dl.Consumer = v
		case headerDLQFailedAt:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return DeadLetterEntry{}, fmt.Errorf("dead letter failed-at: %w", err)
			}
			dl.FailedAt = t
		case headerDLQDeliveries:
			n, err := strconv.Atoi(v)
			if err != nil {
				return DeadLetterEntry{}, fmt.Errorf("dead letter deliveries: %w", err)
			}
			dl.Deliveries = n
		}
	}
	if !sawError {
		return DeadLetterEntry{}, errors.New("record is not a dead letter")
	}
	return dl, nil
}
