// Package queue carries dispatch tasks between the scheduled jobs and the
// consumer. Delivery is at-least-once; handlers decide per message whether
// it is acknowledged, redelivered after a delay, or dead-lettered.
package queue

import (
	"context"
	"time"
)

// Message is one delivery of a queued body. Attempts is 1 on first delivery.
type Message struct {
	ID        string
	Body      []byte
	Attempts  int
	Timestamp time.Time
}

// Sender submits a batch of bodies. Implementations are all-or-nothing per call.
type Sender interface {
	SendBatch(ctx context.Context, bodies [][]byte) error
}

// Action tells the transport what to do with a delivered message.
type Action int

const (
	ActionAck Action = iota
	ActionRetry
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Disposition is a handler's verdict for one message.
type Disposition struct {
	Action Action
	Delay  time.Duration // only for ActionRetry
	Reason error
}

func Ack() Disposition {
	return Disposition{Action: ActionAck}
}

func Retry(delay time.Duration, reason error) Disposition {
	return Disposition{Action: ActionRetry, Delay: delay, Reason: reason}
}

func DeadLetter(reason error) Disposition {
	return Disposition{Action: ActionDeadLetter, Reason: reason}
}

// Handler processes a single delivered message.
type Handler interface {
	Handle(ctx context.Context, msg Message) Disposition
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) Disposition

func (f HandlerFunc) Handle(ctx context.Context, msg Message) Disposition {
	return f(ctx, msg)
}

// exhausted reports whether a retry must turn into a dead letter.
// maxAttempts <= 0 means retries are unbounded.
func exhausted(maxAttempts, attempts int) bool {
	return maxAttempts > 0 && attempts >= maxAttempts
}
