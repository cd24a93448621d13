package dispatch

import (
	"math"
	"time"

	"github.com/nounsdev/nouners-farcaster/pkg/queue"
)

// Outcome classifies how a task attempt ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is what handling one task produced.
type Result struct {
	Outcome Outcome
	Err     error
}

func Success() Result { return Result{Outcome: OutcomeSuccess} }
func Retryable(err error) Result { return Result{Outcome: OutcomeRetryable, Err: err} }
func Fatal(err error) Result { return Result{Outcome: OutcomeFatal, Err: err} }

const (
	// DefaultBackoffBase is raised to the attempt count to get the retry delay in seconds.
	DefaultBackoffBase = 10
	// MaxBackoff caps the retry delay; it is also the longest delay queue
	// providers commonly accept.
	MaxBackoff = 12 * time.Hour
)

// Backoff returns base^attempts seconds, capped at MaxBackoff.
func Backoff(attempts, base int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if base < 2 {
		base = 2
	}
	seconds := math.Pow(float64(base), float64(attempts))
	if seconds >= MaxBackoff.Seconds() {
		return MaxBackoff
	}
	return time.Duration(seconds) * time.Second
}

// Disposition maps a result to what the queue transport should do.
func (r Result) Disposition(attempts, backoffBase int) queue.Disposition {
	switch r.Outcome {
	case OutcomeSuccess:
		return queue.Ack()
	case OutcomeRetryable:
		return queue.Retry(Backoff(attempts, backoffBase), r.Err)
	default:
		return queue.DeadLetter(r.Err)
	}
}
