package dispatch

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/pkg/queue"
)

// MaxBatchSize is the largest batch handed to a single SendBatch call.
const MaxBatchSize = 100

// EnqueueReport summarises an Enqueue call. Err joins every chunk failure.
type EnqueueReport struct {
	Sent   int
	Failed int
	Err    error
}

// Enqueuer submits tasks to the queue in bounded batches.
type Enqueuer struct {
	sender    queue.Sender
	logger    *logrus.Logger
	batchSize int
	metrics   *Metrics
}

func NewEnqueuer(sender queue.Sender, logger *logrus.Logger, metrics *Metrics) *Enqueuer {
	return &Enqueuer{sender: sender, logger: logger, batchSize: MaxBatchSize, metrics: metrics}
}

// Enqueue sends tasks in chunks of at most MaxBatchSize. A failing chunk is
// logged and counted; later chunks are still sent.
func (e *Enqueuer) Enqueue(ctx context.Context, tasks []Task) EnqueueReport {
	var report EnqueueReport
	var errs []error

	for start := 0; start < len(tasks); start += e.batchSize {
		end := min(start+e.batchSize, len(tasks))
		chunk := tasks[start:end]

		bodies := make([][]byte, 0, len(chunk))
		for _, t := range chunk {
			body, err := t.Encode()
			if err != nil {
				errs = append(errs, err)
				report.Failed++
				continue
			}
			bodies = append(bodies, body)
		}
		if len(bodies) == 0 {
			continue
		}

		if err := e.sender.SendBatch(ctx, bodies); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"batch_size": len(bodies),
				"offset":     start,
			}).Error("Error enqueuing task batch")
			report.Failed += len(bodies)
			errs = append(errs, err)
			e.metrics.enqueued(chunk, "error")
			continue
		}

		report.Sent += len(bodies)
		e.metrics.enqueued(chunk, "ok")
		e.logger.WithField("batch_size", len(bodies)).Info("Task batch enqueued")
	}

	report.Err = errors.Join(errs...)
	return report
}
