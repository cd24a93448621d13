package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/queue"
)

// Actions are the Warpcast calls tasks perform.
type Actions interface {
	LikeCast(ctx context.Context, castHash string) error
	Recast(ctx context.Context, castHash string) error
	SendDirectCast(ctx context.Context, dc warpcast.DirectCast) (bool, error)
}

// ErrDirectCastRejected is returned when Warpcast accepts the request but
// reports success=false.
var ErrDirectCastRejected = errors.New("direct cast not acknowledged")

// Handler executes delivered tasks. It implements queue.Handler.
type Handler struct {
	actions     Actions
	logger      *logrus.Logger
	backoffBase int
	metrics     *Metrics
}

func NewHandler(actions Actions, logger *logrus.Logger, metrics *Metrics) *Handler {
	return &Handler{actions: actions, logger: logger, backoffBase: DefaultBackoffBase, metrics: metrics}
}

// Process runs one task body. Undecodable bodies and unknown types are
// fatal; every failed Warpcast call is retryable.
func (h *Handler) Process(ctx context.Context, body []byte) (TaskType, Result) {
	task, err := Decode(body)
	if err != nil {
		return "", Fatal(err)
	}

	switch task.Type {
	case TypeLike, TypeRecast:
		data, err := task.Reaction()
		if err != nil {
			return task.Type, Fatal(err)
		}
		call := h.actions.LikeCast
		if task.Type == TypeRecast {
			call = h.actions.Recast
		}
		if err := call(ctx, data.Hash); err != nil {
			return task.Type, Retryable(fmt.Errorf("%s %s: %w", task.Type, data.Hash, err))
		}
		return task.Type, Success()

	case TypeDirectCast:
		data, err := task.DirectCast()
		if err != nil {
			return task.Type, Fatal(err)
		}
		ok, err := h.actions.SendDirectCast(ctx, warpcast.DirectCast{
			RecipientFID:   data.RecipientFID,
			Message:        data.Message,
			IdempotencyKey: data.IdempotencyKey,
		})
		if err != nil {
			return task.Type, Retryable(fmt.Errorf("direct cast to %d: %w", data.RecipientFID, err))
		}
		if !ok {
			return task.Type, Retryable(fmt.Errorf("direct cast to %d: %w", data.RecipientFID, ErrDirectCastRejected))
		}
		return task.Type, Success()
	}

	return task.Type, Fatal(fmt.Errorf("%w: %q", ErrUnknownTaskType, task.Type))
}

// Handle implements queue.Handler.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) queue.Disposition {
	taskType, res := h.Process(ctx, msg.Body)
	disp := res.Disposition(msg.Attempts, h.backoffBase)
	h.metrics.handled(taskType, res.Outcome)

	log := h.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"task_type":  taskType,
		"attempts":   msg.Attempts,
	})
	switch res.Outcome {
	case OutcomeSuccess:
		log.Info("Task applied")
	case OutcomeRetryable:
		log.WithError(res.Err).WithField("delay", disp.Delay.String()).Warn("Task failed, will retry")
	default:
		log.WithError(res.Err).Error("Task cannot be processed")
	}
	return disp
}
