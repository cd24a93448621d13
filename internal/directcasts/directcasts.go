// Package directcasts answers the bot's inbox and keeps track of who has
// written to it.
package directcasts

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/dispatch"
	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
)

// AutopilotMessage is sent once to everyone who writes to the bot.
const AutopilotMessage = "This account runs on autopilot, so please don’t send messages directly here. " +
	"If you have any issues or questions, just reach out to @nekofar! 😊"

// ConversationLimit caps each inbox listing.
const ConversationLimit = 100

type Inbox interface {
	Me(ctx context.Context) (warpcast.User, error)
	DirectCastConversations(ctx context.Context, q warpcast.ConversationQuery) ([]warpcast.Conversation, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, tasks []dispatch.Task) dispatch.EnqueueReport
}

type Job struct {
	Store    kv.Store
	Inbox    Inbox
	Enqueuer Enqueuer
	Logger   *logrus.Logger
}

// Run answers unread conversations, then refreshes the subscriber list.
func (j *Job) Run(ctx context.Context) error {
	j.Logger.Info("Starting direct cast handler process")
	if err := j.Respond(ctx); err != nil {
		return err
	}
	if err := j.RefreshSubscribers(ctx); err != nil {
		return err
	}
	j.Logger.Info("Direct cast handler process completed")
	return nil
}

func participants(conversations []warpcast.Conversation) []int64 {
	var fids []int64
	for _, c := range conversations {
		for _, p := range c.Participants {
			fids = append(fids, p.FID)
		}
	}
	return fids
}

// Respond sends the autopilot message to every participant of an unread
// conversation who has not received it yet. The responders set is only
// written after the batch was enqueued without error.
func (j *Job) Respond(ctx context.Context) error {
	responded, err := identity.Load[int64](ctx, j.Store, identity.KeyResponders)
	if err != nil {
		return fmt.Errorf("load responders: %w", err)
	}
	me, err := j.Inbox.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve viewer: %w", err)
	}

	conversations, err := j.Inbox.DirectCastConversations(ctx, warpcast.ConversationQuery{
		Category: warpcast.CategoryDefault,
		Filter:   warpcast.FilterUnread,
		Limit:    ConversationLimit,
	})
	if err != nil {
		return fmt.Errorf("list unread conversations: %w", err)
	}
	j.Logger.WithField("conversations", len(conversations)).Info("Fetched unread conversations")

	skip := make(map[int64]struct{}, len(responded)+1)
	skip[me.FID] = struct{}{}
	for _, fid := range responded {
		skip[fid] = struct{}{}
	}

	key := dispatch.IdempotencyKey(AutopilotMessage)
	var tasks []dispatch.Task
	for _, fid := range participants(conversations) {
		if _, ok := skip[fid]; ok {
			continue
		}
		skip[fid] = struct{}{}
		tasks = append(tasks, dispatch.DirectCast(fid, AutopilotMessage, key))
		responded = append(responded, fid)
	}

	if len(tasks) == 0 {
		j.Logger.Debug("No messages to send at this time")
		return nil
	}

	report := j.Enqueuer.Enqueue(ctx, tasks)
	if report.Err != nil {
		j.Logger.WithError(report.Err).WithField("batch_size", len(tasks)).Error("Error enqueuing autopilot replies")
		return nil
	}
	if err := kv.PutJSON(ctx, j.Store, identity.KeyResponders, identity.SortedUnique(responded), 0); err != nil {
		return fmt.Errorf("store responders: %w", err)
	}
	j.Logger.WithField("responders", len(responded)).Info("Updated responders list")
	return nil
}

// RefreshSubscribers merges everyone in the default and request inboxes
// into the stored subscriber set.
func (j *Job) RefreshSubscribers(ctx context.Context) error {
	subscribers, err := identity.Load[int64](ctx, j.Store, identity.KeySubscribers)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}

	for _, category := range []warpcast.ConversationCategory{warpcast.CategoryDefault, warpcast.CategoryRequest} {
		conversations, err := j.Inbox.DirectCastConversations(ctx, warpcast.ConversationQuery{
			Category: category,
			Limit:    ConversationLimit,
		})
		if err != nil {
			return fmt.Errorf("list %s conversations: %w", category, err)
		}
		j.Logger.WithFields(logrus.Fields{
			"category":      category,
			"conversations": len(conversations),
		}).Info("Fetched conversations")
		subscribers = append(subscribers, participants(conversations)...)
	}

	subscribers = identity.SortedUnique(subscribers)
	if err := kv.PutJSON(ctx, j.Store, identity.KeySubscribers, subscribers, 0); err != nil {
		return fmt.Errorf("store subscribers: %w", err)
	}
	j.Logger.WithField("subscribers", len(subscribers)).Info("Subscribers list saved")
	return nil
}
