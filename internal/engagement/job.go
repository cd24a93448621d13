package engagement

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/dispatch"
	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
)

type Viewer interface {
	Me(ctx context.Context) (warpcast.User, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, tasks []dispatch.Task) dispatch.EnqueueReport
}

// ChannelJob scores the configured channel feed for the bot account.
type ChannelJob struct {
	Store    kv.Store
	Viewer   Viewer
	NewFeed  func() Pager
	Engagers EngagerSource
	Enqueuer Enqueuer
	Options  Options
	Logger   *logrus.Logger
}

// Run exits quietly when no member FIDs are cached yet.
func (j *ChannelJob) Run(ctx context.Context) error {
	members, err := identity.Load[int64](ctx, j.Store, identity.KeyUsers)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	if len(members) == 0 {
		j.Logger.Info("No Farcaster members cached, skipping channel engagement")
		return nil
	}

	me, err := j.Viewer.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve viewer: %w", err)
	}

	tasks, err := ScoreFeed(ctx, j.NewFeed(), j.Engagers, members, me.FID, j.Options, j.Logger)
	if err != nil {
		return fmt.Errorf("score channel feed: %w", err)
	}
	if len(tasks) == 0 {
		j.Logger.Debug("No casts reached the engagement threshold")
		return nil
	}

	report := j.Enqueuer.Enqueue(ctx, tasks)
	j.Logger.WithFields(logrus.Fields{
		"sent":   report.Sent,
		"failed": report.Failed,
	}).Info("Channel engagement tasks enqueued")
	return nil
}
