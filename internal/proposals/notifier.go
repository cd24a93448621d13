// Package proposals reminds community members who have not voted yet that
// a proposal is live.
package proposals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/dispatch"
	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/subgraph"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
)

type ProposalSource interface {
	Proposals(ctx context.Context) ([]subgraph.Proposal, error)
}

type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, n uint64) (time.Time, error)
}

// Account is the bot's view of Warpcast.
type Account interface {
	identity.UserLookup
	Me(ctx context.Context) (warpcast.User, error)
	Followers(ctx context.Context, fid int64, limit int) ([]warpcast.User, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, tasks []dispatch.Task) dispatch.EnqueueReport
}

type Notifier struct {
	Store     kv.Store
	Proposals ProposalSource
	Chain     Chain
	Account   Account
	Enqueuer  Enqueuer
	Logger    *logrus.Logger

	// RecipientsKey is the cached FID set messages go to, identity.KeyVoters
	// when empty.
	RecipientsKey string
	// RequireFollower limits messages to accounts following the bot.
	RequireFollower bool

	now func() time.Time
}

// Active reports whether p is still open for votes at head.
func Active(p subgraph.Proposal, head uint64) bool {
	if p.Status != subgraph.StatusActive {
		return false
	}
	end, err := p.EndBlockNumber()
	return err == nil && end > head
}

// Message renders the reminder for a proposal.
func Message(id, started, ends string) string {
	return "🗳️ It's voting time, Nouns fam! Proposal #" + id +
		" is live and ready for your voice. Voting started " + started +
		" and wraps up " + ends + ". " +
		"You received this message because you haven't voted yet. Don't miss out, cast your vote now! 🌟"
}

func relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func (n *Notifier) clock() time.Time {
	if n.now != nil {
		return n.now()
	}
	return time.Now()
}

func (n *Notifier) Run(ctx context.Context) error {
	me, err := n.Account.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve viewer: %w", err)
	}

	members, err := identity.Load[int64](ctx, n.Store, identity.KeyUsers)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	key := n.RecipientsKey
	if key == "" {
		key = identity.KeyVoters
	}
	recipients, err := identity.Load[int64](ctx, n.Store, key)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}
	n.Logger.WithFields(logrus.Fields{
		"members":    len(members),
		"recipients": len(recipients),
		"key":        key,
	}).Info("Loaded notification audience")

	head, err := n.Chain.BlockNumber(ctx)
	if err != nil {
		return err
	}
	all, err := n.Proposals.Proposals(ctx)
	if err != nil {
		return fmt.Errorf("fetch proposals: %w", err)
	}
	var active []subgraph.Proposal
	for _, p := range all {
		if Active(p, head) {
			active = append(active, p)
		}
	}
	n.Logger.WithField("active_proposals", len(active)).Info("Filtered active proposals")
	if len(active) == 0 {
		return nil
	}

	var followers map[int64]struct{}
	if n.RequireFollower {
		users, err := n.Account.Followers(ctx, me.FID, 0)
		if err != nil {
			return fmt.Errorf("fetch followers: %w", err)
		}
		followers = fidSet(users)
	}
	memberSet := make(map[int64]struct{}, len(members))
	for _, fid := range members {
		memberSet[fid] = struct{}{}
	}

	var tasks []dispatch.Task
	for _, p := range active {
		message, err := n.render(ctx, p)
		if err != nil {
			n.Logger.WithError(err).WithField("proposal_id", p.ID).Error("Failed to resolve proposal timeframe")
			continue
		}

		voted, err := n.voters(ctx, p)
		if err != nil {
			return err
		}

		idempotencyKey := dispatch.IdempotencyKey(message)
		for _, fid := range recipients {
			log := n.Logger.WithFields(logrus.Fields{"proposal_id": p.ID, "fid": fid})
			switch {
			case fid == me.FID:
				log.Debug("Skipping recipient: current user")
			case followers != nil && !contains(followers, fid):
				log.Debug("Skipping recipient: not a follower")
			case contains(voted, fid):
				log.Debug("Skipping recipient: already voted")
			case !contains(memberSet, fid):
				log.Debug("Skipping recipient: not a Farcaster member")
			default:
				tasks = append(tasks, dispatch.DirectCast(fid, message, idempotencyKey))
			}
		}
	}

	if len(tasks) == 0 {
		n.Logger.Debug("No reminders to send")
		return nil
	}
	report := n.Enqueuer.Enqueue(ctx, tasks)
	n.Logger.WithFields(logrus.Fields{
		"sent":   report.Sent,
		"failed": report.Failed,
	}).Info("Proposal reminders enqueued")
	return nil
}

func (n *Notifier) render(ctx context.Context, p subgraph.Proposal) (string, error) {
	startBlock, err := p.StartBlockNumber()
	if err != nil {
		return "", fmt.Errorf("parse start block %q: %w", p.StartBlock, err)
	}
	endBlock, err := p.EndBlockNumber()
	if err != nil {
		return "", fmt.Errorf("parse end block %q: %w", p.EndBlock, err)
	}
	start, err := n.Chain.BlockTimestamp(ctx, startBlock)
	if err != nil {
		return "", err
	}
	end, err := n.Chain.BlockTimestamp(ctx, endBlock)
	if err != nil {
		return "", err
	}
	now := n.clock()
	return Message(p.ID, relative(start, now), relative(end, now)), nil
}

func (n *Notifier) voters(ctx context.Context, p subgraph.Proposal) (map[int64]struct{}, error) {
	addresses := make([]string, 0, len(p.Votes))
	for _, v := range p.Votes {
		addresses = append(addresses, strings.ToLower(v.Voter.ID))
	}
	fids, err := identity.ResolveFIDs(ctx, n.Account, n.Logger, identity.Dedupe(addresses))
	if err != nil {
		return nil, err
	}
	n.Logger.WithFields(logrus.Fields{
		"proposal_id": p.ID,
		"voters":      len(fids),
	}).Info("Resolved proposal voters")

	set := make(map[int64]struct{}, len(fids))
	for _, fid := range fids {
		set[fid] = struct{}{}
	}
	return set, nil
}

func fidSet(users []warpcast.User) map[int64]struct{} {
	set := make(map[int64]struct{}, len(users))
	for _, u := range users {
		set[u.FID] = struct{}{}
	}
	return set
}

func contains(set map[int64]struct{}, fid int64) bool {
	_, ok := set[fid]
	return ok
}
