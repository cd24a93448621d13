package proposals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nounsdev/nouners-farcaster/internal/dispatch"
	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/subgraph"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
	"github.com/nounsdev/nouners-farcaster/pkg/logging"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticProposals []subgraph.Proposal

func (s staticProposals) Proposals(context.Context) ([]subgraph.Proposal, error) { return s, nil }

// fakeChain puts block 1000 at now with 12s blocks.
type fakeChain struct{ head uint64 }

func (c fakeChain) BlockNumber(context.Context) (uint64, error) { return c.head, nil }

func (c fakeChain) BlockTimestamp(_ context.Context, n uint64) (time.Time, error) {
	return now.Add(time.Duration(int64(n)-1000) * 12 * time.Second), nil
}

type fakeAccount struct {
	me        int64
	followers []int64
	byAddress map[string]int64
}

func (a fakeAccount) Me(context.Context) (warpcast.User, error) { return warpcast.User{FID: a.me}, nil }

func (a fakeAccount) Followers(context.Context, int64, int) ([]warpcast.User, error) {
	users := make([]warpcast.User, 0, len(a.followers))
	for _, fid := range a.followers {
		users = append(users, warpcast.User{FID: fid})
	}
	return users, nil
}

func (a fakeAccount) UserByVerification(_ context.Context, address string) (warpcast.User, error) {
	fid, ok := a.byAddress[address]
	if !ok {
		return warpcast.User{}, warpcast.ErrNoLinkedAccount
	}
	return warpcast.User{FID: fid}, nil
}

type recordingEnqueuer struct{ tasks []dispatch.Task }

func (r *recordingEnqueuer) Enqueue(_ context.Context, tasks []dispatch.Task) dispatch.EnqueueReport {
	r.tasks = append(r.tasks, tasks...)
	return dispatch.EnqueueReport{Sent: len(tasks)}
}

func TestActive(t *testing.T) {
	require.True(t, Active(subgraph.Proposal{Status: "ACTIVE", EndBlock: "1001"}, 1000))
	require.False(t, Active(subgraph.Proposal{Status: "ACTIVE", EndBlock: "1000"}, 1000))
	require.False(t, Active(subgraph.Proposal{Status: "PENDING", EndBlock: "5000"}, 1000))
	require.False(t, Active(subgraph.Proposal{Status: "ACTIVE", EndBlock: "soon"}, 1000))
}

func TestRunFiltersRecipients(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	// 1 is the bot, 2 voted, 3 does not follow, 4 is not a member, 5 gets a reminder.
	require.NoError(t, kv.PutJSON(ctx, store, identity.KeyVoters, []int64{1, 2, 3, 4, 5}, 0))
	require.NoError(t, kv.PutJSON(ctx, store, identity.KeyUsers, []int64{1, 2, 3, 5}, 0))

	enq := &recordingEnqueuer{}
	n := &Notifier{
		Store: store,
		Proposals: staticProposals{
			{ID: "42", Status: "ACTIVE", StartBlock: "700", EndBlock: "1300", Votes: []subgraph.Vote{{Voter: subgraph.Voter{ID: "0xABC"}}}},
			{ID: "41", Status: "EXECUTED", StartBlock: "1", EndBlock: "2"},
		},
		Chain:           fakeChain{head: 1000},
		Account:         fakeAccount{me: 1, followers: []int64{1, 2, 4, 5}, byAddress: map[string]int64{"0xabc": 2}},
		Enqueuer:        enq,
		Logger:          logging.NewDiscardLogger(),
		RequireFollower: true,
		now:             func() time.Time { return now },
	}

	require.NoError(t, n.Run(ctx))
	require.Len(t, enq.tasks, 1)

	dc, err := enq.tasks[0].DirectCast()
	require.NoError(t, err)
	require.Equal(t, int64(5), dc.RecipientFID)
	require.Equal(t, Message("42", "1 hour ago", "1 hour from now"), dc.Message)
	require.Equal(t, dispatch.IdempotencyKey(dc.Message), dc.IdempotencyKey)
}

func TestRunWithoutFollowerRequirement(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	require.NoError(t, kv.PutJSON(ctx, store, identity.KeySubscribers, []int64{3, 5}, 0))
	require.NoError(t, kv.PutJSON(ctx, store, identity.KeyUsers, []int64{3, 5}, 0))

	enq := &recordingEnqueuer{}
	n := &Notifier{
		Store:         store,
		Proposals:     staticProposals{{ID: "7", Status: "ACTIVE", StartBlock: "900", EndBlock: "2000"}},
		Chain:         fakeChain{head: 1000},
		Account:       fakeAccount{me: 1},
		Enqueuer:      enq,
		Logger:        logging.NewDiscardLogger(),
		RecipientsKey: identity.KeySubscribers,
		now:           func() time.Time { return now },
	}

	require.NoError(t, n.Run(ctx))
	require.Len(t, enq.tasks, 2)
}

func TestRunWithoutActiveProposals(t *testing.T) {
	enq := &recordingEnqueuer{}
	n := &Notifier{
		Store:     kv.NewMemoryStore(0),
		Proposals: staticProposals{{ID: "7", Status: "ACTIVE", StartBlock: "1", EndBlock: "999"}},
		Chain:     fakeChain{head: 1000},
		Account:   fakeAccount{me: 1},
		Enqueuer:  enq,
		Logger:    logging.NewDiscardLogger(),
	}

	require.NoError(t, n.Run(context.Background()))
	require.Empty(t, enq.tasks)
}
