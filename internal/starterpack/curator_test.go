package starterpack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
	"github.com/nounsdev/nouners-farcaster/pkg/logging"
)

type fakePacks struct {
	packs   []warpcast.StarterPack
	members map[string][]int64
	updates []warpcast.StarterPackUpdate
}

func (f *fakePacks) Me(context.Context) (warpcast.User, error) { return warpcast.User{FID: 1}, nil }

func (f *fakePacks) StarterPacks(context.Context, int64, int) ([]warpcast.StarterPack, error) {
	return f.packs, nil
}

func (f *fakePacks) StarterPackUsers(_ context.Context, id string) ([]warpcast.User, error) {
	var users []warpcast.User
	for _, fid := range f.members[id] {
		users = append(users, warpcast.User{FID: fid})
	}
	return users, nil
}

func (f *fakePacks) UpdateStarterPack(_ context.Context, u warpcast.StarterPackUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func TestPlanChunksByCapacity(t *testing.T) {
	plan, overflow := Plan([]string{"a", "b", "c"}, []int64{1, 2, 3, 4, 5}, 2)
	require.Equal(t, map[string][]int64{"a": {1, 2}, "b": {3, 4}, "c": {5}}, plan)
	require.Empty(t, overflow)

	plan, overflow = Plan([]string{"a"}, []int64{1, 2, 3}, 2)
	require.Equal(t, []int64{1, 2}, plan["a"])
	require.Equal(t, []int64{3}, overflow)
}

func TestRunUpdatesOnlyChangedPacks(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	require.NoError(t, kv.PutJSON(ctx, store, identity.KeyUsers, []int64{5, 3, 4, 2}, 0))

	packs := &fakePacks{
		packs: []warpcast.StarterPack{
			{ID: "Nouns-Radar-2", Name: "Radar 2", Labels: []string{"nouns"}},
			{ID: "Other-Pack"},
			{ID: "Nouns-Radar-1", Name: "Radar 1"},
		},
		members: map[string][]int64{
			"Nouns-Radar-1": {3, 2},
			"Nouns-Radar-2": {9},
		},
	}
	c := &Curator{Store: store, Packs: packs, Logger: logging.NewDiscardLogger(), Capacity: 2}

	require.NoError(t, c.Run(ctx))
	require.Equal(t, []warpcast.StarterPackUpdate{{
		ID:     "Nouns-Radar-2",
		Name:   "Radar 2",
		FIDs:   []int64{4, 5},
		Labels: []string{"nouns"},
	}}, packs.updates)
}

func TestRunWithoutMembers(t *testing.T) {
	packs := &fakePacks{}
	c := &Curator{Store: kv.NewMemoryStore(0), Packs: packs, Logger: logging.NewDiscardLogger()}
	require.NoError(t, c.Run(context.Background()))
	require.Empty(t, packs.updates)
}
