package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
	"github.com/nounsdev/nouners-farcaster/pkg/logging"
)

type fakeSource struct {
	holders      []string
	delegates    []string
	voters       []string
	holdersErr   error
	voterStart   uint64
	holdersCalls int
}

func (f *fakeSource) HolderAddresses(context.Context) ([]string, error) {
	f.holdersCalls++
	return f.holders, f.holdersErr
}

func (f *fakeSource) DelegateAddresses(context.Context) ([]string, error) {
	return f.delegates, nil
}

func (f *fakeSource) VoterAddresses(_ context.Context, start uint64) ([]string, error) {
	f.voterStart = start
	return f.voters, nil
}

type fakeHead uint64

func (h fakeHead) BlockNumber(context.Context) (uint64, error) { return uint64(h), nil }

type fakeUsers map[string]int64

func (f fakeUsers) UserByVerification(_ context.Context, address string) (warpcast.User, error) {
	if address == "0xbroken" {
		return warpcast.User{}, errors.New("boom")
	}
	fid, ok := f[address]
	if !ok {
		return warpcast.User{}, &warpcast.APIError{StatusCode: 404, Message: "No FID has connected " + address}
	}
	return warpcast.User{FID: fid}, nil
}

func TestPopulateResolvesMembersAndVoters(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	source := &fakeSource{
		holders:   []string{"0xa", "0xb"},
		delegates: []string{"0xb", "0xc"},
		voters:    []string{"0xa", "0xbroken"},
	}
	users := fakeUsers{"0xa": 7, "0xb": 5}

	e := NewEngine(store, source, fakeHead(10_000_000), users, logging.NewDiscardLogger(), time.Hour, nil)
	e.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, e.Populate(ctx))

	members, err := Load[int64](ctx, store, KeyUsers)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 7}, members)

	voters, err := Load[int64](ctx, store, KeyVoters)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, voters)

	// 2024-03-01 .. 2024-06-01 is 92 days.
	require.EqualValues(t, 10_000_000-92*24*60*60/12, source.voterStart)

	// A second run is served entirely from cache.
	require.NoError(t, e.Populate(ctx))
	require.Equal(t, 1, source.holdersCalls)
}

func TestUsersLeftUnsetWhenHoldersFail(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	source := &fakeSource{holdersErr: errors.New("subgraph down"), delegates: []string{"0xa"}}

	e := NewEngine(store, source, fakeHead(1), fakeUsers{"0xa": 1}, logging.NewDiscardLogger(), time.Hour, nil)
	_, err := e.Users(ctx)
	require.Error(t, err)

	_, ok, _ := store.Get(ctx, KeyUsers)
	require.False(t, ok)
	_, ok, _ = store.Get(ctx, KeyDelegates)
	require.True(t, ok)
}

func TestPopulateFetchesFailedHoldersOnce(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	source := &fakeSource{holdersErr: errors.New("subgraph down"), delegates: []string{"0xa"}}

	e := NewEngine(store, source, fakeHead(1), fakeUsers{"0xa": 1}, logging.NewDiscardLogger(), time.Hour, nil)
	err := e.Populate(ctx)
	require.ErrorContains(t, err, "subgraph down")
	require.Equal(t, 1, source.holdersCalls)

	_, ok, _ := store.Get(ctx, KeyUsers)
	require.False(t, ok)
}

func TestVoterStartBlockClampsAtZero(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.EqualValues(t, 0, VoterStartBlock(10, now))
}

func TestResolveFIDsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ResolveFIDs(ctx, fakeUsers{}, logging.NewDiscardLogger(), []string{"0xa"})
	require.ErrorIs(t, err, context.Canceled)
}
