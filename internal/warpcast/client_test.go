package warpcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nounsdev/nouners-farcaster/pkg/clients"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "access-token", "api-key",
		WithHTTPClient(srv.Client()),
		WithHTTPExecutorConfig(clients.HTTPExecutorConfig{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		}),
	)
}

func TestMe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/me", r.URL.Path)
		require.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"result":{"user":{"fid":42,"username":"radar"}}}`))
	})

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, user.FID)
	require.Equal(t, "radar", user.Username)
}

func TestUserByVerificationNoLinkedAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0xabc", r.URL.Query().Get("address"))
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"message":"No FID has connected 0xabc"}]}`))
	})

	_, err := c.UserByVerification(context.Background(), "0xabc")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoLinkedAccount))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestOtherAPIErrorsAreNotAbsence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Unauthorized"}]}`))
	})

	_, err := c.UserByVerification(context.Background(), "0xabc")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoLinkedAccount))
	require.Contains(t, err.Error(), "Unauthorized")
}

func TestGetRetriesOnServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"user":{"fid":7}}}`))
	})

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, user.FID)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMutationsAreNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.LikeCast(context.Background(), "0xcast")
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestLikeAndRecastBodies(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var body castHashBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "0xcast", body.CastHash)
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"result":{}}`))
	})

	require.NoError(t, c.LikeCast(context.Background(), "0xcast"))
	require.NoError(t, c.Recast(context.Background(), "0xcast"))
	require.Equal(t, []string{"/v2/cast-likes", "/v2/recasts"}, paths)
}

func TestSendDirectCastUsesAPIKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/ext-send-direct-cast", r.URL.Path)
		require.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		var dc DirectCast
		require.NoError(t, json.NewDecoder(r.Body).Decode(&dc))
		require.EqualValues(t, 9, dc.RecipientFID)
		require.Equal(t, "key", dc.IdempotencyKey)
		_, _ = w.Write([]byte(`{"result":{"success":true}}`))
	})

	ok, err := c.SendDirectCast(context.Background(), DirectCast{RecipientFID: 9, Message: "hi", IdempotencyKey: "key"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFollowersFollowsCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"result":{"users":[{"fid":1},{"fid":2}]},"next":{"cursor":"p2"}}`))
		case "p2":
			_, _ = w.Write([]byte(`{"result":{"users":[{"fid":3}]}}`))
		default:
			t.Fatalf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	users, err := c.Followers(context.Background(), 42, 0)
	require.NoError(t, err)
	require.Len(t, users, 3)

	limited, err := c.Followers(context.Background(), 42, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestDirectCastConversationsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "default", q.Get("category"))
		require.Equal(t, "unread", q.Get("filter"))
		require.Equal(t, "100", q.Get("limit"))
		_, _ = w.Write([]byte(`{"result":{"conversations":[{"conversationId":"c1","participants":[{"fid":1},{"fid":2}]}]}}`))
	})

	convs, err := c.DirectCastConversations(context.Background(), ConversationQuery{
		Category: CategoryDefault,
		Filter:   FilterUnread,
		Limit:    100,
	})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Participants, 2)
}

func TestFeedItemsSendsExclusions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body FeedItemsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "nouns", body.FeedKey)
		require.Equal(t, []string{"0xaaaa"}, body.ExcludeItemIDPrefixes)
		_, _ = w.Write([]byte(`{"result":{"items":[{"id":"0xbbbb","cast":{"hash":"0xbbbb","reactions":{"count":3}}}]}}`))
	})

	res, err := c.FeedItems(context.Background(), FeedItemsRequest{
		FeedKey:               "nouns",
		FeedType:              "default",
		ExcludeItemIDPrefixes: []string{"0xaaaa"},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.EqualValues(t, 3, res.Items[0].Cast.LikeCount())
}

func TestCastLikesPaginatesOnResultCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"result":{"likes":[{"reactor":{"fid":1}}],"cursor":"n"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"likes":[{"reactor":{"fid":2}}]}}`))
	})

	likes, err := c.CastLikes(context.Background(), "0xcast")
	require.NoError(t, err)
	require.Len(t, likes, 2)
	require.EqualValues(t, 2, likes[1].Reactor.FID)
}

func TestUpdateStarterPackRequiresSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		_, _ = w.Write([]byte(`{"result":{"success":false}}`))
	})

	err := c.UpdateStarterPack(context.Background(), StarterPackUpdate{ID: "Nouns-Radar-1"})
	require.Error(t, err)
}
