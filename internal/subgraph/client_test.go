package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nounsdev/nouners-farcaster/pkg/clients"
)

type capturedRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

func newTestClient(t *testing.T, pageSize int, handler func(req capturedRequest) string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(handler(req)))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL,
		WithHTTPClient(srv.Client()),
		WithPageSize(pageSize),
		WithHTTPExecutorConfig(clients.HTTPExecutorConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
}

func TestQueriesParse(t *testing.T) {
	require.Equal(t, "accounts", accountsQuery.field)
	require.Equal(t, "Delegates", delegatesQuery.name)
	require.Equal(t, "votes", votesQuery.field)
	require.Equal(t, "proposals", proposalsQuery.field)
}

func TestMustDocumentRejectsMalformedQuery(t *testing.T) {
	require.Panics(t, func() { mustDocument(`query { accounts(`) })
	require.Panics(t, func() { mustDocument(`mutation M { x }`) })
	require.Panics(t, func() { mustDocument(`query Q { a b }`) })
}

func TestHolderAddressesPaginatesUntilEmptyPage(t *testing.T) {
	pages := map[float64]string{
		0: `{"data":{"accounts":[{"id":"0xAAA"},{"id":"0x0000000000000000000000000000000000000000"}]}}`,
		2: `{"data":{"accounts":[{"id":"0xbbb"}]}}`,
		4: `{"data":{"accounts":[]}}`,
	}
	var calls int32
	c := newTestClient(t, 2, func(req capturedRequest) string {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "Accounts", req.OperationName)
		require.EqualValues(t, 2, req.Variables["first"])
		require.Len(t, req.Variables["exclude"], len(DenyList))
		return pages[req.Variables["skip"].(float64)]
	})

	addrs, err := c.HolderAddresses(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0xaaa", "0xbbb"}, addrs)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPaginationFailureAbortsWithoutPartialResult(t *testing.T) {
	c := newTestClient(t, 1, func(req capturedRequest) string {
		if req.Variables["skip"].(float64) == 0 {
			return `{"data":{"delegates":[{"id":"0x1"}]}}`
		}
		return `{"errors":[{"message":"indexing error"}]}`
	})

	addrs, err := c.DelegateAddresses(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "indexing error")
	require.Nil(t, addrs)
}

func TestVoterAddressesDedupes(t *testing.T) {
	c := newTestClient(t, 10, func(req capturedRequest) string {
		require.Equal(t, "1234", req.Variables["startBlock"])
		if req.Variables["skip"].(float64) > 0 {
			return `{"data":{"votes":[]}}`
		}
		return `{"data":{"votes":[{"voter":{"id":"0xA"}},{"voter":{"id":"0xb"}},{"voter":{"id":"0xa"}}]}}`
	})

	voters, err := c.VoterAddresses(context.Background(), 1234)
	require.NoError(t, err)
	require.Equal(t, []string{"0xa", "0xb"}, voters)
}

func TestProposals(t *testing.T) {
	c := newTestClient(t, 1000, func(req capturedRequest) string {
		if req.Variables["skip"].(float64) > 0 {
			return `{"data":{"proposals":[]}}`
		}
		require.True(t, strings.Contains(req.Query, "proposals("))
		return fmt.Sprintf(`{"data":{"proposals":[{"id":"7","status":"%s","startBlock":"100","endBlock":"200","votes":[{"voter":{"id":"0x1"},"blockNumber":"150"}]}]}}`, StatusActive)
	})

	proposals, err := c.Proposals(context.Background())
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	end, err := proposals[0].EndBlockNumber()
	require.NoError(t, err)
	require.EqualValues(t, 200, end)
	require.Len(t, proposals[0].Votes, 1)
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithHTTPClient(srv.Client()))

	_, err := c.Proposals(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}
