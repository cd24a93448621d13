// Package subgraph queries the Nouns DAO subgraph.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/nounsdev/nouners-farcaster/pkg/clients"
)

type Account struct {
	ID string `json:"id"`
}

type Delegate struct {
	ID             string `json:"id"`
	DelegatedVotes string `json:"delegatedVotes"`
}

type Voter struct {
	ID string `json:"id"`
}

type Vote struct {
	Voter       Voter  `json:"voter"`
	BlockNumber string `json:"blockNumber"`
}

type Proposal struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	StartBlock string `json:"startBlock"`
	EndBlock   string `json:"endBlock"`
	Votes      []Vote `json:"votes"`
}

const StatusActive = "ACTIVE"

func (p Proposal) StartBlockNumber() (uint64, error) {
	return strconv.ParseUint(p.StartBlock, 10, 64)
}

func (p Proposal) EndBlockNumber() (uint64, error) {
	return strconv.ParseUint(p.EndBlock, 10, 64)
}

// HTTPError is returned when the subgraph endpoint answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("subgraph returned status: %d", e.StatusCode)
}

type Client struct {
	endpoint     string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
	pageSize     int
}

type Option func(*Client)

func NewClient(endpoint string, opts ...Option) *Client {
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		endpoint:     endpoint,
		client:       clients.NewHTTPClient(30 * time.Second),
		httpExecutor: clients.NewHTTPExecutor(defaultConfig),
		shouldRetry:  defaultConfig.ShouldRetry,
		pageSize:     PageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.httpExecutor = clients.NewHTTPExecutor(cfg)
		c.shouldRetry = cfg.ShouldRetry
	}
}

// WithPageSize overrides the page size; tests use it to exercise paging.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors gqlerror.List              `json:"errors"`
}

func (c *Client) query(ctx context.Context, doc document, vars map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: doc.text, OperationName: doc.name, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.name, err)
	}

	resp, err := clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("subgraph %s: %w", doc.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", doc.name, err)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("decode %s response: %w", doc.name, err)
	}
	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("subgraph %s: %w", doc.name, gqlResp.Errors)
	}

	raw, ok := gqlResp.Data[doc.field]
	if !ok {
		return fmt.Errorf("subgraph %s: response has no %q field", doc.name, doc.field)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s.%s: %w", doc.name, doc.field, err)
	}
	return nil
}

// paginate walks skip/first pages until one comes back empty. Any page
// failure aborts the whole walk.
func paginate[T any](ctx context.Context, c *Client, doc document, vars map[string]any) ([]T, error) {
	var all []T
	for skip := 0; ; skip += c.pageSize {
		pageVars := map[string]any{"skip": skip, "first": c.pageSize}
		for k, v := range vars {
			pageVars[k] = v
		}

		var page []T
		if err := c.query(ctx, doc, pageVars, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}

// denied reports whether address is on the deny list, case-insensitively.
func denied(address string) bool {
	for _, d := range DenyList {
		if strings.EqualFold(d, address) {
			return true
		}
	}
	return false
}

// HolderAddresses returns every account holding at least one token, minus
// the deny list. Addresses are lowercase.
func (c *Client) HolderAddresses(ctx context.Context) ([]string, error) {
	accounts, err := paginate[Account](ctx, c, accountsQuery, map[string]any{"exclude": DenyList})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if !denied(a.ID) {
			out = append(out, strings.ToLower(a.ID))
		}
	}
	return out, nil
}

// DelegateAddresses returns every delegate with voting power, minus the deny list.
func (c *Client) DelegateAddresses(ctx context.Context) ([]string, error) {
	delegates, err := paginate[Delegate](ctx, c, delegatesQuery, map[string]any{"exclude": DenyList})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(delegates))
	for _, d := range delegates {
		if !denied(d.ID) {
			out = append(out, strings.ToLower(d.ID))
		}
	}
	return out, nil
}

// VoterAddresses returns the distinct addresses that voted at or after
// startBlock, in first-seen order.
func (c *Client) VoterAddresses(ctx context.Context, startBlock uint64) ([]string, error) {
	votes, err := paginate[Vote](ctx, c, votesQuery, map[string]any{
		"startBlock": strconv.FormatUint(startBlock, 10),
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(votes))
	out := make([]string, 0, len(votes))
	for _, v := range votes {
		id := strings.ToLower(v.Voter.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (c *Client) Proposals(ctx context.Context) ([]Proposal, error) {
	return paginate[Proposal](ctx, c, proposalsQuery, nil)
}
