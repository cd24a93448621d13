// Package warpcast is a client for the Warpcast v2 REST API.
package warpcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/nounsdev/nouners-farcaster/pkg/clients"
)

const DefaultBaseURL = "https://client.warpcast.com"

// Client talks to Warpcast with the account's access token. Direct casts use
// the separate API key. Only GET requests run through the retry executor;
// mutations are retried by the task queue instead.
type Client struct {
	baseURL      string
	accessToken  string
	apiKey       string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

type Option func(*Client)

func NewClient(baseURL, accessToken, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		accessToken:  accessToken,
		apiKey:       apiKey,
		client:       clients.NewHTTPClient(15 * time.Second),
		httpExecutor: clients.NewHTTPExecutor(defaultConfig),
		shouldRetry:  defaultConfig.ShouldRetry,
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

type cursor struct {
	Cursor string `json:"cursor"`
}

type apiMessage struct {
	Message string `json:"message"`
}

type envelope[T any] struct {
	Result T            `json:"result"`
	Next   *cursor      `json:"next,omitempty"`
	Errors []apiMessage `json:"errors,omitempty"`
}

func (e envelope[T]) nextCursor() string {
	if e.Next == nil {
		return ""
	}
	return e.Next.Cursor
}

type request struct {
	method string
	path   string
	params url.Values
	body   any
	token  string
	// idempotent requests run through the retry executor
	idempotent bool
}

func call[T any](ctx context.Context, c *Client, r request) (envelope[T], error) {
	var out envelope[T]

	var payload []byte
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return out, fmt.Errorf("encode %s body: %w", r.path, err)
		}
		payload = b
	}

	target := c.baseURL + r.path
	if len(r.params) > 0 {
		target += "?" + r.params.Encode()
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, target, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}
		return req, nil
	}

	resp, err := c.doRequest(ctx, r.idempotent, build)
	if err != nil {
		return out, fmt.Errorf("warpcast %s %s: %w", r.method, r.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read %s response: %w", r.path, err)
	}

	decodeErr := json.Unmarshal(raw, &out)
	if decodeErr == nil && len(out.Errors) > 0 {
		return out, &APIError{StatusCode: resp.StatusCode, Message: out.Errors[0].Message, Path: r.path}
	}
	if resp.StatusCode >= 400 {
		return out, &APIError{StatusCode: resp.StatusCode, Path: r.path}
	}
	if decodeErr != nil {
		return out, fmt.Errorf("decode %s response: %w", r.path, decodeErr)
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, retryable bool, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if !retryable || c.httpExecutor == nil {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	}

	return clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
}

func (c *Client) get(path string, params url.Values) request {
	return request{method: http.MethodGet, path: path, params: params, token: c.accessToken, idempotent: true}
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (User, error) {
	env, err := call[struct {
		User User `json:"user"`
	}](ctx, c, c.get("/v2/me", nil))
	if err != nil {
		return User{}, err
	}
	return env.Result.User, nil
}

// UserByVerification resolves the Farcaster account that verified address.
// Addresses without one yield an error matching ErrNoLinkedAccount.
func (c *Client) UserByVerification(ctx context.Context, address string) (User, error) {
	env, err := call[struct {
		User User `json:"user"`
	}](ctx, c, c.get("/v2/user-by-verification", url.Values{"address": {address}}))
	if err != nil {
		return User{}, err
	}
	return env.Result.User, nil
}

// Followers lists the followers of fid. limit <= 0 follows every page.
func (c *Client) Followers(ctx context.Context, fid int64, limit int) ([]User, error) {
	pageSize := 100
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	var users []User
	next := ""
	for {
		params := url.Values{
			"fid":   {strconv.FormatInt(fid, 10)},
			"limit": {strconv.Itoa(pageSize)},
		}
		if next != "" {
			params.Set("cursor", next)
		}
		env, err := call[struct {
			Users []User `json:"users"`
		}](ctx, c, c.get("/v2/followers", params))
		if err != nil {
			return nil, err
		}
		users = append(users, env.Result.Users...)

		next = env.nextCursor()
		if next == "" || len(env.Result.Users) == 0 || (limit > 0 && len(users) >= limit) {
			break
		}
	}

	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// DirectCastConversations lists inbox conversations, following cursors until
// q.Limit conversations were collected or no page remains.
func (c *Client) DirectCastConversations(ctx context.Context, q ConversationQuery) ([]Conversation, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	category := q.Category
	if category == "" {
		category = CategoryDefault
	}

	var conversations []Conversation
	next := ""
	for {
		params := url.Values{
			"limit":    {strconv.Itoa(limit)},
			"category": {string(category)},
		}
		if q.Filter != FilterNone {
			params.Set("filter", string(q.Filter))
		}
		if next != "" {
			params.Set("cursor", next)
		}

		env, err := call[struct {
			Conversations []Conversation `json:"conversations"`
		}](ctx, c, c.get("/v2/direct-cast-conversation-list", params))
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, env.Result.Conversations...)

		next = env.nextCursor()
		if next == "" || len(env.Result.Conversations) == 0 || len(conversations) >= limit {
			break
		}
	}

	if len(conversations) > limit {
		conversations = conversations[:limit]
	}
	return conversations, nil
}

// SendDirectCast sends a direct message with the API key. The returned bool
// is the API's success flag.
func (c *Client) SendDirectCast(ctx context.Context, dc DirectCast) (bool, error) {
	env, err := call[struct {
		Success bool `json:"success"`
	}](ctx, c, request{method: http.MethodPut, path: "/v2/ext-send-direct-cast", body: dc, token: c.apiKey})
	if err != nil {
		return false, err
	}
	return env.Result.Success, nil
}

type castHashBody struct {
	CastHash string `json:"castHash"`
}

func (c *Client) LikeCast(ctx context.Context, castHash string) error {
	_, err := call[json.RawMessage](ctx, c, request{
		method: http.MethodPut,
		path:   "/v2/cast-likes",
		body:   castHashBody{CastHash: castHash},
		token:  c.accessToken,
	})
	return err
}

func (c *Client) Recast(ctx context.Context, castHash string) error {
	_, err := call[json.RawMessage](ctx, c, request{
		method: http.MethodPut,
		path:   "/v2/recasts",
		body:   castHashBody{CastHash: castHash},
		token:  c.accessToken,
	})
	return err
}

// CastLikes returns every like on castHash, following result cursors.
func (c *Client) CastLikes(ctx context.Context, castHash string) ([]Like, error) {
	var likes []Like
	next := ""
	for {
		params := url.Values{"castHash": {castHash}, "limit": {"100"}}
		if next != "" {
			params.Set("cursor", next)
		}
		env, err := call[struct {
			Likes  []Like `json:"likes"`
			Cursor string `json:"cursor"`
		}](ctx, c, c.get("/v2/cast-likes", params))
		if err != nil {
			return nil, err
		}
		likes = append(likes, env.Result.Likes...)

		next = env.Result.Cursor
		if next == "" {
			next = env.nextCursor()
		}
		if next == "" || len(env.Result.Likes) == 0 {
			return likes, nil
		}
	}
}

// FeedItems reads one page of a feed. The endpoint is a POST but does not
// mutate anything, so it goes through the retry executor like a GET.
func (c *Client) FeedItems(ctx context.Context, r FeedItemsRequest) (FeedItemsResult, error) {
	env, err := call[FeedItemsResult](ctx, c, request{
		method: http.MethodPost,
		path:   "/v2/feed-items",
		body:   r,
		token:  c.accessToken,

		idempotent: true,
	})
	if err != nil {
		return FeedItemsResult{}, err
	}
	return env.Result, nil
}

func (c *Client) StarterPacks(ctx context.Context, fid int64, limit int) ([]StarterPack, error) {
	env, err := call[struct {
		StarterPacks []StarterPack `json:"starterPacks"`
	}](ctx, c, c.get("/v2/starter-packs", url.Values{
		"fid":   {strconv.FormatInt(fid, 10)},
		"limit": {strconv.Itoa(limit)},
	}))
	if err != nil {
		return nil, err
	}
	return env.Result.StarterPacks, nil
}

func (c *Client) StarterPack(ctx context.Context, id string) (StarterPack, error) {
	env, err := call[struct {
		StarterPack StarterPack `json:"starterPack"`
	}](ctx, c, c.get("/v2/starter-pack", url.Values{"id": {id}}))
	if err != nil {
		return StarterPack{}, err
	}
	return env.Result.StarterPack, nil
}

// StarterPackUsers lists the members of a starter pack, following cursors.
func (c *Client) StarterPackUsers(ctx context.Context, id string) ([]User, error) {
	var users []User
	next := ""
	for {
		params := url.Values{"id": {id}, "limit": {"100"}}
		if next != "" {
			params.Set("cursor", next)
		}
		env, err := call[struct {
			Users  []User `json:"users"`
			Cursor string `json:"cursor"`
		}](ctx, c, c.get("/v2/starter-pack-users", params))
		if err != nil {
			return nil, err
		}
		users = append(users, env.Result.Users...)

		next = env.Result.Cursor
		if next == "" {
			next = env.nextCursor()
		}
		if next == "" || len(env.Result.Users) == 0 {
			return users, nil
		}
	}
}

func (c *Client) UpdateStarterPack(ctx context.Context, u StarterPackUpdate) error {
	env, err := call[struct {
		Success bool `json:"success"`
	}](ctx, c, request{method: http.MethodPatch, path: "/v2/starter-pack", body: u, token: c.accessToken})
	if err != nil {
		return err
	}
	if !env.Result.Success {
		return &APIError{StatusCode: http.StatusOK, Message: "starter pack update not acknowledged", Path: "/v2/starter-pack"}
	}
	return nil
}
