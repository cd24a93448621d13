// Package neynar reads channel feeds and cast reactions from the Neynar API.
package neynar

import (
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

const DefaultBaseURL = "https://api.neynar.com"

type User struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type Reactions struct {
	LikesCount   int64 `json:"likes_count"`
	RecastsCount int64 `json:"recasts_count"`
}

type Cast struct {
	Hash       string    `json:"hash"`
	ThreadHash string    `json:"thread_hash"`
	Author     User      `json:"author"`
	Text       string    `json:"text"`
	Timestamp  string    `json:"timestamp"`
	Reactions  Reactions `json:"reactions"`
}

type Reaction struct {
	ReactionType      string `json:"reaction_type"`
	ReactionTimestamp string `json:"reaction_timestamp"`
	User              User   `json:"user"`
}

// FeedPage is one page of a channel feed. Cursor is empty on the last page.
type FeedPage struct {
	Casts  []Cast
	Cursor string
}

// APIError carries Neynar's error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("neynar returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("neynar returned status: %d", e.StatusCode)
}

// FeedOptions configures a channel feed request.
type FeedOptions struct {
	ChannelIDs  []string
	WithRecasts bool
	WithReplies bool
	Limit       int
}

type Client struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

type Option func(*Client)

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
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

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path + "?" + params.Encode()

	resp, err := clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("accept", "application/json")
		req.Header.Set("api_key", c.apiKey)
		req.Header.Set("x-api-key", c.apiKey)

		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("neynar GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ChannelFeed returns one page of casts from the given channels.
func (c *Client) ChannelFeed(ctx context.Context, opts FeedOptions, cursor string) (FeedPage, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	params := url.Values{
		"channel_ids":     {strings.Join(opts.ChannelIDs, ",")},
		"with_recasts":    {strconv.FormatBool(opts.WithRecasts)},
		"with_replies":    {strconv.FormatBool(opts.WithReplies)},
		"limit":           {strconv.Itoa(limit)},
		"should_moderate": {"false"},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp struct {
		Casts []Cast `json:"casts"`
		Next  *struct {
			Cursor string `json:"cursor"`
		} `json:"next"`
	}
	if err := c.getJSON(ctx, "/v2/farcaster/feed/channels", params, &resp); err != nil {
		return FeedPage{}, err
	}

	page := FeedPage{Casts: resp.Casts}
	if resp.Next != nil {
		page.Cursor = resp.Next.Cursor
	}
	return page, nil
}

// CastLikes returns every like on a cast, following cursors until exhausted.
func (c *Client) CastLikes(ctx context.Context, hash string) ([]Reaction, error) {
	var reactions []Reaction
	cursor := ""
	for {
		params := url.Values{
			"hash":  {hash},
			"types": {"likes"},
			"limit": {"100"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			Reactions []Reaction `json:"reactions"`
			Cursor    *string    `json:"cursor"`
		}
		if err := c.getJSON(ctx, "/v2/farcaster/reactions/cast", params, &resp); err != nil {
			return nil, err
		}
		reactions = append(reactions, resp.Reactions...)

		if resp.Cursor == nil || *resp.Cursor == "" || len(resp.Reactions) == 0 {
			return reactions, nil
		}
		cursor = *resp.Cursor
	}
}
