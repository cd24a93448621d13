// Package engagement finds channel casts that enough community members
// have liked and turns them into like and recast tasks.
package engagement

import (
	"context"

	"github.com/nounsdev/nouners-farcaster/internal/neynar"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
)

// Post is a feed entry reduced to what scoring needs.
type Post struct {
	Hash      string
	LikeCount int64
	// ViewerLiked is set when the feed already says the viewer reacted.
	ViewerLiked bool
}

// Pager walks a feed. An empty page means the feed is exhausted.
type Pager interface {
	Next(ctx context.Context) ([]Post, error)
}

// EngagerSource lists the FIDs that liked a cast.
type EngagerSource interface {
	Engagers(ctx context.Context, hash string) ([]int64, error)
}

type channelFeeder interface {
	ChannelFeed(ctx context.Context, opts neynar.FeedOptions, cursor string) (neynar.FeedPage, error)
}

// NeynarPager follows Neynar channel feed cursors.
type NeynarPager struct {
	client channelFeeder
	opts   neynar.FeedOptions
	cursor string
	done   bool
}

func NewNeynarPager(client channelFeeder, channelID string) *NeynarPager {
	return &NeynarPager{
		client: client,
		opts: neynar.FeedOptions{
			ChannelIDs:  []string{channelID},
			WithRecasts: true,
			WithReplies: false,
			Limit:       100,
		},
	}
}

func (p *NeynarPager) Next(ctx context.Context) ([]Post, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.client.ChannelFeed(ctx, p.opts, p.cursor)
	if err != nil {
		return nil, err
	}
	p.cursor = page.Cursor
	p.done = page.Cursor == ""

	posts := make([]Post, 0, len(page.Casts))
	for _, c := range page.Casts {
		posts = append(posts, Post{Hash: c.Hash, LikeCount: c.Reactions.LikesCount})
	}
	return posts, nil
}

type feedReader interface {
	FeedItems(ctx context.Context, r warpcast.FeedItemsRequest) (warpcast.FeedItemsResult, error)
}

// ItemPrefixLen is how much of a feed item id is sent back as an exclusion prefix.
const ItemPrefixLen = 10

// WarpcastPager reads /v2/feed-items, excluding items it has already seen
// and asking for items older than the last one returned.
type WarpcastPager struct {
	client    feedReader
	feedKey   string
	feedType  string
	olderThan *int64
	seen      []string
}

func NewWarpcastPager(client feedReader, feedKey, feedType string) *WarpcastPager {
	return &WarpcastPager{client: client, feedKey: feedKey, feedType: feedType}
}

func (p *WarpcastPager) Next(ctx context.Context) ([]Post, error) {
	res, err := p.client.FeedItems(ctx, warpcast.FeedItemsRequest{
		FeedKey:               p.feedKey,
		FeedType:              p.feedType,
		OlderThan:             p.olderThan,
		ExcludeItemIDPrefixes: p.seen,
	})
	if err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(res.Items))
	for _, item := range res.Items {
		prefix := item.ID
		if len(prefix) > ItemPrefixLen {
			prefix = prefix[:ItemPrefixLen]
		}
		p.seen = append(p.seen, prefix)
		if p.olderThan == nil || item.Timestamp < *p.olderThan {
			ts := item.Timestamp
			p.olderThan = &ts
		}
		posts = append(posts, Post{
			Hash:        item.Cast.Hash,
			LikeCount:   item.Cast.LikeCount(),
			ViewerLiked: item.Cast.ViewerContext.Reacted,
		})
	}
	return posts, nil
}

type neynarLikes interface {
	CastLikes(ctx context.Context, hash string) ([]neynar.Reaction, error)
}

// NeynarEngagers reads likers from Neynar's reactions endpoint.
type NeynarEngagers struct{ client neynarLikes }

func NewNeynarEngagers(client neynarLikes) NeynarEngagers { return NeynarEngagers{client: client} }

func (n NeynarEngagers) Engagers(ctx context.Context, hash string) ([]int64, error) {
	reactions, err := n.client.CastLikes(ctx, hash)
	if err != nil {
		return nil, err
	}
	fids := make([]int64, 0, len(reactions))
	for _, r := range reactions {
		fids = append(fids, r.User.FID)
	}
	return fids, nil
}

type warpcastLikes interface {
	CastLikes(ctx context.Context, castHash string) ([]warpcast.Like, error)
}

// WarpcastEngagers reads likers from /v2/cast-likes.
type WarpcastEngagers struct{ client warpcastLikes }

func NewWarpcastEngagers(client warpcastLikes) WarpcastEngagers {
	return WarpcastEngagers{client: client}
}

func (w WarpcastEngagers) Engagers(ctx context.Context, hash string) ([]int64, error) {
	likes, err := w.client.CastLikes(ctx, hash)
	if err != nil {
		return nil, err
	}
	fids := make([]int64, 0, len(likes))
	for _, l := range likes {
		fids = append(fids, l.Reactor.FID)
	}
	return fids, nil
}
