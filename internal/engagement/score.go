package engagement

import (
	"context"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/dispatch"
)

const (
	// DefaultThreshold is the number of member likes that makes a post actionable.
	DefaultThreshold = 2
	// DefaultMaxItems bounds how many feed posts a run looks at.
	DefaultMaxItems = 150
)

type Options struct {
	Threshold int
	MaxItems  int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxItems <= 0 {
		o.MaxItems = DefaultMaxItems
	}
	return o
}

// ScoredPost records how many members engaged with a post.
type ScoredPost struct {
	Hash    string
	Matched int
}

// collect reads pages until the feed is exhausted, a page yields no new post,
// or max posts are gathered. Posts are deduplicated by hash, first occurrence
// kept.
func collect(ctx context.Context, feed Pager, max int) ([]Post, error) {
	var posts []Post
	seen := make(map[string]struct{})
	for len(posts) < max {
		page, err := feed.Next(ctx)
		if err != nil {
			return posts, err
		}
		if len(page) == 0 {
			break
		}
		before := len(posts)
		for _, p := range page {
			if _, dup := seen[p.Hash]; dup || p.Hash == "" {
				continue
			}
			seen[p.Hash] = struct{}{}
			posts = append(posts, p)
			if len(posts) == max {
				break
			}
		}
		if len(posts) == before {
			// A page with nothing new means the pager stopped advancing.
			break
		}
	}
	return posts, nil
}

// ScoreFeed returns a like and a recast task, in feed order, for every post
// liked by at least Threshold members that the viewer has not liked yet.
// A post whose engagers cannot be fetched is logged and skipped; a feed
// error aborts the run.
func ScoreFeed(ctx context.Context, feed Pager, engagers EngagerSource, members []int64, viewerFID int64, opts Options, logger *logrus.Logger) ([]dispatch.Task, error) {
	opts = opts.withDefaults()

	posts, err := collect(ctx, feed, opts.MaxItems)
	if err != nil {
		return nil, err
	}

	memberSet := make(map[int64]struct{}, len(members))
	for _, fid := range members {
		memberSet[fid] = struct{}{}
	}

	var tasks []dispatch.Task
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return tasks, err
		}
		if post.LikeCount <= 0 || post.ViewerLiked {
			continue
		}

		fids, err := engagers.Engagers(ctx, post.Hash)
		if err != nil {
			logger.WithError(err).WithField("hash", post.Hash).Error("Failed to fetch cast likes")
			continue
		}
		if slices.Contains(fids, viewerFID) {
			continue
		}

		scored := ScoredPost{Hash: post.Hash}
		for _, fid := range fids {
			if _, ok := memberSet[fid]; ok {
				scored.Matched++
			}
		}
		if scored.Matched < opts.Threshold {
			continue
		}

		logger.WithFields(logrus.Fields{
			"hash":    scored.Hash,
			"matched": scored.Matched,
		}).Debug("Cast reached the engagement threshold")
		tasks = append(tasks, dispatch.Like(post.Hash), dispatch.Recast(post.Hash))
	}
	return tasks, nil
}
