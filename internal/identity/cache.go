// Package identity keeps the community's address and FID sets cached.
package identity

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nounsdev/nouners-farcaster/pkg/kv"
)

// Cache keys shared with the jobs that read the sets.
const (
	KeyHolders     = "nouns-holders-addresses"
	KeyDelegates   = "nouns-delegates-addresses"
	KeyUsers       = "nouns-farcaster-users"
	KeyVoters      = "nouns-farcaster-voters"
	KeySubscribers = "nouns-farcaster-subscribers"
	KeyResponders  = "nouns-farcaster-responders"
)

// DefaultTTL is how long a populated set is trusted.
const DefaultTTL = 24 * time.Hour

// Producer computes a set when the cache has none.
type Producer[T any] func(ctx context.Context) ([]T, error)

// Cache reads and fills identity sets in a kv.Store. An empty stored list
// counts as absent, and an empty produced list is never stored.
type Cache struct {
	store   kv.Store
	logger  *logrus.Logger
	group   singleflight.Group
	metrics *Metrics
}

func NewCache(store kv.Store, logger *logrus.Logger, metrics *Metrics) *Cache {
	return &Cache{store: store, logger: logger, metrics: metrics}
}

// EnsureAddresses returns the address set under key, running produce on a miss.
// Addresses are deduplicated, order preserved.
func (c *Cache) EnsureAddresses(ctx context.Context, key string, ttl time.Duration, produce Producer[string]) ([]string, error) {
	return ensure(ctx, c, key, ttl, produce, Dedupe[string])
}

// EnsureFIDs returns the FID set under key, running produce on a miss.
// FIDs are deduplicated and sorted ascending.
func (c *Cache) EnsureFIDs(ctx context.Context, key string, ttl time.Duration, produce Producer[int64]) ([]int64, error) {
	return ensure(ctx, c, key, ttl, produce, SortedUnique[int64])
}

func ensure[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, produce Producer[T], normalize func([]T) []T) ([]T, error) {
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		cached, err := Load[T](ctx, c.store, key)
		if err != nil {
			c.metrics.observe(key, outcomeError)
			return nil, err
		}
		if len(cached) > 0 {
			c.metrics.observe(key, outcomeHit)
			return cached, nil
		}

		produced, err := produce(ctx)
		if err != nil {
			c.metrics.observe(key, outcomeError)
			return nil, fmt.Errorf("populate %s: %w", key, err)
		}
		produced = normalize(produced)
		if len(produced) == 0 {
			c.metrics.observe(key, outcomeEmpty)
			c.logger.WithField("key", key).Warn("Producer returned an empty set, leaving key unset")
			return produced, nil
		}

		if err := kv.PutJSON(ctx, c.store, key, produced, ttl); err != nil {
			c.metrics.observe(key, outcomeError)
			return nil, err
		}
		c.metrics.observe(key, outcomeStored)
		c.metrics.size(key, len(produced))
		c.logger.WithFields(logrus.Fields{"key": key, "count": len(produced)}).Info("Cached identity set")
		return produced, nil
	})
	if err != nil {
		return nil, err
	}

	out := v.([]T)
	if shared {
		// Callers must not alias each other's slices.
		out = slices.Clone(out)
	}
	return out, nil
}

// Load reads a JSON list from store. A missing key yields an empty list.
func Load[T any](ctx context.Context, store kv.Store, key string) ([]T, error) {
	var out []T
	if _, err := kv.GetJSON(ctx, store, key, &out); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return out, nil
}

// Dedupe removes repeated elements, keeping the first occurrence.
func Dedupe[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortedUnique returns the distinct elements of in in ascending order.
func SortedUnique[T cmp.Ordered](in []T) []T {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
