// Package starterpack keeps the bot's curated starter packs in line with
// the cached member list.
package starterpack

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
)

const (
	DefaultPrefix   = "Nouns-Radar"
	DefaultCapacity = 100
	listLimit       = 100
)

type Packs interface {
	Me(ctx context.Context) (warpcast.User, error)
	StarterPacks(ctx context.Context, fid int64, limit int) ([]warpcast.StarterPack, error)
	StarterPackUsers(ctx context.Context, id string) ([]warpcast.User, error)
	UpdateStarterPack(ctx context.Context, u warpcast.StarterPackUpdate) error
}

type Curator struct {
	Store    kv.Store
	Packs    Packs
	Logger   *logrus.Logger
	Prefix   string
	Capacity int
}

// Plan splits members across packs in order, capacity per pack. Packs left
// without members get an empty list; members that do not fit are returned
// as overflow.
func Plan(packIDs []string, members []int64, capacity int) (map[string][]int64, []int64) {
	plan := make(map[string][]int64, len(packIDs))
	rest := members
	for _, id := range packIDs {
		n := min(capacity, len(rest))
		plan[id] = slices.Clone(rest[:n])
		rest = rest[n:]
	}
	return plan, rest
}

func (c *Curator) Run(ctx context.Context) error {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	capacity := c.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	members, err := identity.Load[int64](ctx, c.Store, identity.KeyUsers)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	if len(members) == 0 {
		c.Logger.Info("No Farcaster members cached, skipping starter pack curation")
		return nil
	}
	members = identity.SortedUnique(members)

	me, err := c.Packs.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve viewer: %w", err)
	}
	all, err := c.Packs.StarterPacks(ctx, me.FID, listLimit)
	if err != nil {
		return fmt.Errorf("list starter packs: %w", err)
	}

	var packs []warpcast.StarterPack
	for _, p := range all {
		if strings.HasPrefix(p.ID, prefix) {
			packs = append(packs, p)
		}
	}
	if len(packs) == 0 {
		c.Logger.WithField("prefix", prefix).Warn("No curated starter packs found")
		return nil
	}
	slices.SortFunc(packs, func(a, b warpcast.StarterPack) int { return strings.Compare(a.ID, b.ID) })

	ids := make([]string, 0, len(packs))
	for _, p := range packs {
		ids = append(ids, p.ID)
	}
	plan, overflow := Plan(ids, members, capacity)
	if len(overflow) > 0 {
		c.Logger.WithFields(logrus.Fields{
			"overflow": len(overflow),
			"packs":    len(packs),
			"capacity": capacity,
		}).Warn("Not enough starter pack capacity for every member")
	}

	var errs []error
	for _, p := range packs {
		log := c.Logger.WithField("starter_pack", p.ID)
		current, err := c.Packs.StarterPackUsers(ctx, p.ID)
		if err != nil {
			log.WithError(err).Error("Failed to read starter pack members")
			errs = append(errs, err)
			continue
		}
		want := plan[p.ID]
		if slices.Equal(memberFIDs(current), want) {
			log.Debug("Starter pack already up to date")
			continue
		}

		err = c.Packs.UpdateStarterPack(ctx, warpcast.StarterPackUpdate{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			FIDs:        want,
			Labels:      p.Labels,
		})
		if err != nil {
			log.WithError(err).Error("Failed to update starter pack")
			errs = append(errs, err)
			continue
		}
		log.WithField("members", len(want)).Info("Starter pack updated")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d starter packs not synced: %w", len(errs), len(packs), errs[0])
	}
	return nil
}

func memberFIDs(users []warpcast.User) []int64 {
	fids := make([]int64, 0, len(users))
	for _, u := range users {
		fids = append(fids, u.FID)
	}
	return identity.SortedUnique(fids)
}
