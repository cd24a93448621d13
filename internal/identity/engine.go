package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nounsdev/nouners-farcaster/internal/chain"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
)

// AddressSource lists governance participants.
type AddressSource interface {
	HolderAddresses(ctx context.Context) ([]string, error)
	DelegateAddresses(ctx context.Context) ([]string, error)
	VoterAddresses(ctx context.Context, startBlock uint64) ([]string, error)
}

// HeadReader returns the current block number.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// VoterWindow is how far back recent voters are collected, in calendar months.
const VoterWindow = 3

// Engine fills the holder, delegate, user and voter sets.
type Engine struct {
	cache  *Cache
	source AddressSource
	head   HeadReader
	users  UserLookup
	logger *logrus.Logger
	ttl    time.Duration
	now    func() time.Time
}

func NewEngine(store kv.Store, source AddressSource, head HeadReader, users UserLookup, logger *logrus.Logger, ttl time.Duration, metrics *Metrics) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		cache:  NewCache(store, logger, metrics),
		source: source,
		head:   head,
		users:  users,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Holders returns the cached token holder addresses, populating them on a miss.
func (e *Engine) Holders(ctx context.Context) ([]string, error) {
	return e.cache.EnsureAddresses(ctx, KeyHolders, e.ttl, e.source.HolderAddresses)
}

// Delegates returns the cached delegate addresses, populating them on a miss.
func (e *Engine) Delegates(ctx context.Context) ([]string, error) {
	return e.cache.EnsureAddresses(ctx, KeyDelegates, e.ttl, e.source.DelegateAddresses)
}

// Users returns the FIDs linked to holders or delegates. It needs both
// address sets; if either cannot be produced the users set is left unset
// rather than cached from half the community.
func (e *Engine) Users(ctx context.Context) ([]int64, error) {
	return e.cache.EnsureFIDs(ctx, KeyUsers, e.ttl, func(ctx context.Context) ([]int64, error) {
		holders, holdersErr := e.Holders(ctx)
		delegates, delegatesErr := e.Delegates(ctx)
		return e.resolveMembers(ctx, holders, delegates, errors.Join(holdersErr, delegatesErr))
	})
}

// usersFrom fills the users set from address sets the caller already fetched.
func (e *Engine) usersFrom(ctx context.Context, holders, delegates []string, err error) ([]int64, error) {
	return e.cache.EnsureFIDs(ctx, KeyUsers, e.ttl, func(ctx context.Context) ([]int64, error) {
		return e.resolveMembers(ctx, holders, delegates, err)
	})
}

func (e *Engine) resolveMembers(ctx context.Context, holders, delegates []string, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	addresses := Dedupe(append(holders, delegates...))
	e.logger.WithField("addresses", len(addresses)).Info("Resolving Farcaster users for members")
	return ResolveFIDs(ctx, e.users, e.logger, addresses)
}

// Voters returns the FIDs of accounts that voted within the last VoterWindow months.
func (e *Engine) Voters(ctx context.Context) ([]int64, error) {
	return e.cache.EnsureFIDs(ctx, KeyVoters, e.ttl, func(ctx context.Context) ([]int64, error) {
		head, err := e.head.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		start := VoterStartBlock(head, e.now())

		addresses, err := e.source.VoterAddresses(ctx, start)
		if err != nil {
			return nil, err
		}
		e.logger.WithFields(logrus.Fields{
			"start_block": start,
			"addresses":   len(addresses),
		}).Info("Resolving Farcaster users for recent voters")
		return ResolveFIDs(ctx, e.users, e.logger, addresses)
	})
}

// VoterStartBlock is the first block of the voter window ending at head.
func VoterStartBlock(head uint64, now time.Time) uint64 {
	window := chain.BlocksSince(now.Sub(now.AddDate(0, -VoterWindow, 0)))
	if window >= head {
		return 0
	}
	return head - window
}

// Populate fills every set. The member chain (holders, delegates, users) and
// the voter chain touch disjoint keys and run concurrently; a failure in one
// never cancels the other.
func (e *Engine) Populate(ctx context.Context) error {
	var membersErr, votersErr error

	var g errgroup.Group
	g.Go(func() error {
		holders, holdersErr := e.Holders(ctx)
		if holdersErr != nil {
			e.logger.WithError(holdersErr).Error("Failed to populate holder addresses")
		}
		delegates, delegatesErr := e.Delegates(ctx)
		if delegatesErr != nil {
			e.logger.WithError(delegatesErr).Error("Failed to populate delegate addresses")
		}
		if _, err := e.usersFrom(ctx, holders, delegates, errors.Join(holdersErr, delegatesErr)); err != nil {
			membersErr = fmt.Errorf("members: %w", err)
			e.logger.WithError(err).Error("Failed to populate member sets")
		}
		return nil
	})
	g.Go(func() error {
		if _, err := e.Voters(ctx); err != nil {
			votersErr = fmt.Errorf("voters: %w", err)
			e.logger.WithError(err).Error("Failed to populate voter set")
		}
		return nil
	})
	_ = g.Wait()

	return errors.Join(membersErr, votersErr)
}
