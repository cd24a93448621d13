package identity

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
)

// UserLookup maps a verified address to its Farcaster account.
type UserLookup interface {
	UserByVerification(ctx context.Context, address string) (warpcast.User, error)
}

// ResolveFIDs looks up each address in turn and returns the FIDs found.
// Addresses without a linked account are skipped quietly; other lookup
// errors are logged and skipped. Only context cancellation stops the walk.
func ResolveFIDs(ctx context.Context, users UserLookup, logger *logrus.Logger, addresses []string) ([]int64, error) {
	fids := make([]int64, 0, len(addresses))
	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return fids, err
		}

		user, err := users.UserByVerification(ctx, address)
		switch {
		case err == nil:
			fids = append(fids, user.FID)
		case errors.Is(err, warpcast.ErrNoLinkedAccount):
			logger.WithField("address", address).Debug("No Farcaster account linked to address")
		case ctx.Err() != nil:
			return fids, ctx.Err()
		default:
			logger.WithError(err).WithField("address", address).Error("Failed to resolve Farcaster user for address")
		}
	}
	return fids, nil
}
