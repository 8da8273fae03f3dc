package balance

import (
	"context"
	"errors"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/offline"
)

// ReplayHandler adapts the ledger writer for offline queue sweeps. The
// queued payload carries the user identity, so the replay reconstructs the
// auth context before registering. A retryable failure keeps the operation
// queued; anything else parks it.
func ReplayHandler(svc *Service) offline.Handler {
	return func(ctx context.Context, op offline.Operation) error {
		var pending PendingRegistration
		if err := op.Decode(&pending); err != nil {
			return err
		}
		if pending.UserID == "" {
			return errors.New("replay registration: missing user id")
		}

		ctx = auth.WithUser(ctx, auth.User{ID: pending.UserID})
		result := svc.Register(ctx, pending.Input)
		if result.Success {
			return nil
		}
		if result.Error != nil {
			return result.Error
		}
		return errors.New("replay registration: unknown failure")
	}
}
