package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// ProcessDelete removes the claim's server and, if it owns nothing else, its
// account. On error the claim stays deleting so a retry redoes the idempotent
// hosting calls.
func (o *Orchestrator) ProcessDelete(ctx context.Context, claimID string) error {
	claim, err := o.Store.FindByID(ctx, claimID)
	if err != nil {
		return err
	}
	logger := slog.With(slog.String("claim_id", claimID))
	if claim == nil {
		logger.Warn("claim not found for deletion")
		return nil
	}
	if claim.Status != state.ClaimDeleting {
		logger.Info("deletion no longer pending, skipping", slog.String("status", claim.Status.String()))
		return nil
	}

	if err := o.deleteHosting(ctx, claim); err != nil {
		return o.failDelete(ctx, claim, err)
	}

	_, err = o.Store.Update(ctx, claimID, func(c *types.ClaimRecord) error {
		if c.Status != state.ClaimDeleting {
			return errClaimMoved
		}
		return c.TransitionTo(state.ClaimDeleted)
	})
	if errors.Is(err, errClaimMoved) {
		logger.Warn("claim changed while deleting")
		return nil
	}
	if err != nil {
		return o.failDelete(ctx, claim, err)
	}
	logger.Info("server deletion completed")
	return nil
}

func (o *Orchestrator) deleteHosting(ctx context.Context, claim *types.ClaimRecord) error {
	if claim.ServerID != nil {
		slog.Info("deleting server", slog.String("claim_id", claim.ClaimID), slog.Int64("server_id", *claim.ServerID))
		if err := o.Hosting.DeleteServer(ctx, *claim.ServerID); err != nil {
			return err
		}
	}
	if claim.UserID != nil {
		if err := o.Hosting.DeleteAccountIfEmpty(ctx, *claim.UserID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) failDelete(ctx context.Context, claim *types.ClaimRecord, cause error) error {
	slog.Error("delete server job failed", slog.String("claim_id", claim.ClaimID), slog.Any("error", cause))
	if ctx.Err() == nil {
		alert := notifier.FailureAlert{
			ClaimID:  claim.ClaimID,
			WAJID:    claim.WAJID,
			Template: claim.Template,
			Code:     custom_errors.FailureAPIDown,
			Reason:   fmt.Sprintf("Deletion failed: %v", cause),
		}
		if claim.AllocationID != nil {
			alert.AllocationID = *claim.AllocationID
		}
		o.Notifier.NotifyFailure(ctx, alert)
	}
	return fmt.Errorf("delete claim %s: %w", claim.ClaimID, cause)
}
