package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// OnMembershipEvent routes an authenticated join or leave event. Events for
// groups other than the configured target group are ignored.
func (o *Orchestrator) OnMembershipEvent(ctx context.Context, e membership.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if o.opts.TargetGroupID != "" && e.GroupID != o.opts.TargetGroupID {
		slog.Debug("ignoring event for other group", slog.String("group_id", e.GroupID))
		return nil
	}

	jid := membership.NormalizeJID(e.WAJID)
	slog.Info("membership event",
		slog.String("action", string(e.Action)),
		slog.String("wa_jid", membership.MaskJID(jid)),
		slog.String("group_id", e.GroupID))

	switch e.Action {
	case membership.ActionLeave:
		return o.OnLeave(ctx, jid)
	case membership.ActionJoin:
		return o.OnJoin(ctx, jid)
	}
	return nil
}

// OnLeave schedules deletion of the JID's active server after the grace period.
func (o *Orchestrator) OnLeave(ctx context.Context, jid string) error {
	claim, err := o.Store.FindActiveByJID(ctx, jid)
	if err != nil {
		return err
	}
	if claim == nil {
		return nil
	}
	logger := slog.With(slog.String("claim_id", claim.ClaimID), slog.String("wa_jid", membership.MaskJID(jid)))
	if claim.Status != state.ClaimActive {
		// a creating claim cannot move to deleting; the leave is only logged
		logger.Warn("member left while claim is still creating", slog.String("status", claim.Status.String()))
		return nil
	}

	jobKey, scheduledAt, err := o.Queue.EnqueueDelete(ctx, claim.ClaimID, o.opts.GracePeriod)
	if err != nil {
		return fmt.Errorf("schedule deletion for claim %s: %w", claim.ClaimID, err)
	}

	_, err = o.Store.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
		if c.Status != state.ClaimActive {
			return errClaimMoved
		}
		if err := c.TransitionTo(state.ClaimDeleting); err != nil {
			return err
		}
		now := o.now()
		c.DeleteJobID = &jobKey
		c.DeletionScheduledAt = &scheduledAt
		c.LastEventAt = &now
		return nil
	})
	if err != nil {
		if _, cerr := o.Queue.Cancel(ctx, jobKey); cerr != nil {
			logger.Error("could not cancel orphaned delete job", slog.String("job_key", jobKey), slog.Any("error", cerr))
		}
		if errors.Is(err, errClaimMoved) {
			logger.Info("claim changed before deletion was scheduled")
			return nil
		}
		return err
	}
	logger.Info("deletion scheduled", slog.String("job_key", jobKey), slog.Time("scheduled_at", scheduledAt))

	if err := o.Messenger.SendDeletionWarning(ctx, jid, o.opts.GracePeriod, scheduledAt); err != nil {
		logger.Warn("deletion warning not delivered", slog.Any("error", err))
	}
	return nil
}

// OnJoin cancels a pending deletion. A delete job that has run at least once
// cannot be cancelled, even while it waits to retry; the claim is then left to
// finish deleting.
func (o *Orchestrator) OnJoin(ctx context.Context, jid string) error {
	claim, err := o.Store.FindLatestByJID(ctx, jid)
	if err != nil {
		return err
	}
	if claim == nil || claim.Status != state.ClaimDeleting {
		return nil
	}
	logger := slog.With(slog.String("claim_id", claim.ClaimID), slog.String("wa_jid", membership.MaskJID(jid)))

	if other, err := o.Store.FindActiveByJID(ctx, jid); err != nil {
		return err
	} else if other != nil {
		logger.Warn("another claim holds the active slot, leaving deletion in place", slog.String("active_claim_id", other.ClaimID))
		return nil
	}

	if claim.DeleteJobID == nil {
		logger.Error("deleting claim has no delete job recorded")
		return nil
	}
	jobKey := *claim.DeleteJobID
	cancelled, err := o.Queue.Cancel(ctx, jobKey)
	if err != nil {
		return fmt.Errorf("cancel delete job %s: %w", jobKey, err)
	}
	if !cancelled {
		logger.Info("delete job already started, cannot cancel", slog.String("job_key", jobKey))
		return nil
	}

	_, err = o.Store.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
		if c.Status != state.ClaimDeleting {
			return errClaimMoved
		}
		if err := c.TransitionTo(state.ClaimActive); err != nil {
			return err
		}
		now := o.now()
		c.LastEventAt = &now
		return nil
	})
	if errors.Is(err, errClaimMoved) {
		logger.Warn("claim changed while cancelling deletion")
		return nil
	}
	if err != nil {
		o.restoreDeletion(ctx, claim, err)
		return err
	}
	logger.Info("deletion cancelled", slog.String("job_key", jobKey))

	if err := o.Messenger.SendDeletionCancelled(ctx, jid); err != nil {
		logger.Warn("cancellation notice not delivered", slog.Any("error", err))
	}
	return nil
}

// restoreDeletion re-schedules the delete job of a claim that is still
// deleting after its job was cancelled, keeping the original deletion time.
// If no job can be scheduled the server is orphaned and an alert is raised.
func (o *Orchestrator) restoreDeletion(ctx context.Context, claim *types.ClaimRecord, cause error) {
	logger := slog.With(slog.String("claim_id", claim.ClaimID), slog.String("wa_jid", membership.MaskJID(claim.WAJID)))
	logger.Error("claim not reactivated after cancelling deletion", slog.Any("error", cause))

	var delay time.Duration
	if claim.DeletionScheduledAt != nil {
		delay = max(claim.DeletionScheduledAt.Sub(o.now()), 0)
	}
	jobKey, scheduledAt, err := o.Queue.EnqueueDelete(ctx, claim.ClaimID, delay)
	if err != nil {
		logger.Error("server orphaned: delete job could not be rescheduled", slog.Any("error", err))
		alert := notifier.FailureAlert{
			ClaimID:  claim.ClaimID,
			WAJID:    claim.WAJID,
			Template: claim.Template,
			Code:     custom_errors.FailureUnknown,
			Reason:   fmt.Sprintf("Server orphaned after rejoin: %v; reschedule failed: %v", cause, err),
		}
		if claim.AllocationID != nil {
			alert.AllocationID = *claim.AllocationID
		}
		o.Notifier.NotifyFailure(ctx, alert)
		return
	}

	_, err = o.Store.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
		if c.Status != state.ClaimDeleting {
			return errClaimMoved
		}
		c.DeleteJobID = &jobKey
		c.DeletionScheduledAt = &scheduledAt
		return nil
	})
	if err != nil {
		// the new job still runs; only the key used for a later cancel is stale
		logger.Warn("rescheduled delete job not recorded on claim", slog.String("job_key", jobKey), slog.Any("error", err))
		return
	}
	logger.Info("deletion rescheduled", slog.String("job_key", jobKey), slog.Time("scheduled_at", scheduledAt))
}
