package orchestrator

import (
	"context"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
)

type ServerDetails struct {
	PanelURL string `json:"panel_url"`
	Username string `json:"username"`
}

// StatusView is what a claimant may see about their claim.
type StatusView struct {
	ClaimID             string                     `json:"claim_id"`
	Status              state.ClaimStatus          `json:"status"`
	Message             string                     `json:"message"`
	FailureCode         *custom_errors.FailureCode `json:"failure_code,omitempty"`
	DeletionScheduledAt *time.Time                 `json:"deletion_scheduled_at,omitempty"`
	ServerDetails       *ServerDetails             `json:"server_details,omitempty"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

func (o *Orchestrator) GetStatus(ctx context.Context, claimID string) (*StatusView, error) {
	claim, err := o.Store.FindByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, custom_errors.ErrClaimNotFound
	}

	view := &StatusView{
		ClaimID:             claim.ClaimID,
		Status:              claim.Status,
		FailureCode:         claim.FailureCode,
		DeletionScheduledAt: claim.DeletionScheduledAt,
		CreatedAt:           claim.CreatedAt,
		UpdatedAt:           claim.UpdatedAt,
	}
	switch claim.Status {
	case state.ClaimCreating:
		view.Message = "Creating your server..."
	case state.ClaimActive:
		view.Message = "Server ready, check WhatsApp for your login details"
		if claim.PanelURL != "" {
			view.ServerDetails = &ServerDetails{PanelURL: claim.PanelURL, Username: claim.Username}
		}
	case state.ClaimFailed:
		view.Message = custom_errors.FailureMessage(custom_errors.FailureUnknown)
		if claim.FailureReason != nil {
			view.Message = *claim.FailureReason
		}
	case state.ClaimDeleting:
		view.Message = "Server scheduled for deletion, rejoin the group to cancel"
	case state.ClaimDeleted:
		view.Message = "Server deleted"
	}
	return view, nil
}
