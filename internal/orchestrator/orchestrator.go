// Package orchestrator drives a claim from submission through provisioning to
// deletion. It is the only writer of claim records.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// errClaimMoved aborts a store update when another path changed the claim's
// status since it was read.
var errClaimMoved = errors.New("claim status changed concurrently")

type Dependencies struct {
	Store      store.ClaimStore
	Membership MembershipChecker
	Hosting    Hosting
	Prober     Prober
	Queue      JobQueue
	Messenger  Messenger
	Notifier   FailureNotifier
	Tokens     TokenIssuer // optional; without it Submit returns no token
	Privileged func(jid string) bool
}

type Options struct {
	GracePeriod     time.Duration
	PanelURL        string
	HealthcheckHost string
	// TargetGroupID filters membership events; empty accepts every group.
	TargetGroupID  string
	PollInterval   time.Duration
	InstallTimeout time.Duration
}

type Orchestrator struct {
	Dependencies
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Dependencies, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.InstallPollInterval
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = constants.InstallMaxWait
	}
	if deps.Privileged == nil {
		deps.Privileged = func(string) bool { return false }
	}
	return &Orchestrator{
		Dependencies: deps,
		opts:         opts,
		now:          func() time.Time { return time.Now().UTC() },
		sleep:        sleepCtx,
	}
}

type ClaimRequest struct {
	WANumber string
	Username string
	Template string
}

type SubmitResult struct {
	ClaimID    string `json:"claim_id"`
	ClaimToken string `json:"claim_token,omitempty"`
}

// Submit checks the preconditions, records the claim and queues its creation.
// Precondition failures leave no record behind.
func (o *Orchestrator) Submit(ctx context.Context, req ClaimRequest) (*SubmitResult, error) {
	jid := membership.NormalizeJID(req.WANumber)
	if jid == "" {
		return nil, &custom_errors.ValidationError{Errors: []error{errors.New("wa_number_e164 is not a valid phone number")}}
	}
	if _, ok := o.Hosting.Template(req.Template); !ok {
		return nil, &custom_errors.ValidationError{Errors: []error{fmt.Errorf("template %q is not available", req.Template)}}
	}
	logger := slog.With(slog.String("wa_jid", membership.MaskJID(jid)), slog.String("template", req.Template))

	if o.Privileged(jid) {
		logger.Info("privileged identity, skipping membership check")
	} else {
		status, err := o.Membership.CheckMember(ctx, jid)
		if err != nil {
			logger.Warn("membership check failed", slog.Any("error", err))
			if errors.Is(err, custom_errors.ErrMembershipUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", custom_errors.ErrMembershipUnavailable, err)
		}
		if !status.IsMember {
			logger.Info("claim rejected, not a member")
			return nil, custom_errors.ErrNotAMember
		}
	}

	existing, err := o.Store.FindActiveByJID(ctx, jid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info("claim rejected, active claim exists", slog.String("claim_id", existing.ClaimID))
		return nil, custom_errors.ErrDuplicateActiveClaim
	}

	claim, err := o.Store.Create(ctx, types.NewClaimInput{
		WAJID:    jid,
		Template: req.Template,
		Username: strings.ToLower(req.Username),
		PanelURL: o.opts.PanelURL,
	})
	if errors.Is(err, custom_errors.ErrConflict) {
		return nil, fmt.Errorf("%w: %w", custom_errors.ErrDuplicateActiveClaim, err)
	}
	if err != nil {
		return nil, err
	}
	logger = logger.With(slog.String("claim_id", claim.ClaimID))

	if err := o.Queue.EnqueueCreate(ctx, claim.ClaimID); err != nil {
		// release the JID's slot so the user can try again
		if _, uerr := o.Store.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
			return c.Fail(custom_errors.FailureUnknown)
		}); uerr != nil {
			logger.Error("failed to release claim after enqueue error", slog.Any("error", uerr))
		}
		return nil, fmt.Errorf("enqueue create claim: %w", err)
	}

	result := &SubmitResult{ClaimID: claim.ClaimID}
	if o.Tokens != nil {
		token, err := o.Tokens.Issue(claim.ClaimID)
		if err != nil {
			return nil, err
		}
		result.ClaimToken = token
	}
	logger.Info("claim submitted")
	return result, nil
}

// Stats counts claims per status.
func (o *Orchestrator) Stats(ctx context.Context) (map[state.ClaimStatus]int, error) {
	return o.Store.CountByStatus(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
