package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/healthprobe"
	"github.com/sitaurs/pterodactyl-claim/internal/hosting"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// provisioned is what processCreate knows about the hosting side once the
// allocation step is behind it, whether fresh or resumed.
type provisioned struct {
	serverID     int64
	allocationID int64
	nodeID       int64
	username     string
	password     string
	host         string
	port         int
}

// ProcessCreate provisions the server for a creating claim. It is safe to run
// again for the same claim: anything but a creating claim is skipped, and a
// claim that already holds a server resumes from the checkpoint instead of
// allocating a second one.
func (o *Orchestrator) ProcessCreate(ctx context.Context, claimID string) error {
	claim, err := o.Store.FindByID(ctx, claimID)
	if err != nil {
		return err
	}
	logger := slog.With(slog.String("claim_id", claimID))
	if claim == nil {
		logger.Warn("claim not found, dropping create job")
		return nil
	}
	if claim.Status != state.ClaimCreating {
		logger.Info("claim already processed, skipping", slog.String("status", claim.Status.String()))
		return nil
	}
	logger = logger.With(slog.String("wa_jid", membership.MaskJID(claim.WAJID)), slog.String("template", claim.Template))

	tpl, ok := o.Hosting.Template(claim.Template)
	if !ok {
		o.failCreate(ctx, claim, fmt.Errorf("template %q: %w", claim.Template, custom_errors.ErrEggInvalid), 0, 0)
		return nil
	}

	var p *provisioned
	if claim.HasAllocation() {
		logger.Info("resuming claim from allocation checkpoint", slog.Int64("server_id", *claim.ServerID))
		p, err = o.resume(ctx, claim)
	} else {
		p, err = o.allocate(ctx, claim)
	}
	if errors.Is(err, errClaimMoved) {
		logger.Info("claim changed during allocation, stopping")
		return nil
	}
	if err != nil {
		return o.failCreate(ctx, claim, err, 0, 0)
	}
	logger = logger.With(slog.Int64("server_id", p.serverID))

	aborted, err := o.waitForInstall(ctx, claimID, p.serverID)
	if err != nil {
		failErr := o.failCreate(ctx, claim, err, p.nodeID, p.allocationID)
		if errors.Is(err, custom_errors.ErrHealthcheckTimeout) {
			return nil
		}
		return failErr
	}
	if aborted {
		logger.Info("claim left creating while waiting for install, stopping")
		return nil
	}

	hc := tpl.Healthcheck.WithDefaults()
	result := o.Prober.CheckTCP(ctx, p.host, p.port, hc.TimeoutSec, hc.Retries, hc.RetryDelaySec)
	logger.Info("health check finished",
		slog.Bool("success", result.Success),
		slog.Int("attempts", result.Attempts),
		slog.Int64("elapsed_ms", result.ElapsedMs),
		slog.String("host", p.host),
		slog.Int("port", p.port))
	if !result.Success {
		o.failCreate(ctx, claim, fmt.Errorf("%w: %s", custom_errors.ErrHealthcheckTimeout, result.Message), p.nodeID, p.allocationID)
		return nil
	}

	_, err = o.Store.Update(ctx, claimID, func(c *types.ClaimRecord) error {
		if c.Status != state.ClaimCreating {
			return errClaimMoved
		}
		if err := c.TransitionTo(state.ClaimActive); err != nil {
			return err
		}
		now := o.now()
		c.LastHealthcheckAt = &now
		return nil
	})
	if errors.Is(err, errClaimMoved) {
		logger.Info("claim changed before activation, stopping")
		return nil
	}
	if err != nil {
		return o.failCreate(ctx, claim, err, p.nodeID, p.allocationID)
	}
	logger.Info("claim active", slog.Duration("total_time", o.now().Sub(claim.CreatedAt)))

	err = o.Messenger.SendCredentials(ctx, claim.WAJID, membership.Credentials{
		ServerName: serverName(claim),
		PanelURL:   claim.PanelURL,
		Username:   p.username,
		Password:   p.password,
		Host:       p.host,
		Port:       p.port,
	})
	if err != nil {
		logger.Warn("credentials not delivered", slog.Any("error", err))
	}
	return nil
}

func (o *Orchestrator) allocate(ctx context.Context, claim *types.ClaimRecord) (*provisioned, error) {
	res, err := o.Hosting.AllocateWithFallback(ctx, hosting.AllocationRequest{
		WAJID:       claim.WAJID,
		Username:    claim.Username,
		Template:    claim.Template,
		ServerName:  serverName(claim),
		Description: fmt.Sprintf("Auto-claimed %s server for %s", claim.Template, claim.Username),
	})
	if err != nil {
		return nil, err
	}

	// checkpoint: from here on a retry resumes instead of allocating again
	_, err = o.Store.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
		if c.Status != state.ClaimCreating {
			return errClaimMoved
		}
		c.UserID = types.Ptr(res.Account.ID)
		c.ServerID = types.Ptr(res.Server.ID)
		c.AllocationID = types.Ptr(res.Allocation.ID)
		c.NodeID = types.Ptr(res.NodeID)
		c.AllocationIP = res.Allocation.IP
		c.AllocationAlias = res.Allocation.Alias
		c.AllocationPort = res.Allocation.Port
		return nil
	})
	if err != nil {
		if errors.Is(err, errClaimMoved) {
			slog.Error("server allocated for a claim that is no longer creating",
				slog.String("claim_id", claim.ClaimID),
				slog.Int64("server_id", res.Server.ID))
		}
		return nil, err
	}

	return &provisioned{
		serverID:     res.Server.ID,
		allocationID: res.Allocation.ID,
		nodeID:       res.NodeID,
		username:     res.Account.Username,
		password:     res.Password,
		host:         healthprobe.SelectHost(o.opts.HealthcheckHost, res.Allocation.Alias, res.Allocation.IP),
		port:         res.Allocation.Port,
	}, nil
}

// resume picks up a claim whose server already exists. The first password
// was never stored, so the account gets a new one.
func (o *Orchestrator) resume(ctx context.Context, claim *types.ClaimRecord) (*provisioned, error) {
	password, err := o.Hosting.RotatePassword(ctx, *claim.UserID)
	if err != nil {
		return nil, err
	}
	p := &provisioned{
		serverID:     *claim.ServerID,
		allocationID: *claim.AllocationID,
		username:     claim.Username,
		password:     password,
		host:         healthprobe.SelectHost(o.opts.HealthcheckHost, claim.AllocationAlias, claim.AllocationIP),
		port:         claim.AllocationPort,
	}
	if claim.NodeID != nil {
		p.nodeID = *claim.NodeID
	}
	return p, nil
}

// waitForInstall polls the panel until the server finished installing. It
// reports aborted when the claim stopped being creating in the meantime.
func (o *Orchestrator) waitForInstall(ctx context.Context, claimID string, serverID int64) (aborted bool, err error) {
	polls := int(o.opts.InstallTimeout / o.opts.PollInterval)
	if polls < 1 {
		polls = 1
	}
	logger := slog.With(slog.String("claim_id", claimID), slog.Int64("server_id", serverID))

	for i := 1; i <= polls; i++ {
		current, err := o.Store.FindByID(ctx, claimID)
		if err != nil {
			return false, err
		}
		if current == nil || current.Status != state.ClaimCreating {
			return true, nil
		}

		status, err := o.Hosting.GetServerStatus(ctx, serverID)
		switch {
		case err != nil:
			logger.Warn("server status check failed", slog.Int("check", i), slog.Any("error", err))
		case status.Suspended:
			return false, fmt.Errorf("%w: server is suspended", custom_errors.ErrHealthcheckTimeout)
		case status.InstallFinished():
			logger.Info("installation complete", slog.Int("check", i))
			return false, nil
		default:
			logger.Debug("server still installing", slog.Int("check", i), slog.String("status", status.Status))
		}

		if i < polls {
			if err := o.sleep(ctx, o.opts.PollInterval); err != nil {
				return false, err
			}
		}
	}
	return false, fmt.Errorf("%w: installation timeout after %s", custom_errors.ErrHealthcheckTimeout, o.opts.InstallTimeout)
}

// failCreate records the classified failure on the claim, raises an alert and
// returns cause wrapped for the job queue. A cancelled ctx means shutdown: the
// claim stays creating and the requeued job resumes it.
func (o *Orchestrator) failCreate(ctx context.Context, claim *types.ClaimRecord, cause error, nodeID, allocationID int64) error {
	if ctx.Err() != nil {
		return fmt.Errorf("create claim %s interrupted: %w", claim.ClaimID, cause)
	}
	code := custom_errors.Classify(cause)
	logger := slog.With(
		slog.String("claim_id", claim.ClaimID),
		slog.String("wa_jid", membership.MaskJID(claim.WAJID)),
		slog.String("failure_code", code.String()))

	_, err := o.Store.Update(ctx, claim.ClaimID, func(c *types.ClaimRecord) error {
		if c.Status != state.ClaimCreating {
			return errClaimMoved
		}
		return c.Fail(code)
	})
	if err != nil {
		logger.Error("could not record claim failure", slog.Any("cause", cause), slog.Any("error", err))
	} else {
		logger.Error("claim failed", slog.Any("error", cause))
	}

	o.Notifier.NotifyFailure(ctx, notifier.FailureAlert{
		ClaimID:      claim.ClaimID,
		WAJID:        claim.WAJID,
		Template:     claim.Template,
		NodeID:       nodeID,
		AllocationID: allocationID,
		Code:         code,
		Reason:       cause.Error(),
	})

	return fmt.Errorf("create claim %s: %w", claim.ClaimID, cause)
}

func serverName(claim *types.ClaimRecord) string {
	return fmt.Sprintf("%s-%s", claim.Username, claim.Template)
}
