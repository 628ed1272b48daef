package hosting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// Service implements the claim flow's view of the hosting panel on top of the
// raw API: account reuse, node fallback and idempotent deletes.
type Service struct {
	panel       Panel
	templates   map[string]types.Template
	nodeIDs     []int64
	emailDomain string
}

func NewService(panel Panel, templates map[string]types.Template, nodeIDs []int64, emailDomain string) *Service {
	return &Service{
		panel:       panel,
		templates:   templates,
		nodeIDs:     nodeIDs,
		emailDomain: emailDomain,
	}
}

func (s *Service) Template(name string) (types.Template, bool) {
	tpl, ok := s.templates[name]
	return tpl, ok
}

// CreateOrReuseAccount looks the user up by JID (stored as the panel external id).
// An existing account gets a fresh password; otherwise a new one is created.
func (s *Service) CreateOrReuseAccount(ctx context.Context, jid, username string) (*AccountResult, error) {
	password, err := GeneratePassword()
	if err != nil {
		return nil, err
	}

	existing, err := s.panel.FindUserByExternalID(ctx, jid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.panel.UpdateUserPassword(ctx, existing.ID, password); err != nil {
			return nil, err
		}
		slog.Info("reusing panel account", slog.Int64("user_id", existing.ID), slog.String("username", existing.Username))
		return &AccountResult{Account: *existing, Password: password}, nil
	}

	account, err := s.panel.CreateUser(ctx, username, SyntheticEmail(jid, s.emailDomain), password, jid)
	if err != nil {
		return nil, err
	}
	slog.Info("created panel account", slog.Int64("user_id", account.ID), slog.String("username", account.Username))
	return &AccountResult{Account: *account, Password: password, IsNew: true}, nil
}

// RotatePassword sets a new password for an existing account and returns it.
func (s *Service) RotatePassword(ctx context.Context, userID int64) (string, error) {
	password, err := GeneratePassword()
	if err != nil {
		return "", err
	}
	if err := s.panel.UpdateUserPassword(ctx, userID, password); err != nil {
		return "", err
	}
	return password, nil
}

// FindAvailableAllocation returns the first unassigned allocation on the node, or nil.
func (s *Service) FindAvailableAllocation(ctx context.Context, nodeID int64) (*Allocation, error) {
	allocations, err := s.panel.ListNodeAllocations(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for i := range allocations {
		if !allocations[i].Assigned {
			return &allocations[i], nil
		}
	}
	return nil, nil
}

func (s *Service) CreateServer(ctx context.Context, spec ServerSpec) (*Server, error) {
	return s.panel.CreateServer(ctx, spec)
}

func (s *Service) GetServerStatus(ctx context.Context, serverID int64) (ServerStatus, error) {
	server, err := s.panel.GetServer(ctx, serverID)
	if err != nil {
		return ServerStatus{}, err
	}
	status := ServerStatus{Suspended: server.Suspended, Status: "offline"}
	if server.Status != nil {
		switch *server.Status {
		case "installing":
			status.Installing = true
			status.Status = "installing"
		case "suspended":
			status.Suspended = true
			status.Status = "suspended"
		default:
			status.Status = *server.Status
		}
	}
	return status, nil
}

// DeleteServer treats an already missing server as deleted.
func (s *Service) DeleteServer(ctx context.Context, serverID int64) error {
	err := s.panel.DeleteServer(ctx, serverID)
	if custom_errors.IsNotFound(err) {
		slog.Warn("server already deleted", slog.Int64("server_id", serverID))
		return nil
	}
	return err
}

// DeleteAccountIfEmpty removes the account only when it owns no servers, so an
// account shared with another claim is never pulled out from under it.
func (s *Service) DeleteAccountIfEmpty(ctx context.Context, userID int64) error {
	count, err := s.panel.CountUserServers(ctx, userID)
	if custom_errors.IsNotFound(err) {
		slog.Warn("account already deleted", slog.Int64("user_id", userID))
		return nil
	}
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Info("account still owns servers, keeping it", slog.Int64("user_id", userID), slog.Int("server_count", count))
		return nil
	}

	err = s.panel.DeleteUser(ctx, userID)
	if err != nil && !custom_errors.IsNotFound(err) {
		return err
	}
	slog.Info("deleted empty account", slog.Int64("user_id", userID))
	return nil
}

// AllocateWithFallback provisions the claim on the primary node, then on each
// fallback node in order. Any per-node failure moves on to the next node.
func (s *Service) AllocateWithFallback(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	tpl, ok := s.templates[req.Template]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", req.Template, custom_errors.ErrEggInvalid)
	}

	account, err := s.CreateOrReuseAccount(ctx, req.WAJID, req.Username)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, nodeID := range s.nodeIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger := slog.With(slog.Int64("node_id", nodeID), slog.String("template", req.Template))

		allocation, err := s.FindAvailableAllocation(ctx, nodeID)
		if err != nil {
			logger.Warn("allocation lookup failed, trying next node", slog.Any("error", err))
			lastErr = err
			continue
		}
		if allocation == nil {
			logger.Warn("no free allocation on node")
			continue
		}

		server, err := s.panel.CreateServer(ctx, ServerSpec{
			Name:         req.ServerName,
			Description:  req.Description,
			UserID:       account.Account.ID,
			EggID:        tpl.EggID,
			DockerImage:  tpl.DockerImage,
			Startup:      tpl.Startup,
			Environment:  tpl.Environment,
			AllocationID: allocation.ID,
			Port:         allocation.Port,
		})
		if err != nil {
			logger.Warn("server creation failed, trying next node", slog.Any("error", err))
			lastErr = err
			continue
		}

		logger.Info("allocated server",
			slog.Int64("server_id", server.ID),
			slog.Int64("user_id", account.Account.ID),
			slog.Int("port", allocation.Port))
		return &AllocationResult{
			Account:    account.Account,
			Server:     *server,
			Allocation: *allocation,
			Password:   account.Password,
			NodeID:     nodeID,
		}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w (last error: %v)", custom_errors.ErrNoAllocationAvailable, lastErr)
	}
	return nil, custom_errors.ErrNoAllocationAvailable
}
