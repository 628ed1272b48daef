package orchestrator

import (
	"context"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/healthprobe"
	"github.com/sitaurs/pterodactyl-claim/internal/hosting"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/types"
)

type MembershipChecker interface {
	CheckMember(ctx context.Context, jid string) (membership.MemberStatus, error)
}

// Hosting is implemented by hosting.Service.
type Hosting interface {
	Template(name string) (types.Template, bool)
	AllocateWithFallback(ctx context.Context, req hosting.AllocationRequest) (*hosting.AllocationResult, error)
	RotatePassword(ctx context.Context, userID int64) (string, error)
	GetServerStatus(ctx context.Context, serverID int64) (hosting.ServerStatus, error)
	DeleteServer(ctx context.Context, serverID int64) error
	DeleteAccountIfEmpty(ctx context.Context, userID int64) error
}

type Prober interface {
	CheckTCP(ctx context.Context, host string, port, timeoutSec, retries, retryDelaySec int) healthprobe.Result
}

// JobQueue is implemented by client.ClaimJobQueue.
type JobQueue interface {
	EnqueueCreate(ctx context.Context, claimID string) error
	EnqueueDelete(ctx context.Context, claimID string, delay time.Duration) (jobKey string, scheduledAt time.Time, err error)
	Cancel(ctx context.Context, jobKey string) (bool, error)
}

type Messenger interface {
	SendCredentials(ctx context.Context, jid string, c membership.Credentials) error
	SendDeletionWarning(ctx context.Context, jid string, grace time.Duration, scheduledAt time.Time) error
	SendDeletionCancelled(ctx context.Context, jid string) error
}

// FailureNotifier must not block; notifier.Notifier dispatches in the background.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, alert notifier.FailureAlert)
}

type TokenIssuer interface {
	Issue(claimID string) (string, error)
}
