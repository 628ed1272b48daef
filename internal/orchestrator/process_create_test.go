package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/healthprobe"
	"github.com/sitaurs/pterodactyl-claim/internal/hosting"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCreate_Idempotent(t *testing.T) {
	h := newHarness(t)
	id := h.activeClaim(t)

	require.NoError(t, h.o.ProcessCreate(context.Background(), id))
	assert.Equal(t, 1, h.hosting.allocations)
	assert.Len(t, h.messenger.credentials, 1)
}

func TestProcessCreate_MissingClaim(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.o.ProcessCreate(context.Background(), "does-not-exist"))
	assert.Zero(t, h.hosting.allocations)
}

func TestProcessCreate_ResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t)

	_, err := h.claims.Update(ctx, id, func(c *types.ClaimRecord) error {
		c.UserID = types.Ptr(int64(9))
		c.ServerID = types.Ptr(int64(42))
		c.AllocationID = types.Ptr(int64(11))
		c.NodeID = types.Ptr(int64(2))
		c.AllocationIP = "10.0.0.2"
		c.AllocationPort = 30000
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.o.ProcessCreate(ctx, id))

	assert.Zero(t, h.hosting.allocations)
	assert.Equal(t, []int64{9}, h.hosting.rotated)
	assert.Equal(t, []string{"10.0.0.2"}, h.prober.hosts)

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimActive, claim.Status)
	assert.Equal(t, int64(42), *claim.ServerID)

	require.Len(t, h.messenger.credentials, 1)
	assert.Equal(t, "rotated-password", h.messenger.credentials[0].Password)
	assert.Equal(t, "alice", h.messenger.credentials[0].Username)
}

func TestProcessCreate_NoAllocation(t *testing.T) {
	h := newHarness(t)
	h.hosting.allocateErr = custom_errors.ErrNoAllocationAvailable
	id := h.submit(t)

	err := h.o.ProcessCreate(context.Background(), id)
	assert.ErrorIs(t, err, custom_errors.ErrNoAllocationAvailable)

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimFailed, claim.Status)
	require.NotNil(t, claim.FailureCode)
	assert.Equal(t, custom_errors.FailureNoAlloc, *claim.FailureCode)

	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, custom_errors.FailureNoAlloc, h.notifier.alerts[0].Code)
	assert.Equal(t, id, h.notifier.alerts[0].ClaimID)
	assert.Empty(t, h.messenger.credentials)
}

func TestProcessCreate_HostingAPIError(t *testing.T) {
	h := newHarness(t)
	h.hosting.allocateErr = &custom_errors.HostingAPIError{Op: "create user", StatusCode: 502}
	id := h.submit(t)

	err := h.o.ProcessCreate(context.Background(), id)
	assert.ErrorIs(t, err, custom_errors.ErrHostingAPI)
	assert.Equal(t, custom_errors.FailureAPIDown, *h.claim(t, id).FailureCode)
}

func TestProcessCreate_TemplateRemoved(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t)
	delete(h.hosting.templates, "nodejs")

	require.NoError(t, h.o.ProcessCreate(context.Background(), id))

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimFailed, claim.Status)
	assert.Equal(t, custom_errors.FailureEggInvalid, *claim.FailureCode)
	assert.Equal(t, custom_errors.FailureMessage(custom_errors.FailureEggInvalid), *claim.FailureReason)
	require.Len(t, h.notifier.alerts, 1)
	assert.Zero(t, h.hosting.allocations)
}

func TestProcessCreate_HealthcheckFailure(t *testing.T) {
	h := newHarness(t)
	h.prober.result = healthprobe.Result{Success: false, Attempts: 3, Message: "TCP connection failed after 3 attempts"}
	id := h.submit(t)

	require.NoError(t, h.o.ProcessCreate(context.Background(), id))

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimFailed, claim.Status)
	assert.Equal(t, custom_errors.FailureHealthcheckTimeout, *claim.FailureCode)

	require.Len(t, h.notifier.alerts, 1)
	alert := h.notifier.alerts[0]
	assert.Equal(t, int64(3), alert.NodeID)
	assert.Equal(t, int64(55), alert.AllocationID)
	assert.Contains(t, alert.Reason, "TCP connection failed")
	assert.Empty(t, h.messenger.credentials)
}

func TestProcessCreate_InstallTimeout(t *testing.T) {
	h := newHarness(t)
	h.hosting.statuses = []hosting.ServerStatus{{Status: "installing", Installing: true}}
	id := h.submit(t)

	require.NoError(t, h.o.ProcessCreate(context.Background(), id))

	assert.Equal(t, 20, h.hosting.statusCalls)
	assert.Len(t, h.sleeps, 19)
	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimFailed, claim.Status)
	assert.Equal(t, custom_errors.FailureHealthcheckTimeout, *claim.FailureCode)
	require.Len(t, h.notifier.alerts, 1)
	assert.Contains(t, h.notifier.alerts[0].Reason, "installation timeout")
	assert.Empty(t, h.prober.hosts)
}

func TestProcessCreate_SuspendedServer(t *testing.T) {
	h := newHarness(t)
	h.hosting.statuses = []hosting.ServerStatus{{Status: "suspended", Suspended: true}}
	id := h.submit(t)

	require.NoError(t, h.o.ProcessCreate(context.Background(), id))

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimFailed, claim.Status)
	assert.Equal(t, custom_errors.FailureHealthcheckTimeout, *claim.FailureCode)
	assert.Contains(t, h.notifier.alerts[0].Reason, "suspended")
	assert.Empty(t, h.sleeps)
}

func TestProcessCreate_ClaimLeavesCreatingWhilePolling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.submit(t)
	h.hosting.statuses = []hosting.ServerStatus{{Status: "installing", Installing: true}}
	h.hosting.statusHook = func() {
		_, err := h.claims.Update(ctx, id, func(c *types.ClaimRecord) error {
			return c.Fail(custom_errors.FailureUnknown)
		})
		require.NoError(t, err)
	}

	require.NoError(t, h.o.ProcessCreate(ctx, id))

	assert.Equal(t, 1, h.hosting.statusCalls)
	assert.Empty(t, h.prober.hosts)
	assert.Empty(t, h.notifier.alerts)
	assert.Equal(t, custom_errors.FailureUnknown, *h.claim(t, id).FailureCode)
}

func TestProcessCreate_CredentialsFailureKeepsActive(t *testing.T) {
	h := newHarness(t)
	h.messenger.err = errors.New("bot offline")
	id := h.submit(t)

	require.NoError(t, h.o.ProcessCreate(context.Background(), id))
	assert.Equal(t, state.ClaimActive, h.claim(t, id).Status)
	assert.Empty(t, h.notifier.alerts)
}

func TestProcessCreate_ShutdownLeavesClaimCreating(t *testing.T) {
	h := newHarness(t)
	h.hosting.statuses = []hosting.ServerStatus{{Status: "installing", Installing: true}}
	id := h.submit(t)

	ctx, cancel := context.WithCancel(context.Background())
	h.o.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := h.o.ProcessCreate(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, state.ClaimCreating, h.claim(t, id).Status)
	assert.Empty(t, h.notifier.alerts)
}
