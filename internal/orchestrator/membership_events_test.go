package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(action membership.Action, group string) membership.Event {
	return membership.Event{Action: action, WAJID: testJID, GroupID: group, Timestamp: time.Now()}
}

func TestLeaveThenJoin_CancelsDeletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.activeClaim(t)

	before := time.Now()
	require.NoError(t, h.o.OnMembershipEvent(ctx, event(membership.ActionLeave, testGroup)))

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimDeleting, claim.Status)
	require.NotNil(t, claim.DeleteJobID)
	require.NotNil(t, claim.DeletionScheduledAt)
	assert.WithinDuration(t, before.Add(4*time.Hour), *claim.DeletionScheduledAt, time.Minute)
	assert.NotNil(t, claim.LastEventAt)
	require.Len(t, h.messenger.warnings, 1)

	job, err := h.jobs.FindByKey(ctx, *claim.DeleteJobID)
	require.NoError(t, err)
	assert.Equal(t, constants.DeleteServerJob, job.Name)
	assert.Equal(t, state.StatusQueued, job.Status)
	jobKey := *claim.DeleteJobID

	require.NoError(t, h.o.OnMembershipEvent(ctx, event(membership.ActionJoin, testGroup)))

	claim = h.claim(t, id)
	assert.Equal(t, state.ClaimActive, claim.Status)
	assert.Nil(t, claim.DeleteJobID)
	assert.Nil(t, claim.DeletionScheduledAt)
	assert.Equal(t, 1, h.messenger.cancelled)

	job, err = h.jobs.FindByKey(ctx, jobKey)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, job.Status)
}

func TestLeaveTwice_SchedulesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.activeClaim(t)

	require.NoError(t, h.o.OnLeave(ctx, testJID))
	require.NoError(t, h.o.OnLeave(ctx, testJID))
	assert.Len(t, h.messenger.warnings, 1)
}

func TestJoin_TooLateToCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.activeClaim(t)
	require.NoError(t, h.o.OnLeave(ctx, testJID))

	job, err := h.jobs.FindByKey(ctx, *h.claim(t, id).DeleteJobID)
	require.NoError(t, err)
	locked, err := h.jobs.LockJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, h.o.OnJoin(ctx, testJID))

	assert.Equal(t, state.ClaimDeleting, h.claim(t, id).Status)
	assert.Zero(t, h.messenger.cancelled)
}

func TestJoin_AfterFailedDeleteAttemptKeepsDeleting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.activeClaim(t)
	require.NoError(t, h.o.OnLeave(ctx, testJID))

	job, err := h.jobs.FindByKey(ctx, *h.claim(t, id).DeleteJobID)
	require.NoError(t, err)
	locked, err := h.jobs.LockJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, locked)

	// the server goes, the account delete fails and the job waits to retry
	h.hosting.accountErr = &custom_errors.HostingAPIError{Op: "delete user", StatusCode: 502}
	deleteErr := h.o.ProcessDelete(ctx, id)
	require.Error(t, deleteErr)
	require.Equal(t, []int64{101}, h.hosting.servers)
	require.NoError(t, h.jobs.MarkFailure(ctx, job.ID, deleteErr.Error(), 1, job.MaxAttempts))
	require.NoError(t, h.jobs.MarkRetryFailedJobs(ctx))

	require.NoError(t, h.o.OnJoin(ctx, testJID))

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimDeleting, claim.Status)
	assert.Equal(t, job.JobKey, *claim.DeleteJobID)
	assert.Zero(t, h.messenger.cancelled)

	job, err = h.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRetrying, job.Status)

	h.hosting.accountErr = nil
	require.NoError(t, h.o.ProcessDelete(ctx, id))
	assert.Equal(t, state.ClaimDeleted, h.claim(t, id).Status)
}

func TestJoin_ReactivationFailureReschedulesDeletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.activeClaim(t)
	require.NoError(t, h.o.OnLeave(ctx, testJID))
	before := h.claim(t, id)
	oldKey := *before.DeleteJobID

	h.o.Store = &conflictOnActivate{h.claims}
	// delete job keys carry the enqueue time in milliseconds
	time.Sleep(2 * time.Millisecond)

	err := h.o.OnJoin(ctx, testJID)
	assert.ErrorIs(t, err, custom_errors.ErrConflict)

	claim := h.claim(t, id)
	assert.Equal(t, state.ClaimDeleting, claim.Status)
	require.NotNil(t, claim.DeleteJobID)
	assert.NotEqual(t, oldKey, *claim.DeleteJobID)
	require.NotNil(t, claim.DeletionScheduledAt)
	assert.WithinDuration(t, *before.DeletionScheduledAt, *claim.DeletionScheduledAt, time.Second)
	assert.Zero(t, h.messenger.cancelled)
	assert.Empty(t, h.notifier.alerts)

	old, err := h.jobs.FindByKey(ctx, oldKey)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, old.Status)
	job, err := h.jobs.FindByKey(ctx, *claim.DeleteJobID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, job.Status)
	assert.Equal(t, constants.DeleteServerJob, job.Name)
}

func TestJoin_OrphanedServerRaisesAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.activeClaim(t)
	require.NoError(t, h.o.OnLeave(ctx, testJID))

	h.o.Store = &conflictOnActivate{h.claims}
	h.o.Queue = &failingDeleteQueue{h.o.Queue}

	err := h.o.OnJoin(ctx, testJID)
	assert.ErrorIs(t, err, custom_errors.ErrConflict)
	assert.Equal(t, state.ClaimDeleting, h.claim(t, id).Status)

	require.Len(t, h.notifier.alerts, 1)
	alert := h.notifier.alerts[0]
	assert.Equal(t, id, alert.ClaimID)
	assert.Equal(t, int64(55), alert.AllocationID)
	assert.Contains(t, alert.Reason, "orphaned")
}

func TestJoin_AnotherClaimHoldsSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.activeClaim(t)
	require.NoError(t, h.o.OnLeave(ctx, testJID))

	// the old claim is deleting, so a new one may be submitted meanwhile
	h.submit(t)

	require.NoError(t, h.o.OnJoin(ctx, testJID))
	assert.Equal(t, state.ClaimDeleting, h.claim(t, first).Status)
	assert.Zero(t, h.messenger.cancelled)
}

func TestLeave_WhileCreatingIsIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t)

	require.NoError(t, h.o.OnLeave(context.Background(), testJID))
	assert.Equal(t, state.ClaimCreating, h.claim(t, id).Status)
	assert.Empty(t, h.messenger.warnings)
}

func TestEvents_WithoutClaimAreNoops(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.NoError(t, h.o.OnMembershipEvent(ctx, event(membership.ActionLeave, testGroup)))
	assert.NoError(t, h.o.OnMembershipEvent(ctx, event(membership.ActionJoin, testGroup)))
	assert.Empty(t, h.messenger.warnings)
}

func TestEvent_OtherGroupIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.activeClaim(t)

	require.NoError(t, h.o.OnMembershipEvent(context.Background(), event(membership.ActionLeave, "999@g.us")))
	assert.Equal(t, state.ClaimActive, h.claim(t, id).Status)
}

func TestEvent_Invalid(t *testing.T) {
	h := newHarness(t)
	err := h.o.OnMembershipEvent(context.Background(), membership.Event{Action: "kick", WAJID: testJID, GroupID: testGroup})
	assert.ErrorIs(t, err, custom_errors.ErrValidation)
}

func TestEvent_NormalizesPhoneNumber(t *testing.T) {
	h := newHarness(t)
	id := h.activeClaim(t)

	e := membership.Event{Action: membership.ActionLeave, WAJID: testNumber, GroupID: testGroup}
	require.NoError(t, h.o.OnMembershipEvent(context.Background(), e))
	assert.Equal(t, state.ClaimDeleting, h.claim(t, id).Status)
}
