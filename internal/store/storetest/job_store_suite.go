package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunEnqueuedJobStoreSuite checks the queue contract the job manager relies on.
func RunEnqueuedJobStoreSuite(t *testing.T, newStore func(t *testing.T) store.EnqueuedJobStore) {
	past := time.Now().Add(-time.Minute)

	t.Run("insert is idempotent on job key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id, inserted, err := s.Insert(ctx, types.Job{JobKey: "claim-1", Name: "create-claim", ScheduledAt: past})
		require.NoError(t, err)
		assert.True(t, inserted)

		again, inserted, err := s.Insert(ctx, types.Job{JobKey: "claim-1", Name: "create-claim", ScheduledAt: past})
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, id, again)

		job, err := s.FindByKey(ctx, "claim-1")
		require.NoError(t, err)
		assert.Equal(t, state.StatusQueued, job.Status)
		assert.Equal(t, 3, job.MaxAttempts)
	})

	t.Run("fetch due jobs skips future and other names", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		_, _, err := s.Insert(ctx, types.Job{JobKey: "due", Name: "create-claim", ScheduledAt: past})
		require.NoError(t, err)
		_, _, err = s.Insert(ctx, types.Job{JobKey: "later", Name: "create-claim", ScheduledAt: now.Add(time.Hour)})
		require.NoError(t, err)
		_, _, err = s.Insert(ctx, types.Job{JobKey: "other", Name: "delete-server", ScheduledAt: past})
		require.NoError(t, err)

		res, err := s.FetchDueJobs(ctx, "create-claim", 1, 10, []state.JobStatus{state.StatusQueued}, &now)
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, "due", res.Items[0].JobKey)
	})

	t.Run("lock is exclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id, _, err := s.Insert(ctx, types.Job{JobKey: "k", Name: "create-claim", ScheduledAt: past})
		require.NoError(t, err)

		ok, err := s.LockJob(ctx, id, "worker-a")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.LockJob(ctx, id, "worker-b")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cancel only before start", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, _, err := s.Insert(ctx, types.Job{JobKey: "pending", Name: "delete-server", ScheduledAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		ok, err := s.Cancel(ctx, "pending")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Cancel(ctx, "pending")
		require.NoError(t, err)
		assert.False(t, ok, "already cancelled")

		id, _, err := s.Insert(ctx, types.Job{JobKey: "running", Name: "delete-server", ScheduledAt: past})
		require.NoError(t, err)
		_, err = s.LockJob(ctx, id, "worker")
		require.NoError(t, err)
		ok, err = s.Cancel(ctx, "running")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Cancel(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cancel after a failed attempt returns false", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id, _, err := s.Insert(ctx, types.Job{JobKey: "half-done", Name: "delete-server", ScheduledAt: past, MaxAttempts: 3, Backoff: time.Millisecond})
		require.NoError(t, err)
		_, err = s.LockJob(ctx, id, "w")
		require.NoError(t, err)
		require.NoError(t, s.MarkFailure(ctx, id, "account delete: 502", 1, 3))

		ok, err := s.Cancel(ctx, "half-done")
		require.NoError(t, err)
		assert.False(t, ok, "failed")

		require.NoError(t, s.MarkRetryFailedJobs(ctx))
		job, err := s.FindByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, state.StatusRetrying, job.Status)

		ok, err = s.Cancel(ctx, "half-done")
		require.NoError(t, err)
		assert.False(t, ok, "retrying")

		job, err = s.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusRetrying, job.Status)
	})

	t.Run("failures retry until dead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id, _, err := s.Insert(ctx, types.Job{JobKey: "flaky", Name: "create-claim", ScheduledAt: past, MaxAttempts: 2, Backoff: time.Millisecond})
		require.NoError(t, err)

		_, err = s.LockJob(ctx, id, "w")
		require.NoError(t, err)
		require.NoError(t, s.MarkFailure(ctx, id, "boom", 1, 2))
		require.NoError(t, s.MarkRetryFailedJobs(ctx))

		job, err := s.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusRetrying, job.Status)
		assert.Equal(t, "boom", job.LastError.String)

		ok, err := s.LockJob(ctx, id, "w")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.MarkFailure(ctx, id, "boom again", 2, 2))
		require.NoError(t, s.MarkRetryFailedJobs(ctx))

		job, err = s.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusDead, job.Status)
	})

	t.Run("success and purge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id, _, err := s.Insert(ctx, types.Job{JobKey: "done", Name: "create-claim", ScheduledAt: past})
		require.NoError(t, err)
		_, err = s.LockJob(ctx, id, "w")
		require.NoError(t, err)
		require.NoError(t, s.MarkSuccess(ctx, id))

		counts, err := s.CountAllJobsGroupedByStatus(ctx, "create-claim")
		require.NoError(t, err)
		assert.Equal(t, 1, counts[state.StatusSucceeded])
		assert.Equal(t, 0, counts[state.StatusDead])

		removed, err := s.PurgeFinished(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = s.FindByID(ctx, id)
		assert.Error(t, err)
	})

	t.Run("stale locks are released", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id, _, err := s.Insert(ctx, types.Job{JobKey: "stuck", Name: "create-claim", ScheduledAt: past})
		require.NoError(t, err)
		_, err = s.LockJob(ctx, id, "crashed")
		require.NoError(t, err)

		require.NoError(t, s.UnlockStaleJobs(ctx, -time.Second))

		job, err := s.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.StatusQueued, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.Nil(t, job.LockedBy)

		ok, err := s.Cancel(ctx, "stuck")
		require.NoError(t, err)
		assert.False(t, ok, "an interrupted run cannot be cancelled")
	})
}
