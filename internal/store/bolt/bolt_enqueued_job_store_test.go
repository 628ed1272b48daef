package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/internal/store/storetest"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltEnqueuedJobStore(t *testing.T) {
	storetest.RunEnqueuedJobStoreSuite(t, func(t *testing.T) store.EnqueuedJobStore {
		s, err := NewBoltEnqueuedJobStore(filepath.Join(t.TempDir(), "jobs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBoltEnqueuedJobStore_PayloadSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	s, err := NewBoltEnqueuedJobStore(path)
	require.NoError(t, err)
	id, _, err := s.Insert(ctx, types.Job{
		JobKey:      "delete-abc-1700000000000",
		Name:        "delete-server",
		Payload:     []byte(`{"claim_id":"abc"}`),
		ScheduledAt: time.Now().Add(4 * time.Hour),
		Backoff:     5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewBoltEnqueuedJobStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	job, err := reopened.FindByID(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"claim_id":"abc"}`, string(job.Payload))
	assert.Equal(t, int64(5000), job.BackoffMs)
	assert.Equal(t, state.StatusQueued, job.Status)
}

func TestJobsPath(t *testing.T) {
	assert.Equal(t, "data/claims-jobs.db", JobsPath("data/claims.db"))
	assert.Equal(t, "claims-jobs", JobsPath("claims"))
}
