package test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/client"
	"github.com/sitaurs/pterodactyl-claim/client/test/mocks"
	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store/memory"
	"github.com/sitaurs/pterodactyl-claim/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	created []string
	deleted []string
	err     error
}

func (p *recordingProcessor) ProcessCreate(ctx context.Context, claimID string) error {
	p.created = append(p.created, claimID)
	return p.err
}

func (p *recordingProcessor) ProcessDelete(ctx context.Context, claimID string) error {
	p.deleted = append(p.deleted, claimID)
	return p.err
}

func newClaimJobQueue(t *testing.T) (*client.ClaimJobQueue, *memory.MemoryEnqueuedJobStore) {
	t.Helper()
	jobs := memory.NewMemoryEnqueuedJobStore()
	manager := client.NewEnqueueJobsManager(jobs, &mocks.MockDistributedLockManager{}, config.NewJobHandler(), "test", time.Minute)
	return client.NewClaimJobQueue(manager), jobs
}

func TestClaimJobQueue_EnqueueCreateIsIdempotent(t *testing.T) {
	queue, jobs := newClaimJobQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueCreate(ctx, "claim-1"))
	require.NoError(t, queue.EnqueueCreate(ctx, "claim-1"))

	counts, err := jobs.CountAllJobsGroupedByStatus(ctx, constants.CreateClaimJob)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[state.StatusQueued])

	job, err := jobs.FindByKey(ctx, "claim-1")
	require.NoError(t, err)
	assert.Equal(t, constants.MaxRetryAttempt, job.MaxAttempts)
	assert.Equal(t, constants.CreateClaimBackoff.Milliseconds(), job.BackoffMs)
	assert.JSONEq(t, `{"claim_id":"claim-1"}`, string(job.Payload))
}

func TestClaimJobQueue_EnqueueDeleteAndCancel(t *testing.T) {
	queue, jobs := newClaimJobQueue(t)
	ctx := context.Background()
	before := time.Now()

	jobKey, scheduledAt, err := queue.EnqueueDelete(ctx, "claim-1", 4*time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(jobKey, "delete-claim-1-"))
	assert.WithinDuration(t, before.Add(4*time.Hour), scheduledAt, time.Second)

	job, err := jobs.FindByKey(ctx, jobKey)
	require.NoError(t, err)
	assert.Equal(t, constants.DeleteServerJob, job.Name)
	assert.Equal(t, constants.DeleteServerBackoff.Milliseconds(), job.BackoffMs)

	ok, err := queue.Cancel(ctx, jobKey)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = queue.Cancel(ctx, jobKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteJobKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "delete-abc-1700000000123", client.DeleteJobKey("abc", at))
}

func TestQueues(t *testing.T) {
	queues := client.Queues(config.QueueConfig{CreateConcurrency: 2, DeleteConcurrency: 1})
	assert.Equal(t, []client.QueueOptions{
		{Name: constants.CreateClaimJob, Concurrency: 2},
		{Name: constants.DeleteServerJob, Concurrency: 1},
	}, queues)
}

func TestRegisterClaimHandlers(t *testing.T) {
	jobHandler := config.NewJobHandler()
	processor := &recordingProcessor{}
	require.NoError(t, client.RegisterClaimHandlers(jobHandler, processor))

	ctx := context.Background()
	require.NoError(t, jobHandler.Execute(ctx, constants.CreateClaimJob, []byte(`{"claim_id":"c-1"}`)))
	require.NoError(t, jobHandler.Execute(ctx, constants.DeleteServerJob, []byte(`{"claim_id":"c-2"}`)))
	assert.Equal(t, []string{"c-1"}, processor.created)
	assert.Equal(t, []string{"c-2"}, processor.deleted)

	assert.Error(t, jobHandler.Execute(ctx, constants.CreateClaimJob, []byte(`not json`)))
	assert.Error(t, jobHandler.Execute(ctx, constants.CreateClaimJob, []byte(`{}`)))

	processor.err = errors.New("panel down")
	assert.EqualError(t, jobHandler.Execute(ctx, constants.DeleteServerJob, []byte(`{"claim_id":"c-3"}`)), "panel down")

	assert.Error(t, client.RegisterClaimHandlers(jobHandler, processor), "second registration must fail")
}
