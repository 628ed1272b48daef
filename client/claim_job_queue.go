package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/sitaurs/pterodactyl-claim/types/config"
)

// ClaimProcessor runs the two claim job kinds.
type ClaimProcessor interface {
	ProcessCreate(ctx context.Context, claimID string) error
	ProcessDelete(ctx context.Context, claimID string) error
}

// ClaimJobQueue maps claim operations onto the generic job manager.
type ClaimJobQueue struct {
	manager *EnqueueJobsManager
	now     func() time.Time
}

func NewClaimJobQueue(manager *EnqueueJobsManager) *ClaimJobQueue {
	return &ClaimJobQueue{manager: manager, now: time.Now}
}

// EnqueueCreate uses the claim ID as the job key, so a repeated call for the
// same claim never produces a second job.
func (q *ClaimJobQueue) EnqueueCreate(ctx context.Context, claimID string) error {
	payload, err := json.Marshal(types.ClaimJobPayload{ClaimID: claimID})
	if err != nil {
		return err
	}
	_, _, err = q.manager.Enqueue(ctx, types.Job{
		JobKey:      claimID,
		Name:        constants.CreateClaimJob,
		Payload:     payload,
		ScheduledAt: q.now(),
		MaxAttempts: constants.MaxRetryAttempt,
		Backoff:     constants.CreateClaimBackoff,
	})
	return err
}

// EnqueueDelete schedules deletion delay from now and returns the job key
// needed to cancel it.
func (q *ClaimJobQueue) EnqueueDelete(ctx context.Context, claimID string, delay time.Duration) (string, time.Time, error) {
	payload, err := json.Marshal(types.ClaimJobPayload{ClaimID: claimID})
	if err != nil {
		return "", time.Time{}, err
	}
	now := q.now()
	jobKey := DeleteJobKey(claimID, now)
	scheduledAt := now.Add(delay)

	_, _, err = q.manager.Enqueue(ctx, types.Job{
		JobKey:      jobKey,
		Name:        constants.DeleteServerJob,
		Payload:     payload,
		ScheduledAt: scheduledAt,
		MaxAttempts: constants.MaxRetryAttempt,
		Backoff:     constants.DeleteServerBackoff,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return jobKey, scheduledAt, nil
}

func (q *ClaimJobQueue) Cancel(ctx context.Context, jobKey string) (bool, error) {
	return q.manager.Cancel(ctx, jobKey)
}

// DeleteJobKey gives every leave its own delete job, so a leave after a
// cancelled rejoin is never swallowed by the earlier key.
func DeleteJobKey(claimID string, at time.Time) string {
	return fmt.Sprintf("delete-%s-%d", claimID, at.UnixMilli())
}

// Queues returns the worker pool layout for both claim job kinds.
func Queues(cfg config.QueueConfig) []QueueOptions {
	return []QueueOptions{
		{Name: constants.CreateClaimJob, Concurrency: cfg.CreateConcurrency},
		{Name: constants.DeleteServerJob, Concurrency: cfg.DeleteConcurrency},
	}
}

// RegisterClaimHandlers binds the processor to the job names the queue runs.
func RegisterClaimHandlers(jobHandler *config.JobHandler, processor ClaimProcessor) error {
	if err := jobHandler.Register(constants.CreateClaimJob, claimHandler(processor.ProcessCreate)); err != nil {
		return err
	}
	return jobHandler.Register(constants.DeleteServerJob, claimHandler(processor.ProcessDelete))
}

func claimHandler(fn func(ctx context.Context, claimID string) error) config.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload types.ClaimJobPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decode claim job payload: %w", err)
		}
		if payload.ClaimID == "" {
			return fmt.Errorf("claim job payload has no claim id")
		}
		return fn(ctx, payload.ClaimID)
	}
}
