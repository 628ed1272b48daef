package store

import (
	"context"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// EnqueuedJobStore defines the interface for managing enqueued jobs in DB.
type EnqueuedJobStore interface {
	// Insert stores job unless a job with the same key already exists.
	// inserted is false for a duplicate key; id is then the existing job's ID.
	Insert(ctx context.Context, job types.Job) (id int64, inserted bool, err error)

	FindByID(ctx context.Context, id int64) (*types.EnqueuedJob, error)

	FindByKey(ctx context.Context, jobKey string) (*types.EnqueuedJob, error)

	// FetchDueJobs returns jobs of the given name in one of statuses that are due before scheduledBefore.
	FetchDueJobs(ctx context.Context, name string, page int, pageSize int, statuses []state.JobStatus, scheduledBefore *time.Time) (*types.PaginationResult[types.EnqueuedJob], error)

	// LockJob moves a queued or retrying job to processing. It reports false when
	// another worker got there first or the job was cancelled.
	LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error)

	MarkSuccess(ctx context.Context, jobID int64) error

	// MarkFailure records the error and counts the attempt; the job goes dead once attempts reach maxAttempts.
	MarkFailure(ctx context.Context, jobID int64, errMsg string, attempts int, maxAttempts int) error

	// MarkRetryFailedJobs reschedules failed jobs with exponential backoff.
	MarkRetryFailedJobs(ctx context.Context) error

	// Cancel moves a queued job that has never run to cancelled.
	Cancel(ctx context.Context, jobKey string) (bool, error)

	// UnlockStaleJobs returns processing jobs locked longer than timeout to the
	// queue. The interrupted run counts as an attempt.
	UnlockStaleJobs(ctx context.Context, timeout time.Duration) error

	CountAllJobsGroupedByStatus(ctx context.Context, name string) (map[state.JobStatus]int, error)

	// PurgeFinished removes succeeded and cancelled jobs finished before olderThan.
	PurgeFinished(ctx context.Context, olderThan time.Time) (int, error)

	RemoveByID(ctx context.Context, jobID int64) error

	Close() error
}
