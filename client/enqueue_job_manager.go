package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/lock"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/sitaurs/pterodactyl-claim/types/config"
	"golang.org/x/sync/semaphore"
)

const (
	retrySweepInterval = 5 * time.Second
	staleSweepInterval = time.Minute
	resultBufferSize   = 1000
)

// QueueOptions binds a job name to its own worker pool size.
type QueueOptions struct {
	Name        string
	Concurrency int
}

type EnqueueJobsManager struct {
	store        store.EnqueuedJobStore
	instance     string
	lock         lock.DistributedLockManager
	jobHandler   *config.JobHandler
	jobResults   chan types.JobResult
	staleTimeout time.Duration
	now          func() time.Time
}

func NewEnqueueJobsManager(jobStore store.EnqueuedJobStore, lock lock.DistributedLockManager, jobHandler *config.JobHandler, instance string, staleTimeout time.Duration) *EnqueueJobsManager {
	return &EnqueueJobsManager{
		store:        jobStore,
		instance:     instance,
		lock:         lock,
		jobHandler:   jobHandler,
		jobResults:   make(chan types.JobResult, resultBufferSize),
		staleTimeout: staleTimeout,
		now:          time.Now,
	}
}

// Enqueue stores job. A job whose key is already known is not inserted again;
// inserted is false and id refers to the existing job.
func (em *EnqueueJobsManager) Enqueue(ctx context.Context, job types.Job) (id int64, inserted bool, err error) {
	id, inserted, err = em.store.Insert(ctx, job)
	if err != nil {
		slog.Error("enqueue failed", slog.String("job_key", job.JobKey), slog.String("job", job.Name), slog.Any("error", err))
		return 0, false, err
	}
	if !inserted {
		slog.Info("job already enqueued", slog.String("job_key", job.JobKey), slog.Int64("job_id", id))
	}
	return id, inserted, nil
}

// Cancel succeeds only for a job that has not started.
func (em *EnqueueJobsManager) Cancel(ctx context.Context, jobKey string) (bool, error) {
	ok, err := em.store.Cancel(ctx, jobKey)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobKey, err)
	}
	slog.Info("job cancel requested", slog.String("job_key", jobKey), slog.Bool("cancelled", ok))
	return ok, nil
}

// MarkRetryFailedJobs periodically moves failed jobs with attempts left back
// to retrying. Only the instance holding RetryLock sweeps in a given tick.
func (em *EnqueueJobsManager) MarkRetryFailedJobs(ctx context.Context, interval time.Duration) {
	em.sweep(ctx, interval, constants.RetryLock, "mark retry failed jobs", em.store.MarkRetryFailedJobs)
}

// UnlockStaleJobs periodically returns jobs whose worker vanished without
// recording a result to the queue. Only the instance holding
// StaleLockSweepLock sweeps in a given tick.
func (em *EnqueueJobsManager) UnlockStaleJobs(ctx context.Context, interval time.Duration) {
	em.sweep(ctx, interval, constants.StaleLockSweepLock, "unlock stale jobs", func(ctx context.Context) error {
		return em.store.UnlockStaleJobs(ctx, em.staleTimeout)
	})
}

func (em *EnqueueJobsManager) sweep(ctx context.Context, interval time.Duration, lockID int, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := em.lock.TryAcquire(lockID)
			if err != nil {
				slog.Error("sweep lock error", slog.String("sweep", name), slog.Any("error", err))
				continue
			}
			if !held {
				continue
			}
			if err := fn(ctx); err != nil {
				slog.Error(name, slog.Any("error", err))
			}
			if err := em.lock.Release(lockID); err != nil {
				slog.Error("release sweep lock", slog.String("sweep", name), slog.Any("error", err))
			}
		}
	}
}

// Start runs the poll loop until ctx is done. Each queue gets its own
// semaphore so a slow delete never starves create jobs and vice versa.
// On shutdown it waits for running jobs and records their results.
func (em *EnqueueJobsManager) Start(ctx context.Context, interval time.Duration, batchSize int, queues ...QueueOptions) error {
	if err := em.store.UnlockStaleJobs(ctx, em.staleTimeout); err != nil {
		return fmt.Errorf("unlock stale jobs: %w", err)
	}

	stopResults := em.startResultProcessor(ctx)
	go em.MarkRetryFailedJobs(ctx, retrySweepInterval)
	go em.UnlockStaleJobs(ctx, staleSweepInterval)

	sems := make(map[string]*semaphore.Weighted, len(queues))
	for _, q := range queues {
		n := q.Concurrency
		if n < 1 {
			n = 1
		}
		sems[q.Name] = semaphore.NewWeighted(int64(n))
		slog.Info("queue worker started", slog.String("queue", q.Name), slog.Int("concurrency", n))
	}

	var wg sync.WaitGroup
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, q := range queues {
			em.processDueJobs(ctx, q.Name, sems[q.Name], &wg, batchSize)
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			stopResults()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (em *EnqueueJobsManager) ExecuteJobManually(ctx context.Context, jobID int64) error {
	job, err := em.store.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job not found: %w", err)
	}
	if !em.jobHandler.Exists(job.Name) {
		return fmt.Errorf("handler %q not found", job.Name)
	}

	slog.Info("executing job manually", slog.Int64("job_id", job.ID), slog.String("job", job.Name))
	err = em.jobHandler.Execute(ctx, job.Name, job.Payload)

	em.jobResults <- types.JobResult{
		JobID:       job.ID,
		JobName:     job.Name,
		Err:         err,
		Attempts:    job.Attempts + 1,
		MaxAttempts: job.MaxAttempts,
		Status:      em.errorToJobStatus(err),
		RanAt:       em.now(),
	}
	return err
}

// startResultProcessor records job results until the returned stop func is
// called. Stop drains whatever is still buffered before returning, so results
// of jobs interrupted by shutdown reach the store. Writes use a context that
// outlives ctx for the same reason.
func (em *EnqueueJobsManager) startResultProcessor(ctx context.Context) (stop func()) {
	ctx = context.WithoutCancel(ctx)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case res := <-em.jobResults:
				em.recordResult(ctx, res)
			case <-quit:
				em.drainResults(ctx)
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func (em *EnqueueJobsManager) drainResults(ctx context.Context) {
	for {
		select {
		case res := <-em.jobResults:
			em.recordResult(ctx, res)
		default:
			return
		}
	}
}

func (em *EnqueueJobsManager) recordResult(ctx context.Context, res types.JobResult) {
	logger := slog.With(slog.Int64("job_id", res.JobID), slog.String("job", res.JobName), slog.Int("attempts", res.Attempts))
	switch res.Status {
	case state.StatusSucceeded:
		if err := em.store.MarkSuccess(ctx, res.JobID); err != nil {
			logger.Error("mark success", slog.Any("error", err))
			return
		}
		logger.Info("job succeeded")
	case state.StatusFailed:
		if err := em.store.MarkFailure(ctx, res.JobID, res.Err.Error(), res.Attempts, res.MaxAttempts); err != nil {
			logger.Error("mark failure", slog.Any("error", err))
			return
		}
		if res.Attempts >= res.MaxAttempts {
			logger.Error("job failed permanently", slog.Any("error", res.Err))
		} else {
			logger.Warn("job failed, will retry", slog.Int("max_attempts", res.MaxAttempts), slog.Any("error", res.Err))
		}
	default:
		logger.Error("unknown job status", slog.String("status", res.Status.String()))
	}
}

func (em *EnqueueJobsManager) processDueJobs(ctx context.Context, queue string, sem *semaphore.Weighted, wg *sync.WaitGroup, batchSize int) {
	now := em.now()
	statuses := []state.JobStatus{state.StatusQueued, state.StatusRetrying}
	jobsList, err := em.store.FetchDueJobs(ctx, queue, 1, batchSize, statuses, &now)
	if err != nil {
		slog.Error("fetch due jobs", slog.String("queue", queue), slog.Any("error", err))
		return
	}

	for _, job := range jobsList.Items {
		// a full pool leaves the rest of the batch queued for the next tick
		if !sem.TryAcquire(1) {
			return
		}
		ok, err := em.store.LockJob(ctx, job.ID, em.instance)
		if err != nil || !ok {
			sem.Release(1)
			if err != nil {
				slog.Error("lock job", slog.Int64("job_id", job.ID), slog.Any("error", err))
			}
			continue
		}

		wg.Add(1)
		go em.handleJob(ctx, sem, wg, job)
	}
}

func (em *EnqueueJobsManager) handleJob(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup, job types.EnqueuedJob) {
	result := types.JobResult{
		JobID:       job.ID,
		JobName:     job.Name,
		Attempts:    job.Attempts + 1,
		MaxAttempts: job.MaxAttempts,
		RanAt:       em.now(),
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job", slog.Int64("job_id", job.ID), slog.Any("panic", r))
			result.Err = fmt.Errorf("panic: %v", r)
			result.Status = state.StatusFailed
		}
		em.jobResults <- result
		sem.Release(1)
		wg.Done()
	}()

	slog.Info("job started", slog.Int64("job_id", job.ID), slog.String("job", job.Name), slog.String("job_key", job.JobKey))
	if !em.jobHandler.Exists(job.Name) {
		result.Err = fmt.Errorf("handler %q not found", job.Name)
		result.Status = state.StatusFailed
		return
	}

	result.Err = em.jobHandler.Execute(ctx, job.Name, job.Payload)
	result.Status = em.errorToJobStatus(result.Err)
}

func (*EnqueueJobsManager) errorToJobStatus(err error) state.JobStatus {
	if err != nil {
		return state.StatusFailed
	}
	return state.StatusSucceeded
}

// QueueStats reports job counts per status for each named queue.
func (em *EnqueueJobsManager) QueueStats(ctx context.Context, names ...string) (map[string]map[state.JobStatus]int, error) {
	out := make(map[string]map[state.JobStatus]int, len(names))
	for _, name := range names {
		counts, err := em.store.CountAllJobsGroupedByStatus(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("count jobs for %s: %w", name, err)
		}
		out[name] = counts
	}
	return out, nil
}
