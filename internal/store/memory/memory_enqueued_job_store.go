package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
)

// MemoryEnqueuedJobStore is the in-process job queue used with the memory
// storage driver and in tests.
type MemoryEnqueuedJobStore struct {
	mu     sync.Mutex
	jobs   map[int64]*types.EnqueuedJob
	byKey  map[string]int64
	nextID int64
	now    func() time.Time
}

func NewMemoryEnqueuedJobStore() *MemoryEnqueuedJobStore {
	return &MemoryEnqueuedJobStore{
		jobs:  make(map[int64]*types.EnqueuedJob),
		byKey: make(map[string]int64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryEnqueuedJobStore) Insert(ctx context.Context, job types.Job) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[job.JobKey]; ok {
		return id, false, nil
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = constants.MaxRetryAttempt
	}
	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	s.nextID++
	s.jobs[s.nextID] = &types.EnqueuedJob{
		ID:          s.nextID,
		JobKey:      job.JobKey,
		Name:        job.Name,
		Payload:     append([]byte(nil), payload...),
		Status:      state.StatusQueued,
		MaxAttempts: maxAttempts,
		BackoffMs:   job.Backoff.Milliseconds(),
		ScheduledAt: job.ScheduledAt,
		CreatedAt:   s.now(),
	}
	s.byKey[job.JobKey] = s.nextID
	return s.nextID, true, nil
}

func (s *MemoryEnqueuedJobStore) FindByID(ctx context.Context, id int64) (*types.EnqueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job with ID %d not found: %w", id, sql.ErrNoRows)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryEnqueuedJobStore) FindByKey(ctx context.Context, jobKey string) (*types.EnqueuedJob, error) {
	s.mu.Lock()
	id, ok := s.byKey[jobKey]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("job with key %s not found: %w", jobKey, sql.ErrNoRows)
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryEnqueuedJobStore) FetchDueJobs(ctx context.Context, name string, page int, pageSize int, statuses []state.JobStatus, scheduledBefore *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []types.EnqueuedJob
	for _, job := range s.jobs {
		if job.Name != name {
			continue
		}
		if scheduledBefore != nil && job.ScheduledAt.After(*scheduledBefore) {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, job.Status) {
			continue
		}
		due = append(due, *job)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return store.Paginate(due, page, pageSize), nil
}

func (s *MemoryEnqueuedJobStore) LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || (job.Status != state.StatusQueued && job.Status != state.StatusRetrying) {
		return false, nil
	}
	now := s.now()
	job.Status = state.StatusProcessing
	job.LockedBy = &lockedBy
	job.LockedAt = &now
	job.ExecutedAt = &now
	return true, nil
}

func (s *MemoryEnqueuedJobStore) MarkSuccess(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("no job found with id %d", jobID)
	}
	now := s.now()
	job.Status = state.StatusSucceeded
	job.Attempts++
	job.FinishedAt = &now
	job.LockedBy, job.LockedAt = nil, nil
	return nil
}

func (s *MemoryEnqueuedJobStore) MarkFailure(ctx context.Context, jobID int64, errMsg string, attempts int, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("no job found with id %d", jobID)
	}
	now := s.now()
	job.Status = state.StatusFailed
	if attempts >= maxAttempts {
		job.Status = state.StatusDead
	}
	job.Attempts = attempts
	job.LastError = sql.NullString{String: errMsg, Valid: true}
	job.FinishedAt = &now
	job.LockedBy, job.LockedAt = nil, nil
	return nil
}

func (s *MemoryEnqueuedJobStore) MarkRetryFailedJobs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, job := range s.jobs {
		if job.Status != state.StatusFailed || job.Attempts >= job.MaxAttempts {
			continue
		}
		job.Status = state.StatusRetrying
		job.ScheduledAt = now.Add(retryDelay(job.BackoffMs, job.Attempts))
		job.LockedBy, job.LockedAt = nil, nil
	}
	return nil
}

func (s *MemoryEnqueuedJobStore) Cancel(ctx context.Context, jobKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[jobKey]
	if !ok {
		return false, nil
	}
	job := s.jobs[id]
	if !state.IsCancellable(job.Status, job.Attempts) {
		return false, nil
	}
	now := s.now()
	job.Status = state.StatusCancelled
	job.FinishedAt = &now
	return true, nil
}

func (s *MemoryEnqueuedJobStore) UnlockStaleJobs(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-timeout)
	for _, job := range s.jobs {
		if job.Status == state.StatusProcessing && job.LockedAt != nil && !job.LockedAt.After(cutoff) {
			job.Status = state.StatusQueued
			job.Attempts++
			job.LockedBy, job.LockedAt = nil, nil
		}
	}
	return nil
}

func (s *MemoryEnqueuedJobStore) CountAllJobsGroupedByStatus(ctx context.Context, name string) (map[state.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, st := range state.AllStatuses {
		counts[st] = 0
	}
	for _, job := range s.jobs {
		if name == "" || job.Name == name {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryEnqueuedJobStore) PurgeFinished(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Status != state.StatusSucceeded && job.Status != state.StatusCancelled {
			continue
		}
		if job.FinishedAt == nil || !job.FinishedAt.Before(olderThan) {
			continue
		}
		delete(s.jobs, id)
		delete(s.byKey, job.JobKey)
		removed++
	}
	return removed, nil
}

func (s *MemoryEnqueuedJobStore) RemoveByID(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("no job found with id %d", jobID)
	}
	delete(s.jobs, jobID)
	delete(s.byKey, job.JobKey)
	return nil
}

func (s *MemoryEnqueuedJobStore) Close() error {
	return nil
}

func hasStatus(statuses []state.JobStatus, st state.JobStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// retryDelay doubles the job's base backoff for every attempt already made.
func retryDelay(backoffMs int64, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(backoffMs) * time.Millisecond * time.Duration(int64(1)<<(attempts-1))
}
