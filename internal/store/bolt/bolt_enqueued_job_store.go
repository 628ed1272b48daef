package bolt

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types"
	bolt "go.etcd.io/bbolt"
)

var (
	jobsBucket    = []byte("jobs")
	jobKeysBucket = []byte("job_keys")
)

// JobsPath derives the queue file from the claim store file so a single
// configured path covers both.
func JobsPath(claimsPath string) string {
	ext := filepath.Ext(claimsPath)
	return strings.TrimSuffix(claimsPath, ext) + "-jobs" + ext
}

// BoltEnqueuedJobStore is the file-backed job queue for single-node deployments.
// Every state change runs in one bbolt write transaction, so LockJob and Cancel
// cannot both win for the same job.
type BoltEnqueuedJobStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltEnqueuedJobStore(path string) (*BoltEnqueuedJobStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt job store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{jobsBucket, jobKeysBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt job buckets: %w", err)
	}
	return &BoltEnqueuedJobStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *BoltEnqueuedJobStore) Insert(ctx context.Context, job types.Job) (int64, bool, error) {
	var id int64
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		keys := tx.Bucket(jobKeysBucket)
		if existing := keys.Get([]byte(job.JobKey)); existing != nil {
			id = decodeID(existing)
			return nil
		}

		seq, err := tx.Bucket(jobsBucket).NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)

		maxAttempts := job.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = constants.MaxRetryAttempt
		}
		payload := job.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		rec := &types.EnqueuedJob{
			ID:          id,
			JobKey:      job.JobKey,
			Name:        job.Name,
			Payload:     payload,
			Status:      state.StatusQueued,
			MaxAttempts: maxAttempts,
			BackoffMs:   job.Backoff.Milliseconds(),
			ScheduledAt: job.ScheduledAt,
			CreatedAt:   s.now(),
		}
		if err := putJob(tx, rec); err != nil {
			return err
		}
		inserted = true
		return keys.Put([]byte(job.JobKey), encodeID(id))
	})
	if err != nil {
		return 0, false, fmt.Errorf("insert job %s: %w", job.JobKey, err)
	}
	return id, inserted, nil
}

func (s *BoltEnqueuedJobStore) FindByID(ctx context.Context, id int64) (*types.EnqueuedJob, error) {
	var job *types.EnqueuedJob
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		job, err = getJob(tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("job with ID %d not found: %w", id, err)
	}
	return job, nil
}

func (s *BoltEnqueuedJobStore) FindByKey(ctx context.Context, jobKey string) (*types.EnqueuedJob, error) {
	var job *types.EnqueuedJob
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(jobKeysBucket).Get([]byte(jobKey))
		if raw == nil {
			return sql.ErrNoRows
		}
		var err error
		job, err = getJob(tx, decodeID(raw))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("job with key %s not found: %w", jobKey, err)
	}
	return job, nil
}

func (s *BoltEnqueuedJobStore) FetchDueJobs(ctx context.Context, name string, page int, pageSize int, statuses []state.JobStatus, scheduledBefore *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {
	wanted := make(map[state.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var due []types.EnqueuedJob
	err := s.forEach(func(job *types.EnqueuedJob) error {
		if job.Name != name {
			return nil
		}
		if scheduledBefore != nil && job.ScheduledAt.After(*scheduledBefore) {
			return nil
		}
		if len(wanted) > 0 && !wanted[job.Status] {
			return nil
		}
		due = append(due, *job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return store.Paginate(due, page, pageSize), nil
}

func (s *BoltEnqueuedJobStore) LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
	locked := false
	err := s.mutate(jobID, func(job *types.EnqueuedJob) bool {
		if job.Status != state.StatusQueued && job.Status != state.StatusRetrying {
			return false
		}
		now := s.now()
		job.Status = state.StatusProcessing
		job.LockedBy = &lockedBy
		job.LockedAt = &now
		job.ExecutedAt = &now
		locked = true
		return true
	})
	return locked, err
}

func (s *BoltEnqueuedJobStore) MarkSuccess(ctx context.Context, jobID int64) error {
	return s.mutate(jobID, func(job *types.EnqueuedJob) bool {
		now := s.now()
		job.Status = state.StatusSucceeded
		job.Attempts++
		job.FinishedAt = &now
		job.LockedBy, job.LockedAt = nil, nil
		return true
	})
}

func (s *BoltEnqueuedJobStore) MarkFailure(ctx context.Context, jobID int64, errMsg string, attempts int, maxAttempts int) error {
	return s.mutate(jobID, func(job *types.EnqueuedJob) bool {
		now := s.now()
		job.Status = state.StatusFailed
		if attempts >= maxAttempts {
			job.Status = state.StatusDead
		}
		job.Attempts = attempts
		job.LastError = sql.NullString{String: errMsg, Valid: true}
		job.FinishedAt = &now
		job.LockedBy, job.LockedAt = nil, nil
		return true
	})
}

func (s *BoltEnqueuedJobStore) MarkRetryFailedJobs(ctx context.Context) error {
	now := s.now()
	return s.mutateAll(func(job *types.EnqueuedJob) bool {
		if job.Status != state.StatusFailed || job.Attempts >= job.MaxAttempts {
			return false
		}
		attempts := job.Attempts
		if attempts < 1 {
			attempts = 1
		}
		job.Status = state.StatusRetrying
		job.ScheduledAt = now.Add(time.Duration(job.BackoffMs) * time.Millisecond * time.Duration(int64(1)<<(attempts-1)))
		job.LockedBy, job.LockedAt = nil, nil
		return true
	})
}

func (s *BoltEnqueuedJobStore) Cancel(ctx context.Context, jobKey string) (bool, error) {
	cancelled := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket(jobKeysBucket).Get([]byte(jobKey))
		if raw == nil {
			return nil
		}
		job, err := getJob(tx, decodeID(raw))
		if err != nil {
			return err
		}
		if !state.IsCancellable(job.Status, job.Attempts) {
			return nil
		}
		now := s.now()
		job.Status = state.StatusCancelled
		job.FinishedAt = &now
		cancelled = true
		return putJob(tx, job)
	})
	return cancelled, err
}

func (s *BoltEnqueuedJobStore) UnlockStaleJobs(ctx context.Context, timeout time.Duration) error {
	cutoff := s.now().Add(-timeout)
	return s.mutateAll(func(job *types.EnqueuedJob) bool {
		if job.Status != state.StatusProcessing || job.LockedAt == nil || job.LockedAt.After(cutoff) {
			return false
		}
		job.Status = state.StatusQueued
		job.Attempts++
		job.LockedBy, job.LockedAt = nil, nil
		return true
	})
}

func (s *BoltEnqueuedJobStore) CountAllJobsGroupedByStatus(ctx context.Context, name string) (map[state.JobStatus]int, error) {
	counts := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, st := range state.AllStatuses {
		counts[st] = 0
	}
	err := s.forEach(func(job *types.EnqueuedJob) error {
		if name == "" || job.Name == name {
			counts[job.Status]++
		}
		return nil
	})
	return counts, err
}

func (s *BoltEnqueuedJobStore) PurgeFinished(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		var stale []*types.EnqueuedJob
		err := tx.Bucket(jobsBucket).ForEach(func(_, v []byte) error {
			var job types.EnqueuedJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status != state.StatusSucceeded && job.Status != state.StatusCancelled {
				return nil
			}
			if job.FinishedAt != nil && job.FinishedAt.Before(olderThan) {
				stale = append(stale, &job)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, job := range stale {
			if err := deleteJob(tx, job); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *BoltEnqueuedJobStore) RemoveByID(ctx context.Context, jobID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return fmt.Errorf("no job found with id %d", jobID)
		}
		return deleteJob(tx, job)
	})
}

func (s *BoltEnqueuedJobStore) Close() error {
	return s.db.Close()
}

func (s *BoltEnqueuedJobStore) mutate(jobID int64, fn func(job *types.EnqueuedJob) bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return fmt.Errorf("no job found with id %d", jobID)
		}
		if !fn(job) {
			return nil
		}
		return putJob(tx, job)
	})
}

func (s *BoltEnqueuedJobStore) mutateAll(fn func(job *types.EnqueuedJob) bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var changed []*types.EnqueuedJob
		err := tx.Bucket(jobsBucket).ForEach(func(_, v []byte) error {
			var job types.EnqueuedJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if fn(&job) {
				changed = append(changed, &job)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, job := range changed {
			if err := putJob(tx, job); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltEnqueuedJobStore) forEach(fn func(job *types.EnqueuedJob) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(_, v []byte) error {
			var job types.EnqueuedJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			return fn(&job)
		})
	})
}

func getJob(tx *bolt.Tx, id int64) (*types.EnqueuedJob, error) {
	raw := tx.Bucket(jobsBucket).Get(encodeID(id))
	if raw == nil {
		return nil, sql.ErrNoRows
	}
	var job types.EnqueuedJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %d: %w", id, err)
	}
	return &job, nil
}

func putJob(tx *bolt.Tx, job *types.EnqueuedJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %d: %w", job.ID, err)
	}
	return tx.Bucket(jobsBucket).Put(encodeID(job.ID), raw)
}

func deleteJob(tx *bolt.Tx, job *types.EnqueuedJob) error {
	if err := tx.Bucket(jobsBucket).Delete(encodeID(job.ID)); err != nil {
		return err
	}
	return tx.Bucket(jobKeysBucket).Delete([]byte(job.JobKey))
}

// ids are stored big-endian so the bucket iterates in insertion order
func encodeID(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
