package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/types"
)

const jobColumns = `id, job_key, name, payload, status, attempts, max_attempts, backoff_ms,
		       scheduled_at, executed_at, finished_at, last_error,
		       locked_by, locked_at, created_at`

type PostgresEnqueuedJobStore struct {
	db *sql.DB
}

func NewPostgresEnqueuedJobStore(db *sql.DB) *PostgresEnqueuedJobStore {
	return &PostgresEnqueuedJobStore{
		db: db,
	}
}

func (r *PostgresEnqueuedJobStore) Insert(ctx context.Context, job types.Job) (int64, bool, error) {
	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = constants.MaxRetryAttempt
	}
	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
        INSERT INTO claim_schema.enqueued_jobs (
            job_key,
            name,
            payload,
            scheduled_at,
            max_attempts,
            backoff_ms,
            created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, now())
        ON CONFLICT (job_key) DO NOTHING
        RETURNING id
    `

	var jobID int64
	err := r.db.QueryRowContext(ctx, query,
		job.JobKey,
		job.Name,
		[]byte(payload),
		job.ScheduledAt,
		maxAttempts,
		job.Backoff.Milliseconds(),
	).Scan(&jobID)

	if errors.Is(err, sql.ErrNoRows) {
		existing, err := r.FindByKey(ctx, job.JobKey)
		if err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert job %s: %w", job.JobKey, err)
	}
	return jobID, true, nil
}

func (r *PostgresEnqueuedJobStore) FindByID(ctx context.Context, id int64) (*types.EnqueuedJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM claim_schema.enqueued_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("job with ID %d not found: %w", id, err)
	}
	return job, nil
}

func (r *PostgresEnqueuedJobStore) FindByKey(ctx context.Context, jobKey string) (*types.EnqueuedJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM claim_schema.enqueued_jobs WHERE job_key = $1`, jobKey)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("job with key %s not found: %w", jobKey, err)
	}
	return job, nil
}

func (r *PostgresEnqueuedJobStore) RemoveByID(ctx context.Context, jobID int64) error {
	query := `DELETE FROM claim_schema.enqueued_jobs WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %d: %w", jobID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no job found with id %d", jobID)
	}

	return nil
}

func (r *PostgresEnqueuedJobStore) FetchDueJobs(
	ctx context.Context,
	name string,
	page int,
	pageSize int,
	statuses []state.JobStatus,
	scheduledBefore *time.Time) (*types.PaginationResult[types.EnqueuedJob], error) {

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := "name = $1"
	args := []interface{}{name}
	argIndex := 2

	if scheduledBefore != nil {
		where += fmt.Sprintf(" AND scheduled_at <= $%d", argIndex)
		args = append(args, *scheduledBefore)
		argIndex++
	}

	if len(statuses) > 0 {
		placeholders := []string{}
		for _, s := range statuses {
			placeholders = append(placeholders, fmt.Sprintf("$%d", argIndex))
			args = append(args, s)
			argIndex++
		}
		where += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	countQuery := `SELECT COUNT(*) FROM claim_schema.enqueued_jobs WHERE ` + where
	selectQuery := `SELECT ` + jobColumns + `
		FROM claim_schema.enqueued_jobs
		WHERE ` + where + fmt.Sprintf(" ORDER BY scheduled_at ASC, id ASC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)

	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectQuery, append(args, pageSize, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.EnqueuedJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

// MarkRetryFailedJobs reschedules every failed job that still has attempts left.
// The delay doubles per attempt from the job's own backoff base.
func (r *PostgresEnqueuedJobStore) MarkRetryFailedJobs(ctx context.Context) error {
	query := `
		UPDATE claim_schema.enqueued_jobs
		SET
			status = $1,
			scheduled_at = NOW() + (backoff_ms * power(2, GREATEST(attempts - 1, 0))) * INTERVAL '1 millisecond',
			locked_by = NULL,
			locked_at = NULL
		WHERE status = $2
		  AND attempts < max_attempts
	`

	_, err := r.db.ExecContext(ctx, query, state.StatusRetrying, state.StatusFailed)
	return err
}

func (r *PostgresEnqueuedJobStore) LockJob(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE claim_schema.enqueued_jobs
		SET locked_at = NOW(),
		    executed_at = NOW(),
		    locked_by = $1,
		    status = $2
		WHERE id = $3 AND (status = $4 OR status = $5)
	`, lockedBy, state.StatusProcessing, jobID, state.StatusQueued, state.StatusRetrying)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresEnqueuedJobStore) MarkSuccess(ctx context.Context, jobID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE claim_schema.enqueued_jobs
		SET status = 'succeeded',
		    attempts = attempts + 1,
		    finished_at = NOW(),
		    locked_by = NULL,
		    locked_at = NULL
		WHERE id = $1
	`, jobID)

	return err
}

func (r *PostgresEnqueuedJobStore) MarkFailure(ctx context.Context, jobID int64, errMsg string, attempts int, maxAttempts int) error {
	status := state.StatusFailed
	if attempts >= maxAttempts {
		status = state.StatusDead
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE claim_schema.enqueued_jobs
		SET attempts = $2,
		    last_error = $3,
		    status = $4,
		    finished_at = NOW(),
		    locked_by = NULL,
		    locked_at = NULL
		WHERE id = $1
	`, jobID, attempts, errMsg, status)

	return err
}

func (r *PostgresEnqueuedJobStore) Cancel(ctx context.Context, jobKey string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE claim_schema.enqueued_jobs
		SET status = $1,
		    finished_at = NOW()
		WHERE job_key = $2 AND status = $3 AND attempts = 0
	`, state.StatusCancelled, jobKey, state.StatusQueued)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *PostgresEnqueuedJobStore) UnlockStaleJobs(ctx context.Context, timeout time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE claim_schema.enqueued_jobs
        SET status = $1,
            attempts = attempts + 1,
            locked_by = NULL,
            locked_at = NULL
        WHERE status = $2 AND locked_at <= $3
    `,
		state.StatusQueued,
		state.StatusProcessing,
		time.Now().Add(-timeout))
	return err
}

func (r *PostgresEnqueuedJobStore) CountAllJobsGroupedByStatus(ctx context.Context, name string) (map[state.JobStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM claim_schema.enqueued_jobs
		GROUP BY status
	`
	var args []any
	if name != "" {
		query = `
		SELECT status, COUNT(*) AS count
		FROM claim_schema.enqueued_jobs
		WHERE name = $1
		GROUP BY status
	`
		args = append(args, name)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}

	return result, rows.Err()
}

func (r *PostgresEnqueuedJobStore) PurgeFinished(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM claim_schema.enqueued_jobs
		WHERE status IN ($1, $2) AND finished_at < $3
	`, state.StatusSucceeded, state.StatusCancelled, olderThan)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (r *PostgresEnqueuedJobStore) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.EnqueuedJob, error) {
	var job types.EnqueuedJob
	var payload []byte
	if err := row.Scan(
		&job.ID,
		&job.JobKey,
		&job.Name,
		&payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.BackoffMs,
		&job.ScheduledAt,
		&job.ExecutedAt,
		&job.FinishedAt,
		&job.LastError,
		&job.LockedBy,
		&job.LockedAt,
		&job.CreatedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = payload

	return &job, nil
}
