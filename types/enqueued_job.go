package types

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/state"
)

type EnqueuedJob struct {
	ID          int64
	JobKey      string
	Name        string
	Payload     json.RawMessage
	Status      state.JobStatus
	Attempts    int
	MaxAttempts int
	BackoffMs   int64
	ScheduledAt time.Time
	ExecutedAt  *time.Time
	FinishedAt  *time.Time
	LastError   sql.NullString
	LockedBy    *string
	LockedAt    *time.Time
	CreatedAt   time.Time
}

// Job is what a caller hands to the queue. JobKey is the idempotency key:
// inserting a second job with the same key is a no-op.
type Job struct {
	JobKey      string          `json:"job_key"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
}

// ClaimJobPayload is the body of both create-claim and delete-server jobs.
type ClaimJobPayload struct {
	ClaimID string `json:"claim_id"`
}
