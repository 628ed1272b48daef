package types

import (
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/state"
)

type JobResult struct {
	JobID       int64
	JobName     string
	Err         error
	Attempts    int
	MaxAttempts int
	Status      state.JobStatus
	RanAt       time.Time
}
