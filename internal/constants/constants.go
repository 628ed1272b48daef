package constants

import "time"

const (
	MigrationLock = iota + 7001
	EnqueueLock
	RetryLock
	MaintenanceLock
	EventConsumerLock
	StaleLockSweepLock
)

var Locks = []int{
	MigrationLock,
	EnqueueLock,
	RetryLock,
	MaintenanceLock,
	EventConsumerLock,
	StaleLockSweepLock,
}

const (
	MaxRetryAttempt = 3
)

// Job names. They double as queue names: every name has its own worker pool.
const (
	CreateClaimJob  = "create-claim"
	DeleteServerJob = "delete-server"
)

const (
	CreateClaimBackoff  = 2 * time.Second
	DeleteServerBackoff = 5 * time.Second
)

const (
	CreateClaimConcurrency  = 2
	DeleteServerConcurrency = 1
)

const (
	InstallPollInterval = 30 * time.Second
	InstallMaxWait      = 10 * time.Minute
)
