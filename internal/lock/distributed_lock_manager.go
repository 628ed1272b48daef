package lock

import "errors"

var ErrNotHeld = errors.New("lock not held")

type DistributedLockManager interface {
	Acquire(lockID int) error
	// TryAcquire returns false without waiting when another holder has the lock.
	TryAcquire(lockID int) (bool, error)
	Release(lockID int) error
}
