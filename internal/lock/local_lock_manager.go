package lock

import (
	"fmt"
	"sync"
)

// LocalLockManager serves single-process deployments (bolt or memory storage)
// where there is no database to hold advisory locks.
type LocalLockManager struct {
	mu    sync.Mutex
	locks map[int]chan struct{}
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{locks: make(map[int]chan struct{})}
}

func (l *LocalLockManager) slot(lockID int) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[lockID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[lockID] = ch
	}
	return ch
}

func (l *LocalLockManager) Acquire(lockID int) error {
	l.slot(lockID) <- struct{}{}
	return nil
}

func (l *LocalLockManager) TryAcquire(lockID int) (bool, error) {
	select {
	case l.slot(lockID) <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (l *LocalLockManager) Release(lockID int) error {
	select {
	case <-l.slot(lockID):
		return nil
	default:
		return fmt.Errorf("failed to release lock %d: %w", lockID, ErrNotHeld)
	}
}
