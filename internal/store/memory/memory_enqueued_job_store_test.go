package memory

import (
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/internal/store/storetest"
	"github.com/stretchr/testify/assert"
)

func TestMemoryEnqueuedJobStore(t *testing.T) {
	storetest.RunEnqueuedJobStoreSuite(t, func(t *testing.T) store.EnqueuedJobStore {
		return NewMemoryEnqueuedJobStore()
	})
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(2000, 1))
	assert.Equal(t, 4*time.Second, retryDelay(2000, 2))
	assert.Equal(t, 20*time.Second, retryDelay(5000, 3))
	assert.Equal(t, 5*time.Second, retryDelay(5000, 0))
}
