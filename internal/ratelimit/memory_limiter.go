package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const defaultMaxKeys = 10000

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps per-key windows in an LRU so the key space stays bounded
// without a cleanup goroutine. Evicting a key only forgets its count early.
type MemoryLimiter struct {
	mu     sync.Mutex
	cache  *lru.Cache
	limit  int
	window time.Duration
	clock  Clock
}

func NewMemoryLimiter(limit int, window time.Duration, clock Clock, maxKeys int) (*MemoryLimiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if maxKeys < 1 {
		maxKeys = defaultMaxKeys
	}
	if clock == nil {
		clock = SystemClock()
	}
	cache, err := lru.New(maxKeys)
	if err != nil {
		return nil, err
	}
	return &MemoryLimiter{cache: cache, limit: limit, window: window, clock: clock}, nil
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.lookup(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.cache.Add(key, w)
	}

	if w.count >= l.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: l.limit - w.count, ResetAt: w.resetAt}, nil
}

func (l *MemoryLimiter) lookup(key string) (*window, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*window), true
}
