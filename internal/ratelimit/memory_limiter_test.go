package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l, err := NewMemoryLimiter(3, time.Minute, clock, 100)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 2; i >= 0; i-- {
		d, err := l.Allow(ctx, "6281@s.whatsapp.net")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Remaining)
	}

	d, _ := l.Allow(ctx, "6281@s.whatsapp.net")
	assert.False(t, d.Allowed)
	assert.Equal(t, clock.now.Add(time.Minute), d.ResetAt)

	other, _ := l.Allow(ctx, "6289@s.whatsapp.net")
	assert.True(t, other.Allowed, "keys are independent")

	clock.Advance(time.Minute)
	d, _ = l.Allow(ctx, "6281@s.whatsapp.net")
	assert.True(t, d.Allowed, "window resets")
	assert.Equal(t, 2, d.Remaining)
}

func TestMemoryLimiter_BoundedKeys(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l, err := NewMemoryLimiter(1, time.Minute, clock, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("ip-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, l.cache.Len())
}

func TestNewMemoryLimiter_RejectsZeroLimit(t *testing.T) {
	_, err := NewMemoryLimiter(0, time.Minute, nil, 0)
	assert.Error(t, err)
}
