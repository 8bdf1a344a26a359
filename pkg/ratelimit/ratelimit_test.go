package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	tb := NewTokenBucket(2, 1)
	tb.now = func() time.Time { return now }
	tb.lastRefill = now

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	now = now.Add(500 * time.Millisecond)
	assert.False(t, tb.Allow())
	now = now.Add(500 * time.Millisecond)
	assert.True(t, tb.Allow())

	now = now.Add(time.Hour)
	assert.Equal(t, 2, tb.Remaining())
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 0.001)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestTokenBucket_Unlimited(t *testing.T) {
	tb := NewTokenBucket(1, 0)
	for i := 0; i < 100; i++ {
		require.True(t, tb.Allow())
	}
}
