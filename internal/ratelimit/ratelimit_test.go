package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/domain"
)

func TestMemoryAllow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := range 3 {
		ok, err := m.Allow(ctx, "alice", "invest", 3)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i)
	}
	ok, _ := m.Allow(ctx, "alice", "invest", 3)
	assert.False(t, ok)

	// other pairs are independent
	ok, _ = m.Allow(ctx, "alice", "withdraw", 3)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "bob", "invest", 3)
	assert.True(t, ok)

	now = now.Add(20 * time.Minute)
	wait, err := m.Remaining(ctx, "alice", "invest")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Minute, wait)

	now = now.Add(41 * time.Minute)
	ok, _ = m.Allow(ctx, "alice", "invest", 3)
	assert.True(t, ok)
	wait, _ = m.Remaining(ctx, "alice", "invest")
	assert.Equal(t, Window, wait)
}

func TestMemoryRemainingUnknown(t *testing.T) {
	wait, err := NewMemory().Remaining(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestMemoryPrune(t *testing.T) {
	now := time.Now()
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()
	_, _ = m.Allow(ctx, "a", "run", 1)
	_, _ = m.Allow(ctx, "b", "run", 1)

	assert.Zero(t, m.Prune())
	now = now.Add(2 * Window)
	assert.Equal(t, 2, m.Prune())
}

func TestCheck(t *testing.T) {
	now := time.Now()
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, Check(ctx, m, "alice", "run", 1))
	err := Check(ctx, m, "alice", "run", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Contains(t, err.Error(), "try again in 60 min")

	// disabled limits
	assert.NoError(t, Check(ctx, m, "alice", "run", 0))
	assert.NoError(t, Check(ctx, nil, "alice", "run", 1))
}

func TestNewRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func TestMinutes(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 1},
		{time.Minute, 1},
		{61 * time.Second, 2},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, minutes(tt.in))
		})
	}
}
