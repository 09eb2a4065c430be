package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWindow(t *testing.T) {
	current := time.Unix(1700000000, 0)
	l := New()
	l.now = func() time.Time { return current }

	results := make([]bool, 0, 4)
	for i := 0; i < 4; i++ {
		results = append(results, l.Allow("key", 3, time.Second))
		current = current.Add(100 * time.Millisecond)
	}
	assert.Equal(t, []bool{true, true, true, false}, results)

	current = current.Add(2 * time.Second)
	assert.True(t, l.Allow("key", 3, time.Second))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New()
	require.True(t, l.Allow("a", 1, time.Minute))
	require.False(t, l.Allow("a", 1, time.Minute))
	assert.True(t, l.Allow("b", 1, time.Minute))
}

func TestLimiterWaitUnblocks(t *testing.T) {
	l := New()
	require.True(t, l.Allow("key", 1, 30*time.Millisecond))

	start := time.Now()
	err := l.Wait(context.Background(), "key", 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := New()
	require.True(t, l.Allow("key", 1, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "key", 1, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
