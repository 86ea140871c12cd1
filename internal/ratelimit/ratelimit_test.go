package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atelierhq/atelier/internal/cache"
)

// brokenCache simulates an unreachable backend.
type brokenCache struct {
	cache.Cache
}

func (c *brokenCache) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

// bucketStart pins the clock to a bucket boundary so the previous bucket
// carries full weight.
func bucketStart(window time.Duration) time.Time {
	secs := int64(window / time.Second)
	return time.Unix((time.Now().Unix()/secs)*secs, 0)
}

func TestCheckLimitsExcessRequests(t *testing.T) {
	l := New(cache.NewMemory(), false)
	now := bucketStart(time.Minute)
	l.now = func() time.Time { return now }
	limit := Limit{MaxRequests: 5, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := l.Check(ctx, "upload", "ws-1", limit)
		assert.False(t, res.Limited, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res := l.Check(ctx, "upload", "ws-1", limit)
	assert.True(t, res.Limited)
	assert.Zero(t, res.Remaining)
}

func TestCheckIsolatesActorsAndActions(t *testing.T) {
	l := New(cache.NewMemory(), false)
	now := bucketStart(time.Minute)
	l.now = func() time.Time { return now }
	limit := Limit{MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	assert.False(t, l.Check(ctx, "upload", "ws-1", limit).Limited)
	assert.True(t, l.Check(ctx, "upload", "ws-1", limit).Limited)

	// Another workspace and another action class have their own budgets.
	assert.False(t, l.Check(ctx, "upload", "ws-2", limit).Limited)
	assert.False(t, l.Check(ctx, "download", "ws-1", limit).Limited)
}

func TestCheckWindowSlides(t *testing.T) {
	l := New(cache.NewMemory(), false)
	start := bucketStart(time.Minute)
	now := start
	l.now = func() time.Time { return now }
	limit := Limit{MaxRequests: 5, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.False(t, l.Check(ctx, "upload", "ws-1", limit).Limited)
	}

	// Just across the boundary the previous bucket still carries its full
	// weight, so the burst gets no fresh allowance.
	now = start.Add(time.Minute)
	assert.True(t, l.Check(ctx, "upload", "ws-1", limit).Limited)

	// Halfway through, the old burst has mostly decayed.
	now = start.Add(time.Minute + 30*time.Second)
	assert.False(t, l.Check(ctx, "upload", "ws-1", limit).Limited)

	// Two full windows later the burst is out of scope entirely.
	now = start.Add(3 * time.Minute)
	res := l.Check(ctx, "upload", "ws-1", limit)
	assert.False(t, res.Limited)
	assert.Equal(t, 4, res.Remaining)
}

func TestCheckFailOpen(t *testing.T) {
	l := New(&brokenCache{}, false)
	res := l.Check(context.Background(), "upload", "ws-1", Limit{MaxRequests: 5, Window: time.Minute})
	assert.False(t, res.Limited)
}

func TestCheckFailClosed(t *testing.T) {
	l := New(&brokenCache{}, true)
	res := l.Check(context.Background(), "upload", "ws-1", Limit{MaxRequests: 5, Window: time.Minute})
	assert.True(t, res.Limited)
	assert.Zero(t, res.Remaining)
}
