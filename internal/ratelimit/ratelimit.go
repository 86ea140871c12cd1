// Package ratelimit implements a sliding-window request counter on the shared
// cache, so a pool of workers enforces one budget per (action, actor) pair.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/metrics"
)

// Limit is the budget for one action class.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Result reports the outcome of a limiter check.
type Result struct {
	Limited   bool
	Remaining int
}

type Limiter struct {
	cache cache.Cache

	// failClosed blocks traffic when the cache backend is unreachable.
	// Defaults to fail-open: an infrastructure outage should not take
	// legitimate traffic down with it, at the cost of briefly unmetered
	// requests. Deployments preferring the stricter posture flip this.
	failClosed bool

	// now is swappable so tests can cross window boundaries.
	now func() time.Time
}

func New(c cache.Cache, failClosed bool) *Limiter {
	return &Limiter{
		cache:      c,
		failClosed: failClosed,
		now:        time.Now,
	}
}

// Check counts this request against the actor's budget for the action class
// and reports whether it should be refused. The window slides: the previous
// bucket's count is weighted by how much of it still overlaps the window, so
// a burst does not get a fresh allowance at each bucket boundary.
func (l *Limiter) Check(ctx context.Context, action, actor string, limit Limit) Result {
	now := l.now()
	windowSecs := int64(limit.Window / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	bucket := now.Unix() / windowSecs

	curKey := counterKey(action, actor, bucket)
	prevKey := counterKey(action, actor, bucket-1)

	// Buckets live two windows so the previous bucket is still readable.
	current, err := l.cache.Incr(ctx, curKey, 2*limit.Window)
	if err != nil {
		return l.degraded(action, actor, err)
	}

	var previous int64
	prevVal, err := l.cache.Get(ctx, prevKey)
	if err == nil {
		previous, _ = strconv.ParseInt(prevVal, 10, 64)
	} else if err != cache.ErrMiss {
		return l.degraded(action, actor, err)
	}

	elapsed := float64(now.Unix()%windowSecs) / float64(windowSecs)
	weighted := float64(previous)*(1-elapsed) + float64(current)

	remaining := limit.MaxRequests - int(weighted)
	if remaining < 0 {
		remaining = 0
	}

	if weighted > float64(limit.MaxRequests) {
		metrics.RateLimitHits.WithLabelValues(action).Inc()
		return Result{Limited: true, Remaining: remaining}
	}

	return Result{Limited: false, Remaining: remaining}
}

// degraded applies the configured failure policy when the cache backend is
// unreachable. Always logged: an unmetered (or blocked) period is an
// operational signal either way.
func (l *Limiter) degraded(action, actor string, err error) Result {
	slog.Warn("rate limiter degraded, cache unreachable",
		"action", action,
		"actor", actor,
		"fail_closed", l.failClosed,
		"error", err,
	)
	metrics.RateLimitDegraded.Inc()

	if l.failClosed {
		return Result{Limited: true, Remaining: 0}
	}
	return Result{Limited: false, Remaining: 0}
}

func counterKey(action, actor string, bucket int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", action, actor, bucket)
}
