package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process fixed window limiter used when no redis
// is configured. Counters are per instance; good enough for a single
// replica or for development.
type MemoryLimiter struct {
	Max    int64
	Window time.Duration

	mu   sync.Mutex
	hits map[string]*window
	now  func() time.Time
}

type window struct {
	start time.Time
	count int64
}

func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		Max:    int64(max),
		Window: win,
		hits:   make(map[string]*window),
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.hits[key]
	if w == nil || !w.start.Equal(winStart) {
		w = &window{start: winStart}
		l.hits[key] = w
	}
	w.count++

	// opportunistic sweep of stale windows
	if len(l.hits) > 1024 {
		for k, old := range l.hits {
			if !old.start.Equal(winStart) {
				delete(l.hits, k)
			}
		}
	}

	remaining := l.Max - w.count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     w.count <= l.Max,
		Remaining:   remaining,
		CurrentHits: w.count,
		WindowTTL:   winStart.Add(l.Window).Sub(now),
	}
	if !res.Allowed {
		res.RetryAfter = res.WindowTTL
	}
	return res, nil
}
