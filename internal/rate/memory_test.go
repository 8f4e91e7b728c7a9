package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		res, err := l.Allow(context.Background(), "203.0.113.7")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d must be allowed", i+1)
		}
	}
	res, _ := l.Allow(context.Background(), "203.0.113.7")
	if res.Allowed {
		t.Fatalf("fourth hit must be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("rejection must carry a retry-after, got %v", res.RetryAfter)
	}

	// Other keys are independent.
	if res, _ := l.Allow(context.Background(), "198.51.100.1"); !res.Allowed {
		t.Fatalf("distinct key must have its own window")
	}

	// A new window resets the counter.
	l.now = func() time.Time { return base.Add(time.Minute) }
	if res, _ := l.Allow(context.Background(), "203.0.113.7"); !res.Allowed {
		t.Fatalf("next window must reset the counter")
	}
}
