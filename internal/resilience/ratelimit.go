package resilience

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitedError is returned when a call exceeds the rate budget. It
// carries a positive wait estimate; callers back off and retry per their
// own policy rather than blocking inside the limiter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %.1fs", e.RetryAfter.Seconds())
}

// Limiter admits at most maxCalls per rolling window. It is non-blocking:
// a call outside the budget is refused with a retry-after estimate instead
// of waiting, which keeps batch scheduling predictable. One instance exists
// per external dependency; state is in-memory only.
type Limiter struct {
	maxCalls int
	window   time.Duration

	mu    sync.Mutex
	calls []time.Time // admission timestamps inside the window, oldest first

	nowFunc func() time.Time
}

// NewLimiter creates a sliding-window limiter.
func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		nowFunc:  time.Now,
	}
}

// Acquire attempts to admit one call. On success it records the call and
// returns nil; otherwise it returns a *RateLimitedError with the time until
// the oldest in-window call expires.
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.evict(now)

	if len(l.calls) < l.maxCalls {
		l.calls = append(l.calls, now)
		return nil
	}

	wait := l.window - now.Sub(l.calls[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return &RateLimitedError{RetryAfter: wait}
}

// Budget returns how many calls remain in the current window.
func (l *Limiter) Budget() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.nowFunc())
	return l.maxCalls - len(l.calls)
}

// evict drops timestamps that have left the window. Caller holds the lock.
func (l *Limiter) evict(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}
