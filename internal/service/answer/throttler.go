package answer

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttler decides when partial output may be pushed to chat and tracks the
// per-task timeout.
type Throttler struct {
	limiter *rate.Limiter
	start   time.Time
	timeout time.Duration
	now     func() time.Time
}

// NewThrottler allows one push per interval, the first one interval after
// creation. A non-positive timeout means the task never expires.
func NewThrottler(interval, timeout time.Duration, now func() time.Time) *Throttler {
	if now == nil {
		now = time.Now
	}
	start := now()
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	// spend the initial token so the first push waits a full interval
	limiter.AllowN(start, 1)
	return &Throttler{limiter: limiter, start: start, timeout: timeout, now: now}
}

// ShouldPush reports whether a push is allowed now, consuming the slot if so
func (t *Throttler) ShouldPush() bool {
	return t.limiter.AllowN(t.now(), 1)
}

// Expired reports whether the task ran past its timeout
func (t *Throttler) Expired() bool {
	return t.timeout > 0 && t.Elapsed() >= t.timeout
}

// Deadline returns when the task times out, or the zero time without a timeout
func (t *Throttler) Deadline() time.Time {
	if t.timeout <= 0 {
		return time.Time{}
	}
	return t.start.Add(t.timeout)
}

// Elapsed returns the time since the task started
func (t *Throttler) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// Started returns when the task started
func (t *Throttler) Started() time.Time {
	return t.start
}
