package queue

import (
	"math/rand/v2"
	"time"
)

// Policy decides how often and how late a failed task is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Jitter picks the actual delay for a backoff of d. Defaults to a uniform
	// draw from [0, d].
	Jitter func(d time.Duration) time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 4,
		BaseDelay:  30 * time.Second,
		MaxDelay:   600 * time.Second,
	}
}

// MaxAttempts is the number of runs a task gets, the first one included.
func (p Policy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff is the delay ceiling before retry n (1-based): BaseDelay doubled
// n-1 times, never above MaxDelay.
func (p Policy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Delay is the jittered wait before retry n.
func (p Policy) Delay(n int) time.Duration {
	d := p.Backoff(n)
	if p.Jitter != nil {
		return p.Jitter(d)
	}
	return fullJitter(d)
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}
