package connection

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// ReconnectTimer holds the earliest time any connection may dial again. It
// is shared by every Session of a process and only ever moves forward, so a
// network outage spreads the reconnect attempts of all sessions over the
// same randomized window.
type ReconnectTimer struct {
	mu        sync.Mutex
	next      time.Time
	base      time.Duration
	maxFactor int
	now       func() time.Time
	uniform   func(lo, hi float64) float64
}

// TimerOption configures a ReconnectTimer.
type TimerOption func(*ReconnectTimer)

// WithBase sets the backoff unit. The default is 10s.
func WithBase(d time.Duration) TimerOption {
	return func(t *ReconnectTimer) { t.base = d }
}

// WithMaxFactor caps the exponential factor applied to the base. The
// default is 64.
func WithMaxFactor(n int) TimerOption {
	return func(t *ReconnectTimer) { t.maxFactor = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TimerOption {
	return func(t *ReconnectTimer) { t.now = now }
}

// WithRand replaces the uniform random source.
func WithRand(uniform func(lo, hi float64) float64) TimerOption {
	return func(t *ReconnectTimer) { t.uniform = uniform }
}

// NewReconnectTimer creates a timer whose first window is
// [now+base, now+2*base).
func NewReconnectTimer(opts ...TimerOption) *ReconnectTimer {
	t := &ReconnectTimer{
		base:      10 * time.Second,
		maxFactor: 64,
		now:       time.Now,
		uniform: func(lo, hi float64) float64 {
			return lo + rand.Float64()*(hi-lo)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.next = t.now().Add(t.jitter(t.base))
	return t
}

var (
	sharedOnce  sync.Once
	sharedTimer *ReconnectTimer
)

// SharedTimer returns the process-wide timer.
func SharedTimer() *ReconnectTimer {
	sharedOnce.Do(func() { sharedTimer = NewReconnectTimer() })
	return sharedTimer
}

// SetCount moves the timer forward for the count-th consecutive failure.
// It does nothing while the current window has not elapsed yet.
func (t *ReconnectTimer) SetCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.next.Before(now) {
		return
	}
	factor := t.maxFactor
	if count < 31 && 1<<count < factor {
		factor = 1 << count
	}
	t.next = now.Add(t.jitter(time.Duration(factor) * t.base))
}

// Next returns the earliest reconnect time.
func (t *ReconnectTimer) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Wait sleeps until Next or until ctx ends.
func (t *ReconnectTimer) Wait(ctx context.Context) error {
	d := t.Next().Sub(t.now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jitter returns a duration uniformly drawn from [d, 2d). Must be called
// with lock held or during construction.
func (t *ReconnectTimer) jitter(d time.Duration) time.Duration {
	s := d.Seconds()
	return time.Duration(t.uniform(s, 2*s) * float64(time.Second))
}
