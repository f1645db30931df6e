package channel

import (
	"context"
	"sync"
)

// Tracker counts work queued on a set of channels that has not been
// processed yet. The pipeline owner waits for it to drain before asking
// upstream for the next update, so every listener has handled batch N
// before batch N+1 is merged.
type Tracker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Add records n queued items.
func (t *Tracker) Add(n int) {
	t.mu.Lock()
	t.pending += n
	t.mu.Unlock()
}

// Done records n processed items.
func (t *Tracker) Done(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending -= n
	if t.pending < 0 {
		t.pending = 0
	}
	if t.pending == 0 {
		t.cond.Broadcast()
	}
}

// Pending returns the number of unprocessed items.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Idle reports whether nothing is pending.
func (t *Tracker) Idle() bool {
	return t.Pending() == 0
}

// WaitIdle blocks until nothing is pending or ctx ends.
func (t *Tracker) WaitIdle(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()
	for t.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.cond.Wait()
	}
	return nil
}
