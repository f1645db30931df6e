package channel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTracker_CountsAcrossChannels(t *testing.T) {
	tr := NewTracker()
	a := New[int](WithTracker(tr))
	b := New[int](WithTracker(tr), WithMode(LatestOnly))

	a.Send(1)
	a.Send(2)
	b.Send(1)
	b.Send(2) // replaces the unread item

	if got := tr.Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}

	a.TryRecv()
	a.Done()
	b.TryRecv()
	b.Done()
	if got := tr.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}

	// closing releases what the consumer will never process
	a.Close()
	if !tr.Idle() {
		t.Errorf("tracker not idle after Close, pending=%d", tr.Pending())
	}
	a.Done()
	if got := tr.Pending(); got != 0 {
		t.Errorf("Done after Close changed pending to %d", got)
	}
}

func TestTracker_WaitIdle(t *testing.T) {
	tr := NewTracker()
	c := New[int](WithTracker(tr))
	c.Send(1)

	done := make(chan error, 1)
	go func() { done <- tr.WaitIdle(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitIdle returned while work is pending")
	case <-time.After(10 * time.Millisecond):
	}

	c.TryRecv()
	c.Done()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitIdle() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not return")
	}
}

func TestTracker_WaitIdleContext(t *testing.T) {
	tr := NewTracker()
	tr.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tr.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitIdle() = %v, want DeadlineExceeded", err)
	}
}
