package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestChan_OrderedSendRecv(t *testing.T) {
	c := New[int](WithCapacity(4))

	for i := 0; i < 100; i++ {
		if err := c.Send(i); err != nil {
			t.Fatalf("Send(%d) = %v", i, err)
		}
	}

	stats := c.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		val, err := c.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv() error for item %d: %v", i, err)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}
}

func TestChan_LatestOnlyCollapses(t *testing.T) {
	c := New[string](WithMode(LatestOnly))

	c.Send("a")
	c.Send("b")
	c.Send("c")

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	val, ok := c.TryRecv()
	if !ok || val != "c" {
		t.Errorf("TryRecv() = %q, %v; want c, true", val, ok)
	}
	if got := c.Stats().TotalDropped; got != 2 {
		t.Errorf("TotalDropped = %d, want 2", got)
	}
}

func TestChan_RecvLatest(t *testing.T) {
	c := New[int]()
	for i := 1; i <= 5; i++ {
		c.Send(i)
	}

	val, err := c.RecvLatest(context.Background())
	if err != nil || val != 5 {
		t.Fatalf("RecvLatest() = %d, %v; want 5, nil", val, err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if got := c.Stats().Unfinished; got != 1 {
		t.Errorf("Unfinished = %d, want 1 (only the returned item)", got)
	}
}

func TestChan_BlockingRecv(t *testing.T) {
	c := New[int]()
	received := make(chan int, 1)

	go func() {
		val, err := c.Recv(context.Background())
		if err == nil {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	c.Send(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestChan_RecvContextCancel(t *testing.T) {
	c := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Recv(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv() error = %v, want DeadlineExceeded", err)
	}
}

func TestChan_Close(t *testing.T) {
	c := New[int]()
	c.Send(1)
	c.Send(2)

	c.Close()
	c.Close()

	if err := c.Send(3); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		val, err := c.Recv(ctx)
		if err != nil || val != want {
			t.Errorf("Recv() = %d, %v; want %d, nil", val, err, want)
		}
	}
	if _, err := c.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv on drained closed channel = %v, want ErrClosed", err)
	}
}

func TestChan_CloseUnblocksRecv(t *testing.T) {
	c := New[int]()
	done := make(chan error, 1)

	go func() {
		_, err := c.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Recv() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Recv")
	}
}

func TestChan_WrapAround(t *testing.T) {
	c := New[int](WithCapacity(5))

	c.Send(1)
	c.Send(2)
	c.Send(3)
	c.TryRecv()
	c.TryRecv()
	c.Send(4)
	c.Send(5)
	c.Send(6)
	c.Send(7)
	c.Send(8)

	for _, want := range []int{3, 4, 5, 6, 7, 8} {
		got, ok := c.TryRecv()
		if !ok {
			t.Fatalf("TryRecv failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestChan_JoinWaitsForDone(t *testing.T) {
	c := New[int]()
	c.Send(1)
	c.Send(2)

	joined := make(chan error, 1)
	go func() { joined <- c.Join(context.Background()) }()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		select {
		case <-joined:
			t.Fatalf("Join returned after %d Done calls", i)
		case <-time.After(10 * time.Millisecond):
		}
		if _, err := c.Recv(ctx); err != nil {
			t.Fatal(err)
		}
		c.Done()
	}

	select {
	case err := <-joined:
		if err != nil {
			t.Errorf("Join() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Join did not return after all items were done")
	}
}

func TestChan_ConcurrentSendRecv(t *testing.T) {
	c := New[int]()
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			c.Send(i)
		}
	}()

	received := make([]int, 0, numItems)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			val, err := c.Recv(context.Background())
			if err == nil {
				received = append(received, val)
			}
		}
	}()
	wg.Wait()

	if len(received) != numItems {
		t.Fatalf("received %d items, want %d", len(received), numItems)
	}
	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d, single producer must preserve order", i, val)
		}
	}
}

func TestForward(t *testing.T) {
	c := New[map[string]any](WithMode(LatestOnly))
	fn := Forward(c)
	fn(nil)
	fn(map[string]any{"a": 1})

	got, ok := c.TryRecv()
	if !ok || got["a"] != 1 {
		t.Errorf("TryRecv() = %v, %v; want latest update", got, ok)
	}
}
