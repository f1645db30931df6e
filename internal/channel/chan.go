package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Recv once the channel is closed (and,
// for Recv, drained).
var ErrClosed = errors.New("channel closed")

// Mode selects how a channel treats unread items.
type Mode int

const (
	// Ordered keeps every item in FIFO order.
	Ordered Mode = iota
	// LatestOnly keeps only the newest unread item.
	LatestOnly
)

type config struct {
	mode     Mode
	capacity int
	tracker  *Tracker
}

// Option configures a channel.
type Option func(*config)

// WithMode sets the channel mode. The default is Ordered.
func WithMode(m Mode) Option {
	return func(c *config) { c.mode = m }
}

// WithCapacity sets the initial ring capacity. The channel grows as needed.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithTracker reports queued and finished items to t.
func WithTracker(t *Tracker) Option {
	return func(c *config) { c.tracker = t }
}

// Chan is an unbounded single-consumer queue. The ring buffer doubles when
// it reaches 70% full. Items stay "unfinished" from Send until the
// consumer calls Done, which is what Join and the Tracker wait on.
type Chan[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int
	tail     int
	count    int
	capacity int
	closed   bool
	mode     Mode
	tracker  *Tracker

	unfinished int

	totalSent     int64
	totalReceived int64
	totalDropped  int64
	resizeCount   int
}

// New creates a channel.
func New[T any](opts ...Option) *Chan[T] {
	cfg := config{capacity: 8}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.capacity < 1 {
		cfg.capacity = 1
	}
	c := &Chan[T]{
		buf:      make([]T, cfg.capacity),
		capacity: cfg.capacity,
		mode:     cfg.mode,
		tracker:  cfg.tracker,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Send queues an item without blocking. In LatestOnly mode any unread item
// is discarded first.
func (c *Chan[T]) Send(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.mode == LatestOnly && c.count > 0 {
		dropped := c.count
		c.discard(dropped)
		c.totalDropped += int64(dropped)
		c.finish(dropped)
	}

	threshold := (c.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if c.count+1 >= threshold {
		c.grow()
	}

	c.buf[c.tail] = item
	c.tail = (c.tail + 1) % c.capacity
	c.count++
	c.totalSent++
	c.unfinished++
	if c.tracker != nil {
		c.tracker.Add(1)
	}

	c.cond.Broadcast()
	return nil
}

// Recv blocks until an item is available. It returns ErrClosed once the
// channel is closed and empty, or ctx.Err() when ctx ends first.
func (c *Chan[T]) Recv(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return c.pop(), nil
}

// RecvLatest blocks like Recv, then drains the queue and returns only the
// newest item. Skipped items count as finished.
func (c *Chan[T]) RecvLatest(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	if skipped := c.count - 1; skipped > 0 {
		c.discard(skipped)
		c.totalDropped += int64(skipped)
		c.finish(skipped)
	}
	return c.pop(), nil
}

// TryRecv returns an item if one is queued.
func (c *Chan[T]) TryRecv() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		var zero T
		return zero, false
	}
	return c.pop(), true
}

// Done marks one received item as processed.
func (c *Chan[T]) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finish(1)
}

// Join blocks until every sent item has been marked Done.
func (c *Chan[T]) Join(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.wake)
	defer stop()
	for c.unfinished > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return nil
}

// Close closes the channel. Queued items can still be received. Close is
// idempotent and releases any unfinished items held against the tracker.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.finish(c.unfinished)
	c.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (c *Chan[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of queued items.
func (c *Chan[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Stats returns channel statistics.
func (c *Chan[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Count:         c.count,
		Capacity:      c.capacity,
		Unfinished:    c.unfinished,
		TotalSent:     c.totalSent,
		TotalReceived: c.totalReceived,
		TotalDropped:  c.totalDropped,
		ResizeCount:   c.resizeCount,
	}
}

// Stats contains channel statistics.
type Stats struct {
	Count         int
	Capacity      int
	Unfinished    int
	TotalSent     int64
	TotalReceived int64
	TotalDropped  int64
	ResizeCount   int
}

func (c *Chan[T]) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// wait blocks until an item is queued. Must be called with lock held.
func (c *Chan[T]) wait(ctx context.Context) error {
	if c.count > 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, c.wake)
	defer stop()
	for c.count == 0 {
		if c.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return nil
}

// pop removes the head item. Must be called with lock held and count > 0.
func (c *Chan[T]) pop() T {
	item := c.buf[c.head]
	var zero T
	c.buf[c.head] = zero
	c.head = (c.head + 1) % c.capacity
	c.count--
	c.totalReceived++
	return item
}

// discard drops n head items. Must be called with lock held.
func (c *Chan[T]) discard(n int) {
	var zero T
	for i := 0; i < n; i++ {
		c.buf[c.head] = zero
		c.head = (c.head + 1) % c.capacity
		c.count--
	}
}

// finish releases n unfinished items. Must be called with lock held.
func (c *Chan[T]) finish(n int) {
	if n > c.unfinished {
		n = c.unfinished
	}
	if n <= 0 {
		return
	}
	c.unfinished -= n
	if c.tracker != nil {
		c.tracker.Done(n)
	}
	if c.unfinished == 0 {
		c.cond.Broadcast()
	}
}

// grow doubles the ring capacity. Must be called with lock held.
func (c *Chan[T]) grow() {
	newCapacity := c.capacity * 2
	newBuf := make([]T, newCapacity)

	if c.count > 0 {
		if c.head < c.tail {
			copy(newBuf, c.buf[c.head:c.tail])
		} else {
			n := copy(newBuf, c.buf[c.head:])
			copy(newBuf[n:], c.buf[:c.tail])
		}
	}

	c.buf = newBuf
	c.head = 0
	c.tail = c.count
	c.capacity = newCapacity
	c.resizeCount++
}

// Forward returns a listener that queues every update on c. It is meant for
// diff.Node.Listen.
func Forward(c *Chan[map[string]any]) func(map[string]any) {
	return func(update map[string]any) {
		_ = c.Send(update)
	}
}
