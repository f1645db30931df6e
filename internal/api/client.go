package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/metrics"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
	"github.com/rickgao/tqsdk-go/internal/schema"
)

// Errors
var (
	ErrClientClosed      = errors.New("api: client closed")
	ErrUnknownSymbol     = errors.New("api: unknown symbol")
	ErrTargetPosConflict = errors.New("api: target pos already running with other options")
	ErrInvalidOrder      = errors.New("api: invalid order")
)

// Status is the outcome of WaitUpdate.
type Status int

const (
	// Updated means one or more batches were merged into the tree.
	Updated Status = iota + 1
	// Timeout means the context deadline passed with nothing merged.
	Timeout
	// Finished means the backtest reached its end.
	Finished
)

func (s Status) String() string {
	switch s {
	case Updated:
		return "updated"
	case Timeout:
		return "timeout"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Config configures a Client.
type Config struct {
	// Account is the trade key orders are placed under. Empty means
	// DefaultAccount.
	Account string
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Client owns the snapshot tree and the pipeline below it.
type Client struct {
	account string
	logger  *slog.Logger
	metrics *metrics.Collectors
	proto   *diff.Prototype
	link    pipeline.Link
	tracker *channel.Tracker
	cancel  context.CancelFunc
	group   *errgroup.Group

	mu      sync.RWMutex
	data    *diff.Node
	changes []map[string]any

	// waitMu serializes WaitUpdate and the calls built on it.
	waitMu   sync.Mutex
	peekSent bool
	ended    bool

	reqMu      sync.Mutex
	subscribed map[string]bool
	queried    map[string]bool
	charts     map[chartKey]string

	tpMu    sync.Mutex
	targets map[targetKey]*TargetPos

	closeOnce sync.Once
	closeErr  error
}

// New starts stages below a new client. stages[0] is the stage the client
// talks to; the last one talks to the server or replays history.
func New(ctx context.Context, cfg Config, stages ...pipeline.Stage) (*Client, error) {
	if len(stages) == 0 {
		return nil, errors.New("api: at least one stage is required")
	}
	if cfg.Account == "" {
		cfg.Account = DefaultAccount
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	c := &Client{
		account:    cfg.Account,
		logger:     logger.With("component", "api", "account", cfg.Account),
		metrics:    cfg.Metrics,
		proto:      schema.Client(),
		link:       pipeline.NewLink(),
		tracker:    channel.NewTracker(),
		cancel:     cancel,
		group:      g,
		data:       diff.NewRoot(),
		subscribed: make(map[string]bool),
		queried:    make(map[string]bool),
		charts:     make(map[chartKey]string),
		targets:    make(map[targetKey]*TargetPos),
	}
	pipeline.Chain(gctx, g, c.link, stages...)
	// a failed stage may not get to close its downstream
	go func() {
		<-gctx.Done()
		c.link.Down.Close()
	}()
	return c, nil
}

// Account returns the trade key orders are placed under.
func (c *Client) Account() string {
	return c.account
}

// WaitUpdate sends a peek and merges the next batch into the tree. Work
// queued by listeners of the previous batch, such as TargetPos, is
// finished first. A deadline on ctx yields Timeout; other context errors
// are returned.
func (c *Client) WaitUpdate(ctx context.Context) (Status, error) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.waitUpdate(ctx)
}

func (c *Client) waitUpdate(ctx context.Context) (Status, error) {
	if c.ended {
		return 0, ErrClientClosed
	}
	if err := c.tracker.WaitIdle(ctx); err != nil {
		return ctxStatus(err)
	}
	if !c.peekSent {
		if err := c.link.Up.Send(protocol.PeekMessage()); err != nil {
			return 0, ErrClientClosed
		}
		c.peekSent = true
	}

	pack, err := c.link.Down.Recv(ctx)
	if errors.Is(err, channel.ErrClosed) {
		return c.end()
	}
	if err != nil {
		return ctxStatus(err)
	}
	c.link.Down.Done()
	packs := []protocol.Pack{pack}
	for {
		p, ok := c.link.Down.TryRecv()
		if !ok {
			break
		}
		c.link.Down.Done()
		packs = append(packs, p)
	}
	c.peekSent = false
	c.merge(packs)
	return Updated, nil
}

// end handles the pipeline closing below the client.
func (c *Client) end() (Status, error) {
	c.ended = true
	if err := c.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return 0, err
	}
	c.mu.RLock()
	backtest := c.data.Lookup("_tqsdk_backtest")
	c.mu.RUnlock()
	if backtest == nil {
		return 0, ErrClientClosed
	}
	c.logger.Info("backtest finished")
	return Finished, nil
}

func ctxStatus(err error) (Status, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout, nil
	}
	return 0, err
}

func (c *Client) merge(packs []protocol.Pack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = c.changes[:0]
	n := 0
	for _, p := range packs {
		for _, d := range p.Data() {
			c.changes = append(c.changes, diff.Merge(c.data, d, c.proto, diff.Options{ReduceDiff: true}))
			n++
		}
	}
	c.metrics.Merged(n)
	c.logger.Debug("merged", "packs", len(packs), "diffs", n)
}

// IsChanging reports whether the last WaitUpdate changed anything at or
// below path, e.g. IsChanging("quotes", "SHFE.cu2001", "last_price").
func (c *Client) IsChanging(path ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, eff := range c.changes {
		if touches(eff, path) {
			return true
		}
	}
	return false
}

func touches(eff map[string]any, path []string) bool {
	var cur any = eff
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		if cur, ok = m[k]; !ok {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the subtree at path, or nil when absent.
func (c *Client) Snapshot(path ...string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.data.Lookup(path...)
	if n == nil {
		return nil
	}
	return n.Snapshot()
}

// Close stops every TargetPos and the pipeline and waits for the stages
// to return.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.tpMu.Lock()
		targets := make([]*TargetPos, 0, len(c.targets))
		for _, tp := range c.targets {
			targets = append(targets, tp)
		}
		c.tpMu.Unlock()
		for _, tp := range targets {
			tp.Stop()
		}

		c.link.Up.Close()
		c.cancel()
		if err := c.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			c.closeErr = err
		}
		c.logger.Info("client closed", "error", c.closeErr)
	})
	return c.closeErr
}

// send forwards a request to the pipeline.
func (c *Client) send(p protocol.Pack) error {
	if err := c.link.Up.Send(p); err != nil {
		return ErrClientClosed
	}
	return nil
}

// Subscribe adds symbols to the quote subscription. The whole set is sent
// whenever it grows. Symbols without contract info are queried once.
func (c *Client) Subscribe(symbols ...string) error {
	for _, s := range symbols {
		if _, _, ok := splitSymbol(s); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSymbol, s)
		}
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	grew := false
	for _, s := range symbols {
		if !c.subscribed[s] {
			c.subscribed[s] = true
			grew = true
		}
	}
	if grew {
		all := make([]string, 0, len(c.subscribed))
		for s := range c.subscribed {
			all = append(all, s)
		}
		sort.Strings(all)
		if err := c.send(protocol.SubscribeQuote(all)); err != nil {
			return err
		}
	}

	var query []string
	c.mu.RLock()
	for _, s := range symbols {
		if !c.queried[s] && math.IsNaN(c.data.Lookup("quotes", s).Float("price_tick")) {
			query = append(query, s)
		}
	}
	c.mu.RUnlock()
	if len(query) == 0 {
		return nil
	}
	for _, s := range query {
		c.queried[s] = true
	}
	return c.send(protocol.QuoteQuery(query...))
}

// Quote returns the current snapshot of symbol without subscribing.
func (c *Client) Quote(symbol string) Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return quoteFrom(symbol, c.data.Lookup("quotes", symbol))
}

// GetQuote subscribes symbol and waits until its quote is ready. It runs
// WaitUpdate internally and so must not race with the caller's own loop.
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if err := c.Subscribe(symbol); err != nil {
		return Quote{}, err
	}
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for {
		q := c.Quote(symbol)
		if q.Ready() {
			return q, nil
		}
		st, err := c.waitUpdate(ctx)
		if err != nil {
			return q, err
		}
		switch st {
		case Timeout:
			return q, fmt.Errorf("wait quote %s: %w", symbol, context.DeadlineExceeded)
		case Finished:
			return q, ErrClientClosed
		}
	}
}
