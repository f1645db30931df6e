package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/diff"
)

// Price modes of a TargetPos.
const (
	// PriceActive crosses the spread: buys at the ask, sells at the bid.
	PriceActive = "ACTIVE"
	// PricePassive joins the book: buys at the bid, sells at the ask.
	PricePassive = "PASSIVE"
)

// TargetPosOptions configures a TargetPos. Two controllers for the same
// account and symbol must agree on every option.
type TargetPosOptions struct {
	// PriceMode is PriceActive (the default) or PricePassive.
	PriceMode string
}

type targetKey struct {
	account string
	symbol  string
}

// TargetPos moves the net position of one symbol to a target volume. It
// waits for its own orders to finish before placing more, closes before it
// opens and on SHFE and INE closes today's volume before history.
type TargetPos struct {
	c      *Client
	key    targetKey
	opts   TargetPosOptions
	logger *slog.Logger

	wake   *channel.Chan[map[string]any]
	regs   []*diff.Registration
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	target    int64
	hasTarget bool

	pending map[string]bool // owned by the run goroutine
}

// TargetPos returns the controller of symbol for the client's account,
// starting one if none is running. An existing controller with different
// options is an ErrTargetPosConflict.
func (c *Client) TargetPos(symbol string, opts TargetPosOptions) (*TargetPos, error) {
	if opts.PriceMode == "" {
		opts.PriceMode = PriceActive
	}
	if opts.PriceMode != PriceActive && opts.PriceMode != PricePassive {
		return nil, fmt.Errorf("api: unknown price mode %q", opts.PriceMode)
	}
	if err := c.Subscribe(symbol); err != nil {
		return nil, err
	}

	key := targetKey{c.account, symbol}
	c.tpMu.Lock()
	defer c.tpMu.Unlock()
	if tp, ok := c.targets[key]; ok {
		if tp.opts != opts {
			return nil, fmt.Errorf("%w: %s", ErrTargetPosConflict, symbol)
		}
		return tp, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	tp := &TargetPos{
		c:       c,
		key:     key,
		opts:    opts,
		logger:  c.logger.With("component", "targetpos", "symbol", symbol),
		wake:    channel.New[map[string]any](channel.WithMode(channel.LatestOnly), channel.WithTracker(c.tracker)),
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]bool),
	}
	c.mu.Lock()
	for _, path := range [][]string{
		{"quotes", symbol},
		{"trade", c.account, "positions", symbol},
		{"trade", c.account, "orders"},
	} {
		n := diff.Ensure(c.data, c.proto, path...)
		tp.regs = append(tp.regs, n.Listen(channel.Forward(tp.wake)))
	}
	c.mu.Unlock()
	c.targets[key] = tp

	go tp.run(ctx)
	return tp, nil
}

// SetTargetVolume sets the net volume to reach: positive is long,
// negative is short.
func (tp *TargetPos) SetTargetVolume(volume int64) {
	tp.mu.Lock()
	tp.target, tp.hasTarget = volume, true
	tp.mu.Unlock()
	_ = tp.wake.Send(nil)
}

// Stop ends the controller and removes it from the registry. Orders it
// placed stay in the market.
func (tp *TargetPos) Stop() {
	tp.once.Do(func() {
		tp.cancel()
		tp.c.mu.Lock()
		for _, r := range tp.regs {
			r.Close()
		}
		tp.c.mu.Unlock()
		tp.wake.Close()
		<-tp.done

		tp.c.tpMu.Lock()
		if tp.c.targets[tp.key] == tp {
			delete(tp.c.targets, tp.key)
		}
		tp.c.tpMu.Unlock()
	})
}

func (tp *TargetPos) run(ctx context.Context) {
	defer close(tp.done)
	for {
		if _, err := tp.wake.Recv(ctx); err != nil {
			return
		}
		tp.step()
		tp.wake.Done()
	}
}

// step places the next orders if the controller is idle and off target.
func (tp *TargetPos) step() {
	tp.mu.Lock()
	target, hasTarget := tp.target, tp.hasTarget
	tp.mu.Unlock()

	c := tp.c
	c.mu.RLock()
	q := quoteFrom(tp.key.symbol, c.data.Lookup("quotes", tp.key.symbol))
	pos := positionFrom(tp.key.symbol, c.data.Lookup("trade", c.account, "positions", tp.key.symbol))
	orders := c.data.Lookup("trade", c.account, "orders")
	for id := range tp.pending {
		if o := orders.Child(id); o != nil && o.Str("status") == StatusFinished {
			delete(tp.pending, id)
		}
	}
	c.mu.RUnlock()

	if !hasTarget || len(tp.pending) > 0 || pos.Net() == target {
		return
	}
	exchange, _, _ := splitSymbol(tp.key.symbol)
	for _, st := range planOrders(exchange, pos, target) {
		price := tp.price(q, st.direction)
		if math.IsNaN(price) {
			tp.logger.Debug("no price to trade at", "direction", st.direction)
			return
		}
		id, err := c.InsertOrder(tp.key.symbol, st.direction, st.offset, st.volume, price)
		if err != nil {
			tp.logger.Warn("insert order failed", "error", err)
			return
		}
		tp.pending[id] = true
		tp.logger.Info("target pos order", "order_id", id, "direction", st.direction,
			"offset", st.offset, "volume", st.volume, "price", price, "target", target)
	}
}

func (tp *TargetPos) price(q Quote, direction string) float64 {
	buy := direction == DirectionBuy
	if tp.opts.PriceMode == PricePassive {
		buy = !buy
	}
	if buy {
		return q.AskPrice1
	}
	return q.BidPrice1
}

type orderStep struct {
	direction string
	offset    string
	volume    int64
}

// planOrders returns the orders moving pos to target, closes first.
func planOrders(exchange string, pos Position, target int64) []orderStep {
	net := pos.Net()
	if net == target {
		return nil
	}
	direction := DirectionBuy
	need := target - net
	today := pos.VolumeShortToday - pos.VolumeShortFrozenToday
	his := pos.VolumeShortHis - pos.VolumeShortFrozenHis
	if need < 0 {
		direction, need = DirectionSell, -need
		today = pos.VolumeLongToday - pos.VolumeLongFrozenToday
		his = pos.VolumeLongHis - pos.VolumeLongFrozenHis
	}

	var steps []orderStep
	add := func(offset string, v int64) {
		if v > 0 {
			steps = append(steps, orderStep{direction, offset, v})
			need -= v
		}
	}
	if exchange == "SHFE" || exchange == "INE" {
		add(OffsetCloseToday, min(need, today))
		add(OffsetClose, min(need, his))
	} else {
		add(OffsetClose, min(need, today+his))
	}
	add(OffsetOpen, need)
	return steps
}
