package sim

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/metrics"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
	"github.com/rickgao/tqsdk-go/internal/schema"
	"github.com/rickgao/tqsdk-go/internal/tradingtime"
)

// DefaultInitBalance is the starting balance of a sim account.
const DefaultInitBalance = 10_000_000.0

// DefaultAccountID names the sim account in the trade tree.
const DefaultAccountID = "TQSIM"

// Publisher receives order lifecycle events as JSON.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// DayLogSink persists the ledger of each settled trading day.
type DayLogSink interface {
	WriteDay(ctx context.Context, accountID, date string, day DayLog) error
}

// Config configures a Stage.
type Config struct {
	AccountID   string
	InitBalance float64
	Metrics     *metrics.Collectors
	// Publisher and Sink are optional.
	Publisher Publisher
	Sink      DayLogSink
}

// OrderEvent is the published form of one order state change.
type OrderEvent struct {
	AccountID   string   `json:"account_id"`
	Action      string   `json:"action"`
	OrderID     string   `json:"order_id"`
	Symbol      string   `json:"symbol"`
	Direction   string   `json:"direction"`
	Offset      string   `json:"offset"`
	VolumeOrign int64    `json:"volume_orign"`
	VolumeLeft  int64    `json:"volume_left"`
	PriceType   string   `json:"price_type"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	Status      string   `json:"status"`
	LastMsg     string   `json:"last_msg"`
	Datetime    int64    `json:"datetime"`
}

// book is the per-symbol state of the stage: the quote fragments not yet
// fed to the engine and the order requests waiting for the quote.
type book struct {
	symbol     string
	underlying string
	regs       []*diff.Registration
	updates    []map[string]any
	pending    []protocol.Pack
	ready      bool
}

// Stage is the sim account pipeline stage. It sits between the client and
// the market data upstream, answers insert_order and cancel_order from a
// local Engine, and keeps the account ledger in the trade tree.
type Stage struct {
	cfg     Config
	logger  *slog.Logger
	engine  *Engine
	data    *diff.Node
	books   map[string]*book
	dirty   map[string]bool
	queried map[string]bool

	subscribed     map[string]bool
	pendingSubDown bool
	pendingSubUp   bool
	sentInit       bool

	current  int64
	dayEnd   int64
	backtest map[string]int64

	tradeLog map[string]DayLog
	stat     map[string]any
}

// initialDayEnd is a boundary before any market data; crossing it only
// starts the first trading day.
var initialDayEnd = time.Date(1990, 1, 1, 18, 0, 0, 0, tradingtime.CST).UnixNano()

// NewStage creates the sim stage.
func NewStage(cfg Config, logger *slog.Logger) *Stage {
	if cfg.AccountID == "" {
		cfg.AccountID = DefaultAccountID
	}
	if cfg.InitBalance == 0 {
		cfg.InitBalance = DefaultInitBalance
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stage{
		cfg:        cfg,
		logger:     logger.With("component", "sim", "account", cfg.AccountID),
		data:       diff.NewRoot(),
		books:      make(map[string]*book),
		dirty:      make(map[string]bool),
		queried:    make(map[string]bool),
		subscribed: make(map[string]bool),
		dayEnd:     initialDayEnd,
		tradeLog:   make(map[string]DayLog),
	}
	s.engine = NewEngine(cfg.AccountID, cfg.InitBalance, WithClock(func() int64 { return s.current }))
	return s
}

// AccountKey returns the key of the account in the trade tree.
func (s *Stage) AccountKey() string {
	return s.cfg.AccountID
}

// TradeLog returns the ledgers of the settled trading days by date.
func (s *Stage) TradeLog() map[string]DayLog {
	return s.tradeLog
}

// Stat returns the end of run report, nil until the run ended.
func (s *Stage) Stat() map[string]any {
	return s.stat
}

// Run implements pipeline.Stage with one upstream, the market data source.
func (s *Stage) Run(ctx context.Context, down pipeline.Link, ups ...pipeline.Link) error {
	defer s.unwatch()
	return pipeline.RunModule(ctx, s, s.logger, down, ups...)
}

// unwatch drops the quote listeners of every book.
func (s *Stage) unwatch() {
	for _, b := range s.books {
		for _, r := range b.regs {
			r.Close()
		}
		b.regs = nil
	}
}

// HandleReq implements pipeline.Handler.
func (s *Stage) HandleReq(ctx context.Context, m *pipeline.Module, pack protocol.Pack) error {
	switch pack.Aid() {
	case protocol.AidInsertOrder:
		if !s.ours(pack) {
			return m.SendUp(0, pack)
		}
		symbol := pack.Str("exchange_id") + "." + pack.Str("instrument_id")
		b, err := s.ensureBook(m, symbol)
		if err != nil {
			return err
		}
		if err := s.deliver(ctx, m, b, pack); err != nil {
			return err
		}
		return s.processDirty(ctx, m)

	case protocol.AidCancelOrder:
		if !s.ours(pack) {
			return m.SendUp(0, pack)
		}
		for _, symbol := range sortedKeys(s.books) {
			if err := s.deliver(ctx, m, s.books[symbol], pack); err != nil {
				return err
			}
		}
		return nil

	case protocol.AidSubscribeQuote:
		return s.subscribe(m, strings.Split(pack.Str("ins_list"), ",")...)

	default:
		return m.SendUp(0, pack)
	}
}

// OnSendDiff implements pipeline.SendDiffHook.
func (s *Stage) OnSendDiff(_ context.Context, m *pipeline.Module, pendingPeek bool) error {
	if pendingPeek && s.pendingSubDown {
		return s.sendSubscribe(m)
	}
	return nil
}

// OnUpstreamClosed implements pipeline.CloseHook: the run is over.
func (s *Stage) OnUpstreamClosed(ctx context.Context, m *pipeline.Module, _ int) error {
	s.report(ctx, m)
	return nil
}

// HandleRecv implements pipeline.Handler.
func (s *Stage) HandleRecv(ctx context.Context, m *pipeline.Module, _ int, pack protocol.Pack) error {
	s.pendingSubUp = false
	if pack.Aid() != protocol.AidRtnData {
		return nil
	}
	for _, d := range pack.Data() {
		m.Append(d)
		if !s.sentInit {
			if more, ok := d["mdhis_more_data"].(bool); ok && !more {
				m.Append(s.engine.InitSnapshot(), map[string]any{
					"trade": map[string]any{s.cfg.AccountID: map[string]any{"trade_more_data": false}},
				})
				s.sentInit = true
			}
		}
		if bt, ok := d["_tqsdk_backtest"].(map[string]any); ok {
			s.updateBacktest(bt)
		}

		quotes, _ := d["quotes"].(map[string]any)
		for _, symbol := range sortedKeys(quotes) {
			q, ok := quotes[symbol].(map[string]any)
			if !ok {
				continue
			}
			if dt, _ := q["datetime"].(string); dt != "" {
				if ts, err := tradingtime.ParseDatetime(dt); err == nil && ts > s.current {
					s.current = ts
				}
			}
			if s.current > s.dayEnd {
				s.settle(ctx, m)
				s.dayEnd = tradingtime.DayEnd(tradingtime.TradingDay(s.current)) - 999
			}
		}
		if len(quotes) > 0 {
			diff.Merge(s.data, map[string]any{"quotes": quotes}, schema.SimQuotes(),
				diff.Options{ReduceDiff: true, FullPath: true})
			if err := s.processDirty(ctx, m); err != nil {
				return err
			}
		}
	}
	if end, ok := s.backtest["end_dt"]; ok && s.backtest["current_dt"] >= end {
		s.report(ctx, m)
	}
	return nil
}

func (s *Stage) ours(pack protocol.Pack) bool {
	user := pack.Str("user_id")
	return user == "" || user == s.cfg.AccountID
}

func (s *Stage) updateBacktest(bt map[string]any) {
	if s.backtest == nil {
		s.backtest = make(map[string]int64, 3)
	}
	for k, v := range bt {
		if n, ok := diff.ToInt(v); ok {
			s.backtest[k] = n
		}
	}
	if cur, ok := s.backtest["current_dt"]; ok {
		s.current = cur
	}
}

func (s *Stage) subscribe(m *pipeline.Module, symbols ...string) error {
	added := false
	for _, sym := range symbols {
		if sym != "" && !s.subscribed[sym] {
			s.subscribed[sym] = true
			added = true
		}
	}
	if !added {
		return nil
	}
	if m.PendingPeek() && !s.pendingSubUp {
		return s.sendSubscribe(m)
	}
	s.pendingSubDown = true
	return nil
}

func (s *Stage) sendSubscribe(m *pipeline.Module) error {
	s.pendingSubUp = true
	s.pendingSubDown = false
	return m.SendUp(0, protocol.SubscribeQuote(sortedKeys(s.subscribed)))
}

func (s *Stage) ensureBook(m *pipeline.Module, symbol string) (*book, error) {
	if b, ok := s.books[symbol]; ok {
		return b, nil
	}
	b := &book{symbol: symbol}
	s.books[symbol] = b
	if err := s.watch(m, b, symbol); err != nil {
		return nil, err
	}
	s.dirty[symbol] = true
	return b, nil
}

// watch subscribes symbol and routes its quote changes to b. Contract info
// is queried when the quote has none yet.
func (s *Stage) watch(m *pipeline.Module, b *book, symbol string) error {
	node := diff.Ensure(s.data, schema.SimQuotes(), "quotes", symbol)
	b.regs = append(b.regs, node.Listen(func(update map[string]any) {
		if quotes, ok := update["quotes"].(map[string]any); ok {
			b.updates = append(b.updates, quotes)
			s.dirty[b.symbol] = true
		}
	}))
	if err := s.subscribe(m, symbol); err != nil {
		return err
	}
	if math.IsNaN(node.Float("price_tick")) && !s.queried[symbol] {
		s.queried[symbol] = true
		return m.SendUp(0, protocol.QuoteQuery(symbol))
	}
	return nil
}

// deliver processes an order request on a ready book, or queues it.
func (s *Stage) deliver(ctx context.Context, m *pipeline.Module, b *book, pack protocol.Pack) error {
	if !b.ready {
		b.pending = append(b.pending, pack)
		return nil
	}
	return s.apply(ctx, m, b.symbol, pack)
}

func (s *Stage) apply(ctx context.Context, m *pipeline.Module, symbol string, pack protocol.Pack) error {
	var (
		r      Result
		err    error
		action string
	)
	switch pack.Aid() {
	case protocol.AidInsertOrder:
		action = "insert order"
		r, err = s.engine.InsertOrder(symbol, pack)
	case protocol.AidCancelOrder:
		action = "cancel order"
		r, err = s.engine.CancelOrder(symbol, pack)
	}
	if err != nil {
		return err
	}
	s.handleResult(ctx, m, action, r)
	return nil
}

// processDirty feeds new quote fragments to the engine. A book becomes
// ready once its quote, and its underlying's for options, carries both
// market data and contract info; its queued requests run then.
func (s *Stage) processDirty(ctx context.Context, m *pipeline.Module) error {
	for len(s.dirty) > 0 {
		symbols := sortedKeys(s.dirty)
		s.dirty = make(map[string]bool)
		for _, symbol := range symbols {
			b, ok := s.books[symbol]
			if !ok {
				continue
			}
			if b.ready {
				for _, quotes := range b.updates {
					r, err := s.engine.UpdateQuotes(symbol, quotes)
					if err != nil {
						return err
					}
					s.handleResult(ctx, m, "match order", r)
				}
				b.updates = nil
				continue
			}
			if err := s.tryReady(ctx, m, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Stage) tryReady(ctx context.Context, m *pipeline.Module, b *book) error {
	q := Quote(s.quoteSnapshot(b.symbol))
	if !q.Ready() {
		return nil
	}
	quotes := map[string]any{b.symbol: map[string]any(q)}
	if q.IsOption() {
		underlying := q.Str("underlying_symbol")
		if b.underlying == "" {
			b.underlying = underlying
			if err := s.watch(m, b, underlying); err != nil {
				return err
			}
		}
		uq := Quote(s.quoteSnapshot(underlying))
		if !uq.Ready() {
			return nil
		}
		quotes[underlying] = map[string]any(uq)
	}
	b.ready = true
	b.updates = nil
	r, err := s.engine.UpdateQuotes(b.symbol, quotes)
	if err != nil {
		return err
	}
	s.handleResult(ctx, m, "match order", r)
	pending := b.pending
	b.pending = nil
	for _, pack := range pending {
		if err := s.apply(ctx, m, b.symbol, pack); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) quoteSnapshot(symbol string) map[string]any {
	node := s.data.Lookup("quotes", symbol)
	if node == nil {
		return nil
	}
	return node.Snapshot()
}

func (s *Stage) handleResult(ctx context.Context, m *pipeline.Module, action string, r Result) {
	m.Append(r.Diffs...)
	for _, o := range r.Events {
		status := orderStatus(o)
		s.cfg.Metrics.Order(status)
		if o.LastMsg == MsgFilled {
			s.cfg.Metrics.Trade()
		}
		s.logger.Info(action, "order_id", o.OrderID, "symbol", o.Symbol(), "direction", o.Direction,
			"offset", o.Offset, "volume", o.VolumeOrign, "price_type", o.PriceType,
			"limit_price", o.LimitPrice, "status", o.Status, "last_msg", o.LastMsg)
		s.publish(ctx, action, o)
	}
}

func orderStatus(o Order) string {
	if o.Status == StatusAlive {
		return "inserted"
	}
	switch o.LastMsg {
	case MsgFilled:
		return "filled"
	case MsgCancelled, MsgSessionEnd, MsgMarketCancelled, MsgIOCCancelled:
		return "cancelled"
	}
	return "rejected"
}

func (s *Stage) publish(ctx context.Context, action string, o Order) {
	if s.cfg.Publisher == nil {
		return
	}
	ev := OrderEvent{
		AccountID:   s.cfg.AccountID,
		Action:      action,
		OrderID:     o.OrderID,
		Symbol:      o.Symbol(),
		Direction:   o.Direction,
		Offset:      o.Offset,
		VolumeOrign: o.VolumeOrign,
		VolumeLeft:  o.VolumeLeft,
		PriceType:   o.PriceType,
		Status:      o.Status,
		LastMsg:     o.LastMsg,
		Datetime:    s.current,
	}
	if !math.IsNaN(o.LimitPrice) {
		price := o.LimitPrice
		ev.LimitPrice = &price
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encode order event", "order_id", o.OrderID, "error", err)
		return
	}
	if err := s.cfg.Publisher.Publish(ctx, o.OrderID, b); err != nil {
		s.logger.Warn("publish order event", "order_id", o.OrderID, "error", err)
	}
}

func (s *Stage) settle(ctx context.Context, m *pipeline.Module) {
	if s.dayEnd == initialDayEnd {
		return
	}
	r, day := s.engine.Settle()
	s.handleResult(ctx, m, "settle", r)
	date := tradingtime.FormatDate(s.dayEnd)
	s.tradeLog[date] = day
	s.cfg.Metrics.Settled()
	s.logger.Info("settled", "trading_day", date, "balance", day.Account.Balance, "trades", len(day.Trades))
	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.WriteDay(ctx, s.cfg.AccountID, date, day); err != nil {
			s.logger.Warn("write day log", "trading_day", date, "error", err)
		}
	}
}

// report settles the last day and attaches the run statistics to the
// account. It runs once.
func (s *Stage) report(ctx context.Context, m *pipeline.Module) {
	if s.stat != nil {
		return
	}
	s.settle(ctx, m)
	s.stat = Report(s.tradeLog, func(symbol string) float64 {
		return s.engine.Quote(symbol).Float("volume_multiple")
	})
	m.Append(map[string]any{
		"trade": map[string]any{s.cfg.AccountID: map[string]any{
			"accounts": map[string]any{"CNY": map[string]any{"_tqsdk_stat": s.stat}},
		}},
	})
	s.logger.Info("sim report", "trading_days", len(s.tradeLog),
		"balance", s.engine.Account().Balance, "ror", s.stat["ror"], "max_drawdown", s.stat["max_drawdown"])
}
