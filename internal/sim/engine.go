package sim

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/protocol"
	"github.com/rickgao/tqsdk-go/internal/tradingtime"
)

// Result is what one engine call changed: full trade objects to merge into
// the client tree, and every order state the call passed through, in order.
type Result struct {
	Diffs  []map[string]any
	Events []Order
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the source of order and trade timestamps. By default the
// latest quote datetime seen is used.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// WithTradingTime sets the trading hours check. By default the quote's
// trading_time table is checked against the clock.
func WithTradingTime(fn func(q Quote) bool) Option {
	return func(e *Engine) { e.inTradingTime = fn }
}

// Engine is the matching engine and ledger of one simulated futures
// account. It is purely synchronous: the caller feeds quotes and requests
// and merges the returned diffs. An Engine is not safe for concurrent use.
//
// Orders fill all at once or not at all. A market order takes the opposing
// price and is cancelled if there is none; a limit order fills at its own
// price once it crosses the opposing price.
type Engine struct {
	accountKey string
	quotes     map[string]any

	account   Account
	positions map[string]*Position
	orders    map[string][]*Order
	trades    []Trade

	diffs  []map[string]any
	events []Order

	maxDatetime   string
	now           func() int64
	inTradingTime func(q Quote) bool
}

// NewEngine creates an engine for the account stored under accountKey in
// the trade tree.
func NewEngine(accountKey string, initBalance float64, opts ...Option) *Engine {
	e := &Engine{
		accountKey: accountKey,
		quotes:     make(map[string]any),
		account:    newAccount(initBalance),
		positions:  make(map[string]*Position),
		orders:     make(map[string][]*Order),
	}
	e.now = e.latestQuoteTime
	e.inTradingTime = e.quoteTradingTime
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitSnapshot returns the initial trade subtree of the account.
func (e *Engine) InitSnapshot() map[string]any {
	return map[string]any{
		"trade": map[string]any{
			e.accountKey: map[string]any{
				"accounts":  map[string]any{"CNY": e.account.Map()},
				"positions": map[string]any{},
				"orders":    map[string]any{},
				"trades":    map[string]any{},
			},
		},
	}
}

// Account returns a copy of the account ledger.
func (e *Engine) Account() Account {
	return e.account
}

// Position returns a copy of the position of symbol.
func (e *Engine) Position(symbol string) (Position, bool) {
	p, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Quote returns the cached quote of symbol.
func (e *Engine) Quote(symbol string) Quote {
	q, _ := e.quotes[symbol].(map[string]any)
	return Quote(q)
}

// AliveOrders returns the open orders of symbol in insertion order.
func (e *Engine) AliveOrders(symbol string) []Order {
	out := make([]Order, 0, len(e.orders[symbol]))
	for _, o := range e.orders[symbol] {
		out = append(out, *o)
	}
	return out
}

// InsertOrder validates and books an insert_order request, then tries to
// match it. Rejections are not errors: the order comes back FINISHED with a
// reason. The quote of symbol, and of its underlying for options, must have
// been fed through UpdateQuotes first.
func (e *Engine) InsertOrder(symbol string, pack protocol.Pack) (Result, error) {
	q, uq, err := e.quotesFor(symbol)
	if err != nil {
		return Result{}, err
	}
	pos := e.ensurePosition(symbol, q, uq)
	o := e.newOrder(pack)
	e.events = append(e.events, *o)
	e.checkInsert(o, pos, q, uq)
	if o.Status == StatusFinished {
		e.events = append(e.events, *o)
		return e.results(), nil
	}
	e.orders[symbol] = append(e.orders[symbol], o)
	if err := e.onInsert(o, symbol, pos); err != nil {
		return Result{}, err
	}
	if err := e.match(o, symbol, pos, q, uq); err != nil {
		return Result{}, err
	}
	return e.results(), nil
}

// CancelOrder cancels an alive order of symbol. Unknown or finished orders
// are ignored.
func (e *Engine) CancelOrder(symbol string, pack protocol.Pack) (Result, error) {
	id := pack.Str("order_id")
	for _, o := range e.orders[symbol] {
		if o.OrderID != id || o.Status != StatusAlive {
			continue
		}
		o.LastMsg = MsgCancelled
		o.Status = StatusFinished
		if err := e.onFailed(symbol, o); err != nil {
			return Result{}, err
		}
		e.events = append(e.events, *o)
		e.removeOrder(symbol, o)
		break
	}
	return e.results(), nil
}

// UpdateQuotes merges quote fragments ({symbol: {...}}) into the cache and
// re-marks symbol: alive orders are matched against the new prices, then
// position profit and margin follow the new last price.
func (e *Engine) UpdateQuotes(symbol string, quotes map[string]any) (Result, error) {
	for _, raw := range quotes {
		if q, ok := raw.(map[string]any); ok {
			if dt, _ := q["datetime"].(string); dt > e.maxDatetime {
				e.maxDatetime = dt
			}
		}
	}
	diff.SimpleMerge(e.quotes, quotes, false, false)

	q, uq, err := e.quotesFor(symbol)
	if err != nil {
		return Result{}, err
	}
	// quotes outside trading hours may carry no price
	if math.IsNaN(q.Float("last_price")) {
		return Result{}, nil
	}
	pos := e.ensurePosition(symbol, q, uq)
	for _, o := range slices.Clone(e.orders[symbol]) {
		if err := e.match(o, symbol, pos, q, uq); err != nil {
			return Result{}, err
		}
	}
	e.onUpdateQuotes(symbol, pos, q, uq)
	return e.results(), nil
}

// Settle closes the trading day: alive orders are cancelled, today's
// volumes become history and the account baselines move to the current
// balance. The returned DayLog is the ledger as it stood before settling.
func (e *Engine) Settle() (Result, DayLog) {
	log := DayLog{
		Trades:    e.trades,
		Account:   e.account,
		Positions: make(map[string]Position, len(e.positions)),
	}
	for symbol, p := range e.positions {
		log.Positions[symbol] = *p
	}
	e.trades = nil
	e.onSettle()
	for _, symbol := range sortedKeys(e.orders) {
		for _, o := range e.orders[symbol] {
			e.events = append(e.events, *o)
		}
		delete(e.orders, symbol)
	}
	return e.results(), log
}

// MatchOrder decides the fate of o against q without touching any ledger.
// It returns the new status, the reason and the fill price.
func MatchOrder(o *Order, q Quote) (status, msg string, price float64) {
	status = StatusAlive
	ask, bid := PriceRange(q)
	buy := o.Direction == DirectionBuy
	price = o.LimitPrice
	if o.IsMarket() {
		price = bid
		if buy {
			price = ask
		}
	}
	if o.PriceType == "ANY" && math.IsNaN(price) {
		status, msg = StatusFinished, MsgMarketCancelled
	}
	if o.TimeCondition == "IOC" {
		if buy && price < ask || !buy && price > bid {
			status, msg = StatusFinished, MsgIOCCancelled
		}
	}
	if buy && price >= ask || !buy && price <= bid {
		status, msg = StatusFinished, MsgFilled
	}
	return status, msg, price
}

func (e *Engine) match(o *Order, symbol string, pos *Position, q, uq Quote) error {
	status, msg, price := MatchOrder(o, q)
	if status != StatusFinished {
		return nil
	}
	o.LastMsg = msg
	o.Status = status
	if msg == MsgFilled {
		t := e.newTrade(o, q, price)
		e.trades = append(e.trades, t)
		if err := e.onTraded(o, &t, symbol, pos, q, uq); err != nil {
			return err
		}
	} else if err := e.onFailed(symbol, o); err != nil {
		return err
	}
	e.events = append(e.events, *o)
	e.removeOrder(symbol, o)
	return nil
}

func (e *Engine) newOrder(pack protocol.Pack) *Order {
	volume, _ := diff.ToInt(pack["volume"])
	limit, ok := diff.ToFloat(pack["limit_price"])
	if !ok {
		limit = math.NaN()
	}
	o := &Order{
		UserID:          pack.Str("user_id"),
		OrderID:         pack.Str("order_id"),
		ExchangeID:      pack.Str("exchange_id"),
		InstrumentID:    pack.Str("instrument_id"),
		Direction:       pack.Str("direction"),
		Offset:          pack.Str("offset"),
		VolumeOrign:     volume,
		VolumeLeft:      volume,
		PriceType:       pack.Str("price_type"),
		LimitPrice:      limit,
		VolumeCondition: pack.Str("volume_condition"),
		TimeCondition:   pack.Str("time_condition"),
		InsertDateTime:  e.now(),
		LastMsg:         MsgInserted,
		Status:          StatusAlive,
	}
	o.ExchangeOrderID = o.OrderID
	e.appendDiff(o.Map(), "orders", o.OrderID)
	return o
}

func (e *Engine) newTrade(o *Order, q Quote, price float64) Trade {
	id := o.OrderID + "|" + strconv.FormatInt(o.VolumeLeft, 10)
	return Trade{
		UserID:          o.UserID,
		OrderID:         o.OrderID,
		TradeID:         id,
		ExchangeTradeID: id,
		ExchangeID:      o.ExchangeID,
		InstrumentID:    o.InstrumentID,
		Direction:       o.Direction,
		Offset:          o.Offset,
		Price:           price,
		Volume:          o.VolumeLeft,
		TradeDateTime:   e.now(),
		Commission:      float64(o.VolumeLeft) * Commission(q),
	}
}

func (e *Engine) checkInsert(o *Order, pos *Position, q, uq Quote) {
	reject := func(msg string) {
		o.LastMsg = msg
		o.Status = StatusFinished
	}
	if !q.IsOption() && (math.IsNaN(FutureMargin(q)) || math.IsNaN(Commission(q))) {
		reject(MsgUnsupported)
	}
	if o.Status == StatusAlive && !e.inTradingTime(q) {
		reject(MsgOutsideHours)
	}
	if o.Status == StatusAlive && strings.HasPrefix(o.Offset, OffsetClose) {
		s := pos.closing(o.Direction)
		switch {
		case closesByBucket(o.ExchangeID) && o.Offset == OffsetCloseToday:
			if s.Today-s.FrozenToday < o.VolumeOrign {
				reject(MsgNoTodayVolume)
			}
		case closesByBucket(o.ExchangeID):
			if s.His-s.FrozenHis < o.VolumeOrign {
				reject(MsgNoHistoryVolume)
			}
		default:
			if s.Volume-s.Frozen < o.VolumeOrign {
				reject(MsgNoVolume)
			}
		}
	}
	if o.Status == StatusAlive && o.Offset == OffsetOpen {
		vol := float64(o.VolumeOrign)
		switch {
		case q.IsOption() && o.Direction == DirectionSell:
			o.FrozenMargin = vol * OptionMargin(q, q.Float("last_price"), uq.Float("last_price"))
		case q.IsOption():
			price := o.LimitPrice
			if o.PriceType == "ANY" {
				price = q.Float("last_price")
			}
			o.FrozenPremium = vol * q.Float("volume_multiple") * price
		default:
			o.FrozenMargin = vol * FutureMargin(q)
		}
		if o.FrozenMargin+o.FrozenPremium > e.account.Available {
			o.FrozenMargin, o.FrozenPremium = 0, 0
			reject(MsgInsufficientFund)
		}
	}
	if o.Status == StatusFinished {
		e.appendDiff(o.Map(), "orders", o.OrderID)
	}
}

func (e *Engine) onInsert(o *Order, symbol string, pos *Position) error {
	if o.Offset == OffsetOpen {
		e.adjustAccountByOrder(o.FrozenMargin, o.FrozenPremium)
		e.appendDiff(e.account.Map(), "accounts", "CNY")
		return nil
	}
	s := pos.closing(o.Direction)
	switch {
	case closesByBucket(o.ExchangeID) && o.Offset == OffsetCloseToday:
		s.FrozenToday += o.VolumeOrign
	case closesByBucket(o.ExchangeID):
		s.FrozenHis += o.VolumeOrign
	default:
		// history first, the rest from today
		hisAvailable := s.His - s.FrozenHis
		if hisAvailable < o.VolumeOrign {
			s.FrozenHis += hisAvailable
			s.FrozenToday += o.VolumeOrign - hisAvailable
		} else {
			s.FrozenHis += o.VolumeOrign
		}
	}
	s.recount()
	e.appendDiff(pos.Map(), "positions", symbol)
	return pos.check()
}

func (e *Engine) onTraded(o *Order, t *Trade, symbol string, pos *Position, q, uq Quote) error {
	frozenMargin, frozenPremium := o.FrozenMargin, o.FrozenPremium
	o.FrozenMargin, o.FrozenPremium = 0, 0
	o.VolumeLeft = 0
	e.appendDiff(t.Map(), "trades", t.TradeID)
	e.appendDiff(o.Map(), "orders", o.OrderID)

	vol := o.VolumeOrign
	mult := q.Float("volume_multiple")
	cost := t.Price * float64(vol) * mult

	if o.Offset == OffsetOpen {
		s, kind := &pos.Long, buyOpen
		if o.Direction == DirectionSell {
			s, kind = &pos.Short, sellOpen
		}
		s.Today += vol
		s.OpenCost += cost
		s.PositionCost += cost

		e.adjustAccountByOrder(-frozenMargin, -frozenPremium)
		e.adjustAccountByTrade(t.Commission, 0, premium(t, q))
		underlying := math.NaN()
		if uq != nil {
			underlying = uq.Float("last_price")
		}
		e.adjustPositionAccount(pos, q, fill{kind: kind, volume: vol},
			t.Price, pos.LastPrice, underlying, pos.UnderlyingLastPrice)
	} else {
		s := pos.closing(o.Direction)
		switch {
		case closesByBucket(o.ExchangeID) && o.Offset == OffsetCloseToday:
			s.FrozenToday -= vol
			s.Today -= vol
		case closesByBucket(o.ExchangeID):
			s.FrozenHis -= vol
			s.His -= vol
		case s.FrozenHis >= vol:
			s.FrozenHis -= vol
			s.His -= vol
		default:
			s.FrozenToday -= vol - s.FrozenHis
			s.Today -= vol - s.FrozenHis
			s.His -= s.FrozenHis
			s.FrozenHis = 0
		}
		s.OpenCost -= s.OpenPrice * float64(vol) * mult
		s.PositionCost -= s.PositionPrice * float64(vol) * mult

		e.adjustAccountByTrade(t.Commission, closeProfit(t, q, pos), premium(t, q))
		kind := sellClose
		if o.Direction == DirectionBuy {
			kind = buyClose
		}
		e.adjustPositionAccount(pos, q, fill{kind: kind, volume: vol},
			pos.LastPrice, 0, pos.UnderlyingLastPrice, 0)
	}
	e.appendDiff(pos.Map(), "positions", symbol)
	e.appendDiff(e.account.Map(), "accounts", "CNY")

	if o.VolumeLeft != 0 {
		return errDesync(symbol, "order %s left %d lots after a fill", o.OrderID, o.VolumeLeft)
	}
	return pos.check()
}

func (e *Engine) onFailed(symbol string, o *Order) error {
	frozenMargin, frozenPremium := o.FrozenMargin, o.FrozenPremium
	o.FrozenMargin, o.FrozenPremium = 0, 0
	e.appendDiff(o.Map(), "orders", o.OrderID)

	if o.Offset == OffsetOpen {
		e.adjustAccountByOrder(-frozenMargin, -frozenPremium)
		e.appendDiff(e.account.Map(), "accounts", "CNY")
		return nil
	}
	pos := e.positions[symbol]
	s := pos.closing(o.Direction)
	switch {
	case closesByBucket(o.ExchangeID) && o.Offset == OffsetCloseToday:
		s.FrozenToday -= o.VolumeOrign
	case closesByBucket(o.ExchangeID):
		s.FrozenHis -= o.VolumeOrign
	case s.FrozenToday >= o.VolumeOrign:
		s.FrozenToday -= o.VolumeOrign
	default:
		s.FrozenHis -= o.VolumeOrign - s.FrozenToday
		s.FrozenToday = 0
	}
	s.recount()
	e.appendDiff(pos.Map(), "positions", symbol)
	return pos.check()
}

func (e *Engine) onUpdateQuotes(symbol string, pos *Position, q, uq Quote) {
	last := q.Float("last_price")
	underlying := math.NaN()
	if uq != nil {
		underlying = uq.Float("last_price")
	}
	margin := FutureMargin(q)
	if pos.Long.Volume > 0 || pos.Short.Volume > 0 {
		changed := pos.LastPrice != last ||
			math.IsNaN(margin) || margin != pos.FutureMargin ||
			uq != nil && (math.IsNaN(underlying) || underlying != pos.UnderlyingLastPrice)
		if changed {
			e.adjustPositionAccount(pos, q, fill{}, pos.LastPrice, last, pos.UnderlyingLastPrice, underlying)
		}
	}
	pos.FutureMargin = margin
	pos.LastPrice = last
	pos.UnderlyingLastPrice = underlying
	e.appendDiff(pos.Map(), "positions", symbol)
	e.appendDiff(e.account.Map(), "accounts", "CNY")
}

func (e *Engine) onSettle() {
	for _, symbol := range sortedKeys(e.orders) {
		for _, o := range e.orders[symbol] {
			o.FrozenMargin, o.FrozenPremium = 0, 0
			o.LastMsg = MsgSessionEnd
			o.Status = StatusFinished
			e.appendDiff(o.Map(), "orders", o.OrderID)
		}
	}

	a := &e.account
	a.PreBalance = a.Balance - a.MarketValue
	a.CloseProfit = 0
	a.Commission = 0
	a.Premium = 0
	a.FrozenMargin = 0
	a.FrozenPremium = 0
	a.StaticBalance = a.PreBalance
	a.PositionProfit = 0
	a.RiskRatio = a.Margin / a.Balance
	a.Available = a.StaticBalance - a.Margin
	e.appendDiff(a.Map(), "accounts", "CNY")

	for _, symbol := range sortedKeys(e.positions) {
		pos := e.positions[symbol]
		mult := e.Quote(symbol).Float("volume_multiple")
		for _, s := range []*Side{&pos.Long, &pos.Short} {
			s.FrozenToday, s.FrozenHis = 0, 0
			s.His = s.Volume
			s.Today = 0
			s.recount()
			s.PositionPrice = pos.LastPrice
			s.PositionCost = pos.LastPrice * float64(s.Volume) * mult
			s.PositionProfit = 0
		}
		pos.PositionProfit = 0
		e.appendDiff(pos.Map(), "positions", symbol)
	}
}

type fillKind int

const (
	priceMove fillKind = iota
	buyOpen
	sellClose
	sellOpen
	buyClose
)

type fill struct {
	kind   fillKind
	volume int64
}

// adjustPositionAccount applies a fill or a price move to the profit,
// margin and market value of pos, then to the account. preLast and last
// are the prices before and after; for opens preLast is the fill price and
// for closes last is unused.
func (e *Engine) adjustPositionAccount(pos *Position, q Quote, f fill, preLast, last, preUnderlying, underlying float64) {
	mult := q.Float("volume_multiple")
	v := float64(f.volume)
	var floatL, floatS, profitL, profitS, marginL, marginS, valueL, valueS float64

	switch f.kind {
	case buyOpen:
		floatL = (last - preLast) * v * mult
		if q.IsOption() {
			valueL = last * v * mult
		} else {
			marginL = v * FutureMargin(q)
			profitL = (last - preLast) * v * mult
		}
	case sellClose:
		floatL = -pos.Long.FloatProfit / float64(pos.Long.Volume) * v
		if q.IsOption() {
			valueL = -preLast * v * mult
		} else {
			marginL = -v * FutureMargin(q)
			profitL = -pos.Long.PositionProfit / float64(pos.Long.Volume) * v
		}
	case sellOpen:
		floatS = (preLast - last) * v * mult
		if q.IsOption() {
			valueS = -last * v * mult
			marginS = v * OptionMargin(q, last, underlying)
		} else {
			marginS = v * FutureMargin(q)
			profitS = (preLast - last) * v * mult
		}
	case buyClose:
		floatS = -pos.Short.FloatProfit / float64(pos.Short.Volume) * v
		if q.IsOption() {
			valueS = preLast * v * mult
			marginS = -v * OptionMargin(q, preLast, preUnderlying)
		} else {
			marginS = -v * FutureMargin(q)
			profitS = -pos.Short.PositionProfit / float64(pos.Short.Volume) * v
		}
	default:
		long, short := float64(pos.Long.Volume), float64(pos.Short.Volume)
		floatL = (last - preLast) * long * mult
		floatS = (preLast - last) * short * mult
		if q.IsOption() {
			marginS = OptionMargin(q, last, underlying)*short - pos.Short.Margin
			valueL = (last - preLast) * long * mult
			valueS = (preLast - last) * short * mult
		} else {
			profitL, profitS = floatL, floatS
			marginL = FutureMargin(q)*long - pos.Long.Margin
			marginS = FutureMargin(q)*short - pos.Short.Margin
		}
	}

	// totals change only after the per-lot shares above were taken
	if f.kind != priceMove {
		pos.Long.recount()
		pos.Short.recount()
	}

	pos.Long.FloatProfit += floatL
	pos.Short.FloatProfit += floatS
	pos.Long.PositionProfit += profitL
	pos.Short.PositionProfit += profitS
	pos.Long.Margin += marginL
	pos.Short.Margin += marginS
	pos.Long.MarketValue += valueL
	pos.Short.MarketValue += valueS
	for _, s := range []*Side{&pos.Long, &pos.Short} {
		if s.Volume > 0 {
			s.OpenPrice = s.OpenCost / float64(s.Volume) / mult
			s.PositionPrice = s.PositionCost / float64(s.Volume) / mult
		} else {
			s.OpenPrice = math.NaN()
			s.PositionPrice = math.NaN()
		}
	}
	pos.FloatProfit = pos.Long.FloatProfit + pos.Short.FloatProfit
	pos.PositionProfit = pos.Long.PositionProfit + pos.Short.PositionProfit
	pos.Margin = pos.Long.Margin + pos.Short.Margin
	pos.MarketValue = pos.Long.MarketValue + pos.Short.MarketValue

	e.adjustAccountByPosition(floatL+floatS, profitL+profitS, marginL+marginS, valueL+valueS)
}

func (e *Engine) adjustAccountByTrade(commission, closeProfit, premium float64) {
	a := &e.account
	a.CloseProfit += closeProfit
	a.Commission += commission
	a.Premium += premium
	a.Balance += closeProfit - commission + premium
	a.Available += closeProfit - commission + premium
	a.RiskRatio = a.Margin / a.Balance
}

func (e *Engine) adjustAccountByPosition(floatProfit, positionProfit, margin, marketValue float64) {
	a := &e.account
	a.FloatProfit += floatProfit
	a.PositionProfit += positionProfit
	a.Margin += margin
	a.MarketValue += marketValue
	a.Balance += positionProfit + marketValue
	a.Available += positionProfit - margin
	a.RiskRatio = a.Margin / a.Balance
}

func (e *Engine) adjustAccountByOrder(frozenMargin, frozenPremium float64) {
	a := &e.account
	a.FrozenMargin += frozenMargin
	a.FrozenPremium += frozenPremium
	a.Available -= frozenMargin + frozenPremium
}

func (e *Engine) quotesFor(symbol string) (Quote, Quote, error) {
	q := e.Quote(symbol)
	if q == nil || q.Str("datetime") == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrQuoteNotReady, symbol)
	}
	if !q.IsOption() {
		return q, nil, nil
	}
	underlying := q.Str("underlying_symbol")
	uq := e.Quote(underlying)
	if uq == nil || uq.Str("datetime") == "" {
		return nil, nil, fmt.Errorf("%w: underlying %s of %s", ErrQuoteNotReady, underlying, symbol)
	}
	return q, uq, nil
}

func (e *Engine) ensurePosition(symbol string, q, uq Quote) *Position {
	if p, ok := e.positions[symbol]; ok {
		return p
	}
	exchange, instrument := splitSymbol(symbol)
	p := &Position{
		ExchangeID:          exchange,
		InstrumentID:        instrument,
		Long:                newSide(),
		Short:               newSide(),
		LastPrice:           q.Float("last_price"),
		UnderlyingLastPrice: math.NaN(),
		FutureMargin:        FutureMargin(q),
	}
	if uq != nil {
		p.UnderlyingLastPrice = uq.Float("last_price")
	}
	e.positions[symbol] = p
	return p
}

func (e *Engine) removeOrder(symbol string, o *Order) {
	e.orders[symbol] = slices.DeleteFunc(e.orders[symbol], func(x *Order) bool { return x == o })
}

// appendDiff records obj at trade.<account>.<path...>.
func (e *Engine) appendDiff(obj map[string]any, path ...string) {
	var v any = obj
	for i := len(path) - 1; i >= 0; i-- {
		v = map[string]any{path[i]: v}
	}
	e.diffs = append(e.diffs, map[string]any{
		"trade": map[string]any{e.accountKey: v},
	})
}

func (e *Engine) results() Result {
	r := Result{Diffs: e.diffs, Events: e.events}
	e.diffs, e.events = nil, nil
	return r
}

func (e *Engine) latestQuoteTime() int64 {
	ts, err := tradingtime.ParseDatetime(e.maxDatetime)
	if err != nil {
		return 0
	}
	return ts
}

func (e *Engine) quoteTradingTime(q Quote) bool {
	table, _ := q["trading_time"].(map[string]any)
	ok, err := tradingtime.InTradingTime(table, e.now())
	return err == nil && ok
}

func errDesync(symbol, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrDesync, symbol, fmt.Sprintf(format, args...))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
