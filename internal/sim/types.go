package sim

import (
	"errors"
	"math"
	"strings"
)

var (
	// ErrQuoteNotReady is returned when an order is processed before its
	// quote (or its underlying's) has market data and contract info.
	ErrQuoteNotReady = errors.New("sim: quote not ready")
	// ErrDesync is returned when a ledger invariant breaks. The local ledger
	// can no longer be trusted and the run must stop.
	ErrDesync = errors.New("sim: ledger out of sync")
)

// Order directions and offsets.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"

	OffsetOpen       = "OPEN"
	OffsetClose      = "CLOSE"
	OffsetCloseToday = "CLOSETODAY"
)

// Order statuses.
const (
	StatusAlive    = "ALIVE"
	StatusFinished = "FINISHED"
)

// Order messages.
const (
	MsgInserted         = "inserted"
	MsgFilled           = "fully filled"
	MsgCancelled        = "cancelled"
	MsgMarketCancelled  = "market order remainder cancelled"
	MsgIOCCancelled     = "cancelled: IOC order could not fill"
	MsgSessionEnd       = "session end"
	MsgUnsupported      = "unsupported instrument class"
	MsgOutsideHours     = "outside trading hours"
	MsgNoVolume         = "insufficient volume to close"
	MsgNoTodayVolume    = "insufficient today volume to close"
	MsgNoHistoryVolume  = "insufficient history volume to close"
	MsgInsufficientFund = "insufficient funds to open"
)

// Account is the CNY ledger of a simulated account.
type Account struct {
	Currency         string
	PreBalance       float64
	StaticBalance    float64
	Balance          float64
	Available        float64
	FloatProfit      float64
	PositionProfit   float64
	CloseProfit      float64
	FrozenMargin     float64
	Margin           float64
	FrozenCommission float64
	Commission       float64
	FrozenPremium    float64
	Premium          float64
	Deposit          float64
	Withdraw         float64
	RiskRatio        float64
	MarketValue      float64
}

func newAccount(initBalance float64) Account {
	return Account{
		Currency:      "CNY",
		PreBalance:    initBalance,
		StaticBalance: initBalance,
		Balance:       initBalance,
		Available:     initBalance,
	}
}

// Map renders the account as a diff object.
func (a *Account) Map() map[string]any {
	return map[string]any{
		"currency":          a.Currency,
		"pre_balance":       a.PreBalance,
		"static_balance":    a.StaticBalance,
		"balance":           a.Balance,
		"available":         a.Available,
		"float_profit":      a.FloatProfit,
		"position_profit":   a.PositionProfit,
		"close_profit":      a.CloseProfit,
		"frozen_margin":     a.FrozenMargin,
		"margin":            a.Margin,
		"frozen_commission": a.FrozenCommission,
		"commission":        a.Commission,
		"frozen_premium":    a.FrozenPremium,
		"premium":           a.Premium,
		"deposit":           a.Deposit,
		"withdraw":          a.Withdraw,
		"risk_ratio":        a.RiskRatio,
		"market_value":      a.MarketValue,
		"ctp_balance":       math.NaN(),
		"ctp_available":     math.NaN(),
	}
}

// Side is one direction of a position.
type Side struct {
	Today       int64
	His         int64
	Volume      int64
	FrozenToday int64
	FrozenHis   int64
	Frozen      int64

	OpenPrice      float64
	OpenCost       float64
	PositionPrice  float64
	PositionCost   float64
	FloatProfit    float64
	PositionProfit float64
	Margin         float64
	MarketValue    float64
}

func newSide() Side {
	return Side{OpenPrice: math.NaN(), PositionPrice: math.NaN()}
}

// recount refreshes the derived volume totals.
func (s *Side) recount() {
	s.Volume = s.Today + s.His
	s.Frozen = s.FrozenToday + s.FrozenHis
}

// Position is the holding of one symbol.
type Position struct {
	ExchangeID   string
	InstrumentID string
	Long         Side
	Short        Side

	FloatProfit         float64
	PositionProfit      float64
	Margin              float64
	MarketValue         float64
	LastPrice           float64
	UnderlyingLastPrice float64
	FutureMargin        float64
}

// Symbol returns EXCHANGE.INSTRUMENT.
func (p *Position) Symbol() string {
	return p.ExchangeID + "." + p.InstrumentID
}

// closing returns the side an order of direction affects when closing: a buy
// closes shorts and a sell closes longs.
func (p *Position) closing(direction string) *Side {
	if direction == DirectionBuy {
		return &p.Short
	}
	return &p.Long
}

// Map renders the position as a diff object.
func (p *Position) Map() map[string]any {
	m := map[string]any{
		"exchange_id":           p.ExchangeID,
		"instrument_id":         p.InstrumentID,
		"float_profit":          p.FloatProfit,
		"position_profit":       p.PositionProfit,
		"margin":                p.Margin,
		"market_value":          p.MarketValue,
		"last_price":            p.LastPrice,
		"underlying_last_price": p.UnderlyingLastPrice,
		"future_margin":         p.FutureMargin,
	}
	for name, s := range map[string]*Side{"long": &p.Long, "short": &p.Short} {
		m["pos_"+name+"_today"] = s.Today
		m["pos_"+name+"_his"] = s.His
		m["volume_"+name+"_today"] = s.Today
		m["volume_"+name+"_his"] = s.His
		m["volume_"+name] = s.Volume
		m["volume_"+name+"_frozen_today"] = s.FrozenToday
		m["volume_"+name+"_frozen_his"] = s.FrozenHis
		m["volume_"+name+"_frozen"] = s.Frozen
		m["open_price_"+name] = s.OpenPrice
		m["open_cost_"+name] = s.OpenCost
		m["position_price_"+name] = s.PositionPrice
		m["position_cost_"+name] = s.PositionCost
		m["float_profit_"+name] = s.FloatProfit
		m["position_profit_"+name] = s.PositionProfit
		m["margin_"+name] = s.Margin
		m["market_value_"+name] = s.MarketValue
	}
	return m
}

// check verifies the volume invariants of both sides.
func (p *Position) check() error {
	for name, s := range map[string]*Side{"long": &p.Long, "short": &p.Short} {
		if s.Volume != s.Today+s.His {
			return errDesync(p.Symbol(), name+" volume %d != today %d + his %d", s.Volume, s.Today, s.His)
		}
		if s.Frozen < 0 || s.Frozen > s.Volume || s.FrozenToday < 0 || s.FrozenHis < 0 {
			return errDesync(p.Symbol(), name+" frozen %d out of [0, %d]", s.Frozen, s.Volume)
		}
	}
	return nil
}

// Order is a simulated order.
type Order struct {
	UserID          string
	OrderID         string
	ExchangeOrderID string
	ExchangeID      string
	InstrumentID    string
	Direction       string
	Offset          string
	VolumeOrign     int64
	VolumeLeft      int64
	PriceType       string
	LimitPrice      float64
	VolumeCondition string
	TimeCondition   string
	InsertDateTime  int64
	LastMsg         string
	Status          string
	FrozenMargin    float64
	FrozenPremium   float64
}

// Symbol returns EXCHANGE.INSTRUMENT.
func (o *Order) Symbol() string {
	return o.ExchangeID + "." + o.InstrumentID
}

// IsMarket reports whether the order trades at the opposing price.
func (o *Order) IsMarket() bool {
	switch o.PriceType {
	case "ANY", "BEST", "FIVELEVEL":
		return true
	}
	return false
}

// Map renders the order as a diff object.
func (o *Order) Map() map[string]any {
	m := map[string]any{
		"user_id":           o.UserID,
		"order_id":          o.OrderID,
		"exchange_order_id": o.ExchangeOrderID,
		"exchange_id":       o.ExchangeID,
		"instrument_id":     o.InstrumentID,
		"direction":         o.Direction,
		"offset":            o.Offset,
		"volume_orign":      o.VolumeOrign,
		"volume_left":       o.VolumeLeft,
		"price_type":        o.PriceType,
		"volume_condition":  o.VolumeCondition,
		"time_condition":    o.TimeCondition,
		"insert_date_time":  o.InsertDateTime,
		"last_msg":          o.LastMsg,
		"status":            o.Status,
		"frozen_margin":     o.FrozenMargin,
		"frozen_premium":    o.FrozenPremium,
	}
	if !math.IsNaN(o.LimitPrice) {
		m["limit_price"] = o.LimitPrice
	}
	return m
}

// Trade is one fill. A fill always takes the whole remaining volume.
type Trade struct {
	UserID          string
	OrderID         string
	TradeID         string
	ExchangeTradeID string
	ExchangeID      string
	InstrumentID    string
	Direction       string
	Offset          string
	Price           float64
	Volume          int64
	TradeDateTime   int64
	Commission      float64
}

// Symbol returns EXCHANGE.INSTRUMENT.
func (t *Trade) Symbol() string {
	return t.ExchangeID + "." + t.InstrumentID
}

// Map renders the trade as a diff object.
func (t *Trade) Map() map[string]any {
	return map[string]any{
		"user_id":           t.UserID,
		"order_id":          t.OrderID,
		"trade_id":          t.TradeID,
		"exchange_trade_id": t.ExchangeTradeID,
		"exchange_id":       t.ExchangeID,
		"instrument_id":     t.InstrumentID,
		"direction":         t.Direction,
		"offset":            t.Offset,
		"price":             t.Price,
		"volume":            t.Volume,
		"trade_date_time":   t.TradeDateTime,
		"commission":        t.Commission,
	}
}

// DayLog is the ledger of one trading day, taken just before settlement.
type DayLog struct {
	Trades    []Trade
	Account   Account
	Positions map[string]Position
}

func splitSymbol(symbol string) (exchange, instrument string) {
	exchange, instrument, _ = strings.Cut(symbol, ".")
	return exchange, instrument
}

// closesByBucket reports whether the exchange tells today's positions from
// older ones when closing.
func closesByBucket(exchange string) bool {
	return exchange == "SHFE" || exchange == "INE"
}
