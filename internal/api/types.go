package api

import (
	"math"
	"strings"

	"github.com/rickgao/tqsdk-go/internal/diff"
)

// Directions and offsets accepted by InsertOrder.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"

	OffsetOpen       = "OPEN"
	OffsetClose      = "CLOSE"
	OffsetCloseToday = "CLOSETODAY"
)

// Order status values.
const (
	StatusAlive    = "ALIVE"
	StatusFinished = "FINISHED"
)

// DefaultAccount is the trade key of the simulated account.
const DefaultAccount = "TQSIM"

// Quote is a copy of one instrument snapshot.
type Quote struct {
	Symbol         string
	Datetime       string
	LastPrice      float64
	AskPrice1      float64
	AskVolume1     float64
	BidPrice1      float64
	BidVolume1     float64
	Highest        float64
	Lowest         float64
	Open           float64
	Close          float64
	Average        float64
	Volume         float64
	Amount         float64
	OpenInterest   float64
	UpperLimit     float64
	LowerLimit     float64
	PriceTick      float64
	VolumeMultiple float64
	InsClass       string
	Expired        bool
}

// Ready reports whether the quote has both market data and contract info.
func (q Quote) Ready() bool {
	return q.Datetime != "" && !math.IsNaN(q.PriceTick)
}

func quoteFrom(symbol string, n *diff.Node) Quote {
	return Quote{
		Symbol:         symbol,
		Datetime:       n.Str("datetime"),
		LastPrice:      n.Float("last_price"),
		AskPrice1:      n.Float("ask_price1"),
		AskVolume1:     n.Float("ask_volume1"),
		BidPrice1:      n.Float("bid_price1"),
		BidVolume1:     n.Float("bid_volume1"),
		Highest:        n.Float("highest"),
		Lowest:         n.Float("lowest"),
		Open:           n.Float("open"),
		Close:          n.Float("close"),
		Average:        n.Float("average"),
		Volume:         n.Float("volume"),
		Amount:         n.Float("amount"),
		OpenInterest:   n.Float("open_interest"),
		UpperLimit:     n.Float("upper_limit"),
		LowerLimit:     n.Float("lower_limit"),
		PriceTick:      n.Float("price_tick"),
		VolumeMultiple: n.Float("volume_multiple"),
		InsClass:       n.Str("ins_class"),
		Expired:        n.Bool("expired", false),
	}
}

// Kline is one bar. Datetime is the bar start in nanoseconds.
type Kline struct {
	ID       int64
	Datetime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	OpenOI   float64
	CloseOI  float64
}

func klineFrom(id int64, n *diff.Node) Kline {
	return Kline{
		ID:       id,
		Datetime: n.Int("datetime", 0),
		Open:     n.Float("open"),
		High:     n.Float("high"),
		Low:      n.Float("low"),
		Close:    n.Float("close"),
		Volume:   n.Float("volume"),
		OpenOI:   n.Float("open_oi"),
		CloseOI:  n.Float("close_oi"),
	}
}

// Tick is one tick row.
type Tick struct {
	ID           int64
	Datetime     int64
	LastPrice    float64
	AskPrice1    float64
	AskVolume1   float64
	BidPrice1    float64
	BidVolume1   float64
	Volume       float64
	OpenInterest float64
}

func tickFrom(id int64, n *diff.Node) Tick {
	return Tick{
		ID:           id,
		Datetime:     n.Int("datetime", 0),
		LastPrice:    n.Float("last_price"),
		AskPrice1:    n.Float("ask_price1"),
		AskVolume1:   n.Float("ask_volume1"),
		BidPrice1:    n.Float("bid_price1"),
		BidVolume1:   n.Float("bid_volume1"),
		Volume:       n.Float("volume"),
		OpenInterest: n.Float("open_interest"),
	}
}

// Account is a copy of an account ledger row.
type Account struct {
	Currency       string
	PreBalance     float64
	StaticBalance  float64
	Balance        float64
	Available      float64
	FloatProfit    float64
	PositionProfit float64
	CloseProfit    float64
	FrozenMargin   float64
	Margin         float64
	Commission     float64
	RiskRatio      float64
}

func accountFrom(n *diff.Node) Account {
	return Account{
		Currency:       n.Str("currency"),
		PreBalance:     n.Float("pre_balance"),
		StaticBalance:  n.Float("static_balance"),
		Balance:        n.Float("balance"),
		Available:      n.Float("available"),
		FloatProfit:    n.Float("float_profit"),
		PositionProfit: n.Float("position_profit"),
		CloseProfit:    n.Float("close_profit"),
		FrozenMargin:   n.Float("frozen_margin"),
		Margin:         n.Float("margin"),
		Commission:     n.Float("commission"),
		RiskRatio:      n.Float("risk_ratio"),
	}
}

// Position is a copy of one symbol's position.
type Position struct {
	Symbol                 string
	VolumeLongToday        int64
	VolumeLongHis          int64
	VolumeLong             int64
	VolumeLongFrozenToday  int64
	VolumeLongFrozenHis    int64
	VolumeShortToday       int64
	VolumeShortHis         int64
	VolumeShort            int64
	VolumeShortFrozenToday int64
	VolumeShortFrozenHis   int64
	OpenPriceLong          float64
	OpenPriceShort         float64
	FloatProfit            float64
	Margin                 float64
}

// Net returns long minus short volume.
func (p Position) Net() int64 {
	return p.VolumeLong - p.VolumeShort
}

func positionFrom(symbol string, n *diff.Node) Position {
	return Position{
		Symbol:                 symbol,
		VolumeLongToday:        n.Int("volume_long_today", 0),
		VolumeLongHis:          n.Int("volume_long_his", 0),
		VolumeLong:             n.Int("volume_long", 0),
		VolumeLongFrozenToday:  n.Int("volume_long_frozen_today", 0),
		VolumeLongFrozenHis:    n.Int("volume_long_frozen_his", 0),
		VolumeShortToday:       n.Int("volume_short_today", 0),
		VolumeShortHis:         n.Int("volume_short_his", 0),
		VolumeShort:            n.Int("volume_short", 0),
		VolumeShortFrozenToday: n.Int("volume_short_frozen_today", 0),
		VolumeShortFrozenHis:   n.Int("volume_short_frozen_his", 0),
		OpenPriceLong:          n.Float("open_price_long"),
		OpenPriceShort:         n.Float("open_price_short"),
		FloatProfit:            n.Float("float_profit"),
		Margin:                 n.Float("margin"),
	}
}

// Order is a copy of one order.
type Order struct {
	OrderID        string
	Symbol         string
	Direction      string
	Offset         string
	VolumeOrign    int64
	VolumeLeft     int64
	LimitPrice     float64
	PriceType      string
	TimeCondition  string
	Status         string
	LastMsg        string
	InsertDatetime int64
}

// IsDead reports whether the order can no longer trade.
func (o Order) IsDead() bool {
	return o.Status == StatusFinished
}

func orderFrom(id string, n *diff.Node) Order {
	return Order{
		OrderID:        id,
		Symbol:         n.Str("exchange_id") + "." + n.Str("instrument_id"),
		Direction:      n.Str("direction"),
		Offset:         n.Str("offset"),
		VolumeOrign:    n.Int("volume_orign", 0),
		VolumeLeft:     n.Int("volume_left", 0),
		LimitPrice:     n.Float("limit_price"),
		PriceType:      n.Str("price_type"),
		TimeCondition:  n.Str("time_condition"),
		Status:         n.Str("status"),
		LastMsg:        n.Str("last_msg"),
		InsertDatetime: n.Int("insert_date_time", 0),
	}
}

// splitSymbol splits "SHFE.cu2001" into exchange and instrument. ok is
// false when either part is missing.
func splitSymbol(symbol string) (exchange, instrument string, ok bool) {
	exchange, instrument, ok = strings.Cut(symbol, ".")
	return exchange, instrument, ok && exchange != "" && instrument != ""
}
