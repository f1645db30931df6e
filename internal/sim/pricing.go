package sim

import (
	"math"
	"strings"

	"github.com/rickgao/tqsdk-go/internal/diff"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 250

// Default option fee per lot when the quote carries none.
const defaultOptionCommission = 10.0

// Quote is a plain instrument snapshot as cached by the engine.
type Quote map[string]any

// Float returns the numeric field key, NaN when missing.
func (q Quote) Float(key string) float64 {
	if f, ok := diff.ToFloat(q[key]); ok {
		return f
	}
	return math.NaN()
}

// Str returns the string field key.
func (q Quote) Str(key string) string {
	s, _ := q[key].(string)
	return s
}

// IsOption reports whether the instrument is an option.
func (q Quote) IsOption() bool {
	return strings.HasSuffix(q.Str("ins_class"), "OPTION")
}

// IsIndex reports whether the instrument is an index.
func (q Quote) IsIndex() bool {
	return strings.HasSuffix(q.Str("ins_class"), "INDEX")
}

// Ready reports whether the quote has both market data and contract info.
func (q Quote) Ready() bool {
	return q.Str("datetime") != "" && !math.IsNaN(q.Float("price_tick"))
}

// has reports whether key holds a non-NaN number.
func (q Quote) has(key string) bool {
	f, ok := diff.ToFloat(q[key])
	return ok && !math.IsNaN(f)
}

// PriceRange returns the best ask and bid. An index has no book, so its
// range is synthesized one tick around the last price.
func PriceRange(q Quote) (ask, bid float64) {
	ask, bid = q.Float("ask_price1"), q.Float("bid_price1")
	if q.IsIndex() {
		if math.IsNaN(ask) {
			ask = q.Float("last_price") + q.Float("price_tick")
		}
		if math.IsNaN(bid) {
			bid = q.Float("last_price") - q.Float("price_tick")
		}
	}
	return ask, bid
}

// OptionMargin returns the margin of one short option lot. Long options
// carry no margin.
func OptionMargin(q Quote, lastPrice, underlyingLastPrice float64) float64 {
	strike := q.Float("strike_price")
	mult := q.Float("volume_multiple")
	if q.Str("option_class") == "CALL" {
		outOfMoney := math.Max(strike-underlyingLastPrice, 0)
		return (lastPrice + math.Max(0.12*underlyingLastPrice-outOfMoney, 0.07*underlyingLastPrice)) * mult
	}
	outOfMoney := math.Max(underlyingLastPrice-strike, 0)
	return math.Min(lastPrice+math.Max(0.12*underlyingLastPrice-outOfMoney, 0.07*strike), strike) * mult
}

// Commission returns the fee per lot. A user override wins over the
// exchange value.
func Commission(q Quote) float64 {
	if q.has("user_commission") {
		return q.Float("user_commission")
	}
	if q.IsOption() {
		return defaultOptionCommission
	}
	return q.Float("commission")
}

// FutureMargin returns the margin per futures lot, NaN for options. A user
// override wins over the exchange value.
func FutureMargin(q Quote) float64 {
	if q.IsOption() {
		return math.NaN()
	}
	if q.has("user_margin") {
		return q.Float("user_margin")
	}
	return q.Float("margin")
}

// premium is the cash flow of an option fill: paid when buying, received
// when selling.
func premium(t *Trade, q Quote) float64 {
	if !q.IsOption() {
		return 0
	}
	p := t.Price * float64(t.Volume) * q.Float("volume_multiple")
	if t.Direction == DirectionBuy {
		return -p
	}
	return p
}

// closeProfit is the realized profit of a closing fill against the
// position price. Options realize through market value instead.
func closeProfit(t *Trade, q Quote, pos *Position) float64 {
	if q.IsOption() {
		return 0
	}
	mult := q.Float("volume_multiple")
	if t.Direction == DirectionSell {
		return (t.Price - pos.Long.PositionPrice) * float64(t.Volume) * mult
	}
	return (pos.Short.PositionPrice - t.Price) * float64(t.Volume) * mult
}
