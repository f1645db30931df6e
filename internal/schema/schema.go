// Package schema holds the prototype tables the runtime merges diffs
// against: the client tree, the sim quote cache and the backtest tree.
package schema

import (
	"math"

	"github.com/rickgao/tqsdk-go/internal/diff"
)

var nan = math.NaN()

// Quote returns the prototype of one instrument snapshot. Numeric fields
// default to NaN so a "-" placeholder on the wire maps back to NaN.
func Quote() *diff.Prototype {
	return diff.NewPrototype().Fields(map[string]any{
		"datetime":                "",
		"ask_price1":              nan,
		"ask_volume1":             float64(0),
		"bid_price1":              nan,
		"bid_volume1":             float64(0),
		"last_price":              nan,
		"highest":                 nan,
		"lowest":                  nan,
		"open":                    nan,
		"close":                   nan,
		"average":                 nan,
		"volume":                  float64(0),
		"amount":                  nan,
		"open_interest":           float64(0),
		"settlement":              nan,
		"upper_limit":             nan,
		"lower_limit":             nan,
		"pre_open_interest":       float64(0),
		"pre_settlement":          nan,
		"pre_close":               nan,
		"price_tick":              nan,
		"price_decs":              float64(0),
		"volume_multiple":         float64(0),
		"max_limit_order_volume":  float64(0),
		"max_market_order_volume": float64(0),
		"min_limit_order_volume":  float64(0),
		"min_market_order_volume": float64(0),
		"underlying_symbol":       "",
		"strike_price":            nan,
		"ins_class":               "",
		"exchange_id":             "",
		"instrument_id":           "",
		"option_class":            "",
		"margin":                  nan,
		"commission":              nan,
		"expired":                 false,
	})
}

// Kline returns the prototype of one bar.
func Kline() *diff.Prototype {
	return diff.NewPrototype().Fields(map[string]any{
		"datetime": float64(0),
		"open":     nan,
		"high":     nan,
		"low":      nan,
		"close":    nan,
		"volume":   float64(0),
		"open_oi":  float64(0),
		"close_oi": float64(0),
	})
}

// Tick returns the prototype of one tick.
func Tick() *diff.Prototype {
	return diff.NewPrototype().Fields(map[string]any{
		"datetime":      float64(0),
		"last_price":    nan,
		"average":       nan,
		"highest":       nan,
		"lowest":        nan,
		"ask_price1":    nan,
		"ask_volume1":   float64(0),
		"bid_price1":    nan,
		"bid_volume1":   float64(0),
		"volume":        float64(0),
		"amount":        nan,
		"open_interest": float64(0),
	})
}

// Account returns the prototype of an account ledger row.
func Account() *diff.Prototype {
	return diff.NewPrototype().Fields(map[string]any{
		"currency":          "",
		"pre_balance":       nan,
		"static_balance":    nan,
		"balance":           nan,
		"available":         nan,
		"float_profit":      nan,
		"position_profit":   nan,
		"close_profit":      nan,
		"frozen_margin":     nan,
		"margin":            nan,
		"frozen_commission": nan,
		"commission":        nan,
		"frozen_premium":    nan,
		"premium":           nan,
		"deposit":           nan,
		"withdraw":          nan,
		"risk_ratio":        nan,
		"market_value":      nan,
	})
}

// Position returns the prototype of a position row.
func Position() *diff.Prototype {
	p := diff.NewPrototype().Fields(map[string]any{
		"exchange_id":   "",
		"instrument_id": "",
	})
	for _, side := range []string{"long", "short"} {
		for _, suffix := range []string{"_today", "_his", "", "_frozen_today", "_frozen_his", "_frozen"} {
			p.Field("volume_"+side+suffix, float64(0))
		}
		for _, f := range []string{"open_price_", "open_cost_", "position_price_", "position_cost_",
			"float_profit_", "position_profit_", "margin_", "market_value_"} {
			p.Field(f+side, nan)
		}
	}
	for _, f := range []string{"float_profit", "position_profit", "margin", "market_value", "last_price"} {
		p.Field(f, nan)
	}
	return p
}

// Order returns the prototype of an order.
func Order() *diff.Prototype {
	return diff.NewPrototype().Fields(map[string]any{
		"order_id":          "",
		"exchange_order_id": "",
		"exchange_id":       "",
		"instrument_id":     "",
		"direction":         "",
		"offset":            "",
		"volume_orign":      float64(0),
		"volume_left":       float64(0),
		"limit_price":       nan,
		"price_type":        "",
		"volume_condition":  "",
		"time_condition":    "",
		"insert_date_time":  float64(0),
		"last_msg":          "",
		"status":            "",
		"frozen_margin":     nan,
		"frozen_premium":    nan,
	})
}

// Trade returns the prototype of a fill record.
func Trade() *diff.Prototype {
	return diff.NewPrototype().Fields(map[string]any{
		"order_id":          "",
		"trade_id":          "",
		"exchange_trade_id": "",
		"exchange_id":       "",
		"instrument_id":     "",
		"direction":         "",
		"offset":            "",
		"price":             nan,
		"volume":            float64(0),
		"trade_date_time":   float64(0),
		"commission":        nan,
	})
}

// Client returns the prototype of the tree owned by the user facing client.
func Client() *diff.Prototype {
	user := diff.NewPrototype().
		Child("accounts", diff.NewPrototype().At(Account())).
		Child("positions", diff.NewPrototype().At(Position())).
		Child("orders", diff.NewPrototype().At(Order())).
		Child("trades", diff.NewPrototype().At(Trade()))
	return diff.NewPrototype().
		Child("quotes", diff.NewPrototype().Hash(Quote())).
		Child("klines", klines()).
		Child("ticks", ticks()).
		Child("charts", diff.NewPrototype().Star(diff.NewPrototype())).
		Child("trade", diff.NewPrototype().Star(user))
}

// SimQuotes returns the prototype of the sim account's market data mirror.
func SimQuotes() *diff.Prototype {
	return diff.NewPrototype().Child("quotes", diff.NewPrototype().Hash(Quote()))
}

// Backtest returns the prototype of the replay driver's history tree. Its
// quotes only need a price tick; everything else comes from symbol info.
func Backtest() *diff.Prototype {
	return diff.NewPrototype().
		Child("quotes", diff.NewPrototype().Hash(diff.NewPrototype().Field("price_tick", nan))).
		Child("klines", klines()).
		Child("ticks", ticks())
}

func klines() *diff.Prototype {
	serial := diff.NewPrototype().Child("data", diff.NewPrototype().At(Kline()))
	return diff.NewPrototype().Star(diff.NewPrototype().Star(serial))
}

func ticks() *diff.Prototype {
	serial := diff.NewPrototype().Child("data", diff.NewPrototype().At(Tick()))
	return diff.NewPrototype().Star(serial)
}
