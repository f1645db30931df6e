package sim

import (
	"math"
	"testing"
)

func dayLog(pre, balance float64, trades ...Trade) DayLog {
	return DayLog{Trades: trades, Account: Account{PreBalance: pre, Balance: balance}}
}

func lot(direction, offset string, volume int64, price float64) Trade {
	return Trade{ExchangeID: "SHFE", InstrumentID: "cu2001", Direction: direction, Offset: offset, Volume: volume, Price: price}
}

func TestReport(t *testing.T) {
	days := map[string]DayLog{
		"2020-01-02": dayLog(1_000_000, 1_010_000, lot(DirectionBuy, OffsetOpen, 2, 100)),
		"2020-01-03": dayLog(1_010_000, 1_005_000,
			lot(DirectionSell, OffsetClose, 1, 110), lot(DirectionSell, OffsetCloseToday, 1, 95)),
		"2020-01-06": dayLog(1_005_000, 1_020_000),
	}
	stat := Report(days, func(string) float64 { return 10 })

	ints := map[string]int{
		"trading_days": 3, "cum_profit_days": 2, "cum_loss_days": 1,
		"max_cont_profit_days": 1, "max_cont_loss_days": 1,
		"open_times": 1, "close_times": 2, "profit_volumes": 1, "loss_volumes": 1,
	}
	for k, want := range ints {
		if got := stat[k]; got != want {
			t.Errorf("%s = %v, want %d", k, got, want)
		}
	}
	floats := map[string]float64{
		"init_balance":      1_000_000,
		"end_balance":       1_020_000,
		"ror":               0.02,
		"max_drawdown":      5000.0 / 1_010_000,
		"winning_rate":      0.5,
		"profit_value":      100,
		"loss_value":        -50,
		"profit_loss_ratio": 2,
	}
	for k, want := range floats {
		got, _ := stat[k].(float64)
		if !near(got, want) {
			t.Errorf("%s = %v, want %v", k, stat[k], want)
		}
	}
	if stat["start_date"] != "2020-01-02" || stat["end_date"] != "2020-01-06" {
		t.Errorf("dates = %v..%v", stat["start_date"], stat["end_date"])
	}
	if s, _ := stat["sharpe_ratio"].(float64); math.IsNaN(s) || s <= 0 {
		t.Errorf("sharpe_ratio = %v, want positive", stat["sharpe_ratio"])
	}
}

func TestReport_NoLosses(t *testing.T) {
	days := map[string]DayLog{
		"2020-01-02": dayLog(1_000_000, 1_000_100,
			lot(DirectionSell, OffsetOpen, 1, 100), lot(DirectionBuy, OffsetClose, 1, 90)),
	}
	stat := Report(days, func(string) float64 { return 10 })
	if r, _ := stat["profit_loss_ratio"].(float64); !math.IsInf(r, 1) {
		t.Errorf("profit_loss_ratio = %v, want +Inf", stat["profit_loss_ratio"])
	}
	if stat["winning_rate"] != 1.0 {
		t.Errorf("winning_rate = %v, want 1", stat["winning_rate"])
	}
}

func TestReport_Empty(t *testing.T) {
	stat := Report(nil, nil)
	if r, _ := stat["ror"].(float64); !math.IsNaN(r) {
		t.Errorf("ror = %v, want NaN", stat["ror"])
	}
}
