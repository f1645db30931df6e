package sim

import (
	"math"
	"sort"
)

// riskFreeRate is the annual rate the Sharpe and Sortino ratios are
// measured against.
const riskFreeRate = 0.025

// Report computes the end of run statistics from the per-day ledgers.
// multiplier returns the contract multiplier of a symbol.
func Report(days map[string]DayLog, multiplier func(symbol string) float64) map[string]any {
	if len(days) == 0 {
		nan := math.NaN()
		return map[string]any{
			"winning_rate":      nan,
			"profit_loss_ratio": nan,
			"ror":               nan,
			"annual_yield":      nan,
			"max_drawdown":      nan,
			"sharpe_ratio":      nan,
			"sortino_ratio":     nan,
			"commission":        0.0,
		}
	}
	dates := sortedKeys(days)
	out := accountStats(dates, days)
	for k, v := range tradeStats(dates, days, multiplier) {
		out[k] = v
	}
	return out
}

func accountStats(dates []string, days map[string]DayLog) map[string]any {
	first, last := days[dates[0]].Account, days[dates[len(dates)-1]].Account
	initBalance := first.PreBalance

	prev, peak := initBalance, math.Inf(-1)
	yields := make([]float64, 0, len(dates))
	var maxDrawdown, commission, riskRatio float64
	var profitDays, lossDays, contProfit, contLoss int
	var maxProfitStreak, maxLossStreak, openTimes, closeTimes int
	for _, d := range dates {
		a := days[d].Account
		profit := a.Balance - prev
		yields = append(yields, a.Balance/prev-1)
		prev = a.Balance

		switch {
		case profit > 0:
			profitDays++
			contProfit++
			contLoss = 0
		case profit < 0:
			lossDays++
			contLoss++
			contProfit = 0
		default:
			contProfit, contLoss = 0, 0
		}
		maxProfitStreak = max(maxProfitStreak, contProfit)
		maxLossStreak = max(maxLossStreak, contLoss)

		peak = math.Max(peak, a.Balance)
		maxDrawdown = math.Max(maxDrawdown, (peak-a.Balance)/peak)
		commission += a.Commission
		riskRatio += a.RiskRatio

		for _, t := range days[d].Trades {
			if t.Offset == OffsetOpen {
				openTimes++
			} else {
				closeTimes++
			}
		}
	}
	ror := last.Balance / initBalance
	return map[string]any{
		"start_date":           dates[0],
		"end_date":             dates[len(dates)-1],
		"init_balance":         initBalance,
		"balance":              last.Balance,
		"start_balance":        initBalance,
		"end_balance":          last.Balance,
		"ror":                  ror - 1,
		"annual_yield":         math.Pow(ror, TradingDaysPerYear/float64(len(dates))) - 1,
		"trading_days":         len(dates),
		"cum_profit_days":      profitDays,
		"cum_loss_days":        lossDays,
		"max_drawdown":         maxDrawdown,
		"commission":           commission,
		"open_times":           openTimes,
		"close_times":          closeTimes,
		"daily_risk_ratio":     riskRatio / float64(len(dates)),
		"max_cont_profit_days": maxProfitStreak,
		"max_cont_loss_days":   maxLossStreak,
		"sharpe_ratio":         sharpe(yields),
		"sortino_ratio":        sortino(yields),
	}
}

// tradeStats pairs closing lots with opening lots in fill order per symbol
// and direction, and scores each closed lot as a win or a loss.
func tradeStats(dates []string, days map[string]DayLog, multiplier func(string) float64) map[string]any {
	type key struct {
		symbol, direction, offset string
	}
	lots := make(map[key][]float64)
	var symbols []string
	seen := make(map[string]bool)
	for _, d := range dates {
		for _, t := range days[d].Trades {
			offset := t.Offset
			if offset == OffsetCloseToday {
				offset = OffsetClose
			}
			k := key{t.Symbol(), t.Direction, offset}
			for i := int64(0); i < t.Volume; i++ {
				lots[k] = append(lots[k], t.Price)
			}
			if !seen[t.Symbol()] {
				seen[t.Symbol()] = true
				symbols = append(symbols, t.Symbol())
			}
		}
	}
	sort.Strings(symbols)

	var profitVolumes, lossVolumes int
	var profitValue, lossValue float64
	for _, symbol := range symbols {
		mult := multiplier(symbol)
		for _, dir := range []string{DirectionBuy, DirectionSell} {
			opposite, sign := DirectionSell, 1.0
			if dir == DirectionSell {
				opposite, sign = DirectionBuy, -1.0
			}
			opens := lots[key{symbol, dir, OffsetOpen}]
			closes := lots[key{symbol, opposite, OffsetClose}]
			for i := 0; i < len(opens) && i < len(closes); i++ {
				profit := (closes[i] - opens[i]) * sign
				if profit >= 0 {
					profitVolumes++
					profitValue += profit * mult
				} else {
					lossVolumes++
					lossValue += profit * mult
				}
			}
		}
	}

	winningRate := 0.0
	if profitVolumes+lossVolumes > 0 {
		winningRate = float64(profitVolumes) / float64(profitVolumes+lossVolumes)
	}
	perProfit, perLoss := 0.0, 0.0
	if profitVolumes > 0 {
		perProfit = profitValue / float64(profitVolumes)
	}
	if lossVolumes > 0 {
		perLoss = lossValue / float64(lossVolumes)
	}
	ratio := math.Inf(1)
	if perLoss != 0 {
		ratio = math.Abs(perProfit / perLoss)
	}
	return map[string]any{
		"profit_volumes":    profitVolumes,
		"loss_volumes":      lossVolumes,
		"profit_value":      profitValue,
		"loss_value":        lossValue,
		"winning_rate":      winningRate,
		"profit_loss_ratio": ratio,
	}
}

func dailyRiskFree() float64 {
	return math.Pow(1+riskFreeRate, 1.0/TradingDaysPerYear) - 1
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sharpe(yields []float64) float64 {
	m := mean(yields)
	var variance float64
	for _, y := range yields {
		variance += (y - m) * (y - m)
	}
	std := math.Sqrt(variance / float64(len(yields)))
	return math.Sqrt(TradingDaysPerYear) * (m - dailyRiskFree()) / std
}

func sortino(yields []float64) float64 {
	rf := dailyRiskFree()
	var downside float64
	var n int
	for _, y := range yields {
		if y < rf {
			downside += (y - rf) * (y - rf)
			n++
		}
	}
	if n == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(TradingDaysPerYear) * (mean(yields) - rf) / math.Sqrt(downside/float64(len(yields)))
}
