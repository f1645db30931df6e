package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/tqsdk-go/internal/api"
)

// maCross holds volume long while the short moving average of closes is
// above the long one, and short while it is below.
type maCross struct {
	short, long int
	volume      int64
}

func newMACross(short, long int, volume int64) (maCross, error) {
	if short < 1 || long <= short {
		return maCross{}, fmt.Errorf("need 1 <= short < long, got %d and %d", short, long)
	}
	if volume < 1 {
		return maCross{}, fmt.Errorf("volume must be >= 1, got %d", volume)
	}
	return maCross{short: short, long: long, volume: volume}, nil
}

// target returns the position to hold given closes oldest first. ok is
// false until there are enough bars or while the averages are equal.
func (s maCross) target(closes []float64) (target int64, ok bool) {
	if len(closes) < s.long {
		return 0, false
	}
	short, long := mean(closes[len(closes)-s.short:]), mean(closes[len(closes)-s.long:])
	switch {
	case short > long:
		return s.volume, true
	case short < long:
		return -s.volume, true
	}
	return 0, false
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

type leg struct {
	symbol string
	series *api.Series
	tp     *api.TargetPos
	last   int64
	set    bool
}

// run trades symbols until the backtest finishes, the client closes or ctx
// ends. With no symbols it only keeps the client updating.
func (s maCross) run(ctx context.Context, c *api.Client, symbols []string, duration time.Duration, logger *slog.Logger) error {
	legs := make([]*leg, 0, len(symbols))
	for _, sym := range symbols {
		series, err := c.GetKlines(ctx, sym, duration, s.long)
		if err != nil {
			return fmt.Errorf("klines %s: %w", sym, err)
		}
		tp, err := c.TargetPos(sym, api.TargetPosOptions{})
		if err != nil {
			return err
		}
		legs = append(legs, &leg{symbol: sym, series: series, tp: tp})
	}
	logger.Info("strategy started", "symbols", symbols, "duration", duration, "short", s.short, "long", s.long)

	for {
		st, err := c.WaitUpdate(ctx)
		switch {
		case errors.Is(err, api.ErrClientClosed):
			return nil
		case err != nil:
			return err
		case st == api.Finished:
			logger.Info("backtest finished")
			return nil
		case st == api.Timeout:
			continue
		}
		for _, l := range legs {
			if !l.series.IsChanging() {
				continue
			}
			klines := l.series.Klines()
			closes := make([]float64, len(klines))
			for i, k := range klines {
				closes[i] = k.Close
			}
			target, ok := s.target(closes)
			if !ok || (l.set && target == l.last) {
				continue
			}
			l.last, l.set = target, true
			l.tp.SetTargetVolume(target)
			logger.Info("target changed", "symbol", l.symbol, "target", target, "bar", l.series.LastID())
		}
	}
}
