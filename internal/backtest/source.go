package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ViewWidth is the number of rows fetched per page and the width of the
// sliding window kept for tick series.
const ViewWidth = 8964

// ErrNoSeries is returned when a Source knows nothing about a symbol.
var ErrNoSeries = errors.New("backtest: no series")

// Bar is one kline row. Datetime is the bar's start in nanoseconds; for
// daily and longer bars it is the trading day.
type Bar struct {
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

// Map returns the row as a klines data entry.
func (b Bar) Map() map[string]any {
	return map[string]any{
		"datetime": b.Datetime,
		"open":     b.Open,
		"high":     b.High,
		"low":      b.Low,
		"close":    b.Close,
		"volume":   b.Volume,
		"open_oi":  b.OpenOI,
		"close_oi": b.CloseOI,
	}
}

// Tick is one tick row with the first level of the book.
type Tick struct {
	ID           int64
	Datetime     int64
	LastPrice    float64
	Average      float64
	Highest      float64
	Lowest       float64
	AskPrice1    float64
	AskVolume1   float64
	BidPrice1    float64
	BidVolume1   float64
	Volume       float64
	Amount       float64
	OpenInterest float64
}

// Map returns the row as a ticks data entry.
func (t Tick) Map() map[string]any {
	return map[string]any{
		"datetime":      t.Datetime,
		"last_price":    t.LastPrice,
		"average":       t.Average,
		"highest":       t.Highest,
		"lowest":        t.Lowest,
		"ask_price1":    t.AskPrice1,
		"ask_volume1":   t.AskVolume1,
		"bid_price1":    t.BidPrice1,
		"bid_volume1":   t.BidVolume1,
		"volume":        t.Volume,
		"amount":        t.Amount,
		"open_interest": t.OpenInterest,
	}
}

// SeriesQuery selects one page of a series.
//
// With AfterID below zero the page is positioned on At: it holds the last
// Limit rows that started at or before At, or the first Limit rows when
// none did. Otherwise it holds the first Limit rows with an id above
// AfterID. Rows are ordered by id in both cases.
type SeriesQuery struct {
	Symbol   string
	Duration int64 // nanoseconds, 0 for ticks
	At       int64
	AfterID  int64
	Limit    int
}

// Source supplies contract info and historical rows.
type Source interface {
	// Instruments returns the quote info of symbols. Unknown symbols are
	// reported with ErrNoSeries.
	Instruments(ctx context.Context, symbols []string) (map[string]map[string]any, error)
	Klines(ctx context.Context, q SeriesQuery) ([]Bar, error)
	Ticks(ctx context.Context, q SeriesQuery) ([]Tick, error)
}

// SeriesKey names one kline series.
type SeriesKey struct {
	Symbol   string
	Duration int64
}

// MemorySource serves rows held in memory. Rows must be ordered by id.
type MemorySource struct {
	Info      map[string]map[string]any
	KlineRows map[SeriesKey][]Bar
	TickRows  map[string][]Tick
}

// Instruments implements Source.
func (s *MemorySource) Instruments(_ context.Context, symbols []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(symbols))
	for _, sym := range symbols {
		info, ok := s.Info[sym]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSeries, sym)
		}
		cp := make(map[string]any, len(info))
		for k, v := range info {
			cp[k] = v
		}
		out[sym] = cp
	}
	return out, nil
}

// Klines implements Source.
func (s *MemorySource) Klines(_ context.Context, q SeriesQuery) ([]Bar, error) {
	rows := s.KlineRows[SeriesKey{q.Symbol, q.Duration}]
	lo, hi := window(len(rows), q, func(i int) (int64, int64) { return rows[i].ID, rows[i].Datetime })
	return append([]Bar(nil), rows[lo:hi]...), nil
}

// Ticks implements Source.
func (s *MemorySource) Ticks(_ context.Context, q SeriesQuery) ([]Tick, error) {
	rows := s.TickRows[q.Symbol]
	lo, hi := window(len(rows), q, func(i int) (int64, int64) { return rows[i].ID, rows[i].Datetime })
	return append([]Tick(nil), rows[lo:hi]...), nil
}

// window returns the [lo, hi) slice of n id ordered rows selected by q.
func window(n int, q SeriesQuery, row func(i int) (id, datetime int64)) (int, int) {
	limit := q.Limit
	if limit <= 0 {
		limit = ViewWidth
	}
	if q.AfterID >= 0 {
		lo := sort.Search(n, func(i int) bool { id, _ := row(i); return id > q.AfterID })
		return lo, min(n, lo+limit)
	}
	at := sort.Search(n, func(i int) bool { _, dt := row(i); return dt > q.At })
	if at == 0 {
		return 0, min(n, limit)
	}
	return max(0, at-limit), at
}
