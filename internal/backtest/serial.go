package backtest

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rickgao/tqsdk-go/internal/tradingtime"
)

type eventKind int

const (
	tickRow eventKind = iota
	barOpen
	barEnd
)

// event is one timestamped step of a serial.
type event struct {
	ts   int64
	kind eventKind
	bar  Bar
	tick Tick
}

// serial replays one (symbol, duration) series from start to end. It is
// restartable only by creating a new one.
type serial struct {
	symbol   string
	duration int64
	start    int64
	end      int64
	src      Source
	charts   map[string]bool

	fetched bool
	bars    []Bar
	ticks   []Tick
	pos     int
	lastID  int64 // last row id fetched
	queue   []event
	done    bool

	keptFrom int64 // lowest kline id not yet collected
	sentID   int64 // highest row id rendered
}

func newSerial(src Source, symbol string, duration, start, end int64) *serial {
	return &serial{
		symbol:   symbol,
		duration: duration,
		start:    start,
		end:      end,
		src:      src,
		charts:   make(map[string]bool),
		lastID:   -1,
		keptFrom: -1,
		sentID:   -1,
	}
}

func (s *serial) isTick() bool { return s.duration == 0 }

// peek returns the next event, or nil once the serial is exhausted.
func (s *serial) peek(ctx context.Context) (*event, error) {
	for len(s.queue) == 0 && !s.done {
		if err := s.fill(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.queue) == 0 {
		return nil, nil
	}
	return &s.queue[0], nil
}

func (s *serial) pop() {
	s.queue = s.queue[1:]
}

// fill queues the events of the next row, fetching a page when needed.
func (s *serial) fill(ctx context.Context) error {
	if s.pos >= s.rows() {
		if err := s.fetch(ctx); err != nil {
			return err
		}
		if s.pos >= s.rows() {
			s.done = true
			return nil
		}
	}
	i := s.pos
	s.pos++

	if s.isTick() {
		t := s.ticks[i]
		if t.Datetime > s.end {
			s.done = true
			return nil
		}
		s.queue = append(s.queue, event{ts: t.Datetime, kind: tickRow, tick: t})
		return nil
	}

	b := s.bars[i]
	open, end := b.Datetime, b.Datetime+s.duration-1000
	if s.duration >= tradingtime.Day {
		open = tradingtime.DayStart(b.Datetime)
		end = tradingtime.DayStart(b.Datetime+s.duration) - 1000
	}
	if open > s.end {
		s.done = true
		return nil
	}
	s.queue = append(s.queue, event{ts: open, kind: barOpen, bar: b})
	if end > s.end {
		s.done = true
		return nil
	}
	s.queue = append(s.queue, event{ts: end, kind: barEnd, bar: b})
	return nil
}

func (s *serial) rows() int {
	if s.isTick() {
		return len(s.ticks)
	}
	return len(s.bars)
}

func (s *serial) fetch(ctx context.Context) error {
	q := SeriesQuery{Symbol: s.symbol, Duration: s.duration, At: s.start, AfterID: s.lastID, Limit: ViewWidth}
	if !s.fetched {
		q.AfterID = -1
	}
	s.fetched = true
	s.pos = 0
	var err error
	if s.isTick() {
		s.ticks, err = s.src.Ticks(ctx, q)
		if err == nil && len(s.ticks) > 0 {
			s.lastID = s.ticks[len(s.ticks)-1].ID
		}
	} else {
		s.bars, err = s.src.Klines(ctx, q)
		if err == nil && len(s.bars) > 0 {
			s.lastID = s.bars[len(s.bars)-1].ID
			if s.keptFrom < 0 {
				s.keptFrom = s.bars[0].ID
			}
		}
	}
	if err != nil {
		return fmt.Errorf("fetch %s/%d after %d: %w", s.symbol, s.duration, s.lastID, err)
	}
	return nil
}

// render returns the series diff of ev and the quote fragments it implies.
func (s *serial) render(ev *event, priceTick float64) (map[string]any, []map[string]any) {
	if ev.kind == tickRow {
		t := ev.tick
		s.sentID = t.ID
		data := map[string]any{strconv.FormatInt(t.ID, 10): t.Map()}
		if t.ID >= ViewWidth {
			data[strconv.FormatInt(t.ID-ViewWidth, 10)] = nil
		}
		d := map[string]any{"ticks": map[string]any{s.symbol: map[string]any{"last_id": t.ID, "data": data}}}
		q := t.Map()
		q["datetime"] = tradingtime.FormatDatetime(t.Datetime)
		return d, []map[string]any{q}
	}

	b := ev.bar
	s.sentID = b.ID
	id := strconv.FormatInt(b.ID, 10)
	var row map[string]any
	var quotes []map[string]any
	series := map[string]any{}
	if ev.kind == barOpen {
		row = map[string]any{
			"datetime": b.Datetime,
			"open":     b.Open,
			"high":     b.Open,
			"low":      b.Open,
			"close":    b.Open,
			"volume":   0.0,
			"open_oi":  b.OpenOI,
			"close_oi": b.OpenOI,
		}
		series["last_id"] = b.ID
		quotes = quotesAtOpen(ev.ts, b, priceTick)
	} else {
		row = b.Map()
		quotes = quotesAtEnd(ev.ts, b, priceTick)
	}
	series["data"] = map[string]any{id: row}
	d := map[string]any{
		"klines": map[string]any{s.symbol: map[string]any{strconv.FormatInt(s.duration, 10): series}},
	}
	if ev.kind == barOpen && len(s.charts) > 0 {
		charts := make(map[string]any, len(s.charts))
		for c := range s.charts {
			charts[c] = map[string]any{"right_id": b.ID}
		}
		d["charts"] = charts
	}
	return d, quotes
}

// collect drops kline rows that fell out of the window behind the last
// rendered row. It returns nil when there is nothing to drop.
func (s *serial) collect() map[string]any {
	if s.isTick() || s.keptFrom < 0 {
		return nil
	}
	keep := s.sentID - ViewWidth + 1
	if keep <= s.keptFrom {
		return nil
	}
	data := make(map[string]any, keep-s.keptFrom)
	for id := s.keptFrom; id < keep; id++ {
		data[strconv.FormatInt(id, 10)] = nil
	}
	s.keptFrom = keep
	return map[string]any{
		"klines": map[string]any{s.symbol: map[string]any{strconv.FormatInt(s.duration, 10): map[string]any{"data": data}}},
	}
}

func quotesAtOpen(ts int64, b Bar, tick float64) []map[string]any {
	return []map[string]any{{
		"datetime":      tradingtime.FormatDatetime(ts),
		"ask_price1":    b.Open + tick,
		"ask_volume1":   1.0,
		"bid_price1":    b.Open - tick,
		"bid_volume1":   1.0,
		"last_price":    b.Open,
		"highest":       math.NaN(),
		"lowest":        math.NaN(),
		"average":       math.NaN(),
		"volume":        0.0,
		"amount":        math.NaN(),
		"open_interest": b.OpenOI,
	}}
}

// quotesAtEnd walks the book through high, low and close so that resting
// orders on either side get a chance to fill. last_price is the close
// throughout.
func quotesAtEnd(ts int64, b Bar, tick float64) []map[string]any {
	return []map[string]any{
		{
			"datetime":      tradingtime.FormatDatetime(ts),
			"ask_price1":    b.High + tick,
			"ask_volume1":   1.0,
			"bid_price1":    b.High - tick,
			"bid_volume1":   1.0,
			"last_price":    b.Close,
			"highest":       math.NaN(),
			"lowest":        math.NaN(),
			"average":       math.NaN(),
			"volume":        0.0,
			"amount":        math.NaN(),
			"open_interest": b.CloseOI,
		},
		{"ask_price1": b.Low + tick, "bid_price1": b.Low - tick},
		{"ask_price1": b.Close + tick, "bid_price1": b.Close - tick},
	}
}
