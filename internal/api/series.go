package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// MaxWidth is the widest window a chart can hold.
const MaxWidth = 8964

type chartKey struct {
	symbol   string
	duration int64
	width    int
}

// Series is a live window over one kline or tick series.
type Series struct {
	c        *Client
	chartID  string
	symbol   string
	duration int64
	width    int
}

// ChartID returns the chart the series is served by.
func (s *Series) ChartID() string { return s.chartID }

func (s *Series) node() *diff.Node {
	if s.duration == 0 {
		return s.c.data.Lookup("ticks", s.symbol)
	}
	return s.c.data.Lookup("klines", s.symbol, strconv.FormatInt(s.duration, 10))
}

// LastID returns the id of the newest row, -1 before any.
func (s *Series) LastID() int64 {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.node().Int("last_id", -1)
}

// Klines returns up to width bars ending at the newest one, oldest first.
// Rows not yet received are skipped.
func (s *Series) Klines() []Kline {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	n := s.node()
	data := n.Child("data")
	last := n.Int("last_id", -1)
	var out []Kline
	for id := max(0, last-int64(s.width)+1); id <= last; id++ {
		if row := data.Child(strconv.FormatInt(id, 10)); row != nil {
			out = append(out, klineFrom(id, row))
		}
	}
	return out
}

// Ticks returns up to width ticks ending at the newest one, oldest first.
func (s *Series) Ticks() []Tick {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	n := s.node()
	data := n.Child("data")
	last := n.Int("last_id", -1)
	var out []Tick
	for id := max(0, last-int64(s.width)+1); id <= last; id++ {
		if row := data.Child(strconv.FormatInt(id, 10)); row != nil {
			out = append(out, tickFrom(id, row))
		}
	}
	return out
}

// IsChanging reports whether the last update touched the series.
func (s *Series) IsChanging() bool {
	if s.duration == 0 {
		return s.c.IsChanging("ticks", s.symbol)
	}
	return s.c.IsChanging("klines", s.symbol, strconv.FormatInt(s.duration, 10))
}

func (s *Series) ready() bool {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	chart := s.c.data.Lookup("charts", s.chartID)
	return chart != nil && !chart.Bool("more_data", true) && s.node().Int("last_id", -1) >= 0
}

// GetKlines opens a chart of width bars of the given duration and waits
// until its first window has arrived.
func (c *Client) GetKlines(ctx context.Context, symbol string, duration time.Duration, width int) (*Series, error) {
	if duration <= 0 || duration%time.Second != 0 {
		return nil, fmt.Errorf("api: kline duration %v is not a positive whole number of seconds", duration)
	}
	return c.chart(ctx, symbol, duration.Nanoseconds(), width)
}

// GetTicks opens a tick chart of width rows and waits for its first window.
func (c *Client) GetTicks(ctx context.Context, symbol string, width int) (*Series, error) {
	return c.chart(ctx, symbol, 0, width)
}

func (c *Client) chart(ctx context.Context, symbol string, duration int64, width int) (*Series, error) {
	if _, _, ok := splitSymbol(symbol); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	if width <= 0 || width > MaxWidth {
		return nil, fmt.Errorf("api: chart width %d outside 1..%d", width, MaxWidth)
	}

	key := chartKey{symbol, duration, width}
	c.reqMu.Lock()
	id, ok := c.charts[key]
	if !ok {
		id = protocol.NewID("PYSDK_realtime")
		c.charts[key] = id
		err := c.send(protocol.Pack{
			"aid":        protocol.AidSetChart,
			"chart_id":   id,
			"ins_list":   symbol,
			"duration":   duration,
			"view_width": width,
		})
		if err != nil {
			c.reqMu.Unlock()
			return nil, err
		}
	}
	c.reqMu.Unlock()

	s := &Series{c: c, chartID: id, symbol: symbol, duration: duration, width: width}
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for !s.ready() {
		st, err := c.waitUpdate(ctx)
		if err != nil {
			return nil, err
		}
		switch st {
		case Timeout:
			return nil, fmt.Errorf("wait chart %s: %w", id, context.DeadlineExceeded)
		case Finished:
			return nil, ErrClientClosed
		}
	}
	return s, nil
}
