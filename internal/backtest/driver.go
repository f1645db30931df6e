package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/metrics"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
	"github.com/rickgao/tqsdk-go/internal/schema"
	"github.com/rickgao/tqsdk-go/internal/tradingtime"
)

const (
	// FinishedTime is the current_dt reported when a run ends before its
	// end time because history ran out.
	FinishedTime int64 = 2145888000000000000

	minute int64 = 60_000_000_000

	// gcEvery is the number of sends between kline window collections.
	gcEvery = 10000
)

var (
	// ErrBadRange is returned for an end time not after the start time.
	ErrBadRange = errors.New("backtest: end must be after start")
)

// Config configures a Driver. Start and End are nanoseconds.
type Config struct {
	Start   int64
	End     int64
	Source  Source
	Metrics *metrics.Collectors
}

// Driver is the top pipeline stage of a backtest.
type Driver struct {
	cfg    Config
	logger *slog.Logger
	proto  *diff.Prototype
	data   *diff.Node

	serials     map[SeriesKey]*serial
	minDuration map[string]int64
	sentQuote   map[string]bool
	hadSerial   bool

	diffs       []map[string]any
	pendingPeek bool
	current     int64
	dayEnd      int64
	sentTimes   bool
	sends       int
	finished    bool

	// sent and done mirror current and finished for other goroutines.
	sent atomic.Int64
	done atomic.Bool
}

// NewDriver creates a driver replaying cfg.Source from cfg.Start.
func NewDriver(cfg Config, logger *slog.Logger) (*Driver, error) {
	if cfg.Source == nil {
		return nil, errors.New("backtest: source is required")
	}
	if cfg.End <= cfg.Start {
		return nil, ErrBadRange
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backtest",
		"start", tradingtime.FormatDatetime(cfg.Start), "end", tradingtime.FormatDatetime(cfg.End))
	return &Driver{
		cfg:         cfg,
		logger:      logger,
		proto:       schema.Backtest(),
		data:        diff.NewRoot(),
		serials:     make(map[SeriesKey]*serial),
		minDuration: make(map[string]int64),
		sentQuote:   make(map[string]bool),
		current:     cfg.Start,
		dayEnd:      math.MinInt64,
	}, nil
}

// Current returns the replay clock as of the last update sent. It is safe
// to call while Run is going.
func (d *Driver) Current() int64 { return d.sent.Load() }

// Finished reports whether the closing update was sent.
func (d *Driver) Finished() bool { return d.done.Load() }

// Run serves the stage below until the replay finishes, the stage below
// goes away or ctx ends. The driver has no upstream; ups is ignored.
func (d *Driver) Run(ctx context.Context, down pipeline.Link, _ ...pipeline.Link) error {
	defer down.Down.Close()

	d.append(map[string]any{
		"ins_list":        "",
		"mdhis_more_data": false,
		"_tqsdk_backtest": d.times(),
	})
	d.logger.Info("backtest started")

	for !d.finished {
		pack, err := down.Up.Recv(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		err = d.handle(ctx, down, pack)
		down.Up.Done()
		if err != nil {
			return err
		}
	}
	d.logger.Info("backtest finished", "current", tradingtime.FormatDatetime(d.current))
	return nil
}

func (d *Driver) handle(ctx context.Context, down pipeline.Link, pack protocol.Pack) error {
	switch pack.Aid() {
	case protocol.AidPeekMessage:
		d.pendingPeek = true

	case protocol.AidSubscribeQuote:
		d.append(map[string]any{"ins_list": pack.Str("ins_list")})
		for _, sym := range splitSymbols(pack.Str("ins_list")) {
			if err := d.ensureQuote(ctx, sym); err != nil {
				return err
			}
		}

	case protocol.AidSetChart:
		if err := d.setChart(ctx, pack); err != nil {
			return err
		}

	case protocol.AidInsQuery:
		vars, _ := pack["variables"].(map[string]any)
		var symbols []string
		switch ids := vars["instrument_id"].(type) {
		case []any:
			for _, id := range ids {
				if s, ok := id.(string); ok {
					symbols = append(symbols, s)
				}
			}
		case []string:
			symbols = ids
		}
		if err := d.ensureInfo(ctx, symbols...); err != nil {
			return err
		}

	default:
		d.logger.Debug("ignoring request", "aid", pack.Aid())
		return nil
	}
	return d.sendDiff(ctx, down)
}

func (d *Driver) setChart(ctx context.Context, pack protocol.Pack) error {
	chartID := pack.Str("chart_id")
	symbols := splitSymbols(pack.Str("ins_list"))
	if len(symbols) == 0 {
		for _, s := range d.serials {
			delete(s.charts, chartID)
		}
		d.append(map[string]any{"charts": map[string]any{chartID: nil}})
		return nil
	}
	d.append(map[string]any{"charts": map[string]any{chartID: map[string]any{
		"left_id":   0,
		"right_id":  0,
		"more_data": false,
		"state":     map[string]any(pack.Clone()),
	}}})
	duration, _ := diff.ToInt(pack["duration"])
	if len(symbols) > 1 {
		d.logger.Warn("multi symbol charts replay their first symbol only", "chart_id", chartID, "ins_list", pack.Str("ins_list"))
	}
	return d.ensureSerial(ctx, symbols[0], duration, chartID)
}

// ensureInfo loads the quote info of symbols the driver has not seen.
func (d *Driver) ensureInfo(ctx context.Context, symbols ...string) error {
	var missing []string
	for _, sym := range symbols {
		if math.IsNaN(d.data.Lookup("quotes", sym).Float("price_tick")) {
			missing = append(missing, sym)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	infos, err := d.cfg.Source.Instruments(ctx, missing)
	if err != nil {
		return fmt.Errorf("load instruments %v: %w", missing, err)
	}
	quotes := make(map[string]any, len(infos))
	for sym, info := range infos {
		quotes[sym] = info
	}
	update := map[string]any{"quotes": quotes}
	diff.Merge(d.data, update, d.proto, diff.Options{})
	d.append(update)
	return nil
}

// ensureQuote makes sure sym has a series fine enough to drive its quote.
func (d *Driver) ensureQuote(ctx context.Context, sym string) error {
	if err := d.ensureInfo(ctx, sym); err != nil {
		return err
	}
	if dur, ok := d.minDuration[sym]; ok && dur <= minute {
		return nil
	}
	return d.ensureSerial(ctx, sym, minute, "")
}

func (d *Driver) ensureSerial(ctx context.Context, sym string, duration int64, chartID string) error {
	if err := d.ensureInfo(ctx, sym); err != nil {
		return err
	}
	key := SeriesKey{sym, duration}
	s, ok := d.serials[key]
	if !ok {
		s = newSerial(d.cfg.Source, sym, duration, d.current, d.cfg.End)
		d.serials[key] = s
		d.hadSerial = true
		if cur, ok := d.minDuration[sym]; !ok || duration < cur {
			d.minDuration[sym] = duration
		}
		d.logger.Debug("serial added", "symbol", sym, "duration", duration)
	}
	if chartID != "" {
		s.charts[chartID] = true
	}
	return nil
}

// sendDiff answers a pending peek. Queued diffs go out as they are, with
// only the events at the current time added; otherwise the clock advances
// to the next event first.
func (d *Driver) sendDiff(ctx context.Context, down pipeline.Link) error {
	if !d.pendingPeek {
		return nil
	}
	quotes, err := d.generate(ctx, len(d.diffs) > 0)
	if err != nil {
		return err
	}
	for _, sym := range sortedSymbols(quotes) {
		d.sentQuote[sym] = true
		for _, q := range quotes[sym] {
			d.append(map[string]any{"quotes": map[string]any{sym: q}})
		}
	}

	if d.hadSerial && len(d.active()) == 0 && len(d.diffs) == 0 {
		return d.finish(down)
	}
	if len(d.diffs) == 0 {
		return nil
	}

	d.append(map[string]any{"_tqsdk_backtest": d.times()})
	if d.current > d.dayEnd {
		day := tradingtime.TradingDay(d.current)
		d.dayEnd = tradingtime.DayEnd(day)
		if expired := d.expired(tradingtime.DayStart(day)); len(expired) > 0 {
			d.append(map[string]any{"quotes": expired})
		}
	}
	d.sends++
	if d.sends > gcEvery {
		d.sends = 0
		for _, key := range d.keys() {
			if g := d.serials[key].collect(); g != nil {
				d.append(g)
			}
		}
	}

	pack := protocol.RtnData(d.diffs)
	d.diffs = nil
	d.pendingPeek = false
	d.sent.Store(d.current)
	d.cfg.Metrics.ReplayTime(d.current)
	return down.Down.Send(pack)
}

// generate moves events from the serials into the queued diffs, oldest
// first, advancing the clock by at most one timestamp. It returns the
// latest quote fragments per symbol.
func (d *Driver) generate(ctx context.Context, keepCurrent bool) (map[string][]map[string]any, error) {
	quotes := make(map[string][]map[string]any)
	for {
		var (
			next    *event
			nextKey SeriesKey
		)
		for _, key := range d.active() {
			ev, err := d.serials[key].peek(ctx)
			if err != nil {
				return nil, err
			}
			if ev != nil && (next == nil || ev.ts < next.ts) {
				next, nextKey = ev, key
			}
		}
		if next == nil {
			return quotes, nil
		}
		if next.ts > d.current {
			if len(d.diffs) > 0 || keepCurrent {
				return quotes, nil
			}
			d.current = next.ts
		}

		s := d.serials[nextKey]
		tick := d.data.Lookup("quotes", s.symbol).Float("price_tick")
		update, q := s.render(next, tick)
		// a late subscribed coarser series may replay bars behind the clock;
		// their quotes would move the symbol back in time
		if next.ts < d.current && d.sentQuote[s.symbol] {
			q = nil
		}
		d.append(update)
		if q != nil && (d.minDuration[s.symbol] != 0 || s.isTick()) {
			quotes[s.symbol] = q
		}
		s.pop()
	}
}

// finish sends the closing time update. Nothing is sent after it.
func (d *Driver) finish(down pipeline.Link) error {
	d.finished = true
	if d.current < d.cfg.End {
		d.current = FinishedTime
	}
	d.sent.Store(d.current)
	d.done.Store(true)
	d.cfg.Metrics.ReplayTime(d.current)
	return down.Down.Send(protocol.RtnData([]map[string]any{{"_tqsdk_backtest": d.times()}}))
}

func (d *Driver) times() map[string]any {
	if d.sentTimes {
		return map[string]any{"current_dt": d.current}
	}
	d.sentTimes = true
	return map[string]any{"start_dt": d.cfg.Start, "current_dt": d.current, "end_dt": d.cfg.End}
}

// expired flags the quotes whose contract expired before dayStart.
func (d *Driver) expired(dayStart int64) map[string]any {
	out := make(map[string]any)
	quotes := d.data.Lookup("quotes")
	for _, sym := range quotes.Keys() {
		q := quotes.Child(sym)
		exp := q.Float("expire_datetime")
		if math.IsNaN(exp) {
			continue
		}
		out[sym] = map[string]any{"expired": int64(exp*1e9) <= dayStart}
	}
	return out
}

func (d *Driver) append(m map[string]any) {
	d.diffs = append(d.diffs, m)
}

// active lists the serials that are not exhausted, in key order.
func (d *Driver) active() []SeriesKey {
	keys := d.keys()
	out := keys[:0]
	for _, k := range keys {
		s := d.serials[k]
		if !s.done || len(s.queue) > 0 {
			out = append(out, k)
		}
	}
	return out
}

func (d *Driver) keys() []SeriesKey {
	keys := make([]SeriesKey, 0, len(d.serials))
	for k := range d.serials {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Duration < keys[j].Duration
	})
	return keys
}

func sortedSymbols(m map[string][]map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func splitSymbols(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
