package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/sim"
)

type dayRecord struct {
	accountID string
	date      string
	day       sim.DayLog
}

// row is one insert.
type row interface {
	queue(b *pgx.Batch)
}

type tradeRow struct {
	AccountID  string
	TradingDay string
	TradeID    string
	OrderID    string
	Symbol     string
	Direction  string
	Offset     string
	Price      decimal.NullDecimal
	Volume     int64
	TradeTime  time.Time
	Commission decimal.NullDecimal
}

func (r tradeRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO sim_trades (account_id, trading_day, trade_id, order_id, symbol, direction, "offset", price, volume, trade_time, commission)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, trade_id) DO NOTHING
	`, r.AccountID, r.TradingDay, r.TradeID, r.OrderID, r.Symbol, r.Direction, r.Offset, r.Price, r.Volume, r.TradeTime, r.Commission)
}

type positionRow struct {
	AccountID   string
	TradingDay  string
	Symbol      string
	VolumeLong  int64
	VolumeShort int64
	FloatProfit decimal.NullDecimal
	Margin      decimal.NullDecimal
	LastPrice   decimal.NullDecimal
}

func (r positionRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO sim_positions (account_id, trading_day, symbol, volume_long, volume_short, float_profit, margin, last_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, trading_day, symbol) DO NOTHING
	`, r.AccountID, r.TradingDay, r.Symbol, r.VolumeLong, r.VolumeShort, r.FloatProfit, r.Margin, r.LastPrice)
}

type settlementRow struct {
	AccountID      string
	TradingDay     string
	PreBalance     decimal.NullDecimal
	Balance        decimal.NullDecimal
	Available      decimal.NullDecimal
	CloseProfit    decimal.NullDecimal
	PositionProfit decimal.NullDecimal
	Commission     decimal.NullDecimal
	Margin         decimal.NullDecimal
	RiskRatio      decimal.NullDecimal
}

func (r settlementRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO sim_settlements (account_id, trading_day, pre_balance, balance, available, close_profit, position_profit, commission, margin, risk_ratio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, trading_day) DO NOTHING
	`, r.AccountID, r.TradingDay, r.PreBalance, r.Balance, r.Available, r.CloseProfit, r.PositionProfit, r.Commission, r.Margin, r.RiskRatio)
}

// DayLogWriter receives settled days from a sim account and writes them
// in batches. It implements sim.DayLogSink.
type DayLogWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *channel.Chan[dayRecord]
	db    BatchSender

	// Batching
	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewDayLogWriter creates a DayLogWriter.
func NewDayLogWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *DayLogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &DayLogWriter{
		cfg:    cfg,
		input:  channel.New[dayRecord](),
		db:     db,
		logger: logger.With("component", "daylog_writer"),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// WriteDay queues a settled day. It does not block on the database.
func (w *DayLogWriter) WriteDay(_ context.Context, accountID, date string, day sim.DayLog) error {
	if err := w.input.Send(dayRecord{accountID, date, day}); err != nil {
		return fmt.Errorf("queue day %s: %w", date, err)
	}
	return nil
}

// Start begins consuming days and writing to the database.
func (w *DayLogWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("day log writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued days, flushes and shuts down. Days sent after Stop
// are rejected.
func (w *DayLogWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping day log writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("day log writer stop timed out")
		return ctx.Err()
	}

	for {
		rec, ok := w.input.TryRecv()
		if !ok {
			break
		}
		w.add(w.transform(rec)...)
	}
	w.flush(ctx)
	w.logger.Info("day log writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *DayLogWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *DayLogWriter) consumeLoop() {
	defer w.wg.Done()
	for {
		rec, err := w.input.Recv(w.ctx)
		if err != nil {
			return
		}
		w.input.Done()
		if w.add(w.transform(rec)...) && w.ctx.Err() == nil {
			w.flush(w.ctx)
		}
	}
}

func (w *DayLogWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends rows and reports whether the batch is full.
func (w *DayLogWriter) add(rows ...row) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, rows...)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform turns a settled day into rows: trades, then positions in
// symbol order, then the settlement.
func (w *DayLogWriter) transform(rec dayRecord) []row {
	rows := make([]row, 0, len(rec.day.Trades)+len(rec.day.Positions)+1)
	for _, t := range rec.day.Trades {
		rows = append(rows, tradeRow{
			AccountID:  rec.accountID,
			TradingDay: rec.date,
			TradeID:    t.TradeID,
			OrderID:    t.OrderID,
			Symbol:     t.Symbol(),
			Direction:  t.Direction,
			Offset:     t.Offset,
			Price:      money(t.Price),
			Volume:     t.Volume,
			TradeTime:  time.Unix(0, t.TradeDateTime).UTC(),
			Commission: money(t.Commission),
		})
	}

	symbols := make([]string, 0, len(rec.day.Positions))
	for s := range rec.day.Positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		p := rec.day.Positions[s]
		rows = append(rows, positionRow{
			AccountID:   rec.accountID,
			TradingDay:  rec.date,
			Symbol:      s,
			VolumeLong:  p.Long.Volume,
			VolumeShort: p.Short.Volume,
			FloatProfit: money(p.FloatProfit),
			Margin:      money(p.Margin),
			LastPrice:   money(p.LastPrice),
		})
	}

	a := rec.day.Account
	rows = append(rows, settlementRow{
		AccountID:      rec.accountID,
		TradingDay:     rec.date,
		PreBalance:     money(a.PreBalance),
		Balance:        money(a.Balance),
		Available:      money(a.Available),
		CloseProfit:    money(a.CloseProfit),
		PositionProfit: money(a.PositionProfit),
		Commission:     money(a.Commission),
		Margin:         money(a.Margin),
		RiskRatio:      money(a.RiskRatio),
	})
	return rows
}

// flush writes the current batch to the database.
func (w *DayLogWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed day log rows",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends rows as one pgx.Batch. Rows hitting ON CONFLICT count
// as conflicts.
func (w *DayLogWriter) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		r.queue(batch)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
