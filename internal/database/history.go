package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/tqsdk-go/internal/backtest"
)

// Querier is the part of a pgx pool HistorySource reads through.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// HistorySource is a backtest.Source over the history tables.
type HistorySource struct {
	db     Querier
	logger *slog.Logger
}

// NewHistorySource creates a HistorySource.
func NewHistorySource(db Querier, logger *slog.Logger) *HistorySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistorySource{db: db, logger: logger.With("component", "history")}
}

const (
	klineColumns = `id, datetime, open, high, low, close, volume, open_oi, close_oi`
	tickColumns  = `id, datetime, last_price, average, highest, lowest, ask_price1, ask_volume1, bid_price1, bid_volume1, volume, amount, open_interest`
)

// Instruments returns the info of every symbol. A symbol without a row is
// backtest.ErrNoSeries.
func (s *HistorySource) Instruments(ctx context.Context, symbols []string) (map[string]map[string]any, error) {
	rows, err := s.db.Query(ctx, `SELECT symbol, info FROM instruments WHERE symbol = ANY($1)`, symbols)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	out := make(map[string]map[string]any, len(symbols))
	var symbol string
	var info map[string]any
	_, err = pgx.ForEachRow(rows, []any{&symbol, &info}, func() error {
		out[symbol] = info
		info = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan instruments: %w", err)
	}

	var missing []string
	for _, sym := range symbols {
		if _, ok := out[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", backtest.ErrNoSeries, missing)
	}
	return out, nil
}

// Klines returns one page of bars.
func (s *HistorySource) Klines(ctx context.Context, q backtest.SeriesQuery) ([]backtest.Bar, error) {
	return page(ctx, s, q, klineQueries(q), pgx.RowToStructByPos[backtest.Bar])
}

// Ticks returns one page of ticks.
func (s *HistorySource) Ticks(ctx context.Context, q backtest.SeriesQuery) ([]backtest.Tick, error) {
	return page(ctx, s, q, tickQueries(q), pgx.RowToStructByPos[backtest.Tick])
}

// statement is a query with its arguments.
type statement struct {
	sql  string
	args []any
}

// page runs the statements in order and returns the first non-empty
// result.
func page[T any](ctx context.Context, s *HistorySource, q backtest.SeriesQuery, stmts []statement, scan pgx.RowToFunc[T]) ([]T, error) {
	for _, st := range stmts {
		rows, err := s.db.Query(ctx, st.sql, st.args...)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Symbol, err)
		}
		out, err := pgx.CollectRows(rows, scan)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Symbol, err)
		}
		if len(out) > 0 {
			s.logger.Debug("history page", "symbol", q.Symbol, "duration", q.Duration, "rows", len(out))
			return out, nil
		}
	}
	return nil, nil
}

// klineQueries selects the rows after AfterID, or when AfterID is negative
// the last Limit rows at or before At, falling back to the first Limit
// rows of the series.
func klineQueries(q backtest.SeriesQuery) []statement {
	from := `FROM klines WHERE symbol = $1 AND duration = $2`
	if q.AfterID >= 0 {
		return []statement{{
			`SELECT ` + klineColumns + ` ` + from + ` AND id > $3 ORDER BY id LIMIT $4`,
			[]any{q.Symbol, q.Duration, q.AfterID, q.Limit},
		}}
	}
	return []statement{
		{
			`SELECT * FROM (SELECT ` + klineColumns + ` ` + from + ` AND datetime <= $3 ORDER BY id DESC LIMIT $4) AS w ORDER BY id`,
			[]any{q.Symbol, q.Duration, q.At, q.Limit},
		},
		{
			`SELECT ` + klineColumns + ` ` + from + ` ORDER BY id LIMIT $3`,
			[]any{q.Symbol, q.Duration, q.Limit},
		},
	}
}

func tickQueries(q backtest.SeriesQuery) []statement {
	from := `FROM ticks WHERE symbol = $1`
	if q.AfterID >= 0 {
		return []statement{{
			`SELECT ` + tickColumns + ` ` + from + ` AND id > $2 ORDER BY id LIMIT $3`,
			[]any{q.Symbol, q.AfterID, q.Limit},
		}}
	}
	return []statement{
		{
			`SELECT * FROM (SELECT ` + tickColumns + ` ` + from + ` AND datetime <= $2 ORDER BY id DESC LIMIT $3) AS w ORDER BY id`,
			[]any{q.Symbol, q.At, q.Limit},
		},
		{
			`SELECT ` + tickColumns + ` ` + from + ` ORDER BY id LIMIT $2`,
			[]any{q.Symbol, q.Limit},
		},
	}
}

var _ backtest.Source = (*HistorySource)(nil)
