package writer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/tqsdk-go/internal/sim"
)

// fakeDB records queued statements. Statements whose SQL index is in
// conflict report zero rows affected.
type fakeDB struct {
	mu       sync.Mutex
	batches  [][]*pgx.QueuedQuery
	conflict map[int]bool
	err      error
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{db: f}
}

func (f *fakeDB) queued() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

type fakeResults struct {
	db *fakeDB
	i  int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	defer func() { r.i++ }()
	if r.db.err != nil {
		return pgconn.CommandTag{}, r.db.err
	}
	if r.db.conflict[r.i] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func settledDay() sim.DayLog {
	return sim.DayLog{
		Trades: []sim.Trade{{
			OrderID: "o1", TradeID: "o1|2", ExchangeID: "SHFE", InstrumentID: "cu2001",
			Direction: sim.DirectionBuy, Offset: sim.OffsetOpen, Price: 47010, Volume: 2,
			TradeDateTime: time.Date(2020, 1, 2, 1, 0, 0, 0, time.UTC).UnixNano(), Commission: 20,
		}},
		Positions: map[string]sim.Position{
			"SHFE.cu2001": {ExchangeID: "SHFE", InstrumentID: "cu2001", Long: sim.Side{Volume: 2}, Margin: 32000, LastPrice: 47100},
			"DCE.m2001":   {ExchangeID: "DCE", InstrumentID: "m2001", Short: sim.Side{Volume: 1}, LastPrice: math.NaN()},
		},
		Account: sim.Account{PreBalance: 1e7, Balance: 1e7 + 880, Commission: 20, RiskRatio: math.NaN()},
	}
}

func TestDayLogWriter_Transform(t *testing.T) {
	w := NewDayLogWriter(DefaultWriterConfig(), nil, nil)
	rows := w.transform(dayRecord{"TQSIM", "2020-01-02", settledDay()})
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want trade, two positions and a settlement", len(rows))
	}

	tr, ok := rows[0].(tradeRow)
	if !ok {
		t.Fatalf("rows[0] = %T, want tradeRow", rows[0])
	}
	if tr.Symbol != "SHFE.cu2001" || tr.TradingDay != "2020-01-02" || tr.Volume != 2 {
		t.Errorf("trade row = %+v", tr)
	}
	if !tr.Price.Valid || tr.Price.Decimal.String() != "47010" {
		t.Errorf("trade price = %v", tr.Price)
	}
	if !tr.TradeTime.Equal(time.Date(2020, 1, 2, 1, 0, 0, 0, time.UTC)) {
		t.Errorf("trade time = %v", tr.TradeTime)
	}

	first, _ := rows[1].(positionRow)
	second, _ := rows[2].(positionRow)
	if first.Symbol != "DCE.m2001" || second.Symbol != "SHFE.cu2001" {
		t.Errorf("positions in order %q, %q, want sorted", first.Symbol, second.Symbol)
	}
	if first.VolumeShort != 1 || first.LastPrice.Valid {
		t.Errorf("position row = %+v, want NaN last price as NULL", first)
	}

	st, ok := rows[3].(settlementRow)
	if !ok {
		t.Fatalf("rows[3] = %T, want settlementRow", rows[3])
	}
	if st.Balance.Decimal.String() != "10000880" || st.RiskRatio.Valid {
		t.Errorf("settlement row = %+v", st)
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in    float64
		want  string
		valid bool
	}{
		{1.5, "1.5", true},
		{0, "0", true},
		{-320.25, "-320.25", true},
		{math.NaN(), "", false},
		{math.Inf(1), "", false},
	}
	for _, tt := range tests {
		got := money(tt.in)
		if got.Valid != tt.valid || (tt.valid && got.Decimal.String() != tt.want) {
			t.Errorf("money(%v) = %v, want %q valid=%v", tt.in, got, tt.want, tt.valid)
		}
	}
}

func TestDayLogWriter_FlushCountsConflicts(t *testing.T) {
	db := &fakeDB{conflict: map[int]bool{0: true}}
	w := NewDayLogWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, db, nil)
	w.add(w.transform(dayRecord{"TQSIM", "2020-01-02", settledDay()})...)
	w.flush(context.Background())

	queued := db.queued()
	if len(queued) != 4 {
		t.Fatalf("queued %d statements, want 4", len(queued))
	}
	if got := queued[0].Arguments[2]; got != "o1|2" {
		t.Errorf("trade_id argument = %v", got)
	}
	stats := w.Stats()
	if stats.Inserts != 3 || stats.Conflicts != 1 || stats.Flushes != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	db.err = errors.New("connection reset")
	w.add(w.transform(dayRecord{"TQSIM", "2020-01-03", settledDay()})...)
	w.flush(context.Background())
	if w.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", w.Stats().Errors)
	}
}

func TestDayLogWriter_Lifecycle(t *testing.T) {
	db := &fakeDB{}
	w := NewDayLogWriter(WriterConfig{BatchSize: 1000, FlushInterval: time.Hour}, db, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.WriteDay(context.Background(), "TQSIM", "2020-01-02", settledDay()); err != nil {
		t.Fatalf("WriteDay() error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(db.queued()); n != 4 {
		t.Errorf("written %d rows on stop, want 4", n)
	}
	if err := w.WriteDay(context.Background(), "TQSIM", "2020-01-03", settledDay()); err == nil {
		t.Error("WriteDay() after Stop succeeded")
	}
}

var _ sim.DayLogSink = (*DayLogWriter)(nil)
