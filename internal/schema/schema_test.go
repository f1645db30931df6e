package schema

import (
	"math"
	"testing"

	"github.com/rickgao/tqsdk-go/internal/diff"
)

func TestClient_Materializes(t *testing.T) {
	root := diff.NewRoot()
	diff.Merge(root, map[string]any{
		"quotes": map[string]any{"SHFE.cu2001": map[string]any{"last_price": "-"}},
		"klines": map[string]any{"SHFE.cu2001": map[string]any{"60000000000": map[string]any{
			"last_id": float64(3),
			"data":    map[string]any{"3": map[string]any{"close": float64(10)}},
		}}},
		"trade": map[string]any{"u1": map[string]any{
			"positions": map[string]any{"SHFE.cu2001": map[string]any{"volume_long_today": float64(1)}},
		}},
	}, Client(), diff.Options{ReduceDiff: true})

	q := root.Lookup("quotes", "SHFE.cu2001")
	if q == nil {
		t.Fatal("quote not created")
	}
	if !math.IsNaN(q.Float("last_price")) {
		t.Errorf("last_price = %v, want NaN from placeholder", q.Float("last_price"))
	}
	if q.Int("volume_multiple", -1) != 0 {
		t.Errorf("volume_multiple default missing")
	}

	serial := root.Lookup("klines", "SHFE.cu2001", "60000000000")
	if serial.Has("left_id") {
		t.Error("serial node should not carry defaults")
	}
	bar := serial.Lookup("data", "3")
	if bar.Float("close") != 10 || !math.IsNaN(bar.Float("open")) {
		t.Errorf("bar = %v", bar.Snapshot())
	}

	pos := root.Lookup("trade", "u1", "positions", "SHFE.cu2001")
	if pos.Int("volume_short_his", -1) != 0 || !math.IsNaN(pos.Float("margin_long")) {
		t.Errorf("position defaults = %v", pos.Snapshot())
	}
}

func TestBacktest_QuotePersistent(t *testing.T) {
	root := diff.NewRoot()
	proto := Backtest()
	diff.Merge(root, map[string]any{"quotes": map[string]any{"A": map[string]any{"price_tick": float64(1)}}}, proto, diff.Options{})
	diff.Merge(root, map[string]any{"quotes": map[string]any{"A": nil}}, proto, diff.Options{})

	q := root.Lookup("quotes", "A")
	if q == nil {
		t.Fatal("persistent quote was deleted")
	}
	if !math.IsNaN(q.Float("price_tick")) {
		t.Errorf("price_tick = %v, want reset to NaN", q.Float("price_tick"))
	}
}
