package diff

import (
	"math"
	"reflect"
	"testing"
)

func testPrototype() *Prototype {
	quote := NewPrototype().Fields(map[string]any{
		"datetime":   "",
		"last_price": math.NaN(),
		"volume":     0.0,
	})
	kline := NewPrototype().Fields(map[string]any{
		"open":  math.NaN(),
		"close": math.NaN(),
	})
	order := NewPrototype().Fields(map[string]any{
		"status":   "",
		"last_msg": "",
	})
	return NewPrototype().
		Child("quotes", NewPrototype().Hash(quote)).
		Child("klines", NewPrototype().Star(NewPrototype().Star(NewPrototype().Child("data", NewPrototype().At(kline))))).
		Child("trade", NewPrototype().Star(NewPrototype().Child("orders", NewPrototype().At(order))))
}

func TestMerge_MaterializesDefaults(t *testing.T) {
	root := NewRoot()
	Merge(root, map[string]any{
		"quotes": map[string]any{"SHFE.cu2401": map[string]any{"last_price": 70000.0}},
	}, testPrototype(), Options{ReduceDiff: true})

	q := root.Lookup("quotes", "SHFE.cu2401")
	if q == nil {
		t.Fatal("quote node not created")
	}
	if got := q.Float("last_price"); got != 70000 {
		t.Errorf("last_price = %v, want 70000", got)
	}
	if !q.Has("volume") || q.Float("volume") != 0 {
		t.Errorf("volume default not materialized: %v", q.Snapshot())
	}
	if got := q.Path(); !reflect.DeepEqual(got, []string{"quotes", "SHFE.cu2401"}) {
		t.Errorf("Path() = %v", got)
	}
}

func TestMerge_StarHasNoDefaults(t *testing.T) {
	root := NewRoot()
	Merge(root, map[string]any{
		"klines": map[string]any{"SHFE.cu2401": map[string]any{"60000000000": map[string]any{
			"last_id": 3.0,
			"data":    map[string]any{"3": map[string]any{"close": 1.0}},
		}}},
	}, testPrototype(), Options{ReduceDiff: true})

	serial := root.Lookup("klines", "SHFE.cu2401", "60000000000")
	if serial == nil {
		t.Fatal("serial not created")
	}
	if serial.Len() != 2 {
		t.Errorf("serial keys = %v, want [data last_id]", serial.Keys())
	}
	bar := serial.Lookup("data", "3")
	if bar == nil || !math.IsNaN(bar.Float("open")) || bar.Float("close") != 1 {
		t.Errorf("bar = %v, want cloned defaults with close=1", bar.Snapshot())
	}
}

func TestMerge_NullDeletes(t *testing.T) {
	root := NewRoot()
	proto := testPrototype()
	Merge(root, map[string]any{"trade": map[string]any{"u1": map[string]any{
		"orders": map[string]any{"o1": map[string]any{"status": "ALIVE"}},
	}}}, proto, Options{ReduceDiff: true})

	order := root.Lookup("trade", "u1", "orders", "o1")
	var woke int
	reg := order.Listen(func(map[string]any) { woke++ })
	defer reg.Close()

	eff := Merge(root, map[string]any{"trade": map[string]any{"u1": map[string]any{
		"orders": map[string]any{"o1": nil},
	}}}, proto, Options{ReduceDiff: true})

	if root.Lookup("trade", "u1", "orders", "o1") != nil {
		t.Error("order still present after null")
	}
	if woke != 1 {
		t.Errorf("removed node listener called %d times, want 1", woke)
	}
	want := map[string]any{"trade": map[string]any{"u1": map[string]any{"orders": map[string]any{"o1": nil}}}}
	if !reflect.DeepEqual(eff, want) {
		t.Errorf("effective diff = %v, want %v", eff, want)
	}

	// deleting an absent key is not a change
	eff = Merge(root, map[string]any{"trade": map[string]any{"u1": map[string]any{
		"orders": map[string]any{"o1": nil},
	}}}, proto, Options{ReduceDiff: true})
	if len(eff) != 0 {
		t.Errorf("second delete effective diff = %v, want empty", eff)
	}
}

func TestMerge_PersistentResetsToDefault(t *testing.T) {
	root := NewRoot()
	proto := testPrototype()
	Merge(root, map[string]any{"quotes": map[string]any{"SHFE.cu2401": map[string]any{
		"last_price": 70000.0,
		"open":       69000.0,
	}}}, proto, Options{ReduceDiff: true})

	eff := Merge(root, map[string]any{"quotes": map[string]any{"SHFE.cu2401": map[string]any{
		"last_price": nil,
		"open":       nil,
	}}}, proto, Options{ReduceDiff: true})

	q := root.Lookup("quotes", "SHFE.cu2401")
	if !math.IsNaN(q.Float("last_price")) {
		t.Errorf("last_price = %v, want NaN default", q.Float("last_price"))
	}
	// no default for "open": the value is kept
	if q.Float("open") != 69000 {
		t.Errorf("open = %v, want kept 69000", q.Float("open"))
	}
	sub, _ := Lookup(eff, "quotes", "SHFE.cu2401")
	if _, ok := sub["last_price"]; !ok || len(sub) != 1 {
		t.Errorf("effective diff = %v, want only last_price", eff)
	}

	// a null on the whole quote resets the node but keeps it addressable
	Merge(root, map[string]any{"quotes": map[string]any{"SHFE.cu2401": nil}}, proto, Options{ReduceDiff: true})
	q2 := root.Lookup("quotes", "SHFE.cu2401")
	if q2 != q {
		t.Fatal("persistent node identity changed")
	}
	if q2.Has("open") {
		t.Errorf("reset node kept non-default field: %v", q2.Snapshot())
	}
}

func TestMerge_PlaceholderString(t *testing.T) {
	root := NewRoot()
	Merge(root, map[string]any{"quotes": map[string]any{"SHFE.cu2401": map[string]any{
		"last_price": "-",
		"datetime":   "2024-01-02 09:00:00.000000",
	}}}, testPrototype(), Options{ReduceDiff: true})

	q := root.Lookup("quotes", "SHFE.cu2401")
	if v, _ := q.Get("last_price"); !isNaN(v) {
		t.Errorf("last_price = %#v, want NaN from placeholder", v)
	}
	if q.Str("datetime") != "2024-01-02 09:00:00.000000" {
		t.Errorf("string field was coerced: %q", q.Str("datetime"))
	}
}

func isNaN(v any) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

func TestMerge_ReduceDiffIdempotent(t *testing.T) {
	tests := []struct {
		name string
		diff func() map[string]any
	}{
		{"scalars", func() map[string]any {
			return map[string]any{"quotes": map[string]any{"A": map[string]any{"last_price": 1.0, "volume": 2.0}}}
		}},
		{"nan", func() map[string]any {
			return map[string]any{"quotes": map[string]any{"A": map[string]any{"last_price": math.NaN()}}}
		}},
		{"arrays", func() map[string]any {
			return map[string]any{"quotes": map[string]any{"A": map[string]any{
				"trading_time": map[string]any{"day": []any{[]any{"09:00:00", "10:15:00"}}},
			}}}
		}},
		{"delete", func() map[string]any {
			return map[string]any{"trade": map[string]any{"u": map[string]any{"orders": map[string]any{"x": nil}}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRoot()
			proto := testPrototype()
			Merge(root, tt.diff(), proto, Options{ReduceDiff: true})
			if eff := Merge(root, tt.diff(), proto, Options{ReduceDiff: true}); len(eff) != 0 {
				t.Errorf("second merge effective diff = %v, want empty", eff)
			}
		})
	}
}

func TestMerge_WithoutReduceNotifiesEqualValues(t *testing.T) {
	root := NewRoot()
	proto := testPrototype()
	d := map[string]any{"quotes": map[string]any{"A": map[string]any{"last_price": 1.0}}}
	Merge(root, d, proto, Options{})

	var calls int
	reg := root.Lookup("quotes", "A").Listen(func(map[string]any) { calls++ })
	defer reg.Close()

	Merge(root, d, proto, Options{})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	Merge(root, d, proto, Options{ReduceDiff: true})
	if calls != 1 {
		t.Errorf("calls after reduced merge = %d, want 1", calls)
	}
}

func TestMerge_FullPathNotification(t *testing.T) {
	root := NewRoot()
	proto := testPrototype()
	q := Ensure(root, proto, "quotes", "A")

	var got []map[string]any
	reg := q.Listen(func(u map[string]any) { got = append(got, u) })

	Merge(root, map[string]any{"quotes": map[string]any{"A": map[string]any{"last_price": 5.0}}}, proto, Options{ReduceDiff: true, FullPath: true})
	want := map[string]any{"quotes": map[string]any{"A": map[string]any{"last_price": 5.0}}}
	if len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Fatalf("notifications = %v, want [%v]", got, want)
	}

	reg.Close()
	reg.Close()
	Merge(root, map[string]any{"quotes": map[string]any{"A": map[string]any{"last_price": 6.0}}}, proto, Options{ReduceDiff: true, FullPath: true})
	if len(got) != 1 {
		t.Errorf("listener called after Close: %v", got)
	}
	if q.ListenerCount() != 0 {
		t.Errorf("ListenerCount() = %d, want 0", q.ListenerCount())
	}
}

func TestMerge_ParentListenerFanOut(t *testing.T) {
	root := NewRoot()
	proto := testPrototype()
	Ensure(root, proto, "quotes", "A")
	Ensure(root, proto, "quotes", "B")

	var rootCalls, quotesCalls int
	defer root.Listen(func(map[string]any) { rootCalls++ }).Close()
	defer root.Child("quotes").Listen(func(map[string]any) { quotesCalls++ }).Close()

	Merge(root, map[string]any{"quotes": map[string]any{
		"A": map[string]any{"last_price": 1.0},
		"B": map[string]any{"last_price": 2.0},
	}}, proto, Options{ReduceDiff: true})

	if rootCalls != 1 || quotesCalls != 1 {
		t.Errorf("rootCalls=%d quotesCalls=%d, want 1 each", rootCalls, quotesCalls)
	}
}

func TestMerge_InputNotModified(t *testing.T) {
	root := NewRoot()
	proto := testPrototype()
	d := map[string]any{"quotes": map[string]any{"A": map[string]any{"last_price": 1.0}}}
	Merge(root, d, proto, Options{ReduceDiff: true})
	Merge(root, d, proto, Options{ReduceDiff: true})
	if _, ok := Lookup(d, "quotes", "A"); !ok {
		t.Errorf("input diff was modified: %v", d)
	}
}

func TestEnsure(t *testing.T) {
	root := NewRoot()
	proto := testPrototype()
	o := Ensure(root, proto, "trade", "u1", "orders", "o1")
	if o.Str("status") != "" || !o.Has("last_msg") {
		t.Errorf("order defaults missing: %v", o.Snapshot())
	}
	if again := Ensure(root, proto, "trade", "u1", "orders", "o1"); again != o {
		t.Error("Ensure created a second node")
	}
	if trade := root.Lookup("trade", "u1"); trade == nil || trade.Len() != 1 {
		t.Errorf("intermediate node = %v", trade)
	}
}
