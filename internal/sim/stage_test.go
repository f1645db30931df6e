package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

type stageHarness struct {
	t     *testing.T
	stage *Stage
	down  pipeline.Link
	up    pipeline.Link
	done  chan error
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ []byte) error {
	p.keys = append(p.keys, key)
	return nil
}

func startStage(t *testing.T, cfg Config) *stageHarness {
	t.Helper()
	h := &stageHarness{
		t:     t,
		stage: NewStage(cfg, nil),
		down:  pipeline.NewLink(),
		up:    pipeline.NewLink(),
		done:  make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.stage.Run(ctx, h.down, h.up) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("stage did not stop")
		}
	})
	return h
}

func recvPack(t *testing.T, c *channel.Chan[protocol.Pack]) protocol.Pack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := c.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	c.Done()
	return p
}

func (h *stageHarness) peek() {
	h.down.Up.Send(protocol.PeekMessage())
}

func (h *stageHarness) expectUp(aid string) protocol.Pack {
	h.t.Helper()
	p := recvPack(h.t, h.up.Up)
	if p.Aid() != aid {
		h.t.Fatalf("upstream received %v, want %s", p, aid)
	}
	return p
}

func (h *stageHarness) expectDown() []map[string]any {
	h.t.Helper()
	p := recvPack(h.t, h.down.Down)
	if p.Aid() != protocol.AidRtnData {
		h.t.Fatalf("downstream received %v", p)
	}
	return p.Data()
}

// stop ends the upstream, takes the final batch and waits for Run.
func (h *stageHarness) stop() []map[string]any {
	h.t.Helper()
	h.up.Down.Close()
	h.peek()
	data := h.expectDown()
	select {
	case err := <-h.done:
		h.done <- err
		if err != nil {
			h.t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		h.t.Fatal("stage did not finish after upstream closed")
	}
	return data
}

func accountPath(key string, path ...string) []string {
	return append([]string{"trade", key}, path...)
}

// find returns the last value at path among diffs.
func find(diffs []map[string]any, path ...string) (map[string]any, bool) {
	var out map[string]any
	for _, d := range diffs {
		if v, ok := diff.Lookup(d, path...); ok {
			out = v
		}
	}
	return out, out != nil
}

func TestStage_OrderLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	h := startStage(t, Config{Publisher: pub})

	h.peek()
	h.expectUp(protocol.AidPeekMessage)
	q := futureQuote(cu, 47000)
	h.up.Down.Send(protocol.RtnData([]map[string]any{
		{"quotes": map[string]any{cu: q}, "mdhis_more_data": false},
	}))
	data := h.expectDown()
	if _, ok := find(data, accountPath(DefaultAccountID, "accounts", "CNY")...); !ok {
		t.Fatalf("no initial account snapshot in %v", data)
	}
	if tr, _ := diff.Lookup(data[len(data)-1], "trade", DefaultAccountID); tr["trade_more_data"] != false {
		t.Errorf("last diff = %v, want trade_more_data false", data[len(data)-1])
	}

	h.down.Up.Send(orderPack("o1", cu, DirectionBuy, OffsetOpen, 2, "ANY", 0))
	h.peek()
	data = h.expectDown()
	order, ok := find(data, accountPath(DefaultAccountID, "orders", "o1")...)
	if !ok || order["status"] != StatusFinished || order["last_msg"] != MsgFilled {
		t.Errorf("order o1 = %v", order)
	}
	if _, ok := find(data, accountPath(DefaultAccountID, "trades", "o1|2")...); !ok {
		t.Error("no trade for o1")
	}
	if sub := h.expectUp(protocol.AidSubscribeQuote); sub.Str("ins_list") != cu {
		t.Errorf("subscribe ins_list = %q", sub.Str("ins_list"))
	}

	// the night session belongs to the next trading day
	h.peek()
	h.expectUp(protocol.AidPeekMessage)
	h.up.Down.Send(protocol.RtnData([]map[string]any{
		{"quotes": map[string]any{cu: map[string]any{"datetime": "2020-01-06 21:00:00.000000", "last_price": 47100.0}}},
	}))
	data = h.expectDown()
	pos, ok := find(data, accountPath(DefaultAccountID, "positions", cu)...)
	if !ok || pos["volume_long_his"] != int64(2) || pos["volume_long_today"] != int64(0) {
		t.Errorf("position after settle = %v", pos)
	}

	data = h.stop()
	if _, ok := find(data, accountPath(DefaultAccountID, "accounts", "CNY", "_tqsdk_stat")...); !ok {
		t.Errorf("final batch has no report: %v", data)
	}
	log := h.stage.TradeLog()
	if len(log) != 2 || len(log["2020-01-06"].Trades) != 1 {
		t.Errorf("trade log = %v", log)
	}
	if stat := h.stage.Stat(); stat["trading_days"] != 2 {
		t.Errorf("trading_days = %v", stat["trading_days"])
	}
	if len(pub.keys) != 2 || pub.keys[0] != "o1" {
		t.Errorf("published = %v, want o1 inserted and filled", pub.keys)
	}
}

func TestStage_OrderWaitsForQuote(t *testing.T) {
	h := startStage(t, Config{AccountID: "acc"})

	h.peek()
	h.expectUp(protocol.AidPeekMessage)

	p := orderPack("o1", cu, DirectionBuy, OffsetOpen, 1, "LIMIT", 47000)
	p["user_id"] = "acc"
	h.down.Up.Send(p)
	h.expectUp(protocol.AidSubscribeQuote)
	query := h.expectUp(protocol.AidInsQuery)
	if ids := query["variables"].(map[string]any)["instrument_id"].([]any); len(ids) != 1 || ids[0] != cu {
		t.Errorf("query variables = %v", query["variables"])
	}

	h.up.Down.Send(protocol.RtnData([]map[string]any{
		{"quotes": map[string]any{cu: futureQuote(cu, 47000)}, "mdhis_more_data": false},
	}))
	data := h.expectDown()
	order, ok := find(data, accountPath("acc", "orders", "o1")...)
	if !ok || order["last_msg"] != MsgFilled {
		t.Errorf("queued order = %v", order)
	}
}

func TestStage_ReleasesQuoteListeners(t *testing.T) {
	h := startStage(t, Config{})

	h.down.Up.Send(orderPack("o1", cu, DirectionBuy, OffsetOpen, 1, "LIMIT", 47000))
	h.expectUp(protocol.AidSubscribeQuote)
	h.stop()

	node := h.stage.data.Lookup("quotes", cu)
	if node == nil {
		t.Fatal("no quote node for the ordered symbol")
	}
	if n := node.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() = %d after Run returned, want 0", n)
	}
}

func TestStage_ForeignRequestsGoUp(t *testing.T) {
	h := startStage(t, Config{})

	p := orderPack("o1", cu, DirectionBuy, OffsetOpen, 1, "ANY", 0)
	p["user_id"] = "someone-else"
	h.down.Up.Send(p)
	if got := h.expectUp(protocol.AidInsertOrder); got.Str("order_id") != "o1" {
		t.Errorf("forwarded %v", got)
	}
	h.down.Up.Send(protocol.Pack{"aid": protocol.AidSetChart, "chart_id": "c"})
	h.expectUp(protocol.AidSetChart)
}

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		order Order
		want  string
	}{
		{Order{Status: StatusAlive, LastMsg: MsgInserted}, "inserted"},
		{Order{Status: StatusFinished, LastMsg: MsgFilled}, "filled"},
		{Order{Status: StatusFinished, LastMsg: MsgSessionEnd}, "cancelled"},
		{Order{Status: StatusFinished, LastMsg: MsgInsufficientFund}, "rejected"},
	}
	for _, tt := range tests {
		if got := orderStatus(tt.order); got != tt.want {
			t.Errorf("orderStatus(%q) = %q, want %q", tt.order.LastMsg, got, tt.want)
		}
	}
}
