package resync

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
	"github.com/rickgao/tqsdk-go/internal/schema"
)

type harness struct {
	t       *testing.T
	handler *Handler
	down    pipeline.Link
	up      pipeline.Link
	done    chan error
	cancel  context.CancelFunc
}

func start(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		handler: New(policy, schema.Client(), nil, nil),
		down:    pipeline.NewLink(),
		up:      pipeline.NewLink(),
		done:    make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.handler.Run(ctx, h.down, h.up) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("handler did not stop")
		}
	})
	return h
}

func recv(t *testing.T, c *channel.Chan[protocol.Pack]) protocol.Pack {
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

// request sends pack from the consumer and waits for it to reach the server.
func (h *harness) request(pack protocol.Pack) {
	h.t.Helper()
	h.down.Up.Send(pack)
	if got := recv(h.t, h.up.Up); got.Aid() != pack.Aid() {
		h.t.Fatalf("server received %v, want %v", got, pack)
	}
}

func (h *harness) serverSends(data ...map[string]any) {
	h.up.Down.Send(protocol.RtnData(data))
}

func (h *harness) expectUp(aids ...string) {
	h.t.Helper()
	for _, want := range aids {
		if got := recv(h.t, h.up.Up).Aid(); got != want {
			h.t.Fatalf("server received %q, want %q", got, want)
		}
	}
}

func reconnected() map[string]any {
	return protocol.NotifyPack(protocol.Notify{
		Level: "WARNING", Code: protocol.CodeReconnected, ConnID: "md",
	}).Data()[0]
}

func TestHandler_ReadyPassthrough(t *testing.T) {
	h := start(t, MdPolicy{})

	h.request(protocol.SubscribeQuote([]string{"SHFE.cu2001"}))
	h.serverSends(map[string]any{"ins_list": "SHFE.cu2001"})

	got := recv(t, h.down.Down)
	if got.Aid() != protocol.AidRtnData || got.Data()[0]["ins_list"] != "SHFE.cu2001" {
		t.Errorf("consumer received %v", got)
	}
	if h.handler.State() != StateReady {
		t.Errorf("State() = %s, want READY", h.handler.State())
	}
	if resend := h.handler.Resend(); len(resend) != 1 || resend[0].Aid() != protocol.AidSubscribeQuote {
		t.Errorf("Resend() = %v", resend)
	}
}

func TestHandler_MdResync(t *testing.T) {
	h := start(t, MdPolicy{})

	chart := protocol.Pack{
		"aid": "set_chart", "chart_id": "c1", "ins_list": "SHFE.cu2001",
		"duration": float64(60e9), "view_width": float64(100),
	}
	h.request(protocol.SubscribeQuote([]string{"SHFE.cu2001"}))
	h.request(chart)

	old := map[string]any{"quotes": map[string]any{"SHFE.cu2001": map[string]any{"last_price": 1.0}}}
	partial := map[string]any{"charts": map[string]any{"c1": map[string]any{"state": map[string]any(chart)}}}
	note := reconnected()
	h.serverSends(old, note, partial)

	first := recv(t, h.down.Down)
	if data := first.Data(); len(data) != 1 || !reflect.DeepEqual(data[0], old) {
		t.Fatalf("pre-reconnect diffs = %v, want only the old session diff", data)
	}
	h.expectUp(protocol.AidSubscribeQuote, protocol.AidSetChart, protocol.AidPeekMessage)
	if h.handler.State() != StateWaitForCompleted {
		t.Fatalf("State() = %s, want WAIT_FOR_COMPLETED", h.handler.State())
	}

	// chart positioned but the quote subscription is not acknowledged yet
	more := map[string]any{
		"mdhis_more_data": false,
		"charts":          map[string]any{"c1": map[string]any{"left_id": 10.0, "right_id": 20.0}},
		"klines": map[string]any{"SHFE.cu2001": map[string]any{"60000000000": map[string]any{
			"last_id": 20.0,
		}}},
	}
	h.serverSends(more)
	h.expectUp(protocol.AidPeekMessage)
	if p, ok := h.down.Down.TryRecv(); ok {
		t.Fatalf("consumer received %v before the snapshot was complete", p)
	}

	last := map[string]any{"ins_list": "SHFE.cu2001"}
	h.serverSends(last)

	flush := recv(t, h.down.Down)
	want := []map[string]any{note, partial, more, last}
	if got := flush.Data(); !reflect.DeepEqual(got, want) {
		t.Errorf("flushed diffs = %v, want %v", got, want)
	}
	if h.handler.State() != StateReady {
		t.Errorf("State() = %s, want READY", h.handler.State())
	}

	// back to passthrough
	h.serverSends(map[string]any{"quotes": map[string]any{}})
	if got := recv(t, h.down.Down); len(got.Data()) != 1 {
		t.Errorf("passthrough after resync = %v", got)
	}
}

func TestHandler_ReconnectWhileWaiting(t *testing.T) {
	h := start(t, MdPolicy{})
	h.request(protocol.SubscribeQuote([]string{"SHFE.cu2001"}))

	first := reconnected()
	h.serverSends(first)
	h.expectUp(protocol.AidSubscribeQuote, protocol.AidPeekMessage)

	// the new connection drops before the snapshot completes
	second := reconnected()
	h.serverSends(second)
	h.expectUp(protocol.AidSubscribeQuote, protocol.AidPeekMessage)
	if h.handler.State() != StateWaitForCompleted {
		t.Fatalf("State() = %s, want WAIT_FOR_COMPLETED", h.handler.State())
	}

	last := map[string]any{"ins_list": "SHFE.cu2001"}
	h.serverSends(last)
	flush := recv(t, h.down.Down)
	if got := flush.Data(); len(got) != 3 || !reflect.DeepEqual(got[2], last) {
		t.Errorf("flushed diffs = %v, want both notifies and the snapshot", got)
	}
	if h.handler.State() != StateReady {
		t.Errorf("State() = %s, want READY", h.handler.State())
	}
}

func TestHandler_CompleteOnFirstPack(t *testing.T) {
	h := start(t, StatusPolicy{})
	h.request(protocol.Pack{"aid": "subscribe_trading_status", "ins_list": "SHFE.cu2001"})

	h.serverSends(reconnected())
	h.expectUp(protocol.AidSubscribeTradingStatus, protocol.AidPeekMessage)

	h.serverSends(map[string]any{"trading_status": map[string]any{}})
	flush := recv(t, h.down.Down)
	if n := len(flush.Data()); n != 2 {
		t.Errorf("flushed %d diffs, want 2", n)
	}
}

func TestHandler_TdTombstones(t *testing.T) {
	h := start(t, NewTdPolicy())
	h.request(protocol.Pack{"aid": "req_login", "user_name": "u1", "password": "p"})
	h.request(protocol.Pack{"aid": "confirm_settlement"})

	h.serverSends(map[string]any{"trade": map[string]any{"u1": map[string]any{
		"positions": map[string]any{
			"SHFE.cu2001": map[string]any{"volume_long": 1.0},
			"SHFE.rb2001": map[string]any{"volume_long": 2.0},
			"DCE.m2001":   map[string]any{"volume_short": 1.0},
		},
		"trade_more_data": false,
	}}})
	recv(t, h.down.Down)

	h.serverSends(reconnected())
	h.expectUp(protocol.AidReqLogin, protocol.AidConfirmSettlement, protocol.AidPeekMessage)

	h.serverSends(map[string]any{"trade": map[string]any{"u1": map[string]any{
		"positions": map[string]any{"SHFE.cu2001": map[string]any{"volume_long": 1.0}},
	}}})
	h.expectUp(protocol.AidPeekMessage)

	h.serverSends(map[string]any{"trade": map[string]any{"u1": map[string]any{"trade_more_data": false}}})
	data := recv(t, h.down.Down).Data()
	if len(data) != 4 {
		t.Fatalf("flushed %d diffs, want 4", len(data))
	}
	want := map[string]any{"trade": map[string]any{"u1": map[string]any{
		"positions": map[string]any{"DCE.m2001": nil, "SHFE.rb2001": nil},
	}}}
	if !reflect.DeepEqual(data[3], want) {
		t.Errorf("tombstone = %v, want %v", data[3], want)
	}

	// tombstoned symbols are forgotten
	h.serverSends(reconnected())
	h.expectUp(protocol.AidReqLogin, protocol.AidConfirmSettlement, protocol.AidPeekMessage)
	h.serverSends(map[string]any{"trade": map[string]any{"u1": map[string]any{
		"positions":       map[string]any{"SHFE.cu2001": map[string]any{}},
		"trade_more_data": false,
	}}})
	if data := recv(t, h.down.Down).Data(); len(data) != 2 {
		t.Errorf("second resync flushed %d diffs, want 2 without tombstones", len(data))
	}
}

func TestMdPolicy_RecordRequest(t *testing.T) {
	resend := NewRequests()
	p := MdPolicy{}

	p.RecordRequest(protocol.SubscribeQuote([]string{"A"}), resend)
	p.RecordRequest(protocol.Pack{"aid": "set_chart", "chart_id": "c1", "ins_list": "A"}, resend)
	p.RecordRequest(protocol.Pack{"aid": "set_chart", "chart_id": "c2", "ins_list": "B"}, resend)
	p.RecordRequest(protocol.SubscribeQuote([]string{"A", "B"}), resend)
	p.RecordRequest(protocol.Pack{"aid": "set_chart", "chart_id": "c1", "ins_list": ""}, resend)
	p.RecordRequest(protocol.Pack{"aid": "insert_order"}, resend)

	if got, want := resend.Keys(), []string{"subscribe_quote", "c2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if sub, _ := resend.Get("subscribe_quote"); sub.Str("ins_list") != "A,B" {
		t.Errorf("subscribe_quote = %v, want latest", sub)
	}
}

func TestMdPolicy_TickChart(t *testing.T) {
	resend := NewRequests()
	chart := protocol.Pack{"aid": "set_chart", "chart_id": "t", "ins_list": "A", "duration": 0.0}
	MdPolicy{}.RecordRequest(chart, resend)

	tests := []struct {
		name string
		data map[string]any
		want bool
	}{
		{"no state", map[string]any{}, false},
		{"no ticks", map[string]any{
			"charts":          map[string]any{"t": map[string]any{"state": map[string]any(chart), "right_id": 5.0}},
			"mdhis_more_data": false,
		}, false},
		{"complete", map[string]any{
			"charts":          map[string]any{"t": map[string]any{"state": map[string]any(chart), "right_id": 5.0}},
			"mdhis_more_data": false,
			"ticks":           map[string]any{"A": map[string]any{"last_id": 5.0}},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shadow := diff.NewRoot()
			diff.Merge(shadow, tt.data, schema.Client(), diff.Options{})
			if got, _ := (MdPolicy{}).Complete(shadow, resend); got != tt.want {
				t.Errorf("Complete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequests(t *testing.T) {
	r := NewRequests()
	r.Set("a", protocol.Pack{"aid": "x", "v": 1})
	r.Set("b", protocol.Pack{"aid": "y"})
	r.Set("a", protocol.Pack{"aid": "x", "v": 2})
	r.Delete("missing")

	if got := r.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Keys() = %v", got)
	}
	if p, _ := r.Get("a"); p["v"] != 2 {
		t.Errorf("Get(a) = %v, want replaced value", p)
	}
	r.Delete("a")
	if r.Len() != 1 || r.Packs()[0].Aid() != "y" {
		t.Errorf("after Delete: %v", r.Packs())
	}
}
