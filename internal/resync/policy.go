package resync

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// MdPolicy is the market data policy. It replays the quote subscription
// and every live chart, and waits until each chart is positioned, history
// has stopped streaming, every charted series has data and the quote
// subscription is acknowledged.
type MdPolicy struct{}

// Name implements Policy.
func (MdPolicy) Name() string { return "md" }

// RecordRequest implements Policy. A set_chart with an empty ins_list
// removes its chart.
func (MdPolicy) RecordRequest(pack protocol.Pack, resend *Requests) {
	switch pack.Aid() {
	case protocol.AidSubscribeQuote:
		resend.Set(protocol.AidSubscribeQuote, pack)
	case protocol.AidSetChart:
		id := pack.Str("chart_id")
		if pack.Str("ins_list") != "" {
			resend.Set(id, pack)
		} else {
			resend.Delete(id)
		}
	}
}

// RecordData implements Policy.
func (MdPolicy) RecordData(protocol.Pack) {}

// Complete implements Policy.
func (MdPolicy) Complete(shadow *diff.Node, resend *Requests) (bool, []map[string]any) {
	var charts []protocol.Pack
	for _, p := range resend.Packs() {
		if p.Aid() == protocol.AidSetChart {
			charts = append(charts, p)
		}
	}

	for _, req := range charts {
		state := shadow.Lookup("charts", req.Str("chart_id"), "state")
		if state == nil || !protocol.Pack(state.Snapshot()).Contains(req) {
			return false, nil
		}
	}

	for _, req := range charts {
		chart := shadow.Lookup("charts", req.Str("chart_id"))
		if chart.Int("left_id", -1) == -1 && chart.Int("right_id", -1) == -1 {
			return false, nil
		}
		if shadow.Bool("mdhis_more_data", true) {
			return false, nil
		}
	}

	for _, req := range charts {
		dur, _ := diff.ToInt(req["duration"])
		for _, symbol := range strings.Split(req.Str("ins_list"), ",") {
			if symbol == "" {
				continue
			}
			path := []string{"ticks", symbol}
			if dur != 0 {
				path = []string{"klines", symbol, strconv.FormatInt(dur, 10)}
			}
			serial := shadow.Lookup(path...)
			if serial == nil || serial.Int("last_id", -1) == -1 {
				return false, nil
			}
		}
	}

	want := ""
	if sub, ok := resend.Get(protocol.AidSubscribeQuote); ok {
		want = sub.Str("ins_list")
	}
	if shadow.Str("ins_list") != want {
		return false, nil
	}
	return true, nil
}

// TdPolicy is the trade policy. It replays login and settlement
// confirmation, waits for trade_more_data to clear for every account seen
// so far, and deletes positions that existed before the drop but are gone
// from the fresh snapshot.
type TdPolicy struct {
	positions map[string]map[string]struct{}
}

// NewTdPolicy returns an empty trade policy.
func NewTdPolicy() *TdPolicy {
	return &TdPolicy{positions: make(map[string]map[string]struct{})}
}

// Name implements Policy.
func (*TdPolicy) Name() string { return "td" }

// RecordRequest implements Policy.
func (*TdPolicy) RecordRequest(pack protocol.Pack, resend *Requests) {
	switch aid := pack.Aid(); aid {
	case protocol.AidReqLogin, protocol.AidConfirmSettlement:
		resend.Set(aid, pack)
	}
}

// RecordData implements Policy.
func (p *TdPolicy) RecordData(pack protocol.Pack) {
	for _, d := range pack.Data() {
		trade, _ := d["trade"].(map[string]any)
		for user, raw := range trade {
			symbols, ok := p.positions[user]
			if !ok {
				symbols = make(map[string]struct{})
				p.positions[user] = symbols
			}
			td, _ := raw.(map[string]any)
			positions, _ := td["positions"].(map[string]any)
			for symbol := range positions {
				symbols[symbol] = struct{}{}
			}
		}
	}
}

// Complete implements Policy.
func (p *TdPolicy) Complete(shadow *diff.Node, _ *Requests) (bool, []map[string]any) {
	for user := range p.positions {
		if shadow.Lookup("trade", user).Bool("trade_more_data", true) {
			return false, nil
		}
	}

	var tombstones []map[string]any
	trade := shadow.Child("trade")
	if trade == nil {
		return true, nil
	}
	for _, user := range trade.Keys() {
		current := make(map[string]struct{})
		if positions := trade.Lookup(user, "positions"); positions != nil {
			for _, symbol := range positions.Keys() {
				current[symbol] = struct{}{}
			}
		}
		var gone []string
		for symbol := range p.positions[user] {
			if _, ok := current[symbol]; !ok {
				gone = append(gone, symbol)
			}
		}
		if len(gone) == 0 {
			continue
		}
		sort.Strings(gone)
		deletes := make(map[string]any, len(gone))
		for _, symbol := range gone {
			deletes[symbol] = nil
			delete(p.positions[user], symbol)
		}
		tombstones = append(tombstones, map[string]any{
			"trade": map[string]any{user: map[string]any{"positions": deletes}},
		})
	}
	return true, tombstones
}

// StatusPolicy is the trading status policy: it replays the status
// subscription and is complete as soon as the connection is back.
type StatusPolicy struct{}

// Name implements Policy.
func (StatusPolicy) Name() string { return "ts" }

// RecordRequest implements Policy.
func (StatusPolicy) RecordRequest(pack protocol.Pack, resend *Requests) {
	if pack.Aid() == protocol.AidSubscribeTradingStatus {
		resend.Set(protocol.AidSubscribeTradingStatus, pack)
	}
}

// RecordData implements Policy.
func (StatusPolicy) RecordData(protocol.Pack) {}

// Complete implements Policy.
func (StatusPolicy) Complete(*diff.Node, *Requests) (bool, []map[string]any) {
	return true, nil
}
