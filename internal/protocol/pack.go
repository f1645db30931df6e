package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Message kinds carried in the "aid" field.
const (
	AidPeekMessage            = "peek_message"
	AidRtnData                = "rtn_data"
	AidSubscribeQuote         = "subscribe_quote"
	AidSetChart               = "set_chart"
	AidInsQuery               = "ins_query"
	AidReqLogin               = "req_login"
	AidConfirmSettlement      = "confirm_settlement"
	AidInsertOrder            = "insert_order"
	AidCancelOrder            = "cancel_order"
	AidSubscribeTradingStatus = "subscribe_trading_status"
)

// Pack is one protocol message. Values follow encoding/json decoding rules:
// numbers are float64, objects are map[string]any, arrays are []any.
type Pack map[string]any

// Aid returns the message kind, or "" when absent.
func (p Pack) Aid() string {
	s, _ := p["aid"].(string)
	return s
}

// Str returns the string value stored under key.
func (p Pack) Str(key string) string {
	s, _ := p[key].(string)
	return s
}

// Data returns the ordered diff list of a rtn_data pack.
func (p Pack) Data() []map[string]any {
	switch v := p["data"].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy of the pack.
func (p Pack) Clone() Pack {
	out := make(Pack, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Contains reports whether every key of sub is present in p with an equal
// scalar value. Nested values are compared through their JSON encoding.
func (p Pack) Contains(sub map[string]any) bool {
	for k, want := range sub {
		got, ok := p[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	if af, ok := number(a); ok {
		bf, ok := number(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// PeekMessage asks the upstream for the next update batch.
func PeekMessage() Pack {
	return Pack{"aid": AidPeekMessage}
}

// RtnData wraps a diff list in a rtn_data pack.
func RtnData(data []map[string]any) Pack {
	return Pack{"aid": AidRtnData, "data": data}
}

// SubscribeQuote builds a full (non-incremental) quote subscription.
func SubscribeQuote(symbols []string) Pack {
	return Pack{"aid": AidSubscribeQuote, "ins_list": strings.Join(symbols, ",")}
}

// Decode parses one JSON message.
func Decode(b []byte) (Pack, error) {
	var p Pack
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode pack: %w", err)
	}
	return p, nil
}

// Encode serializes a pack for the wire.
func Encode(p Pack) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pack %q: %w", p.Aid(), err)
	}
	return b, nil
}

// NewID returns a unique identifier with the given prefix, e.g.
// "PYSDK_chart_3f2a...". An empty prefix yields the bare hex uuid.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

const quoteInfoQuery = "query ($instrument_id:[String]) {multi_symbol_info(instrument_id:$instrument_id) {" +
	"... on basic {class instrument_id exchange_id price_tick price_decs trading_time {day night}} " +
	"... on future {volume_multiple margin commission} " +
	"... on option {volume_multiple strike_price call_or_put underlying {edges {node {instrument_id}}}}}}"

// QuoteQuery asks for the contract info of symbols, answered through the
// symbols' quotes.
func QuoteQuery(symbols ...string) Pack {
	list := make([]any, len(symbols))
	for i, s := range symbols {
		list[i] = s
	}
	return Pack{
		"aid":       AidInsQuery,
		"query_id":  NewID("PYSDK_quote"),
		"query":     quoteInfoQuery,
		"variables": map[string]any{"instrument_id": list},
	}
}
