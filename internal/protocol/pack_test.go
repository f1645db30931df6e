package protocol

import (
	"strings"
	"testing"
)

func TestDecodeEncode(t *testing.T) {
	p, err := Decode([]byte(`{"aid":"rtn_data","data":[{"quotes":{"SHFE.cu2001":{"last_price":1.5}}},{"ins_list":""}]}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Aid() != AidRtnData {
		t.Errorf("Aid() = %q, want %q", p.Aid(), AidRtnData)
	}
	data := p.Data()
	if len(data) != 2 {
		t.Fatalf("len(Data()) = %d, want 2", len(data))
	}
	if _, ok := data[0]["quotes"].(map[string]any); !ok {
		t.Errorf("data[0] missing quotes: %v", data[0])
	}

	b, err := Encode(PeekMessage())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(b) != `{"aid":"peek_message"}` {
		t.Errorf("Encode(PeekMessage()) = %s", b)
	}

	if _, err := Decode([]byte(`{"aid":`)); err == nil {
		t.Error("Decode() expected error for truncated input")
	}
}

func TestPackContains(t *testing.T) {
	p := Pack{
		"aid":      AidSetChart,
		"chart_id": "c1",
		"duration": float64(60000000000),
		"ins_list": "SHFE.cu2001",
	}

	tests := []struct {
		name string
		sub  map[string]any
		want bool
	}{
		{"empty", map[string]any{}, true},
		{"string match", map[string]any{"chart_id": "c1"}, true},
		{"int against float", map[string]any{"duration": int64(60000000000)}, true},
		{"value differs", map[string]any{"ins_list": "SHFE.cu2002"}, false},
		{"missing key", map[string]any{"view_width": 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Contains(tt.sub); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.sub, got, tt.want)
			}
		})
	}
}

func TestNotifyPack(t *testing.T) {
	p := NotifyPack(Notify{Level: "WARNING", Code: CodeReconnected, ConnID: "md", Content: "reconnected"})
	data := p.Data()
	if len(data) != 1 {
		t.Fatalf("len(Data()) = %d, want 1", len(data))
	}
	if !HasNotify(data[0], CodeReconnected) {
		t.Errorf("HasNotify(%v, reconnected) = false", data[0])
	}
	if HasNotify(data[0], CodeDisconnected) {
		t.Error("HasNotify matched the wrong code")
	}
	for _, raw := range data[0]["notify"].(map[string]any) {
		n := raw.(map[string]any)
		if n["type"] != "MESSAGE" {
			t.Errorf("type = %v, want MESSAGE", n["type"])
		}
	}

	// codes decoded from JSON are float64
	decoded := map[string]any{"notify": map[string]any{"x": map[string]any{"code": float64(CodeConnected)}}}
	if !HasNotify(decoded, CodeConnected) {
		t.Error("HasNotify failed on float64 code")
	}
}

func TestNewID(t *testing.T) {
	a := NewID("PYSDK_chart")
	b := NewID("PYSDK_chart")
	if a == b {
		t.Error("NewID returned duplicate ids")
	}
	if !strings.HasPrefix(a, "PYSDK_chart_") || strings.Contains(a[len("PYSDK_chart_"):], "-") {
		t.Errorf("NewID() = %q, want prefix and dashless uuid", a)
	}
	if len(NewID("")) != 32 {
		t.Errorf("NewID(\"\") length = %d, want 32", len(NewID("")))
	}
}
