package protocol

// Connection notify codes. They travel in-band inside rtn_data so that
// downstream stages can react to transport events without a side channel.
const (
	CodeConnected    = 2019112901
	CodeReconnected  = 2019112902
	CodeReconnecting = 2019112910
	CodeDisconnected = 2019112911
)

// Notify is a user facing notification produced by the transport.
type Notify struct {
	Type    string
	Level   string
	Code    int
	ConnID  string
	Content string
	URL     string
}

// NotifyPack wraps n in a rtn_data pack under a fresh notify id.
func NotifyPack(n Notify) Pack {
	if n.Type == "" {
		n.Type = "MESSAGE"
	}
	return RtnData([]map[string]any{{
		"notify": map[string]any{
			NewID(""): map[string]any{
				"type":    n.Type,
				"level":   n.Level,
				"code":    n.Code,
				"conn_id": n.ConnID,
				"content": n.Content,
				"url":     n.URL,
			},
		},
	}})
}

// HasNotify reports whether the diff carries a notify with the given code.
func HasNotify(d map[string]any, code int) bool {
	notifies, _ := d["notify"].(map[string]any)
	for _, raw := range notifies {
		n, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := number(n["code"]); ok && int(c) == code {
			return true
		}
	}
	return false
}
