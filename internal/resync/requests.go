package resync

import "github.com/rickgao/tqsdk-go/internal/protocol"

// Requests keeps the last request per key in first-recorded order. It is
// what gets resent after a reconnection.
type Requests struct {
	keys  []string
	packs map[string]protocol.Pack
}

// NewRequests returns an empty set.
func NewRequests() *Requests {
	return &Requests{packs: make(map[string]protocol.Pack)}
}

// Set records pack under key. Replacing a key keeps its position.
func (r *Requests) Set(key string, pack protocol.Pack) {
	if _, ok := r.packs[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.packs[key] = pack
}

// Delete forgets key.
func (r *Requests) Delete(key string) {
	if _, ok := r.packs[key]; !ok {
		return
	}
	delete(r.packs, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Get returns the request recorded under key.
func (r *Requests) Get(key string) (protocol.Pack, bool) {
	p, ok := r.packs[key]
	return p, ok
}

// Len returns the number of recorded requests.
func (r *Requests) Len() int {
	return len(r.keys)
}

// Keys returns the recorded keys in order.
func (r *Requests) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Packs returns the recorded requests in order.
func (r *Requests) Packs() []protocol.Pack {
	out := make([]protocol.Pack, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.packs[k])
	}
	return out
}
