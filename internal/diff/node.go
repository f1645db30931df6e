package diff

import (
	"math"
	"sort"
)

// Listener receives change notifications from a Node. The update is nil for
// a plain wakeup, or the full-path diff when the merge asked for it.
type Listener func(update map[string]any)

// Registration is the handle returned by Node.Listen. Close removes the
// listener; it is safe to call more than once.
type Registration struct {
	node *Node
	fn   Listener
}

// Close unregisters the listener.
func (r *Registration) Close() {
	if r == nil || r.node == nil {
		return
	}
	delete(r.node.listeners, r)
	r.node = nil
}

// Node is a mapping in the snapshot tree. Values are leaves (float64,
// string, bool, []any, ...) or child *Node values. A Node is not safe for
// concurrent use; the owner serializes merges and reads. The read
// accessors treat a nil Node as empty.
type Node struct {
	path      []string
	fields    map[string]any
	listeners map[*Registration]struct{}
}

// NewRoot returns an empty root node.
func NewRoot() *Node {
	return newNode(nil)
}

func newNode(path []string) *Node {
	return &Node{
		path:      path,
		fields:    make(map[string]any),
		listeners: make(map[*Registration]struct{}),
	}
}

// Path returns the key sequence from the root to n.
func (n *Node) Path() []string {
	out := make([]string, len(n.path))
	copy(out, n.path)
	return out
}

// Listen registers fn and returns its handle.
func (n *Node) Listen(fn Listener) *Registration {
	r := &Registration{node: n, fn: fn}
	n.listeners[r] = struct{}{}
	return r
}

// ListenerCount returns how many listeners are registered on n.
func (n *Node) ListenerCount() int {
	return len(n.listeners)
}

// Get returns the raw value stored under key.
func (n *Node) Get(key string) (any, bool) {
	if n == nil {
		return nil, false
	}
	v, ok := n.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (n *Node) Has(key string) bool {
	if n == nil {
		return false
	}
	_, ok := n.fields[key]
	return ok
}

// Child returns the child node under key, or nil.
func (n *Node) Child(key string) *Node {
	if n == nil {
		return nil
	}
	c, _ := n.fields[key].(*Node)
	return c
}

// Lookup walks path from n and returns the node found there, or nil.
func (n *Node) Lookup(path ...string) *Node {
	cur := n
	for _, k := range path {
		if cur = cur.Child(k); cur == nil {
			return nil
		}
	}
	return cur
}

// Keys returns the sorted keys of n.
func (n *Node) Keys() []string {
	if n == nil {
		return nil
	}
	keys := make([]string, 0, len(n.fields))
	for k := range n.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return len(n.fields)
}

// Float returns the numeric value under key, NaN when missing.
func (n *Node) Float(key string) float64 {
	v, _ := n.Get(key)
	if f, ok := ToFloat(v); ok {
		return f
	}
	return math.NaN()
}

// Int returns the integer value under key, or def when missing.
func (n *Node) Int(key string, def int64) int64 {
	v, _ := n.Get(key)
	if i, ok := ToInt(v); ok {
		return i
	}
	return def
}

// Str returns the string value under key.
func (n *Node) Str(key string) string {
	v, _ := n.Get(key)
	s, _ := v.(string)
	return s
}

// Bool returns the boolean under key, or def when missing.
func (n *Node) Bool(key string, def bool) bool {
	v, _ := n.Get(key)
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Snapshot returns a deep copy of n as plain maps.
func (n *Node) Snapshot() map[string]any {
	out := make(map[string]any, len(n.fields))
	for k, v := range n.fields {
		if c, ok := v.(*Node); ok {
			out[k] = c.Snapshot()
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func (n *Node) child(key string, tmpl *Prototype) *Node {
	if c, ok := n.fields[key].(*Node); ok {
		return c
	}
	path := make([]string, len(n.path)+1)
	copy(path, n.path)
	path[len(n.path)] = key
	c := newNode(path)
	tmpl.fill(c)
	n.fields[key] = c
	return c
}

func (n *Node) notify(update map[string]any) {
	if len(n.listeners) == 0 {
		return
	}
	// listeners may unregister themselves while being called
	regs := make([]*Registration, 0, len(n.listeners))
	for r := range n.listeners {
		regs = append(regs, r)
	}
	for _, r := range regs {
		r.fn(update)
	}
}

// notifyTree notifies n and every descendant, used when a subtree is
// removed or reset.
func notifyTree(v any, update map[string]any) {
	n, ok := v.(*Node)
	if !ok {
		return
	}
	n.notify(update)
	for _, c := range n.fields {
		notifyTree(c, update)
	}
}

// Ensure returns the node at path, creating missing nodes along the way.
// New nodes receive the defaults of the template that proto resolves for
// their key.
func Ensure(root *Node, proto *Prototype, path ...string) *Node {
	cur, p := root, proto
	for _, key := range path {
		sub, clone, _ := p.Resolve(key)
		var tmpl *Prototype
		if clone {
			tmpl = sub
		}
		cur = cur.child(key, tmpl)
		p = sub
	}
	return cur
}
