package diff

// Options controls a Merge.
type Options struct {
	// Persist treats the whole diff as persistent: nulls never delete.
	Persist bool
	// ReduceDiff elides keys whose incoming value equals the stored one, so
	// the returned diff holds only what really changed.
	ReduceDiff bool
	// FullPath delivers the changed subtree wrapped in its full path to
	// listeners instead of a nil wakeup.
	FullPath bool
}

// Merge applies d to root under proto and returns the effective diff. d is
// not modified. Listeners of every changed node are called before Merge
// returns, children before parents.
func Merge(root *Node, d map[string]any, proto *Prototype, opts Options) map[string]any {
	return merge(root, d, proto, opts.Persist, opts)
}

func merge(n *Node, d map[string]any, p *Prototype, persist bool, opts Options) map[string]any {
	eff := make(map[string]any, len(d))
	for key, v := range d {
		// string placeholders stand in for values the wire cannot encode
		if _, ok := v.(string); ok {
			if dv, ok := p.Default(key); ok {
				if _, isStr := dv.(string); !isStr {
					v = cloneValue(dv)
				}
			}
		}

		switch val := v.(type) {
		case nil:
			if persist || p.Persistent() {
				if r, changed := reset(n, key, p, persist, opts); changed {
					eff[key] = r
				}
				continue
			}
			old, existed := n.fields[key]
			if !existed {
				if !opts.ReduceDiff {
					eff[key] = nil
				}
				continue
			}
			delete(n.fields, key)
			eff[key] = nil
			var update map[string]any
			if opts.FullPath {
				update = wrap(nil, append(n.Path(), key))
			}
			notifyTree(old, update)

		case map[string]any:
			sub, clone, subPersist := p.Resolve(key)
			var tmpl *Prototype
			if clone {
				tmpl = sub
			}
			c := n.child(key, tmpl)
			if changed := merge(c, val, sub, persist || subPersist, opts); len(changed) > 0 {
				eff[key] = changed
			}

		default:
			old, existed := n.fields[key]
			if existed && opts.ReduceDiff && Equal(old, val) {
				continue
			}
			if on, ok := old.(*Node); ok {
				notifyTree(on, nil)
			}
			n.fields[key] = val
			eff[key] = val
		}
	}
	if len(eff) > 0 {
		var update map[string]any
		if opts.FullPath {
			update = wrap(eff, n.path)
		}
		n.notify(update)
	}
	return eff
}

// reset handles a null inside a persistent scope: leaves fall back to their
// default, child nodes are rebuilt from their template.
func reset(n *Node, key string, p *Prototype, persist bool, opts Options) (any, bool) {
	old, existed := n.fields[key]
	if !existed {
		return nil, false
	}
	if c, ok := old.(*Node); ok {
		sub, clone, _ := p.Resolve(key)
		if !clone {
			sub = nil
		}
		if opts.ReduceDiff && atDefaults(c, sub) {
			return nil, false
		}
		for k := range c.fields {
			delete(c.fields, k)
		}
		sub.fill(c)
		var update map[string]any
		if opts.FullPath {
			update = wrap(nil, c.path)
		}
		notifyTree(c, update)
		return nil, true
	}
	dv, ok := p.Default(key)
	if !ok {
		return nil, false
	}
	if opts.ReduceDiff && Equal(old, dv) {
		return nil, false
	}
	n.fields[key] = cloneValue(dv)
	return dv, true
}

func atDefaults(n *Node, tmpl *Prototype) bool {
	want := 0
	if tmpl != nil {
		want = len(tmpl.defaults)
	}
	if len(n.fields) != want {
		return false
	}
	for k, v := range n.fields {
		dv, ok := tmpl.Default(k)
		if !ok || !Equal(v, dv) {
			return false
		}
	}
	return true
}

// wrap nests d under path: wrap(d, [a b]) = {a: {b: d}}.
func wrap(d map[string]any, path []string) map[string]any {
	if len(path) == 0 {
		return d
	}
	var inner any = d
	if d == nil {
		inner = nil
	}
	for i := len(path) - 1; i >= 0; i-- {
		inner = map[string]any{path[i]: inner}
	}
	return inner.(map[string]any)
}
