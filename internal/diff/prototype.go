package diff

// Prototype describes defaults and key resolution for one level of the
// snapshot tree. A nil *Prototype behaves like an empty one.
type Prototype struct {
	defaults map[string]any
	children map[string]*Prototype
	star     *Prototype
	at       *Prototype
	hash     *Prototype
}

// NewPrototype returns an empty prototype.
func NewPrototype() *Prototype {
	return &Prototype{
		defaults: make(map[string]any),
		children: make(map[string]*Prototype),
	}
}

// Field sets the default value of a leaf key.
func (p *Prototype) Field(key string, v any) *Prototype {
	p.defaults[key] = v
	return p
}

// Fields sets several leaf defaults.
func (p *Prototype) Fields(m map[string]any) *Prototype {
	for k, v := range m {
		p.defaults[k] = v
	}
	return p
}

// Child binds the prototype of an exact key.
func (p *Prototype) Child(key string, c *Prototype) *Prototype {
	p.children[key] = c
	return p
}

// Star binds the "*" template: unknown keys share c without defaults.
func (p *Prototype) Star(c *Prototype) *Prototype {
	p.star = c
	return p
}

// At binds the "@" template: unknown keys materialize with c's defaults.
func (p *Prototype) At(c *Prototype) *Prototype {
	p.at = c
	return p
}

// Hash binds the "#" template: like At, and the subtree is persistent.
func (p *Prototype) Hash(c *Prototype) *Prototype {
	p.hash = c
	return p
}

// Default returns the leaf default for key.
func (p *Prototype) Default(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.defaults[key]
	return v, ok
}

// Persistent reports whether the children of p are never deleted.
func (p *Prototype) Persistent() bool {
	return p != nil && p.hash != nil
}

// Resolve returns the prototype governing key, whether new nodes clone its
// defaults, and whether the subtree is persistent.
func (p *Prototype) Resolve(key string) (sub *Prototype, clone bool, persist bool) {
	if p == nil {
		return nil, false, false
	}
	if c, ok := p.children[key]; ok {
		return c, false, false
	}
	switch {
	case p.star != nil:
		return p.star, false, false
	case p.at != nil:
		return p.at, true, false
	case p.hash != nil:
		return p.hash, true, true
	}
	return nil, false, false
}

// fill copies the defaults of p into a fresh node.
func (p *Prototype) fill(n *Node) {
	if p == nil {
		return
	}
	for k, v := range p.defaults {
		n.fields[k] = cloneValue(v)
	}
}
