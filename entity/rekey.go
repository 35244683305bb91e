package entity

import "github.com/google/uuid"

// move relocates one handle between collections. A nil from adds, a nil to removes.
type move struct {
	ent     *Base
	from    *Collection
	fromKey Key
	to      *Collection
	toKey   Key
}

// rekeyPlan collects every collection change implied by giving an entity a
// new key or identifying parent, including the knock-on changes for its
// identifying descendants. It is checked as a whole before anything is
// applied.
type rekeyPlan struct {
	moves   []move
	keys    map[*Base]Key
	parents map[*Base]ID
}

func newRekeyPlan() *rekeyPlan {
	return &rekeyPlan{
		keys:    make(map[*Base]Key),
		parents: make(map[*Base]ID),
	}
}

// add plans b taking newKey under identifying parent newParent.
func (p *rekeyPlan) add(b *Base, newKey Key, newParent ID) {
	g := b.g
	if b.parent != uuid.Nil || newParent != uuid.Nil {
		m := move{ent: b, fromKey: b.key, toKey: newKey}
		if b.parent != uuid.Nil {
			m.from = g.nodes[b.parent].base().Children(b.typ)
		}
		if newParent != uuid.Nil {
			m.to = g.nodes[newParent].base().Children(b.typ)
		}
		p.moves = append(p.moves, m)
	}
	for _, rel := range g.schema.RelationsForChild(b.typ) {
		if g.schema.IsIdentifying(rel) {
			continue
		}
		pid := b.parents[rel.ParentType]
		if pid == uuid.Nil {
			continue
		}
		c := g.nodes[pid].base().Children(b.typ)
		p.moves = append(p.moves, move{ent: b, from: c, fromKey: b.key, to: c, toKey: newKey})
	}
	if b.isRoot() && !newKey.IsZero() {
		c := g.rootCollection(b.typ)
		m := move{ent: b, to: c, toKey: newKey}
		if b.hasSimple {
			m.from, m.fromKey = c, b.key
		}
		p.moves = append(p.moves, m)
	}
	p.keys[b] = newKey
	p.parents[b] = newParent

	for _, rel := range g.schema.RelationsForParent(b.typ) {
		if !g.schema.IsIdentifying(rel) {
			continue
		}
		b.Children(rel.ChildType).Each(func(_ Key, id ID) bool {
			cb := g.nodes[id].base()
			p.add(cb, makeKey(cb.simple, cb.hasSimple, &newKey), b.id)
			return true
		})
	}
}

// check returns ErrDuplicateKey if any destination slot is held by an entity
// that is not itself moving out of it.
func (p *rekeyPlan) check() error {
	for _, m := range p.moves {
		if m.to == nil {
			continue
		}
		id, ok := m.to.Get(m.toKey)
		if !ok || id == m.ent.id || p.vacates(m.to, m.toKey) {
			continue
		}
		related := Type("")
		if pid := p.parents[m.ent]; pid != uuid.Nil {
			related = m.ent.g.nodes[pid].base().typ
		}
		return m.ent.g.fail(newError(ErrDuplicateKey, m.ent.typ, m.toKey.String(), related))
	}
	return nil
}

func (p *rekeyPlan) vacates(c *Collection, k Key) bool {
	for _, m := range p.moves {
		if m.from == c && m.fromKey.Equal(k) && (m.to != c || !m.toKey.Equal(k)) {
			return true
		}
	}
	return false
}

// apply performs all removals first and then all insertions, so entries
// trading places within one collection do not clobber each other.
func (p *rekeyPlan) apply() {
	for _, m := range p.moves {
		if m.from == nil {
			continue
		}
		if id, ok := m.from.Get(m.fromKey); ok && id == m.ent.id {
			m.from.m = m.from.m.Delete(m.fromKey)
		}
	}
	for _, m := range p.moves {
		if m.to != nil {
			m.to.m = m.to.m.Set(m.toKey, m.ent.id)
		}
	}
	for b, k := range p.keys {
		b.key = k
	}
}
