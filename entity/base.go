package entity

import (
	"reflect"

	"github.com/google/uuid"
)

// ID is the opaque handle of an entity inside a Graph.
type ID = uuid.UUID

// State is the lifecycle state of an entity.
type State int

const (
	// Detached entities exist only in the graph.
	Detached State = iota
	// Persisted entities have been written through a session.
	Persisted
	// Removed entities were unpersisted, or invalidated by a graph reload. Terminal.
	Removed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Persisted:
		return "persisted"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Model is implemented by every concrete entity type by embedding Base.
type Model interface {
	base() *Base
}

// Attributer is implemented by models carrying fields beyond their keys.
// The attributes are what a store persists alongside the key and parent links.
type Attributer interface {
	// Attrs returns the model's fields.
	Attrs() map[string]string

	// RestoreAttrs sets the model's fields from a stored record.
	RestoreAttrs(attrs map[string]string) error
}

// Base is embedded by every entity type. It owns the entity's key and its
// parent and child links, and implements the add/remove/re-parent protocol.
//
// Links are handles into the owning Graph; Base holds no pointers to other
// entities.
type Base struct {
	g         *Graph
	id        ID
	typ       Type
	simple    string
	hasSimple bool
	key       Key
	parent    ID
	parents   map[Type]ID
	children  map[Type]*Collection
	state     State
}

func (b *Base) base() *Base { return b }

// ID returns the entity's handle.
func (b *Base) ID() ID { return b.id }

// Type returns the entity type.
func (b *Base) Type() Type { return b.typ }

// Key returns the composite key.
func (b *Base) Key() Key { return b.key }

// SimpleKey returns the local key component.
func (b *Base) SimpleKey() string { return b.simple }

// HasSimpleKey reports whether a simple key was assigned.
func (b *Base) HasSimpleKey() bool { return b.hasSimple }

// State returns the lifecycle state.
func (b *Base) State() State { return b.state }

// Graph returns the owning graph, or nil for unattached or invalidated entities.
func (b *Base) Graph() *Graph { return b.g }

func isNil(m Model) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (b *Base) spec() TypeSpec {
	spec, _ := b.g.schema.TypeSpec(b.typ)
	return spec
}

func (b *Base) isRoot() bool {
	return b.spec().IdentifyingParent == ""
}

// checkLive returns an error unless b is attached and not removed.
func (b *Base) checkLive() error {
	if b.g == nil {
		return newError(ErrNotFound, b.typ, b.key.String(), "")
	}
	if b.state == Removed {
		return newError(ErrAlreadyDeleted, b.typ, b.key.String(), "")
	}
	return nil
}

// peer validates that m is a live entity of the same graph.
func (b *Base) peer(m Model) (*Base, error) {
	o := m.base()
	if err := o.checkLive(); err != nil {
		return nil, err
	}
	if o.g != b.g {
		return nil, newError(ErrNotFound, o.typ, o.key.String(), "")
	}
	return o, nil
}

func (b *Base) fail(err error, related Type) error {
	return b.g.fail(newError(err, b.typ, b.key.String(), related))
}

// IdentifyingParent returns the parent that contributes to the key, or nil.
func (b *Base) IdentifyingParent() Model {
	if b.g == nil || b.parent == uuid.Nil {
		return nil
	}
	return b.g.nodes[b.parent]
}

// Parent returns the parent of type t, identifying or not, or nil.
func (b *Base) Parent(t Type) Model {
	id := b.parentID(t)
	if b.g == nil || id == uuid.Nil {
		return nil
	}
	return b.g.nodes[id]
}

func (b *Base) parentID(t Type) ID {
	if b.g != nil && t != "" && t == b.spec().IdentifyingParent {
		return b.parent
	}
	return b.parents[t]
}

// Children returns the collection of children of type t. Collections are
// created from the schema on first access; an unsupported type yields nil,
// which reads as empty.
func (b *Base) Children(t Type) *Collection {
	if b.g == nil {
		return nil
	}
	if b.children == nil {
		rels := b.g.schema.RelationsForParent(b.typ)
		b.children = make(map[Type]*Collection, len(rels))
		for _, rel := range rels {
			b.children[rel.ChildType] = NewCollection()
		}
	}
	return b.children[t]
}

// ChildModels returns the children of type t in key order.
func (b *Base) ChildModels(t Type) []Model {
	c := b.Children(t)
	models := make([]Model, 0, c.Len())
	c.Each(func(_ Key, id ID) bool {
		if m, ok := b.g.nodes[id]; ok {
			models = append(models, m)
		}
		return true
	})
	return models
}

// SetSimpleKey assigns the local key component, re-filing the entity and
// re-keying its identifying descendants. Fails with ErrDuplicateKey if a
// sibling (or, for root types, another attached root) already has the key.
func (b *Base) SetSimpleKey(simple string) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	if b.hasSimple && b.simple == simple {
		return nil
	}
	var pk *Key
	if b.parent != uuid.Nil {
		k := b.g.nodes[b.parent].base().key
		pk = &k
	}
	p := newRekeyPlan()
	p.add(b, makeKey(simple, true, pk), b.parent)
	if err := p.check(); err != nil {
		return err
	}
	p.apply()
	b.simple, b.hasSimple = simple, true
	return nil
}

// SetIdentifyingParent files the entity under p, recomputing its key. A nil
// p is only allowed when the identifying relation is optional.
func (b *Base) SetIdentifyingParent(p Model) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	spec := b.spec()
	if spec.IdentifyingParent == "" {
		return b.fail(ErrUnsupportedRelation, "")
	}
	rel, _ := b.g.schema.Find(spec.IdentifyingParent, b.typ)
	if isNil(p) {
		if b.parent == uuid.Nil {
			return nil
		}
		if rel.Mandatory {
			return b.fail(ErrConstraintViolation, rel.ParentType)
		}
		return b.moveIdentifying(nil)
	}
	pb, err := b.peer(p)
	if err != nil {
		return err
	}
	if pb.typ != spec.IdentifyingParent {
		return b.fail(ErrUnsupportedRelation, pb.typ)
	}
	if pb.id == b.parent {
		return nil
	}
	return b.moveIdentifying(pb)
}

// moveIdentifying re-files b under pb (nil for none).
func (b *Base) moveIdentifying(pb *Base) error {
	var pk *Key
	newParent := uuid.Nil
	if pb != nil {
		k := pb.key
		pk = &k
		newParent = pb.id
	}
	p := newRekeyPlan()
	p.add(b, makeKey(b.simple, b.hasSimple, pk), newParent)
	if err := p.check(); err != nil {
		return err
	}
	p.apply()
	b.parent = newParent
	return nil
}

// SetParent sets the parent of type t. For the identifying parent type it
// behaves like SetIdentifyingParent. A nil p is only allowed on optional
// relations.
func (b *Base) SetParent(t Type, p Model) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	if t != "" && t == b.spec().IdentifyingParent {
		return b.SetIdentifyingParent(p)
	}
	rel, ok := b.g.schema.Find(t, b.typ)
	if !ok {
		return b.fail(ErrUnsupportedRelation, t)
	}
	old := b.parents[t]
	if isNil(p) {
		if old == uuid.Nil {
			return nil
		}
		if rel.Mandatory {
			return b.fail(ErrConstraintViolation, t)
		}
		b.unlinkParent(t)
		return nil
	}
	pb, err := b.peer(p)
	if err != nil {
		return err
	}
	if pb.typ != t {
		return b.fail(ErrUnsupportedRelation, pb.typ)
	}
	if pb.id == old {
		return nil
	}
	coll := pb.Children(b.typ)
	if coll.Contains(b.key) {
		return b.fail(ErrDuplicateKey, t)
	}
	if old != uuid.Nil {
		b.unlinkParent(t)
	}
	_ = coll.Add(b.key, b.id)
	if b.parents == nil {
		b.parents = make(map[Type]ID)
	}
	b.parents[t] = pb.id
	return nil
}

// unlinkParent drops the non-identifying link to the parent of type t.
func (b *Base) unlinkParent(t Type) {
	if pid := b.parents[t]; pid != uuid.Nil {
		if pm, ok := b.g.nodes[pid]; ok {
			_ = pm.base().Children(b.typ).Remove(b.key)
		}
	}
	delete(b.parents, t)
}

// AddChild adds child to this entity's collection for the child's type. On
// the child's identifying relation this also sets the child's identifying
// parent and key.
//
// Adding a child that is already filed under b is not a no-op: the
// collection already holds its key, so it fails with ErrDuplicateKey.
func (b *Base) AddChild(child Model) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	if isNil(child) {
		return b.fail(ErrNullChild, "")
	}
	cb, err := b.peer(child)
	if err != nil {
		return err
	}
	rel, ok := b.g.schema.Find(b.typ, cb.typ)
	if !ok {
		return b.g.fail(newError(ErrUnsupportedRelation, cb.typ, cb.key.String(), b.typ))
	}
	if b.g.schema.IsIdentifying(rel) {
		switch cb.parent {
		case uuid.Nil:
			return cb.moveIdentifying(b)
		case b.id:
			return cb.fail(ErrDuplicateKey, b.typ)
		default:
			return cb.fail(ErrAlreadyParented, b.typ)
		}
	}
	switch cb.parents[b.typ] {
	case uuid.Nil:
		return cb.SetParent(b.typ, b)
	case b.id:
		return cb.fail(ErrDuplicateKey, b.typ)
	default:
		return cb.fail(ErrAlreadyParented, b.typ)
	}
}

// RemoveChild removes child from this entity's collection. Mandatory
// children cannot be removed this way; they must be re-parented or
// unpersisted.
func (b *Base) RemoveChild(child Model) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	if isNil(child) {
		return b.fail(ErrNullChild, "")
	}
	cb, err := b.peer(child)
	if err != nil {
		return err
	}
	rel, ok := b.g.schema.Find(b.typ, cb.typ)
	if !ok {
		return b.g.fail(newError(ErrUnsupportedRelation, cb.typ, cb.key.String(), b.typ))
	}
	if id, ok := b.Children(cb.typ).Get(cb.key); !ok || id != cb.id {
		return cb.fail(ErrChildNotFound, b.typ)
	}
	if rel.Mandatory {
		return cb.fail(ErrConstraintViolation, b.typ)
	}
	return b.detachChild(cb, rel)
}

// detachChild releases cb from this entity without checking mandatoriness.
func (b *Base) detachChild(cb *Base, rel Relation) error {
	if b.g.schema.IsIdentifying(rel) {
		return cb.moveIdentifying(nil)
	}
	cb.unlinkParent(b.typ)
	return nil
}

// releaseParents removes b from every collection that files it, walking the
// parent slots in reverse registration order.
func (b *Base) releaseParents() {
	rels := b.g.schema.RelationsForChild(b.typ)
	for i := len(rels) - 1; i >= 0; i-- {
		t := rels[i].ParentType
		pid := b.parentID(t)
		if pid == uuid.Nil {
			continue
		}
		if pm, ok := b.g.nodes[pid]; ok {
			_ = pm.base().Children(b.typ).Remove(b.key)
		}
		if t == b.spec().IdentifyingParent {
			b.parent = uuid.Nil
		} else {
			delete(b.parents, t)
		}
	}
	if b.isRoot() && b.hasSimple {
		if id, ok := b.g.roots[b.typ].Get(b.key); ok && id == b.id {
			_ = b.g.roots[b.typ].Remove(b.key)
		}
	}
}

// record returns the storable form of b.
func (b *Base) record(m Model) Record {
	rec := Record{
		ID:        b.id,
		Type:      b.typ,
		SimpleKey: b.simple,
		Parent:    b.parent,
	}
	if len(b.parents) > 0 {
		rec.Parents = make(map[Type]ID, len(b.parents))
		for t, id := range b.parents {
			rec.Parents[t] = id
		}
	}
	if a, ok := m.(Attributer); ok {
		rec.Attrs = a.Attrs()
	}
	return rec
}

func makeKey(simple string, set bool, parent *Key) Key {
	k := NewKey(simple, parent)
	k.set = set
	return k
}
