package entity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Record is the storable form of an entity. It holds only local facts; the
// composite key is recomputed from the parent chain when loading.
type Record struct {
	ID        ID                `json:"id"`
	Type      Type              `json:"type"`
	SimpleKey string            `json:"simple_key"`
	Parent    ID                `json:"parent"`
	Parents   map[Type]ID       `json:"parents,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Observer receives integrity events. Implementations must be cheap; they
// run inline with graph mutations.
type Observer interface {
	// Persisted is called after an entity of type t is written.
	Persisted(t Type)

	// Unpersisted is called after an entity of type t is deleted.
	Unpersisted(t Type)

	// Violation is called for every integrity error raised on type t.
	Violation(t Type, err error)
}

type nopObserver struct{}

func (nopObserver) Persisted(Type)        {}
func (nopObserver) Unpersisted(Type)      {}
func (nopObserver) Violation(Type, error) {}

// Graph is the arena that owns every entity. Entities refer to each other
// by ID; the graph resolves handles to models.
//
// A Graph is not safe for concurrent use. All mutation is expected to happen
// inside the single update transaction the store allows at a time.
type Graph struct {
	schema   *Schema
	nodes    map[ID]Model
	roots    map[Type]*Collection
	logger   *slog.Logger
	observer Observer
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObserver sets the integrity event observer.
func WithObserver(o Observer) Option {
	return func(g *Graph) {
		if o != nil {
			g.observer = o
		}
	}
}

// NewGraph creates an empty graph over schema. The schema is validated and
// becomes read-only.
func NewGraph(schema *Schema, opts ...Option) (*Graph, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	schema.seal()
	g := &Graph{
		schema:   schema,
		nodes:    make(map[ID]Model),
		roots:    make(map[Type]*Collection),
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Schema returns the graph's schema.
func (g *Graph) Schema() *Schema {
	return g.schema
}

// Attach adds a new, detached entity of type t to the graph and assigns its ID.
func (g *Graph) Attach(m Model, t Type) error {
	if isNil(m) {
		return g.fail(newError(ErrNullChild, t, "", ""))
	}
	if _, ok := g.schema.TypeSpec(t); !ok {
		return g.fail(newError(ErrUnsupportedRelation, t, "", ""))
	}
	b := m.base()
	if b.g != nil {
		return fmt.Errorf("setlist: %s is already attached to a graph", t)
	}
	*b = Base{g: g, id: uuid.New(), typ: t}
	g.nodes[b.id] = m
	return nil
}

// Get returns the model with the given handle.
func (g *Graph) Get(id ID) (Model, bool) {
	m, ok := g.nodes[id]
	return m, ok
}

// Len returns the number of live entities.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Roots returns the keyed entities of root type t in key order.
func (g *Graph) Roots(t Type) *Collection {
	return g.roots[t]
}

// RootModels returns the keyed entities of root type t in key order.
func (g *Graph) RootModels(t Type) []Model {
	c := g.roots[t]
	models := make([]Model, 0, c.Len())
	c.Each(func(_ Key, id ID) bool {
		models = append(models, g.nodes[id])
		return true
	})
	return models
}

func (g *Graph) rootCollection(t Type) *Collection {
	c, ok := g.roots[t]
	if !ok {
		c = NewCollection()
		g.roots[t] = c
	}
	return c
}

// Discard drops a detached entity that was never persisted. It fails with
// ErrReferencedByChildren if anything has been filed under it.
func (g *Graph) Discard(m Model) error {
	if isNil(m) {
		return ErrNullChild
	}
	b := m.base()
	if err := b.checkLive(); err != nil {
		return err
	}
	if b.g != g {
		return newError(ErrNotFound, b.typ, b.key.String(), "")
	}
	if b.state != Detached {
		return fmt.Errorf("setlist: %s %q is persisted; unpersist it instead", b.typ, b.key)
	}
	for _, rel := range g.schema.RelationsForParent(b.typ) {
		if b.Children(rel.ChildType).Len() > 0 {
			return b.fail(ErrReferencedByChildren, rel.ChildType)
		}
	}
	b.releaseParents()
	g.forget(b)
	b.state = Removed
	return nil
}

func (g *Graph) forget(b *Base) {
	delete(g.nodes, b.id)
}

func (g *Graph) fail(err *Error) error {
	g.observer.Violation(err.Type, err.Err)
	g.logger.Debug("integrity violation", "type", err.Type, "key", err.Key, "error", err.Err)
	return err
}

// Load replaces the graph's contents with the committed state of backend.
// Every model obtained before the call is invalidated.
func (g *Graph) Load(ctx context.Context, backend Backend) error {
	tx, err := backend.Begin(ctx, ReadOnly)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	var records []Record
	for _, t := range g.schema.Types() {
		recs, err := tx.Extent(ctx, t)
		if err != nil {
			_ = tx.Abort(ctx)
			return fmt.Errorf("read %s: %w", t, err)
		}
		records = append(records, recs...)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("end read: %w", err)
	}
	return g.Restore(records)
}

// Restore replaces the graph's contents with records. The records are
// trusted to be valid; only structural problems (unknown types, dangling
// parents, colliding keys) are reported. On error the graph is unchanged.
func (g *Graph) Restore(records []Record) error {
	nodes := make(map[ID]Model, len(records))
	for _, rec := range records {
		spec, ok := g.schema.TypeSpec(rec.Type)
		if !ok || spec.New == nil {
			return g.fail(newError(ErrUnsupportedRelation, rec.Type, rec.SimpleKey, ""))
		}
		m := spec.New()
		b := m.base()
		*b = Base{
			g:         g,
			id:        rec.ID,
			typ:       rec.Type,
			simple:    rec.SimpleKey,
			hasSimple: true,
			parent:    rec.Parent,
			state:     Persisted,
		}
		for t, id := range rec.Parents {
			if id == uuid.Nil {
				continue
			}
			if b.parents == nil {
				b.parents = make(map[Type]ID, len(rec.Parents))
			}
			b.parents[t] = id
		}
		if a, ok := m.(Attributer); ok {
			if err := a.RestoreAttrs(rec.Attrs); err != nil {
				return fmt.Errorf("restore %s %s: %w", rec.Type, rec.ID, err)
			}
		}
		nodes[rec.ID] = m
	}

	// Keys depend on parent keys, so resolve them depth first.
	done := make(map[ID]bool, len(nodes))
	var resolve func(b *Base, depth int) error
	resolve = func(b *Base, depth int) error {
		if done[b.id] {
			return nil
		}
		if depth > len(nodes) {
			return newError(ErrUnsupportedRelation, b.typ, b.simple, "")
		}
		var pk *Key
		if b.parent != uuid.Nil {
			pm, ok := nodes[b.parent]
			if !ok {
				return newError(ErrParentNotFound, b.typ, b.simple, b.spec().IdentifyingParent)
			}
			pb := pm.base()
			if err := resolve(pb, depth+1); err != nil {
				return err
			}
			k := pb.key
			pk = &k
		}
		b.key = NewKey(b.simple, pk)
		done[b.id] = true
		return nil
	}
	for _, m := range nodes {
		if err := resolve(m.base(), 0); err != nil {
			return err
		}
	}

	old := g.nodes
	oldRoots := g.roots
	g.nodes = nodes
	g.roots = make(map[Type]*Collection)
	if err := g.fileRestored(); err != nil {
		for _, m := range nodes {
			m.base().g = nil
		}
		g.nodes, g.roots = old, oldRoots
		return err
	}
	for _, m := range old {
		b := m.base()
		b.g = nil
		b.state = Removed
	}
	g.logger.Debug("graph restored", "entities", len(nodes))
	return nil
}

// fileRestored inserts every node into the collections that hold it.
func (g *Graph) fileRestored() error {
	for _, m := range g.nodes {
		b := m.base()
		spec := b.spec()
		if spec.IdentifyingParent == "" {
			if err := g.rootCollection(b.typ).Add(b.key, b.id); err != nil {
				return newError(ErrDuplicateTopLevelKey, b.typ, b.key.String(), "")
			}
		}
		if b.parent != uuid.Nil {
			pb := g.nodes[b.parent].base()
			c := pb.Children(b.typ)
			if c == nil || pb.typ != spec.IdentifyingParent {
				return newError(ErrUnsupportedRelation, b.typ, b.key.String(), pb.typ)
			}
			if err := c.Add(b.key, b.id); err != nil {
				return newError(err, b.typ, b.key.String(), spec.IdentifyingParent)
			}
		}
		for t, pid := range b.parents {
			pm, ok := g.nodes[pid]
			if !ok {
				return newError(ErrParentNotFound, b.typ, b.key.String(), t)
			}
			c := pm.base().Children(b.typ)
			if c == nil {
				return newError(ErrUnsupportedRelation, b.typ, b.key.String(), t)
			}
			if err := c.Add(b.key, b.id); err != nil {
				return newError(err, b.typ, b.key.String(), t)
			}
		}
	}
	return nil
}
