package entity_test

import (
	"context"
	"testing"

	"github.com/jacentio/setlist/entity"
	"github.com/jacentio/setlist/store/memstore"
)

// --- Test Entity Types ---

const (
	typeFolder entity.Type = "folder"
	typeDoc    entity.Type = "doc"
	typePage   entity.Type = "page"
	typeOwner  entity.Type = "owner"
	typeLabel  entity.Type = "label"
)

// Folder is a root entity and the identifying parent of docs.
type Folder struct {
	entity.Base
	Note string
}

func (f *Folder) Attrs() map[string]string { return map[string]string{"note": f.Note} }

func (f *Folder) RestoreAttrs(attrs map[string]string) error {
	f.Note = attrs["note"]
	return nil
}

// Doc is identified by its folder and must have an owner. A label is optional.
type Doc struct{ entity.Base }

// Page is identified by its doc.
type Page struct{ entity.Base }

// Owner is a root entity referenced by docs.
type Owner struct{ entity.Base }

// Label is a root entity optionally referenced by docs. Blank keys are allowed.
type Label struct{ entity.Base }

func newSchema() *entity.Schema {
	s := entity.NewSchema()
	s.RegisterType(entity.TypeSpec{Type: typeFolder, New: func() entity.Model { return &Folder{} }})
	s.RegisterType(entity.TypeSpec{Type: typeOwner, New: func() entity.Model { return &Owner{} }})
	s.RegisterType(entity.TypeSpec{Type: typeLabel, AllowBlankKey: true, New: func() entity.Model { return &Label{} }})
	s.RegisterType(entity.TypeSpec{Type: typeDoc, IdentifyingParent: typeFolder, New: func() entity.Model { return &Doc{} }})
	s.RegisterType(entity.TypeSpec{Type: typePage, IdentifyingParent: typeDoc, New: func() entity.Model { return &Page{} }})
	s.Register(entity.Relation{ParentType: typeFolder, ChildType: typeDoc, Mandatory: true})
	s.Register(entity.Relation{ParentType: typeOwner, ChildType: typeDoc, Mandatory: true})
	s.Register(entity.Relation{ParentType: typeLabel, ChildType: typeDoc, Mandatory: false})
	s.Register(entity.Relation{ParentType: typeDoc, ChildType: typePage, Mandatory: true})
	return s
}

func newGraph(t *testing.T, opts ...entity.Option) *entity.Graph {
	t.Helper()
	g, err := entity.NewGraph(newSchema(), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

func attach[T any, P interface {
	*T
	entity.Model
	SetSimpleKey(string) error
}](t *testing.T, g *entity.Graph, typ entity.Type, key string) P {
	t.Helper()
	p := P(new(T))
	if err := g.Attach(p, typ); err != nil {
		t.Fatalf("attach %s: %v", typ, err)
	}
	if err := p.SetSimpleKey(key); err != nil {
		t.Fatalf("set key %q: %v", key, err)
	}
	return p
}

// world is a small persisted graph: folder "inbox" holding doc "a" owned by
// "alice".
type world struct {
	g      *entity.Graph
	st     *memstore.Store
	folder *Folder
	owner  *Owner
	doc    *Doc
}

func newWorld(t *testing.T, opts ...entity.Option) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{g: newGraph(t, opts...), st: memstore.New()}
	w.folder = attach[Folder](t, w.g, typeFolder, "inbox")
	w.owner = attach[Owner](t, w.g, typeOwner, "alice")
	w.doc = attach[Doc](t, w.g, typeDoc, "a")
	if err := w.doc.SetIdentifyingParent(w.folder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.doc.SetParent(typeOwner, w.owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := w.g.Update(ctx, w.st, func(s *entity.Session) error {
		for _, m := range []entity.Model{w.folder, w.owner, w.doc} {
			if err := s.Persist(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("persist world: %v", err)
	}
	return w
}

// newDoc attaches a doc keyed key under folder, owned by owner.
func (w *world) newDoc(t *testing.T, key string) *Doc {
	t.Helper()
	d := attach[Doc](t, w.g, typeDoc, key)
	if err := d.SetIdentifyingParent(w.folder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.SetParent(typeOwner, w.owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d
}

// update runs fn in a read-write session on the world's store.
func (w *world) update(t *testing.T, fn func(ctx context.Context, s *entity.Session) error) error {
	t.Helper()
	ctx := context.Background()
	return w.g.Update(ctx, w.st, func(s *entity.Session) error { return fn(ctx, s) })
}
