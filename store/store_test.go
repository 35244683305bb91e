package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/setlist/archive"
	"github.com/jacentio/setlist/entity"
	"github.com/jacentio/setlist/internal/shard"
	"github.com/jacentio/setlist/store"
	"github.com/jacentio/setlist/store/dynamotest"
)

// --- Test Setup ---

func newStore(t *testing.T, cfg store.Config) (*store.Store, *dynamotest.Client) {
	t.Helper()
	client := dynamotest.New()
	s := store.New(client, archive.NewSchema(), cfg)
	cfg = s.Config()
	client.CreateTable(cfg.EntityTable, "id", "")
	client.CreateTable(cfg.RelationshipTable, "pk", "child_ref")
	client.CreateTable(cfg.UniqueTable, "pk", "sk")
	return s, client
}

// reopen returns a second Store over the same tables, as another process would hold.
func reopen(client *dynamotest.Client, cfg store.Config) *store.Store {
	return store.New(client, archive.NewSchema(), cfg)
}

func newGraph(t *testing.T) *entity.Graph {
	t.Helper()
	g, err := archive.NewGraph()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

func loadGraph(t *testing.T, s *store.Store) *entity.Graph {
	t.Helper()
	g := newGraph(t)
	if err := g.Load(context.Background(), s); err != nil {
		t.Fatalf("load: %v", err)
	}
	return g
}

const fixture = `
event_types: ["Gig"]
series: [""]
genres: ["No Wave"]
acts: ["Swans", "Sonic Youth"]
newsletters:
  - {date: "1984/06/01", url: "https://example.org/june"}
locations:
  - name: Pyramid Club
    events:
      - date: "1984/06/09"
        event_type: Gig
        series: ""
        newsletter: "1984/06/01"
        sets:
          - {no: 1, act: Swans, genre: No Wave}
`

func importFixture(t *testing.T, s *store.Store) *entity.Graph {
	t.Helper()
	g := newGraph(t)
	f, err := archive.LoadFixture(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	if err := archive.Import(context.Background(), g, s, f); err != nil {
		t.Fatalf("import: %v", err)
	}
	return g
}

func act(t *testing.T, g *entity.Graph, name string) *archive.Act {
	t.Helper()
	for _, m := range g.RootModels(archive.TypeAct) {
		if a := m.(*archive.Act); a.Name() == name {
			return a
		}
	}
	t.Fatalf("act %q not in graph", name)
	return nil
}

// --- Config ---

func TestNew_DefaultsConfig(t *testing.T) {
	s := store.New(dynamotest.New(), archive.NewSchema(), store.Config{NumShards: 1000})
	cfg := s.Config()
	if cfg.EntityTable != "setlist_entities" || cfg.TypeIndex != "entity_type-index" {
		t.Errorf("unexpected tables %+v", cfg)
	}
	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards clamped to 256, got %d", cfg.NumShards)
	}
	if cfg.Logger == nil {
		t.Error("expected a default logger")
	}
}

// --- Commit ---

func TestStore_ImportWritesManagedRows(t *testing.T) {
	s, client := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)
	cfg := s.Config()

	if got := len(client.Items(cfg.EntityTable)); got != g.Len() {
		t.Errorf("expected %d entity items, got %d", g.Len(), got)
	}
	// One constraint per root: event type, series, genre, two acts, newsletter, location.
	if got := len(client.Items(cfg.UniqueTable)); got != 7 {
		t.Errorf("expected 7 unique constraints, got %d", got)
	}
	// Event: location, event type, series, newsletter. Set: event, act, genre.
	if got := len(client.Items(cfg.RelationshipTable)); got != 7 {
		t.Errorf("expected 7 relationship rows, got %d", got)
	}
	if client.Transactions != 1 {
		t.Errorf("expected a single transaction, got %d", client.Transactions)
	}

	swans := act(t, g, "Swans")
	rec, err := s.Get(context.Background(), swans.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.SimpleKey != "Swans" || rec.Type != archive.TypeAct {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestStore_RelationshipRowsCarryMandatoryFlag(t *testing.T) {
	s, _ := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)
	event := g.RootModels(archive.TypeLocation)[0].(*archive.Location).Events()[0]
	eventRef := shard.Ref(string(archive.TypeEvent), event.ID().String())

	children, err := s.QueryAllChildren(context.Background(), shard.Ref(string(archive.TypeNewsletter), event.Newsletter().ID().String()))
	if err != nil {
		t.Fatalf("query children: %v", err)
	}
	if len(children) != 1 || children[0].Ref != eventRef || children[0].Mandatory {
		t.Errorf("expected one optional link to the event, got %+v", children)
	}

	children, err = s.QueryAllChildren(context.Background(), shard.Ref(string(archive.TypeLocation), event.Location().ID().String()))
	if err != nil {
		t.Fatalf("query children: %v", err)
	}
	if len(children) != 1 || !children[0].Mandatory {
		t.Errorf("expected one mandatory link, got %+v", children)
	}
}

func TestStore_LoadRestoresGraph(t *testing.T) {
	s, client := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)
	client.PageSize = 2

	g2 := loadGraph(t, s)
	if g2.Len() != g.Len() {
		t.Fatalf("expected %d entities, got %d", g.Len(), g2.Len())
	}
	set := g2.RootModels(archive.TypeLocation)[0].(*archive.Location).Events()[0].Sets()[0]
	if got := set.Key().String(); got != "01 1984/06/09 Pyramid Club" {
		t.Errorf("expected %q, got %q", "01 1984/06/09 Pyramid Club", got)
	}
	if set.Act().Name() != "Swans" {
		t.Errorf("expected act Swans, got %q", set.Act().Name())
	}
}

func TestStore_UpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)

	loc := g.RootModels(archive.TypeLocation)[0].(*archive.Location)
	err := g.Update(ctx, s, func(sess *entity.Session) error {
		if err := loc.SetName("The Pyramid"); err != nil {
			return err
		}
		return sess.Persist(ctx, loc)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	for _, raw := range client.Items(s.Config().EntityTable) {
		if raw["id"].(*types.AttributeValueMemberS).Value != loc.ID().String() {
			continue
		}
		if v := raw["version"].(*types.AttributeValueMemberN).Value; v != "2" {
			t.Errorf("expected version 2, got %s", v)
		}
		if raw["created_at"] == nil || raw["updated_at"] == nil {
			t.Error("expected timestamps")
		}
	}

	// The old name is free, the new one is taken.
	g2 := newGraph(t)
	err = g2.Update(ctx, s, func(sess *entity.Session) error {
		l, err := archive.NewLocation(g2, "Pyramid Club")
		if err != nil {
			return err
		}
		return sess.Persist(ctx, l)
	})
	if err != nil {
		t.Errorf("expected the released name to be reusable, got %v", err)
	}
}

func TestStore_DuplicateTopLevelKeyAcrossGraphs(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, store.DefaultConfig())
	importFixture(t, s)

	// A graph that never loaded the store cannot see Swans; the constraint
	// row still rejects the name.
	g := newGraph(t)
	err := g.Update(ctx, s, func(sess *entity.Session) error {
		a, err := archive.NewAct(g, "SWANS")
		if err != nil {
			return err
		}
		return sess.Persist(ctx, a)
	})
	if !errors.Is(err, entity.ErrDuplicateTopLevelKey) {
		t.Fatalf("expected ErrDuplicateTopLevelKey, got %v", err)
	}
	// The failed commit reloaded the graph from the store.
	if len(g.RootModels(archive.TypeAct)) != 2 {
		t.Errorf("expected the reloaded graph to hold the stored acts, got %d", len(g.RootModels(archive.TypeAct)))
	}
}

func TestStore_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g1 := importFixture(t, s)
	s2 := reopen(client, s.Config())
	g2 := loadGraph(t, s2)

	rename := func(g *entity.Graph, s *store.Store, name string) error {
		return g.Update(ctx, s, func(sess *entity.Session) error {
			a := g.RootModels(archive.TypeAct)[0].(*archive.Act)
			if err := a.SetName(name); err != nil {
				return err
			}
			return sess.Persist(ctx, a)
		})
	}
	if err := rename(g1, s, "Sonic Youth Band"); err != nil {
		t.Fatalf("first rename: %v", err)
	}
	if err := rename(g2, s2, "Sonic Youth Group"); !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if _, ok, _ := findAct(ctx, g2, s2, "Sonic Youth Band"); !ok {
		t.Error("expected the reloaded graph to see the first rename")
	}
	// With fresh versions the retry goes through.
	if err := rename(g2, s2, "Sonic Youth Group"); err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
}

func findAct(ctx context.Context, g *entity.Graph, s *store.Store, name string) (*archive.Act, bool, error) {
	var found *archive.Act
	var ok bool
	err := g.View(ctx, s, func(sess *entity.Session) error {
		var err error
		found, ok, err = entity.Find(ctx, sess, archive.TypeAct, func(a *archive.Act) bool { return a.Name() == name })
		return err
	})
	return found, ok, err
}

func TestStore_ParentDeletedByAnotherWriter(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g1 := importFixture(t, s)

	var extra *archive.Newsletter
	err := g1.Update(ctx, s, func(sess *entity.Session) error {
		var err error
		if extra, err = archive.NewNewsletter(g1, date(t, "1984/07/01")); err != nil {
			return err
		}
		return sess.Persist(ctx, extra)
	})
	if err != nil {
		t.Fatalf("create newsletter: %v", err)
	}

	s2 := reopen(client, s.Config())
	g2 := loadGraph(t, s2)
	if err := g1.Update(ctx, s, func(sess *entity.Session) error { return sess.Unpersist(ctx, extra) }); err != nil {
		t.Fatalf("delete newsletter: %v", err)
	}

	// g2 still believes the newsletter exists.
	err = g2.Update(ctx, s2, func(sess *entity.Session) error {
		event := g2.RootModels(archive.TypeLocation)[0].(*archive.Location).Events()[0]
		stale, _ := g2.Get(extra.ID())
		if err := event.SetNewsletter(stale.(*archive.Newsletter)); err != nil {
			return err
		}
		return sess.Persist(ctx, event)
	})
	if !errors.Is(err, entity.ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
}

func TestStore_SoftDelete(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)
	cfg := s.Config()

	sonic := act(t, g, "Sonic Youth")
	id := sonic.ID()
	if err := g.Update(ctx, s, func(sess *entity.Session) error { return sess.Unpersist(ctx, sonic) }); err != nil {
		t.Fatalf("unpersist: %v", err)
	}

	if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	// The item stays until DynamoDB reaps it.
	var soft bool
	for _, raw := range client.Items(cfg.EntityTable) {
		if raw["id"].(*types.AttributeValueMemberS).Value == id.String() {
			soft = store.IsDeleted(raw)
		}
	}
	if !soft {
		t.Error("expected the item to carry an expired TTL")
	}
	if got := len(client.Items(cfg.UniqueTable)); got != 6 {
		t.Errorf("expected the constraint to be released, got %d rows", got)
	}
	if g2 := loadGraph(t, s); len(g2.RootModels(archive.TypeAct)) != 1 {
		t.Errorf("expected one act after reload, got %d", len(g2.RootModels(archive.TypeAct)))
	}
}

func TestStore_ReferencedActIsKept(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)
	before := len(client.Items(s.Config().EntityTable))

	swans := act(t, g, "Swans")
	err := g.Update(ctx, s, func(sess *entity.Session) error { return sess.Unpersist(ctx, swans) })
	if !errors.Is(err, entity.ErrReferencedByChildren) {
		t.Fatalf("expected ErrReferencedByChildren, got %v", err)
	}
	if client.Transactions != 1 {
		t.Errorf("expected no further transaction, got %d", client.Transactions)
	}
	if got := len(client.Items(s.Config().EntityTable)); got != before {
		t.Errorf("expected %d items, got %d", before, got)
	}
}

func TestStore_UnpersistReleasesOptionalLinks(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)
	cfg := s.Config()

	event := g.RootModels(archive.TypeLocation)[0].(*archive.Location).Events()[0]
	nl := event.Newsletter()
	if err := g.Update(ctx, s, func(sess *entity.Session) error { return sess.Unpersist(ctx, nl) }); err != nil {
		t.Fatalf("unpersist newsletter: %v", err)
	}
	if got := len(client.Items(cfg.RelationshipTable)); got != 6 {
		t.Errorf("expected the newsletter link to be removed, got %d rows", got)
	}
	rec, err := s.Get(ctx, event.ID())
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if _, ok := rec.Parents[archive.TypeNewsletter]; ok {
		t.Error("expected the stored event to drop its newsletter")
	}
}

func TestStore_RenameCaseAcrossDeleteAndCreate(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)

	sonic := act(t, g, "Sonic Youth")
	err := g.Update(ctx, s, func(sess *entity.Session) error {
		if err := sess.Unpersist(ctx, sonic); err != nil {
			return err
		}
		a, err := archive.NewAct(g, "SONIC YOUTH")
		if err != nil {
			return err
		}
		return sess.Persist(ctx, a)
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := len(client.Items(s.Config().UniqueTable)); got != 7 {
		t.Errorf("expected 7 constraints, got %d", got)
	}
}

func TestStore_TooManyWrites(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	g := newGraph(t)

	err := g.Update(ctx, s, func(sess *entity.Session) error {
		for i := 0; i < 60; i++ {
			o, err := archive.NewUserOption(g, fmt.Sprintf("option-%02d", i), "on")
			if err != nil {
				return err
			}
			if err := sess.Persist(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, store.ErrTooManyWrites) {
		t.Fatalf("expected ErrTooManyWrites, got %v", err)
	}
	if client.Transactions != 0 || g.Len() != 0 {
		t.Errorf("expected nothing written, got %d transactions and %d entities", client.Transactions, g.Len())
	}
}

func TestStore_ShardedChildren(t *testing.T) {
	ctx := context.Background()
	cfg := store.DefaultConfig()
	cfg.NumShards = 16
	s, _ := newStore(t, cfg)
	g := importFixture(t, s)

	loc := g.RootModels(archive.TypeLocation)[0].(*archive.Location)
	first := loc.Events()[0]
	err := g.Update(ctx, s, func(sess *entity.Session) error {
		for day := 10; day < 20; day++ {
			e, err := archive.NewEvent(g, date(t, fmt.Sprintf("1984/06/%02d", day)))
			if err != nil {
				return err
			}
			if err := e.SetLocation(loc); err != nil {
				return err
			}
			if err := e.SetEventType(first.EventType()); err != nil {
				return err
			}
			if err := e.SetSeries(first.Series()); err != nil {
				return err
			}
			if err := sess.Persist(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("add events: %v", err)
	}

	children, err := s.QueryAllChildren(ctx, shard.Ref(string(archive.TypeLocation), loc.ID().String()))
	if err != nil {
		t.Fatalf("query children: %v", err)
	}
	if len(children) != 11 {
		t.Fatalf("expected 11 children across shards, got %d", len(children))
	}
	for i := 1; i < len(children); i++ {
		if children[i-1].Ref > children[i].Ref {
			t.Fatal("expected children ordered by reference")
		}
	}
}

// --- Transactions ---

func TestTx_ExtentSeesPendingWrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, store.DefaultConfig())
	g := importFixture(t, s)
	swans := act(t, g, "Swans")

	tx, err := s.Begin(ctx, entity.ReadWrite)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	added := entity.Record{ID: uuid.New(), Type: archive.TypeAct, SimpleKey: "Glenn Branca"}
	if err := tx.Put(ctx, added); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tx.Delete(ctx, swans.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err := tx.Extent(ctx, archive.TypeAct)
	if err != nil {
		t.Fatalf("extent: %v", err)
	}
	var names []string
	for _, r := range recs {
		names = append(names, r.SimpleKey)
	}
	if got := strings.Join(names, ","); got != "Sonic Youth,Glenn Branca" {
		t.Errorf("expected Sonic Youth,Glenn Branca, got %s", got)
	}
	if err := tx.Abort(ctx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, store.ErrTxDone) {
		t.Errorf("expected ErrTxDone, got %v", err)
	}
	if _, err := s.Get(ctx, swans.ID()); err != nil {
		t.Errorf("expected aborted delete to leave Swans, got %v", err)
	}
}

func TestTx_ReadOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, store.DefaultConfig())

	tx, err := s.Begin(ctx, entity.ReadOnly)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Abort(ctx) }()
	if err := tx.Put(ctx, entity.Record{ID: uuid.New(), Type: archive.TypeAct}); !errors.Is(err, entity.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if err := tx.Delete(ctx, uuid.New()); !errors.Is(err, entity.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestTx_ClientErrorsSurface(t *testing.T) {
	ctx := context.Background()
	s, client := newStore(t, store.DefaultConfig())
	boom := errors.New("throttled")
	client.Err = boom

	tx, err := s.Begin(ctx, entity.ReadOnly)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Extent(ctx, archive.TypeAct); !errors.Is(err, boom) {
		t.Errorf("expected wrapped client error, got %v", err)
	}
	_ = tx.Abort(ctx)

	if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped client error, got %v", err)
	}
}

func TestStore_ExpireIgnoresMissingRows(t *testing.T) {
	s, client := newStore(t, store.DefaultConfig())
	ctx := context.Background()
	if err := s.ExpireRelationship(ctx, "event#e1", "location#l1", 100); err != nil {
		t.Errorf("expected missing row to be ignored, got %v", err)
	}
	if err := s.ExpireUniqueConstraint(ctx, "abc", 100); err != nil {
		t.Errorf("expected missing row to be ignored, got %v", err)
	}
	if got := len(client.Items(s.Config().RelationshipTable)); got != 0 {
		t.Errorf("expected no rows created, got %d", got)
	}
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := archive.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return v
}
