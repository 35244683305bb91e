package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/setlist/entity"
)

// Fixture is an archive document: lookup rows plus the location tree. Names
// in references resolve case-insensitively against rows already stored or
// earlier in the same document.
type Fixture struct {
	EventTypes  []string            `yaml:"event_types"`
	Series      []string            `yaml:"series"`
	Genres      []string            `yaml:"genres"`
	Acts        []string            `yaml:"acts"`
	Roles       []string            `yaml:"roles"`
	Artists     []ArtistFixture     `yaml:"artists"`
	Newsletters []NewsletterFixture `yaml:"newsletters"`
	Options     []OptionFixture     `yaml:"options"`
	Locations   []LocationFixture   `yaml:"locations"`
}

// ArtistFixture describes an artist.
type ArtistFixture struct {
	Forename string `yaml:"forename"`
	Surname  string `yaml:"surname"`
}

// NewsletterFixture describes a newsletter.
type NewsletterFixture struct {
	Date string `yaml:"date"`
	URL  string `yaml:"url"`
}

// OptionFixture describes a user option.
type OptionFixture struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// LocationFixture describes a location and its events.
type LocationFixture struct {
	Name     string         `yaml:"name"`
	Comments string         `yaml:"comments"`
	Events   []EventFixture `yaml:"events"`
}

// EventFixture describes an event and its sets.
type EventFixture struct {
	Date       string       `yaml:"date"`
	EventType  string       `yaml:"event_type"`
	Series     string       `yaml:"series"`
	Newsletter string       `yaml:"newsletter"`
	Comments   string       `yaml:"comments"`
	Sets       []SetFixture `yaml:"sets"`
}

// SetFixture describes a set and its pieces.
type SetFixture struct {
	No       int            `yaml:"no"`
	Act      string         `yaml:"act"`
	Genre    string         `yaml:"genre"`
	Comments string         `yaml:"comments"`
	Pieces   []PieceFixture `yaml:"pieces"`
}

// PieceFixture describes a piece and its credits.
type PieceFixture struct {
	No       int             `yaml:"no"`
	Title    string          `yaml:"title"`
	Duration string          `yaml:"duration"`
	Credits  []CreditFixture `yaml:"credits"`
}

// CreditFixture describes a credit. Artist is the artist key, "Surname, Forename".
type CreditFixture struct {
	No     int    `yaml:"no"`
	Artist string `yaml:"artist"`
	Role   string `yaml:"role"`
}

// LoadFixture decodes a fixture document. Unknown fields are rejected.
func LoadFixture(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

// LoadFixtureFile decodes the fixture document at path.
func LoadFixtureFile(path string) (*Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return LoadFixture(fh)
}

// Import writes f to backend in one read-write session. Rows that already
// exist are reused and their attributes updated. On error nothing is
// written and the graph is reloaded.
func Import(ctx context.Context, g *entity.Graph, backend entity.Backend, f *Fixture) error {
	return g.Update(ctx, backend, func(s *entity.Session) error {
		im := &importer{ctx: ctx, s: s, g: g}
		return im.run(f)
	})
}

type importer struct {
	ctx context.Context
	s   *entity.Session
	g   *entity.Graph
}

type named interface {
	entity.Model
	SimpleKey() string
}

// lookup finds a stored row of type t by name, ignoring case.
func lookup[P named](im *importer, t entity.Type, name string) (P, error) {
	return entity.Read(im.ctx, im.s, t, func(p P) bool {
		return strings.EqualFold(p.SimpleKey(), name)
	})
}

// ensure returns the stored row named name, creating and persisting it with
// create when there is none.
func ensure[P named](im *importer, t entity.Type, name string, create func() (P, error)) (P, error) {
	p, ok, err := entity.Find(im.ctx, im.s, t, func(p P) bool {
		return strings.EqualFold(p.SimpleKey(), name)
	})
	if err != nil || ok {
		return p, err
	}
	p, err = create()
	if err != nil {
		return p, err
	}
	return p, im.s.Persist(im.ctx, p)
}

func (im *importer) run(f *Fixture) error {
	for _, name := range f.EventTypes {
		if _, err := ensure(im, TypeEventType, name, func() (*EventType, error) { return NewEventType(im.g, name) }); err != nil {
			return err
		}
	}
	for _, name := range f.Series {
		if _, err := ensure(im, TypeSeries, name, func() (*Series, error) { return NewSeries(im.g, name) }); err != nil {
			return err
		}
	}
	for _, name := range f.Genres {
		if _, err := ensure(im, TypeGenre, name, func() (*Genre, error) { return NewGenre(im.g, name) }); err != nil {
			return err
		}
	}
	for _, name := range f.Acts {
		if _, err := ensure(im, TypeAct, name, func() (*Act, error) { return NewAct(im.g, name) }); err != nil {
			return err
		}
	}
	for _, name := range f.Roles {
		if _, err := ensure(im, TypeRole, name, func() (*Role, error) { return NewRole(im.g, name) }); err != nil {
			return err
		}
	}
	for _, af := range f.Artists {
		key := artistKey(strings.TrimSpace(af.Forename), strings.TrimSpace(af.Surname))
		if _, err := ensure(im, TypeArtist, key, func() (*Artist, error) { return NewArtist(im.g, af.Forename, af.Surname) }); err != nil {
			return err
		}
	}
	for _, nf := range f.Newsletters {
		if err := im.newsletter(nf); err != nil {
			return err
		}
	}
	for _, of := range f.Options {
		o, err := ensure(im, TypeUserOption, of.Name, func() (*UserOption, error) { return NewUserOption(im.g, of.Name, of.Value) })
		if err != nil {
			return err
		}
		if o.Value != of.Value {
			o.Value = of.Value
			if err := im.s.Persist(im.ctx, o); err != nil {
				return err
			}
		}
	}
	for _, lf := range f.Locations {
		if err := im.location(lf); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) newsletter(nf NewsletterFixture) error {
	d, err := ParseDate(nf.Date)
	if err != nil {
		return err
	}
	n, err := ensure(im, TypeNewsletter, d.Format(DateFormat), func() (*Newsletter, error) { return NewNewsletter(im.g, d) })
	if err != nil {
		return err
	}
	n.URL = nf.URL
	return im.s.Persist(im.ctx, n)
}

func (im *importer) location(lf LocationFixture) error {
	loc, err := ensure(im, TypeLocation, lf.Name, func() (*Location, error) { return NewLocation(im.g, lf.Name) })
	if err != nil {
		return err
	}
	if lf.Comments != "" {
		loc.Comments = lf.Comments
		if err := im.s.Persist(im.ctx, loc); err != nil {
			return err
		}
	}
	for _, ef := range lf.Events {
		if err := im.event(loc, ef); err != nil {
			return fmt.Errorf("%s: event %s: %w", loc.Name(), ef.Date, err)
		}
	}
	return nil
}

func (im *importer) event(loc *Location, ef EventFixture) error {
	d, err := ParseDate(ef.Date)
	if err != nil {
		return err
	}
	e := childBySimpleKey(loc.Events(), d.Format(DateFormat))
	if e == nil {
		if e, err = NewEvent(im.g, d); err != nil {
			return err
		}
		if err := e.SetLocation(loc); err != nil {
			return err
		}
	}
	et, err := lookup[*EventType](im, TypeEventType, ef.EventType)
	if err != nil {
		return err
	}
	if err := e.SetEventType(et); err != nil {
		return err
	}
	sr, err := lookup[*Series](im, TypeSeries, ef.Series)
	if err != nil {
		return err
	}
	if err := e.SetSeries(sr); err != nil {
		return err
	}
	var nl *Newsletter
	if ef.Newsletter != "" {
		nd, err := ParseDate(ef.Newsletter)
		if err != nil {
			return err
		}
		if nl, err = lookup[*Newsletter](im, TypeNewsletter, nd.Format(DateFormat)); err != nil {
			return err
		}
	}
	if err := e.SetNewsletter(nl); err != nil {
		return err
	}
	e.Comments = ef.Comments
	if err := im.s.Persist(im.ctx, e); err != nil {
		return err
	}
	for _, sf := range ef.Sets {
		if err := im.set(e, sf); err != nil {
			return fmt.Errorf("set %d: %w", sf.No, err)
		}
	}
	return nil
}

func (im *importer) set(e *Event, sf SetFixture) error {
	st := childBySimpleKey(e.Sets(), number(sf.No))
	if st == nil {
		var err error
		if st, err = NewSet(im.g, sf.No); err != nil {
			return err
		}
		if err := st.SetEvent(e); err != nil {
			return err
		}
	}
	act, err := lookup[*Act](im, TypeAct, sf.Act)
	if err != nil {
		return err
	}
	if err := st.SetAct(act); err != nil {
		return err
	}
	gn, err := lookup[*Genre](im, TypeGenre, sf.Genre)
	if err != nil {
		return err
	}
	if err := st.SetGenre(gn); err != nil {
		return err
	}
	st.Comments = sf.Comments
	if err := im.s.Persist(im.ctx, st); err != nil {
		return err
	}
	for _, pf := range sf.Pieces {
		if err := im.piece(st, pf); err != nil {
			return fmt.Errorf("piece %d: %w", pf.No, err)
		}
	}
	return nil
}

func (im *importer) piece(st *Set, pf PieceFixture) error {
	p := childBySimpleKey(st.Pieces(), number(pf.No))
	if p == nil {
		var err error
		if p, err = NewPiece(im.g, pf.No, pf.Title); err != nil {
			return err
		}
		if err := p.SetSet(st); err != nil {
			return err
		}
	}
	p.Title = pf.Title
	p.Duration = 0
	if pf.Duration != "" {
		var err error
		if p.Duration, err = time.ParseDuration(pf.Duration); err != nil {
			return err
		}
	}
	if err := im.s.Persist(im.ctx, p); err != nil {
		return err
	}
	for _, cf := range pf.Credits {
		if err := im.credit(p, cf); err != nil {
			return fmt.Errorf("credit %d: %w", cf.No, err)
		}
	}
	return nil
}

func (im *importer) credit(p *Piece, cf CreditFixture) error {
	c := childBySimpleKey(p.Credits(), number(cf.No))
	if c == nil {
		var err error
		if c, err = NewCredit(im.g, cf.No); err != nil {
			return err
		}
		if err := c.SetPiece(p); err != nil {
			return err
		}
	}
	a, err := lookup[*Artist](im, TypeArtist, cf.Artist)
	if err != nil {
		return err
	}
	if err := c.SetArtist(a); err != nil {
		return err
	}
	r, err := lookup[*Role](im, TypeRole, cf.Role)
	if err != nil {
		return err
	}
	if err := c.SetRole(r); err != nil {
		return err
	}
	return im.s.Persist(im.ctx, c)
}

func childBySimpleKey[P named](children []P, simple string) P {
	var zero P
	for _, c := range children {
		if c.SimpleKey() == simple {
			return c
		}
	}
	return zero
}
