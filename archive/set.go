package archive

import (
	"time"

	"github.com/jacentio/setlist/entity"
)

// Set is one act's performance at an event, numbered in running order.
type Set struct {
	entity.Base
	Comments string
}

// NewSet attaches a new set numbered no to g.
func NewSet(g *entity.Graph, no int) (*Set, error) {
	return keyed(g, TypeSet, func(s *Set) error { return s.SetNo(no) })
}

// No returns the set's running-order number.
func (s *Set) No() int {
	n, _ := parseNumber(s.SimpleKey())
	return n
}

// SetNo renumbers the set.
func (s *Set) SetNo(no int) error { return s.SetSimpleKey(number(no)) }

// Event returns the event the set belongs to.
func (s *Set) Event() *Event { return parentOf[*Event](&s.Base, TypeEvent) }

// SetEvent moves the set to e, re-keying its pieces and credits.
func (s *Set) SetEvent(e *Event) error { return s.SetIdentifyingParent(modelOf(e)) }

// Act returns the performing act.
func (s *Set) Act() *Act { return parentOf[*Act](&s.Base, TypeAct) }

// SetAct sets the performing act.
func (s *Set) SetAct(a *Act) error { return s.SetParent(TypeAct, modelOf(a)) }

// Genre returns the set's genre.
func (s *Set) Genre() *Genre { return parentOf[*Genre](&s.Base, TypeGenre) }

// SetGenre sets the set's genre.
func (s *Set) SetGenre(gn *Genre) error { return s.SetParent(TypeGenre, modelOf(gn)) }

// Pieces returns the pieces played in order.
func (s *Set) Pieces() []*Piece { return childrenOf[*Piece](&s.Base, TypePiece) }

// AddPiece files p under the set.
func (s *Set) AddPiece(p *Piece) error { return s.AddChild(modelOf(p)) }

// Attrs implements entity.Attributer.
func (s *Set) Attrs() map[string]string { return comments(s.Comments) }

// RestoreAttrs implements entity.Attributer.
func (s *Set) RestoreAttrs(attrs map[string]string) error {
	if _, err := parseNumber(s.SimpleKey()); err != nil {
		return err
	}
	s.Comments = attrs["comments"]
	return nil
}

// Piece is a work played in a set.
type Piece struct {
	entity.Base
	Title    string
	Duration time.Duration
}

// NewPiece attaches a new piece numbered no to g.
func NewPiece(g *entity.Graph, no int, title string) (*Piece, error) {
	p, err := keyed(g, TypePiece, func(p *Piece) error { return p.SetNo(no) })
	if err != nil {
		return nil, err
	}
	p.Title = title
	return p, nil
}

// No returns the piece's position in the set.
func (p *Piece) No() int {
	n, _ := parseNumber(p.SimpleKey())
	return n
}

// SetNo renumbers the piece.
func (p *Piece) SetNo(no int) error { return p.SetSimpleKey(number(no)) }

// Set returns the set the piece was played in.
func (p *Piece) Set() *Set { return parentOf[*Set](&p.Base, TypeSet) }

// SetSet moves the piece to s.
func (p *Piece) SetSet(s *Set) error { return p.SetIdentifyingParent(modelOf(s)) }

// Credits returns the piece's credits in order.
func (p *Piece) Credits() []*Credit { return childrenOf[*Credit](&p.Base, TypeCredit) }

// AddCredit files c under the piece.
func (p *Piece) AddCredit(c *Credit) error { return p.AddChild(modelOf(c)) }

// Attrs implements entity.Attributer.
func (p *Piece) Attrs() map[string]string {
	attrs := map[string]string{"title": p.Title}
	if p.Duration > 0 {
		attrs["duration"] = p.Duration.String()
	}
	return attrs
}

// RestoreAttrs implements entity.Attributer.
func (p *Piece) RestoreAttrs(attrs map[string]string) error {
	p.Title = attrs["title"]
	p.Duration = 0
	if s := attrs["duration"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		p.Duration = d
	}
	return nil
}

// Credit names an artist and their role on a piece.
type Credit struct {
	entity.Base
}

// NewCredit attaches a new credit numbered no to g.
func NewCredit(g *entity.Graph, no int) (*Credit, error) {
	return keyed(g, TypeCredit, func(c *Credit) error { return c.SetNo(no) })
}

// No returns the credit's position on the piece.
func (c *Credit) No() int {
	n, _ := parseNumber(c.SimpleKey())
	return n
}

// SetNo renumbers the credit.
func (c *Credit) SetNo(no int) error { return c.SetSimpleKey(number(no)) }

// Piece returns the credited piece.
func (c *Credit) Piece() *Piece { return parentOf[*Piece](&c.Base, TypePiece) }

// SetPiece moves the credit to p.
func (c *Credit) SetPiece(p *Piece) error { return c.SetIdentifyingParent(modelOf(p)) }

// Artist returns the credited artist.
func (c *Credit) Artist() *Artist { return parentOf[*Artist](&c.Base, TypeArtist) }

// SetArtist sets the credited artist.
func (c *Credit) SetArtist(a *Artist) error { return c.SetParent(TypeArtist, modelOf(a)) }

// Role returns the artist's role.
func (c *Credit) Role() *Role { return parentOf[*Role](&c.Base, TypeRole) }

// SetRole sets the artist's role.
func (c *Credit) SetRole(r *Role) error { return c.SetParent(TypeRole, modelOf(r)) }
