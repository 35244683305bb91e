package archive

import (
	"github.com/jacentio/setlist/entity"
)

// Lookup types are root entities keyed by name. EventType, Series and Genre
// allow a blank name for the archive's default row.

// Location is a venue. It is the identifying parent of its events.
type Location struct {
	entity.Base
	Comments string
}

// NewLocation attaches a new location named name to g.
func NewLocation(g *entity.Graph, name string) (*Location, error) {
	return keyed(g, TypeLocation, func(l *Location) error { return l.SetName(name) })
}

// Name returns the location's name.
func (l *Location) Name() string { return l.SimpleKey() }

// SetName renames the location and re-keys its events.
func (l *Location) SetName(name string) error { return l.SetSimpleKey(name) }

// Events returns the location's events in date order.
func (l *Location) Events() []*Event { return childrenOf[*Event](&l.Base, TypeEvent) }

// AddEvent files e under the location.
func (l *Location) AddEvent(e *Event) error { return l.AddChild(modelOf(e)) }

// Attrs implements entity.Attributer.
func (l *Location) Attrs() map[string]string { return comments(l.Comments) }

// RestoreAttrs implements entity.Attributer.
func (l *Location) RestoreAttrs(attrs map[string]string) error {
	l.Comments = attrs["comments"]
	return nil
}

// EventType classifies events, such as "Gig" or "Festival".
type EventType struct {
	entity.Base
}

// NewEventType attaches a new event type named name to g.
func NewEventType(g *entity.Graph, name string) (*EventType, error) {
	return keyed(g, TypeEventType, func(t *EventType) error { return t.SetName(name) })
}

// Name returns the event type's name.
func (t *EventType) Name() string { return t.SimpleKey() }

// SetName renames the event type.
func (t *EventType) SetName(name string) error { return t.SetSimpleKey(name) }

// Events returns the events of this type.
func (t *EventType) Events() []*Event { return childrenOf[*Event](&t.Base, TypeEvent) }

// Series groups events into a run.
type Series struct {
	entity.Base
	Comments string
}

// NewSeries attaches a new series named name to g.
func NewSeries(g *entity.Graph, name string) (*Series, error) {
	return keyed(g, TypeSeries, func(s *Series) error { return s.SetName(name) })
}

// Name returns the series' name.
func (s *Series) Name() string { return s.SimpleKey() }

// SetName renames the series.
func (s *Series) SetName(name string) error { return s.SetSimpleKey(name) }

// Events returns the events in the series.
func (s *Series) Events() []*Event { return childrenOf[*Event](&s.Base, TypeEvent) }

// Attrs implements entity.Attributer.
func (s *Series) Attrs() map[string]string { return comments(s.Comments) }

// RestoreAttrs implements entity.Attributer.
func (s *Series) RestoreAttrs(attrs map[string]string) error {
	s.Comments = attrs["comments"]
	return nil
}

// Act is a performing act.
type Act struct {
	entity.Base
	Comments string
}

// NewAct attaches a new act named name to g.
func NewAct(g *entity.Graph, name string) (*Act, error) {
	return keyed(g, TypeAct, func(a *Act) error { return a.SetName(name) })
}

// Name returns the act's name.
func (a *Act) Name() string { return a.SimpleKey() }

// SetName renames the act.
func (a *Act) SetName(name string) error { return a.SetSimpleKey(name) }

// Sets returns the sets performed by the act.
func (a *Act) Sets() []*Set { return childrenOf[*Set](&a.Base, TypeSet) }

// Attrs implements entity.Attributer.
func (a *Act) Attrs() map[string]string { return comments(a.Comments) }

// RestoreAttrs implements entity.Attributer.
func (a *Act) RestoreAttrs(attrs map[string]string) error {
	a.Comments = attrs["comments"]
	return nil
}

// Genre classifies sets.
type Genre struct {
	entity.Base
}

// NewGenre attaches a new genre named name to g.
func NewGenre(g *entity.Graph, name string) (*Genre, error) {
	return keyed(g, TypeGenre, func(gn *Genre) error { return gn.SetName(name) })
}

// Name returns the genre's name.
func (gn *Genre) Name() string { return gn.SimpleKey() }

// SetName renames the genre.
func (gn *Genre) SetName(name string) error { return gn.SetSimpleKey(name) }

// Sets returns the sets of the genre.
func (gn *Genre) Sets() []*Set { return childrenOf[*Set](&gn.Base, TypeSet) }

// Role is what an artist does in a credit, such as "Vocals".
type Role struct {
	entity.Base
}

// NewRole attaches a new role named name to g.
func NewRole(g *entity.Graph, name string) (*Role, error) {
	return keyed(g, TypeRole, func(r *Role) error { return r.SetName(name) })
}

// Name returns the role's name.
func (r *Role) Name() string { return r.SimpleKey() }

// SetName renames the role.
func (r *Role) SetName(name string) error { return r.SetSimpleKey(name) }

// Credits returns the credits with this role.
func (r *Role) Credits() []*Credit { return childrenOf[*Credit](&r.Base, TypeCredit) }

// UserOption is a named setting persisted with the archive.
type UserOption struct {
	entity.Base
	Value string
}

// NewUserOption attaches a new option to g.
func NewUserOption(g *entity.Graph, name, value string) (*UserOption, error) {
	o, err := keyed(g, TypeUserOption, func(o *UserOption) error { return o.SetSimpleKey(name) })
	if err != nil {
		return nil, err
	}
	o.Value = value
	return o, nil
}

// Name returns the option's name.
func (o *UserOption) Name() string { return o.SimpleKey() }

// Attrs implements entity.Attributer.
func (o *UserOption) Attrs() map[string]string { return map[string]string{"value": o.Value} }

// RestoreAttrs implements entity.Attributer.
func (o *UserOption) RestoreAttrs(attrs map[string]string) error {
	o.Value = attrs["value"]
	return nil
}
