package archive

import (
	"fmt"
	"time"

	"github.com/jacentio/setlist/entity"
)

// DateFormat is the simple-key format of dated entities. It sorts
// chronologically as a string.
const DateFormat = "2006/01/02"

// Event is a dated occurrence at a location. Its key is its date under the
// location.
type Event struct {
	entity.Base
	date     time.Time
	Comments string
}

// NewEvent attaches a new event on date to g. The event has no location
// until SetLocation is called.
func NewEvent(g *entity.Graph, date time.Time) (*Event, error) {
	return keyed(g, TypeEvent, func(e *Event) error { return e.SetDate(date) })
}

// Date returns the event date.
func (e *Event) Date() time.Time { return e.date }

// SetDate changes the event date, re-keying the event and its sets.
func (e *Event) SetDate(d time.Time) error {
	if err := e.SetSimpleKey(d.Format(DateFormat)); err != nil {
		return err
	}
	e.date = truncateDate(d)
	return nil
}

// Location returns the event's location.
func (e *Event) Location() *Location { return parentOf[*Location](&e.Base, TypeLocation) }

// SetLocation moves the event to l.
func (e *Event) SetLocation(l *Location) error { return e.SetIdentifyingParent(modelOf(l)) }

// EventType returns the event's type.
func (e *Event) EventType() *EventType { return parentOf[*EventType](&e.Base, TypeEventType) }

// SetEventType sets the event's type.
func (e *Event) SetEventType(t *EventType) error { return e.SetParent(TypeEventType, modelOf(t)) }

// Series returns the event's series.
func (e *Event) Series() *Series { return parentOf[*Series](&e.Base, TypeSeries) }

// SetSeries sets the event's series.
func (e *Event) SetSeries(s *Series) error { return e.SetParent(TypeSeries, modelOf(s)) }

// Newsletter returns the newsletter announcing the event, or nil.
func (e *Event) Newsletter() *Newsletter { return parentOf[*Newsletter](&e.Base, TypeNewsletter) }

// SetNewsletter sets or, with nil, clears the event's newsletter.
func (e *Event) SetNewsletter(n *Newsletter) error {
	return e.SetParent(TypeNewsletter, modelOf(n))
}

// Sets returns the event's sets in running order.
func (e *Event) Sets() []*Set { return childrenOf[*Set](&e.Base, TypeSet) }

// AddSet files s under the event.
func (e *Event) AddSet(s *Set) error { return e.AddChild(modelOf(s)) }

// Attrs implements entity.Attributer.
func (e *Event) Attrs() map[string]string { return comments(e.Comments) }

// RestoreAttrs implements entity.Attributer.
func (e *Event) RestoreAttrs(attrs map[string]string) error {
	d, err := ParseDate(e.SimpleKey())
	if err != nil {
		return err
	}
	e.date = d
	e.Comments = attrs["comments"]
	return nil
}

// Newsletter is a dated mailing that announces events.
type Newsletter struct {
	entity.Base
	date time.Time
	URL  string
}

// NewNewsletter attaches a new newsletter dated date to g.
func NewNewsletter(g *entity.Graph, date time.Time) (*Newsletter, error) {
	return keyed(g, TypeNewsletter, func(n *Newsletter) error { return n.SetDate(date) })
}

// Date returns the newsletter date.
func (n *Newsletter) Date() time.Time { return n.date }

// SetDate changes the newsletter date.
func (n *Newsletter) SetDate(d time.Time) error {
	if err := n.SetSimpleKey(d.Format(DateFormat)); err != nil {
		return err
	}
	n.date = truncateDate(d)
	return nil
}

// Events returns the events announced by the newsletter.
func (n *Newsletter) Events() []*Event { return childrenOf[*Event](&n.Base, TypeEvent) }

// Attrs implements entity.Attributer.
func (n *Newsletter) Attrs() map[string]string {
	if n.URL == "" {
		return nil
	}
	return map[string]string{"url": n.URL}
}

// RestoreAttrs implements entity.Attributer.
func (n *Newsletter) RestoreAttrs(attrs map[string]string) error {
	d, err := ParseDate(n.SimpleKey())
	if err != nil {
		return err
	}
	n.date = d
	n.URL = attrs["url"]
	return nil
}

// ParseDate parses a date in DateFormat or ISO form.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{DateFormat, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func truncateDate(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
