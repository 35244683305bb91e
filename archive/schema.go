package archive

import (
	"github.com/jacentio/setlist/entity"
)

// Entity types.
const (
	TypeLocation   entity.Type = "location"
	TypeEvent      entity.Type = "event"
	TypeSet        entity.Type = "set"
	TypePiece      entity.Type = "piece"
	TypeCredit     entity.Type = "credit"
	TypeArtist     entity.Type = "artist"
	TypeRole       entity.Type = "role"
	TypeAct        entity.Type = "act"
	TypeGenre      entity.Type = "genre"
	TypeSeries     entity.Type = "series"
	TypeEventType  entity.Type = "event_type"
	TypeNewsletter entity.Type = "newsletter"
	TypeUserOption entity.Type = "user_option"
)

// types lists every entity type with its identifying parent and whether a
// blank key is allowed for the type's default row.
var types = []entity.TypeSpec{
	{Type: TypeLocation, New: func() entity.Model { return &Location{} }},
	{Type: TypeEventType, AllowBlankKey: true, New: func() entity.Model { return &EventType{} }},
	{Type: TypeSeries, AllowBlankKey: true, New: func() entity.Model { return &Series{} }},
	{Type: TypeNewsletter, New: func() entity.Model { return &Newsletter{} }},
	{Type: TypeAct, New: func() entity.Model { return &Act{} }},
	{Type: TypeGenre, AllowBlankKey: true, New: func() entity.Model { return &Genre{} }},
	{Type: TypeArtist, New: func() entity.Model { return &Artist{} }},
	{Type: TypeRole, New: func() entity.Model { return &Role{} }},
	{Type: TypeUserOption, New: func() entity.Model { return &UserOption{} }},
	{Type: TypeEvent, IdentifyingParent: TypeLocation, New: func() entity.Model { return &Event{} }},
	{Type: TypeSet, IdentifyingParent: TypeEvent, New: func() entity.Model { return &Set{} }},
	{Type: TypePiece, IdentifyingParent: TypeSet, New: func() entity.Model { return &Piece{} }},
	{Type: TypeCredit, IdentifyingParent: TypePiece, New: func() entity.Model { return &Credit{} }},
}

// relations is the relation table. Order matters: a child's parents are
// released in reverse of this order when it is deleted.
var relations = []entity.Relation{
	{ParentType: TypeLocation, ChildType: TypeEvent, Mandatory: true},
	{ParentType: TypeEventType, ChildType: TypeEvent, Mandatory: true},
	{ParentType: TypeSeries, ChildType: TypeEvent, Mandatory: true},
	{ParentType: TypeNewsletter, ChildType: TypeEvent, Mandatory: false},
	{ParentType: TypeEvent, ChildType: TypeSet, Mandatory: true},
	{ParentType: TypeAct, ChildType: TypeSet, Mandatory: true},
	{ParentType: TypeGenre, ChildType: TypeSet, Mandatory: true},
	{ParentType: TypeSet, ChildType: TypePiece, Mandatory: true},
	{ParentType: TypePiece, ChildType: TypeCredit, Mandatory: true},
	{ParentType: TypeArtist, ChildType: TypeCredit, Mandatory: true},
	{ParentType: TypeRole, ChildType: TypeCredit, Mandatory: true},
}

// RootTypes are the types without an identifying parent, in load order.
var RootTypes = []entity.Type{
	TypeEventType, TypeSeries, TypeNewsletter, TypeAct, TypeGenre,
	TypeArtist, TypeRole, TypeUserOption, TypeLocation,
}

// NewSchema returns the archive's relation schema.
func NewSchema() *entity.Schema {
	s := entity.NewSchema()
	for _, spec := range types {
		s.RegisterType(spec)
	}
	for _, rel := range relations {
		s.Register(rel)
	}
	return s
}

// NewGraph returns an empty graph over a fresh archive schema.
func NewGraph(opts ...entity.Option) (*entity.Graph, error) {
	return entity.NewGraph(NewSchema(), opts...)
}
