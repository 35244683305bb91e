package entity

import (
	"fmt"
	"sort"
)

// Type is an entity type tag (e.g., "event").
type Type string

// Relation describes a parent-child relationship between two entity types.
type Relation struct {
	// ParentType is the parent entity type (e.g., "location").
	ParentType Type

	// ChildType is the child entity type (e.g., "event").
	ChildType Type

	// Mandatory requires the child's slot to be filled before persist and
	// blocks deleting the parent while children remain.
	Mandatory bool
}

// TypeSpec declares the per-type facts the graph needs.
type TypeSpec struct {
	// Type is the entity type tag.
	Type Type

	// IdentifyingParent is the parent type that contributes to the key.
	// Empty for root types.
	IdentifyingParent Type

	// AllowBlankKey permits an empty (but set) simple key, used for the
	// single default row of some lookup types.
	AllowBlankKey bool

	// New constructs an empty model of this type. Used when loading from a store.
	New func() Model
}

type relationPair struct {
	parent, child Type
}

// Schema holds every known relation and type. It is built once at startup
// and is read-only once a Graph has been created from it.
type Schema struct {
	relations []Relation
	byParent  map[Type][]Relation
	byChild   map[Type][]Relation
	byPair    map[relationPair]Relation
	types     map[Type]TypeSpec
	order     []Type
	sealed    bool
}

// NewSchema creates a new empty Schema.
func NewSchema() *Schema {
	return &Schema{
		byParent: make(map[Type][]Relation),
		byChild:  make(map[Type][]Relation),
		byPair:   make(map[relationPair]Relation),
		types:    make(map[Type]TypeSpec),
	}
}

// Register adds a relation. Registering the same pair twice replaces the
// mandatory flag but keeps the original registration order.
func (s *Schema) Register(rel Relation) {
	s.mustBeOpen()
	pair := relationPair{rel.ParentType, rel.ChildType}
	if _, ok := s.byPair[pair]; ok {
		s.byPair[pair] = rel
		s.relations = replaceRelation(s.relations, rel)
		s.byParent[rel.ParentType] = replaceRelation(s.byParent[rel.ParentType], rel)
		s.byChild[rel.ChildType] = replaceRelation(s.byChild[rel.ChildType], rel)
		return
	}
	s.byPair[pair] = rel
	s.relations = append(s.relations, rel)
	s.byParent[rel.ParentType] = append(s.byParent[rel.ParentType], rel)
	s.byChild[rel.ChildType] = append(s.byChild[rel.ChildType], rel)
}

// RegisterType declares an entity type.
func (s *Schema) RegisterType(spec TypeSpec) {
	s.mustBeOpen()
	if _, ok := s.types[spec.Type]; !ok {
		s.order = append(s.order, spec.Type)
	}
	s.types[spec.Type] = spec
}

func (s *Schema) mustBeOpen() {
	if s.sealed {
		panic("setlist: schema is read-only once a graph uses it")
	}
}

func replaceRelation(rels []Relation, rel Relation) []Relation {
	for i, r := range rels {
		if r.ParentType == rel.ParentType && r.ChildType == rel.ChildType {
			rels[i] = rel
		}
	}
	return rels
}

// Find returns the relation for a (parent, child) pair.
func (s *Schema) Find(parent, child Type) (Relation, bool) {
	rel, ok := s.byPair[relationPair{parent, child}]
	return rel, ok
}

// RelationsForParent returns the relations where t is the parent, in registration order.
func (s *Schema) RelationsForParent(t Type) []Relation {
	return s.byParent[t]
}

// RelationsForChild returns the relations where t is the child, in registration order.
func (s *Schema) RelationsForChild(t Type) []Relation {
	return s.byChild[t]
}

// AllRelations returns all registered relations.
func (s *Schema) AllRelations() []Relation {
	return s.relations
}

// TypeSpec returns the declaration of t.
func (s *Schema) TypeSpec(t Type) (TypeSpec, bool) {
	spec, ok := s.types[t]
	return spec, ok
}

// Types returns the registered types, roots first and then by depth of the
// identifying chain, so parents always precede their children.
func (s *Schema) Types() []Type {
	types := append([]Type(nil), s.order...)
	sort.SliceStable(types, func(i, j int) bool {
		return s.depth(types[i]) < s.depth(types[j])
	})
	return types
}

// IsIdentifying reports whether rel is the child's identifying relation.
func (s *Schema) IsIdentifying(rel Relation) bool {
	spec, ok := s.types[rel.ChildType]
	return ok && spec.IdentifyingParent != "" && spec.IdentifyingParent == rel.ParentType
}

func (s *Schema) depth(t Type) int {
	n := 0
	for seen := map[Type]bool{}; !seen[t]; n++ {
		seen[t] = true
		spec, ok := s.types[t]
		if !ok || spec.IdentifyingParent == "" {
			return n
		}
		t = spec.IdentifyingParent
	}
	return n
}

// Validate checks that the schema is internally consistent: every relation
// refers to registered types, every identifying parent has a registered
// relation, and identifying chains are acyclic.
func (s *Schema) Validate() error {
	for _, rel := range s.relations {
		if _, ok := s.types[rel.ParentType]; !ok {
			return fmt.Errorf("%w: unknown parent type %q", ErrUnsupportedRelation, rel.ParentType)
		}
		if _, ok := s.types[rel.ChildType]; !ok {
			return fmt.Errorf("%w: unknown child type %q", ErrUnsupportedRelation, rel.ChildType)
		}
	}
	for _, t := range s.order {
		spec := s.types[t]
		if spec.IdentifyingParent == "" {
			continue
		}
		if _, ok := s.Find(spec.IdentifyingParent, t); !ok {
			return fmt.Errorf("%w: %s has identifying parent %s but no relation", ErrUnsupportedRelation, t, spec.IdentifyingParent)
		}
		seen := map[Type]bool{t: true}
		for p := spec.IdentifyingParent; p != ""; p = s.types[p].IdentifyingParent {
			if seen[p] {
				return fmt.Errorf("setlist: identifying cycle through %s", p)
			}
			seen[p] = true
		}
	}
	return nil
}

func (s *Schema) seal() {
	s.sealed = true
}
