// Package entity provides the relationship integrity layer for hierarchical
// entities with composite keys.
//
// Entity types form one-to-many relationships declared in a [Schema]. Each
// entity has at most one identifying parent, which contributes to its [Key]
// and determines which collection files it, and any number of
// non-identifying parents, which are plain references. Referential
// integrity, duplicate detection and delete protection are enforced here,
// not by the store.
//
// # Key Features
//
//   - Composite keys ordered parent first, then by simple key
//   - Key-ordered child collections per parent and child type
//   - Mandatory vs optional relations, declared per relation
//   - Duplicate detection within a parent, and case-insensitive for roots
//   - Delete protection while mandatory children remain
//   - Arena storage: entities refer to each other by [ID], never by pointer
//
// # Entity Types
//
// Concrete types embed [Base] and are attached to a [Graph]:
//
//	type Location struct {
//	    entity.Base
//	    Comments string
//	}
//
//	loc := &Location{}
//	if err := g.Attach(loc, "location"); err != nil { ... }
//	err := loc.SetSimpleKey("Pyramid Club")
//
// Types that carry fields beyond their keys implement [Attributer] so a
// store can persist and restore them.
//
// # Persistence
//
// A [Session] binds the graph to one [Tx] of a [Backend]. [Session.Persist]
// and [Session.Unpersist] validate before anything reaches the store. On any
// error the caller aborts the session, which reloads the graph from the
// store's committed state:
//
//	err := g.Update(ctx, backend, func(s *entity.Session) error {
//	    return s.Persist(ctx, loc)
//	})
//
// # Errors
//
// Failures are reported as [*Error] values wrapping a sentinel:
//
//   - [ErrMissingSimpleKey] - no key value at persist time
//   - [ErrDuplicateKey] - a sibling already has the key
//   - [ErrDuplicateTopLevelKey] - another root of the type has the key
//   - [ErrMissingMandatoryParent] - a required parent is unset
//   - [ErrReferencedByChildren] - delete refused, mandatory children remain
//   - [ErrChildNotFound], [ErrKeyNotFound] - removing something absent
//   - [ErrAlreadyParented] - child already belongs to another parent
//   - [ErrUnsupportedRelation] - schema has no such relation (programming error)
package entity
