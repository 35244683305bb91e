package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSimpleKey is returned when an entity has no key value at persist time.
	ErrMissingSimpleKey = errors.New("setlist: missing simple key")

	// ErrDuplicateKey is returned when a collection already holds an entry with the same key.
	ErrDuplicateKey = errors.New("setlist: duplicate key")

	// ErrDuplicateTopLevelKey is returned when another persisted root entity of
	// the same type already has the same simple key (case-insensitive).
	ErrDuplicateTopLevelKey = errors.New("setlist: duplicate top-level key")

	// ErrMissingMandatoryParent is returned when a mandatory parent slot is unset at persist time.
	ErrMissingMandatoryParent = errors.New("setlist: missing mandatory parent")

	// ErrReferencedByChildren is returned when deleting an entity that is the
	// mandatory parent of at least one child.
	ErrReferencedByChildren = errors.New("setlist: entity is referenced by children")

	// ErrChildNotFound is returned when removing a child that is not in the parent's collection.
	ErrChildNotFound = errors.New("setlist: child not found")

	// ErrKeyNotFound is returned when removing a key that is not in a collection.
	ErrKeyNotFound = errors.New("setlist: key not found")

	// ErrAlreadyParented is returned when adding a child that already has a
	// different parent for the same relation.
	ErrAlreadyParented = errors.New("setlist: child already has a parent")

	// ErrUnsupportedRelation is returned when the schema has no descriptor for a
	// (parent, child) pair. It indicates a programming error.
	ErrUnsupportedRelation = errors.New("setlist: unsupported relation")

	// ErrNullChild is returned when adding or removing a nil child.
	ErrNullChild = errors.New("setlist: nil child")

	// ErrConstraintViolation is returned when a mandatory child would be orphaned
	// outside of a replace or unpersist.
	ErrConstraintViolation = errors.New("setlist: mandatory relation cannot be cleared")

	// ErrNotFound is returned when an entity doesn't exist, isn't persisted, or a lookup matches nothing.
	ErrNotFound = errors.New("setlist: entity not found")

	// ErrNotSingleton is returned when a singleton lookup matches more than one entity.
	ErrNotSingleton = errors.New("setlist: more than one entity matches")

	// ErrParentNotFound is returned when a referenced parent is not persisted.
	ErrParentNotFound = errors.New("setlist: parent entity not found")

	// ErrAlreadyDeleted is returned when operating on a removed entity.
	ErrAlreadyDeleted = errors.New("setlist: entity is already deleted")

	// ErrReadOnly is returned when persisting or deleting inside a read-only session.
	ErrReadOnly = errors.New("setlist: session is read-only")

	// ErrTxDone is returned when using a session that was committed or aborted.
	ErrTxDone = errors.New("setlist: session already finished")
)

// Error carries the entity context of an integrity failure. It unwraps to
// one of the package sentinels, so callers test it with errors.Is.
type Error struct {
	// Err is the sentinel describing the failure.
	Err error

	// Type is the entity type the operation was applied to.
	Type Type

	// Key is the display form of the entity's key, if known.
	Key string

	// Related is the other side of the relation involved, if any.
	Related Type
}

func newError(err error, t Type, key string, related Type) *Error {
	return &Error{Err: err, Type: t, Key: key, Related: related}
}

// Error returns a message suitable for showing to a user.
func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrMissingSimpleKey):
		return fmt.Sprintf("%s: a key value is required", e.Type)
	case errors.Is(e.Err, ErrDuplicateTopLevelKey), errors.Is(e.Err, ErrDuplicateKey):
		return fmt.Sprintf("%s %q already exists", e.Type, e.Key)
	case errors.Is(e.Err, ErrMissingMandatoryParent):
		return fmt.Sprintf("%s %q must have a %s", e.Type, e.Key, e.Related)
	case errors.Is(e.Err, ErrReferencedByChildren):
		return fmt.Sprintf("%s %q cannot be deleted while it has %s records", e.Type, e.Key, e.Related)
	case errors.Is(e.Err, ErrConstraintViolation):
		return fmt.Sprintf("%s %q cannot be removed from its %s", e.Type, e.Key, e.Related)
	}
	msg := e.Err.Error()
	if e.Related != "" {
		msg += fmt.Sprintf(" (%s -> %s)", e.Related, e.Type)
	} else if e.Type != "" {
		msg += fmt.Sprintf(" (%s)", e.Type)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	return msg
}

// Unwrap returns the sentinel error.
func (e *Error) Unwrap() error {
	return e.Err
}
