package entity

import "strings"

// Key is an immutable composite key: the entity's own simple key plus the
// key of its identifying parent, recursively.
//
// The zero Key has no simple component and renders as the empty string.
type Key struct {
	simple string
	set    bool
	parent *Key
}

// NewKey returns a key for simple under parent. A nil parent yields a
// top-level key. The parent key is copied so later changes to the caller's
// value are not observed.
func NewKey(simple string, parent *Key) Key {
	k := Key{simple: simple, set: true}
	if parent != nil {
		p := *parent
		k.parent = &p
	}
	return k
}

// Simple returns the local key component.
func (k Key) Simple() string {
	return k.simple
}

// IsZero reports whether the key has no simple component.
func (k Key) IsZero() bool {
	return !k.set
}

// Parent returns the identifying parent's key, if any.
func (k Key) Parent() (Key, bool) {
	if k.parent == nil {
		return Key{}, false
	}
	return *k.parent, true
}

// Depth returns the number of keys in the chain, including k.
func (k Key) Depth() int {
	n := 1
	for p := k.parent; p != nil; p = p.parent {
		n++
	}
	return n
}

// Compare orders keys by parent first and then by ordinal comparison of the
// simple component. A key without a parent sorts before a key with one, and
// an unset simple component sorts before any set one, including "".
func (k Key) Compare(o Key) int {
	switch {
	case k.parent != nil && o.parent != nil:
		if c := k.parent.Compare(*o.parent); c != 0 {
			return c
		}
		return k.compareSimple(o)
	case k.parent == nil && o.parent == nil:
		return k.compareSimple(o)
	case k.parent == nil:
		return -1
	default:
		return 1
	}
}

func (k Key) compareSimple(o Key) int {
	switch {
	case k.set == o.set:
		return strings.Compare(k.simple, o.simple)
	case !k.set:
		return -1
	default:
		return 1
	}
}

// Equal reports whether both components match, recursively.
func (k Key) Equal(o Key) bool {
	return k.Compare(o) == 0
}

// String returns the display form: "{simple} {parent}" when there is a
// parent, otherwise the simple component.
func (k Key) String() string {
	if !k.set {
		return ""
	}
	if k.parent == nil {
		return k.simple
	}
	return k.simple + " " + k.parent.String()
}

// keyComparer adapts Key ordering to immutable.Comparer.
type keyComparer struct{}

// Compare returns -1, 0 or 1 for two Key values.
func (keyComparer) Compare(a, b interface{}) int {
	return a.(Key).Compare(b.(Key))
}
